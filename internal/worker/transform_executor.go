package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shaiso/dynaflow/internal/domain"
	"github.com/shaiso/dynaflow/internal/engine"
)

// TransformExecutor — executor для задач типа "transform".
//
// param_1 — шаблон, param_2 — JSON-данные, доступные в шаблоне как .Data.
// Переменные окружения доступны как .Env. Результат — отрендеренный текст.
type TransformExecutor struct{}

// Process рендерит шаблон.
func (e *TransformExecutor) Process(_ context.Context, env Env, task *domain.Task) (string, error) {
	var data any
	if task.Param2 != "" {
		if err := json.Unmarshal([]byte(task.Param2), &data); err != nil {
			return "", fmt.Errorf("%w: transform data: %v", ErrInvalidParams, err)
		}
	}

	out, err := engine.Render(task.Param1, engine.NewDataContext(data, env.Vars))
	if err != nil {
		return "", err
	}
	return out, nil
}
