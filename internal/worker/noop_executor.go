package worker

import (
	"context"

	"github.com/shaiso/dynaflow/internal/domain"
)

// NoopExecutor — executor для задач типа "noop": возвращает param_1.
type NoopExecutor struct{}

// Process возвращает param_1 без изменений.
func (NoopExecutor) Process(_ context.Context, _ Env, task *domain.Task) (string, error) {
	return task.Param1, nil
}
