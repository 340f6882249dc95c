package engine

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shaiso/dynaflow/internal/domain"
)

// StepDef — шаг в definition типа flow. Каждый шаг становится одной задачей цепочки.
type StepDef struct {
	// ID — необязательное имя шага (для логов и ошибок).
	ID string `json:"id,omitempty"`

	// TaskType — имя DynaFlowTaskType.
	TaskType string `json:"task_type"`

	// Param1 — шаблон param_1.
	Param1 string `json:"param_1,omitempty"`

	// Param2 — шаблон param_2: строка или JSON-значение (рендерится рекурсивно и сериализуется).
	Param2 any `json:"param_2,omitempty"`

	// DelaySec — смещение min_start задачи относительно построения.
	DelaySec int `json:"delay_sec,omitempty"`

	// When — условие включения шага (выражение Go template).
	When string `json:"when,omitempty"`
}

// name возвращает ID шага или его позицию.
func (s *StepDef) name(i int) string {
	if s.ID != "" {
		return s.ID
	}
	return fmt.Sprintf("#%d", i+1)
}

// SequenceDefinition — definition для lookup "sequence".
type SequenceDefinition struct {
	Steps []StepDef `json:"steps"`
}

// WebhookDefinition — definition для lookup "webhook".
//
// Первая задача — HTTP-вызов URL с кодом субъекта и кодом flow в теле,
// за ней следуют шаги Then.
type WebhookDefinition struct {
	// TaskType — имя типа задачи с lookup "http".
	TaskType string `json:"task_type"`

	URL        string            `json:"url"`
	Method     string            `json:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`

	Then []StepDef `json:"then,omitempty"`
}

// ParseSequence разбирает definition последовательности.
func ParseSequence(raw json.RawMessage) (*SequenceDefinition, error) {
	var def SequenceDefinition
	if err := decodeDefinition(raw, &def); err != nil {
		return nil, err
	}
	if len(def.Steps) == 0 {
		return nil, ErrEmptySteps
	}
	return &def, nil
}

// ParseWebhook разбирает definition вебхука.
func ParseWebhook(raw json.RawMessage) (*WebhookDefinition, error) {
	var def WebhookDefinition
	if err := decodeDefinition(raw, &def); err != nil {
		return nil, err
	}
	if strings.TrimSpace(def.URL) == "" {
		return nil, NewValidationError("", "url", "webhook url is empty", ErrInvalidDefinition)
	}
	if def.TaskType == "" {
		return nil, NewValidationError("", "task_type", "webhook task_type is empty", ErrInvalidDefinition)
	}
	if def.Method == "" {
		def.Method = http.MethodPost
	}
	return &def, nil
}

func decodeDefinition(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty definition", ErrInvalidDefinition)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return nil
}

// TaskTypeSet — известные типы задач по имени.
type TaskTypeSet map[string]domain.TaskType

// NewTaskTypeSet индексирует типы задач по имени.
func NewTaskTypeSet(types []domain.TaskType) TaskTypeSet {
	set := make(TaskTypeSet, len(types))
	for _, t := range types {
		set[t.Name] = t
	}
	return set
}

// ValidateSteps проверяет шаги: уникальность ID, ссылки на типы задач,
// задержки и синтаксис шаблонов.
func ValidateSteps(steps []StepDef, taskTypes TaskTypeSet) error {
	ids := make(map[string]bool)
	for i := range steps {
		step := &steps[i]
		name := step.name(i)

		if step.ID != "" {
			if ids[step.ID] {
				return NewValidationError(step.ID, "id",
					fmt.Sprintf("duplicate step ID: %s", step.ID), ErrDuplicateStepID)
			}
			ids[step.ID] = true
		}

		if _, ok := taskTypes[step.TaskType]; !ok {
			return NewValidationError(name, "task_type",
				fmt.Sprintf("unknown task type %q", step.TaskType), ErrUnknownTaskType)
		}

		if step.DelaySec < 0 {
			return NewValidationError(name, "delay_sec", "delay is negative", ErrNegativeDelay)
		}

		if err := checkTemplate(step.Param1); err != nil {
			return NewValidationError(name, "param_1", err.Error(), ErrTemplateParse)
		}
		if s, ok := step.Param2.(string); ok {
			if err := checkTemplate(s); err != nil {
				return NewValidationError(name, "param_2", err.Error(), ErrTemplateParse)
			}
		}
	}
	return nil
}

// checkTemplate проверяет синтаксис без рендеринга.
func checkTemplate(tmpl string) error {
	if !strings.Contains(tmpl, "{{") {
		return nil
	}
	_, err := parseTemplate(tmpl)
	return err
}
