package engine

import "errors"

// Ошибки описания типа flow.
var (
	// ErrInvalidDefinition — definition не разбирается.
	ErrInvalidDefinition = errors.New("invalid flow type definition")

	// ErrEmptySteps — описание не содержит шагов.
	ErrEmptySteps = errors.New("definition has no steps")

	// ErrDuplicateStepID — несколько шагов с одинаковым ID.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrUnknownTaskType — шаг ссылается на несуществующий тип задачи.
	ErrUnknownTaskType = errors.New("step references unknown task type")

	// ErrNegativeDelay — отрицательная задержка шага.
	ErrNegativeDelay = errors.New("step delay is negative")

	// ErrNoBuilder — для lookup типа flow нет построителя.
	ErrNoBuilder = errors.New("no task builder registered")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// ValidationError — ошибка проверки описания с контекстом.
type ValidationError struct {
	FlowType string // имя типа flow
	StepID   string // ID шага, где произошла ошибка
	Field    string // поле, вызвавшее ошибку
	Message  string // описание ошибки
	Err      error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	prefix := ""
	if e.FlowType != "" {
		prefix = "flow type " + e.FlowType + ": "
	}
	if e.StepID != "" {
		return prefix + "step " + e.StepID + ": " + e.Message
	}
	return prefix + e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку проверки.
func NewValidationError(stepID, field, message string, err error) *ValidationError {
	return &ValidationError{
		StepID:  stepID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
