package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskTypeLookup — закрытый перечень исполнителей задач.
type TaskTypeLookup string

const (
	// TaskTypeHTTP — HTTP-запрос.
	TaskTypeHTTP TaskTypeLookup = "http"

	// TaskTypeDelay — пауза на заданное число секунд.
	TaskTypeDelay TaskTypeLookup = "delay"

	// TaskTypeTransform — рендер шаблона по JSON-данным.
	TaskTypeTransform TaskTypeLookup = "transform"

	// TaskTypeNoop — возвращает param_1 как результат.
	TaskTypeNoop TaskTypeLookup = "noop"
)

// TaskTypeLookups возвращает все известные значения перечня.
func TaskTypeLookups() []TaskTypeLookup {
	return []TaskTypeLookup{TaskTypeHTTP, TaskTypeDelay, TaskTypeTransform, TaskTypeNoop}
}

// Valid проверяет, что значение входит в перечень.
func (l TaskTypeLookup) Valid() bool {
	for _, v := range TaskTypeLookups() {
		if v == l {
			return true
		}
	}
	return false
}

// TaskType — шаблон задачи (справочные данные).
type TaskType struct {
	ID int64 `json:"id"`

	// Lookup — выбирает исполнителя.
	Lookup TaskTypeLookup `json:"lookup"`

	// Name — уникальное имя, на него ссылаются шаги definition.
	Name string `json:"name"`

	// MaxRetryCount — копируется в задачу при захвате.
	MaxRetryCount int `json:"max_retry_count"`

	// IsDebugPause — задачи этого типа не раздаются автоматически.
	IsDebugPause bool `json:"is_debug_pause"`
}

// TaskSpec — описание задачи, которое возвращает построитель.
// Задачи цепочки создаются в порядке слайса.
type TaskSpec struct {
	// TaskTypeName — имя TaskType.
	TaskTypeName string

	Param1 string
	Param2 string

	// StartDelay — смещение min_start относительно момента построения.
	StartDelay time.Duration
}

// Task — DynaFlowTask, единица работы внутри flow.
type Task struct {
	// ID — первичный ключ.
	ID int64 `json:"id"`

	// Code — внешний идентификатор.
	Code uuid.UUID `json:"code"`

	// FlowID — владелец задачи.
	FlowID int64 `json:"dynaflow_id"`

	// TaskTypeID — ссылка на TaskType.
	TaskTypeID int64 `json:"dynaflow_task_type_id"`

	// PredecessorID — предыдущая задача цепочки (0 — нет).
	PredecessorID int64 `json:"predecessor_id"`

	// Sequence — позиция в цепочке.
	Sequence int `json:"sequence"`

	// ProcessorID — идентификатор процессора, захватившего задачу.
	ProcessorID string `json:"processor_identifier,omitempty"`

	// State — текущее состояние.
	State TaskState `json:"state"`

	// IsCancelRequested — отмена запрошена на уровне задачи.
	IsCancelRequested bool `json:"is_cancel_requested"`

	RetryCount    int `json:"retry_count"`
	MaxRetryCount int `json:"max_retry_count"`

	// Param1, Param2 — непрозрачные входные данные исполнителя.
	Param1 string `json:"param_1"`
	Param2 string `json:"param_2"`

	ResultValue string `json:"result_value,omitempty"`
	ErrorText   string `json:"error_text,omitempty"`

	RequestedAt time.Time  `json:"requested_utc"`
	MinStartAt  time.Time  `json:"min_start_utc"`
	StartedAt   *time.Time `json:"started_utc,omitempty"`
	CompletedAt *time.Time `json:"completed_utc,omitempty"`
}

// Flags возвращает хранимое представление состояния.
func (t *Task) Flags() TaskFlags {
	return t.State.Flags()
}

// IsCompleted возвращает true, если задача в финальном состоянии.
func (t *Task) IsCompleted() bool {
	return t.State.IsTerminal()
}

// MarkRunning помечает задачу как выполняющуюся.
func (t *Task) MarkRunning(owner string, now time.Time) {
	ts := now.UTC()
	t.State = TaskStateRunning
	t.ProcessorID = owner
	if t.StartedAt == nil {
		t.StartedAt = &ts
	}
}

// MarkSucceeded фиксирует успешное выполнение.
func (t *Task) MarkSucceeded(result string, now time.Time) {
	ts := now.UTC()
	t.State = TaskStateSucceeded
	t.ResultValue = result
	t.ErrorText = ""
	t.CompletedAt = &ts
}

// MarkFailed фиксирует неудачную попытку.
// Окончательное решение (повтор или финал) принимает RetryPolicy.
func (t *Task) MarkFailed(errText string, now time.Time) {
	ts := now.UTC()
	t.State = TaskStateFailedTerminal
	t.ErrorText = errText
	t.CompletedAt = &ts
}

// MarkCanceled отменяет задачу.
func (t *Task) MarkCanceled(now time.Time) {
	ts := now.UTC()
	t.State = TaskStateCanceled
	if t.StartedAt == nil {
		t.StartedAt = &ts
	}
	t.CompletedAt = &ts
}

// IsRunnable проверяет готовность задачи к захвату на момент now.
func (t *Task) IsRunnable(now time.Time) bool {
	return t.State.IsClaimable() && !t.MinStartAt.After(now)
}
