package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FlowTypeLookup — закрытый перечень построителей задач.
// Каждый тип flow ссылается на одно из значений, построитель
// выбирается по нему при старте процессора.
type FlowTypeLookup string

const (
	// FlowTypeSequence — цепочка шагов из definition типа.
	FlowTypeSequence FlowTypeLookup = "sequence"

	// FlowTypeWebhook — HTTP-вызов с кодом субъекта и опциональные шаги после него.
	FlowTypeWebhook FlowTypeLookup = "webhook"
)

// FlowTypeLookups возвращает все известные значения перечня.
func FlowTypeLookups() []FlowTypeLookup {
	return []FlowTypeLookup{FlowTypeSequence, FlowTypeWebhook}
}

// Valid проверяет, что значение входит в перечень.
func (l FlowTypeLookup) Valid() bool {
	for _, v := range FlowTypeLookups() {
		if v == l {
			return true
		}
	}
	return false
}

// FlowType — шаблон DynaFlow (справочные данные).
type FlowType struct {
	// ID — идентификатор типа.
	ID int64 `json:"id"`

	// Lookup — выбирает построитель задач.
	Lookup FlowTypeLookup `json:"lookup"`

	// Name — уникальное имя типа.
	Name string `json:"name"`

	// PriorityLevel — копируется во flow при захвате построения.
	PriorityLevel int `json:"priority_level"`

	// Definition — описание шагов в JSON, разбирается построителем.
	Definition json.RawMessage `json:"definition,omitempty"`

	// CronExpr — расписание для периодических flow (пусто — только по запросу).
	CronExpr string `json:"cron_expr,omitempty"`

	// DefaultSubject — код субъекта для flow, созданных по расписанию.
	DefaultSubject string `json:"default_subject,omitempty"`
}

// IsRecurring возвращает true, если тип запускается по расписанию.
func (t *FlowType) IsRecurring() bool {
	return t.CronExpr != ""
}

// Flow — экземпляр DynaFlow.
//
// Flow создаётся по запросу (API или планировщик), затем:
//   - Task Builder захватывает построение и создаёт цепочку задач
//   - Task Executor переводит flow в RUNNING при первой задаче
//   - финализация переводит flow в финальное состояние
//
// Физически flow не удаляется.
type Flow struct {
	// ID — первичный ключ.
	ID int64 `json:"id"`

	// Code — внешний идентификатор.
	Code uuid.UUID `json:"code"`

	// TypeID — ссылка на FlowType.
	TypeID int64 `json:"dynaflow_type_id"`

	// SubjectCode — код объекта, над которым работает flow.
	SubjectCode string `json:"subject_code"`

	// PriorityLevel — копия приоритета типа, выставляется при захвате.
	PriorityLevel int `json:"priority_level"`

	// RequestKey — ключ идемпотентности (для flow из расписания).
	RequestKey string `json:"request_key,omitempty"`

	// IsBuildDebugRequired — построение задач выполняется только вручную.
	IsBuildDebugRequired bool `json:"is_build_debug_required"`

	// State — текущее состояние.
	State FlowState `json:"state"`

	// TasksCreated — защёлка: задачи построены (выставляется один раз).
	TasksCreated bool `json:"is_tasks_created"`

	// IsCancelRequested — запрошена отмена.
	IsCancelRequested bool `json:"is_cancel_requested"`

	// TaskCreationProcessorID — владелец построения.
	TaskCreationProcessorID string `json:"task_creation_processor_identifier,omitempty"`

	RequestedAt           time.Time  `json:"requested_utc"`
	TaskCreationStartedAt *time.Time `json:"task_creation_started_utc,omitempty"`
	StartedAt             *time.Time `json:"started_utc,omitempty"`
	CompletedAt           *time.Time `json:"completed_utc,omitempty"`

	// ResultValue — итог (текст ошибки построения или сводка).
	ResultValue string `json:"result_value,omitempty"`
}

// NewFlow создаёт запрос на flow.
func NewFlow(typeID int64, subjectCode string, now time.Time) *Flow {
	return &Flow{
		Code:        uuid.New(),
		TypeID:      typeID,
		SubjectCode: subjectCode,
		State:       FlowStateRequested,
		RequestedAt: now.UTC(),
	}
}

// Flags возвращает хранимое представление состояния.
func (f *Flow) Flags() FlowFlags {
	return FlowFlags{
		IsTaskCreationStarted: f.TaskCreationStartedAt != nil,
		IsTasksCreated:        f.TasksCreated,
		IsStarted:             f.StartedAt != nil,
		IsCompleted:           f.State.IsTerminal(),
		IsSuccessful:          f.State == FlowStateSucceeded,
		IsCanceled:            f.State == FlowStateCanceled,
	}
}

// IsCompleted возвращает true, если flow в финальном состоянии.
func (f *Flow) IsCompleted() bool {
	return f.State.IsTerminal()
}

// MarkStarted переводит flow в RUNNING (только при первом касании).
func (f *Flow) MarkStarted(now time.Time) bool {
	if f.StartedAt != nil || f.State.IsTerminal() {
		return false
	}
	t := now.UTC()
	f.StartedAt = &t
	f.State = FlowStateRunning
	return true
}

// Complete переводит flow в финальное состояние.
func (f *Flow) Complete(state FlowState, result string, now time.Time) {
	t := now.UTC()
	f.State = state
	f.CompletedAt = &t
	if result != "" {
		f.ResultValue = result
	}
}
