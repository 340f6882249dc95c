package domain

// TaskState — состояние выполнения задачи.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED_RETRYABLE → RUNNING (после min_start)
//	                  ↘ FAILED_TERMINAL
//	(или) → CANCELED (по запросу отмены flow)
//
// В БД состояние хранится набором флагов (is_started, is_completed,
// is_successful, is_canceled). Перевод выполняется только на границе
// хранилища через TaskFlags.
type TaskState string

const (
	// TaskStatePending — задача создана и ждёт захвата.
	TaskStatePending TaskState = "PENDING"

	// TaskStateRunning — задача захвачена процессором.
	TaskStateRunning TaskState = "RUNNING"

	// TaskStateSucceeded — задача успешно завершена.
	TaskStateSucceeded TaskState = "SUCCEEDED"

	// TaskStateFailedRetryable — попытка упала, запланирован повтор.
	TaskStateFailedRetryable TaskState = "FAILED_RETRYABLE"

	// TaskStateFailedTerminal — попытки исчерпаны.
	TaskStateFailedTerminal TaskState = "FAILED_TERMINAL"

	// TaskStateCanceled — задача отменена.
	TaskStateCanceled TaskState = "CANCELED"
)

// IsTerminal возвращает true, если задача больше не будет выполняться.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateSucceeded, TaskStateFailedTerminal, TaskStateCanceled:
		return true
	default:
		return false
	}
}

// IsClaimable возвращает true, если задачу можно захватить.
func (s TaskState) IsClaimable() bool {
	return s == TaskStatePending || s == TaskStateFailedRetryable
}

// Valid проверяет, что значение входит в перечисление.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStatePending, TaskStateRunning, TaskStateSucceeded,
		TaskStateFailedRetryable, TaskStateFailedTerminal, TaskStateCanceled:
		return true
	default:
		return false
	}
}

// TaskFlags — хранимое представление состояния задачи.
type TaskFlags struct {
	IsStarted    bool
	IsCompleted  bool
	IsSuccessful bool
	IsCanceled   bool
}

// Flags переводит состояние в набор флагов.
func (s TaskState) Flags() TaskFlags {
	switch s {
	case TaskStateRunning:
		return TaskFlags{IsStarted: true}
	case TaskStateSucceeded:
		return TaskFlags{IsStarted: true, IsCompleted: true, IsSuccessful: true}
	case TaskStateFailedTerminal:
		return TaskFlags{IsStarted: true, IsCompleted: true}
	case TaskStateCanceled:
		return TaskFlags{IsStarted: true, IsCompleted: true, IsCanceled: true}
	default:
		// PENDING и FAILED_RETRYABLE различаются только retry_count
		return TaskFlags{}
	}
}

// TaskStateFromFlags восстанавливает состояние из флагов.
// Недопустимые комбинации (например, completed без started) сводятся
// к ближайшему осмысленному состоянию.
func TaskStateFromFlags(f TaskFlags, retryCount int) TaskState {
	switch {
	case f.IsCompleted && f.IsCanceled:
		return TaskStateCanceled
	case f.IsCompleted && f.IsSuccessful:
		return TaskStateSucceeded
	case f.IsCompleted:
		return TaskStateFailedTerminal
	case f.IsStarted:
		return TaskStateRunning
	case retryCount > 0:
		return TaskStateFailedRetryable
	default:
		return TaskStatePending
	}
}

// FlowState — состояние DynaFlow.
//
// Жизненный цикл:
//
//	REQUESTED → BUILDING → BUILT → RUNNING → SUCCEEDED
//	                                        ↘ FAILED
//	(из любого нефинального) → CANCELED
//	BUILDING → FAILED (ошибка построения задач не повторяется)
type FlowState string

const (
	// FlowStateRequested — flow запрошен, задачи ещё не строились.
	FlowStateRequested FlowState = "REQUESTED"

	// FlowStateBuilding — построение задач захвачено процессором.
	FlowStateBuilding FlowState = "BUILDING"

	// FlowStateBuilt — цепочка задач создана.
	FlowStateBuilt FlowState = "BUILT"

	// FlowStateRunning — хотя бы одна задача начала выполняться.
	FlowStateRunning FlowState = "RUNNING"

	// FlowStateSucceeded — все задачи завершились успешно.
	FlowStateSucceeded FlowState = "SUCCEEDED"

	// FlowStateFailed — построение или одна из задач завершились неудачей.
	FlowStateFailed FlowState = "FAILED"

	// FlowStateCanceled — flow отменён.
	FlowStateCanceled FlowState = "CANCELED"
)

// IsTerminal возвращает true, если flow завершён.
func (s FlowState) IsTerminal() bool {
	switch s {
	case FlowStateSucceeded, FlowStateFailed, FlowStateCanceled:
		return true
	default:
		return false
	}
}

// FlowFlags — хранимое представление состояния flow.
type FlowFlags struct {
	IsTaskCreationStarted bool
	IsTasksCreated        bool
	IsStarted             bool
	IsCompleted           bool
	IsSuccessful          bool
	IsCanceled            bool
}

// FlowStateFromFlags восстанавливает состояние flow из флагов.
func FlowStateFromFlags(f FlowFlags) FlowState {
	switch {
	case f.IsCompleted && f.IsCanceled:
		return FlowStateCanceled
	case f.IsCompleted && f.IsSuccessful:
		return FlowStateSucceeded
	case f.IsCompleted:
		return FlowStateFailed
	case f.IsStarted:
		return FlowStateRunning
	case f.IsTasksCreated:
		return FlowStateBuilt
	case f.IsTaskCreationStarted:
		return FlowStateBuilding
	default:
		return FlowStateRequested
	}
}
