package domain

import "fmt"

// FlowProgress — сводка по задачам flow.
type FlowProgress struct {
	Total          int `json:"total"`
	Pending        int `json:"pending"`
	Running        int `json:"running"`
	Succeeded      int `json:"succeeded"`
	FailedTerminal int `json:"failed_terminal"`
	Canceled       int `json:"canceled"`
}

// Summarize считает задачи по состояниям.
// FAILED_RETRYABLE учитывается как PENDING: задача ещё будет выполнена.
func Summarize(tasks []*Task) FlowProgress {
	p := FlowProgress{Total: len(tasks)}
	for _, t := range tasks {
		switch t.State {
		case TaskStatePending, TaskStateFailedRetryable:
			p.Pending++
		case TaskStateRunning:
			p.Running++
		case TaskStateSucceeded:
			p.Succeeded++
		case TaskStateFailedTerminal:
			p.FailedTerminal++
		case TaskStateCanceled:
			p.Canceled++
		}
	}
	return p
}

// IsComplete возвращает true, если ни одна задача не ждёт и не выполняется.
func (p FlowProgress) IsComplete() bool {
	return p.Pending == 0 && p.Running == 0
}

// Outcome вычисляет финальное состояние flow.
// Второй результат false — flow ещё не завершён.
//
// Приоритет: FAILED, затем CANCELED, затем SUCCEEDED.
func (p FlowProgress) Outcome() (FlowState, bool) {
	if !p.IsComplete() {
		return "", false
	}
	switch {
	case p.FailedTerminal > 0:
		return FlowStateFailed, true
	case p.Canceled > 0:
		return FlowStateCanceled, true
	default:
		return FlowStateSucceeded, true
	}
}

// String — краткая сводка для result_value и логов.
func (p FlowProgress) String() string {
	return fmt.Sprintf("%d/%d succeeded, %d failed, %d canceled",
		p.Succeeded, p.Total, p.FailedTerminal, p.Canceled)
}
