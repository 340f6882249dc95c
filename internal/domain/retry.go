package domain

import "time"

// DefaultRetryDelay — сдвиг min_start при повторе задачи.
const DefaultRetryDelay = 3 * time.Minute

// RetryDecision — итог применения политики повторов.
type RetryDecision string

const (
	// RetryDecisionNone — задача успешна или отменена, повтор не нужен.
	RetryDecisionNone RetryDecision = "none"

	// RetryDecisionRetry — запланирован повтор.
	RetryDecisionRetry RetryDecision = "retry"

	// RetryDecisionTerminal — попытки исчерпаны.
	RetryDecisionTerminal RetryDecision = "terminal"
)

// RetryPolicy определяет поведение задачи после неудачной попытки.
//
// Правила:
//   - успех или отмена — финал, повтора нет
//   - retry_count >= max_retry_count — финальная неудача
//     (max_retry_count == 0 означает, что первая же ошибка финальна)
//   - иначе retry_count++, min_start сдвигается на Delay,
//     задача возвращается в очередь на захват
type RetryPolicy struct {
	Delay time.Duration
}

// NewRetryPolicy создаёт политику с задержкой delay (<= 0 — по умолчанию).
func NewRetryPolicy(delay time.Duration) RetryPolicy {
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return RetryPolicy{Delay: delay}
}

// Apply применяет политику к задаче после завершения попытки.
func (p RetryPolicy) Apply(task *Task, now time.Time) RetryDecision {
	if task.State != TaskStateFailedTerminal {
		return RetryDecisionNone
	}

	if task.RetryCount >= task.MaxRetryCount {
		return RetryDecisionTerminal
	}

	delay := p.Delay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	task.RetryCount++
	task.MinStartAt = now.UTC().Add(delay)
	task.State = TaskStateFailedRetryable
	task.StartedAt = nil
	task.CompletedAt = nil

	return RetryDecisionRetry
}
