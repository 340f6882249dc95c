package domain

import "time"

// DefaultMaintenanceInterval — интервал между проходами обслуживания.
const DefaultMaintenanceInterval = 30 * time.Minute

// Maintenance — синглтон DFMaintenance.
//
// Создаётся лениво при первом проходе планировщика,
// изменяется только планировщиком, никогда не удаляется.
type Maintenance struct {
	ID int64 `json:"id"`

	// IsStarted — is_scheduled_process_request_started.
	IsStarted bool `json:"is_scheduled_process_request_started"`

	// IsCompleted — is_scheduled_process_request_completed.
	IsCompleted bool `json:"is_scheduled_process_request_completed"`

	// ProcessorID — владелец последнего захвата.
	ProcessorID string `json:"processor_identifier,omitempty"`

	StartedAt *time.Time `json:"started_utc,omitempty"`
	LastRunAt *time.Time `json:"last_scheduled_process_utc,omitempty"`
	NextRunAt *time.Time `json:"next_scheduled_process_utc,omitempty"`
}

// MaintenanceDecision — результат проверки возможности захвата.
type MaintenanceDecision string

const (
	// MaintenanceProceed — можно захватывать.
	MaintenanceProceed MaintenanceDecision = "proceed"

	// MaintenanceRecoverOwn — предыдущий проход этого же процессора
	// не завершился (падение), флаги сбрасываются и захват продолжается.
	MaintenanceRecoverOwn MaintenanceDecision = "recover_own"

	// MaintenanceBusy — запись захвачена другим процессором и окно не истекло.
	MaintenanceBusy MaintenanceDecision = "busy"

	// MaintenanceNotDue — следующий проход ещё не наступил.
	MaintenanceNotDue MaintenanceDecision = "not_due"
)

// Decide определяет, может ли процессор self захватить обслуживание.
func (m *Maintenance) Decide(self string, now time.Time, grace time.Duration) MaintenanceDecision {
	if m.IsStarted && m.ProcessorID == self {
		return MaintenanceRecoverOwn
	}

	if m.IsStarted && m.ProcessorID != "" {
		if m.StartedAt == nil || now.Before(m.StartedAt.Add(grace)) {
			return MaintenanceBusy
		}
	}

	if m.NextRunAt != nil && now.Before(*m.NextRunAt) {
		return MaintenanceNotDue
	}

	return MaintenanceProceed
}

// MarkClaimed помечает запись захваченной процессором self.
func (m *Maintenance) MarkClaimed(self string, now time.Time) {
	t := now.UTC()
	m.IsStarted = true
	m.IsCompleted = false
	m.ProcessorID = self
	m.StartedAt = &t
}

// MarkCompleted завершает проход и сдвигает следующий на interval.
func (m *Maintenance) MarkCompleted(now time.Time, interval time.Duration) {
	last := now.UTC()
	next := last.Add(interval)
	m.IsStarted = false
	m.IsCompleted = true
	m.LastRunAt = &last
	m.NextRunAt = &next
}
