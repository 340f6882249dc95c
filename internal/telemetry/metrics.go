package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — Prometheus метрики процессора.
//
// Методы безопасны для nil-получателя: компоненты без метрик
// (тесты, CLI) просто не передают их.
type Metrics struct {
	flowsBuilt      *prometheus.CounterVec
	flowsCompleted  *prometheus.CounterVec
	tasksDispatched *prometheus.CounterVec
	tasksExecuted   *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	deadLetters     *prometheus.CounterVec
	maintenance     *prometheus.CounterVec
	pendingWork     *prometheus.GaugeVec
}

// NewMetrics создаёт и регистрирует метрики.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		flowsBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynaflow",
			Name:      "flows_built_total",
			Help:      "Task builds by outcome (built, failed, canceled).",
		}, []string{"outcome"}),
		flowsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynaflow",
			Name:      "flows_completed_total",
			Help:      "Flows that reached a final state.",
		}, []string{"state"}),
		tasksDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynaflow",
			Name:      "tasks_dispatched_total",
			Help:      "Claimed tasks by distribution mode (queue, direct).",
		}, []string{"mode"}),
		tasksExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynaflow",
			Name:      "tasks_executed_total",
			Help:      "Task executions by type and resulting state.",
		}, []string{"task_type", "state"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dynaflow",
			Name:      "task_duration_seconds",
			Help:      "Executor run time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task_type"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynaflow",
			Name:      "dead_letters_total",
			Help:      "Messages moved to the dead queue by source queue.",
		}, []string{"queue"}),
		maintenance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynaflow",
			Name:      "maintenance_requests_total",
			Help:      "Scheduled-process requests by decision.",
		}, []string{"decision"}),
		pendingWork: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dynaflow",
			Name:      "pending_work",
			Help:      "Work found at the start of the last pass.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.flowsBuilt,
			m.flowsCompleted,
			m.tasksDispatched,
			m.tasksExecuted,
			m.taskDuration,
			m.deadLetters,
			m.maintenance,
			m.pendingWork,
		)
	}
	return m
}

// FlowBuilt учитывает построение задач.
func (m *Metrics) FlowBuilt(outcome string) {
	if m == nil {
		return
	}
	m.flowsBuilt.WithLabelValues(outcome).Inc()
}

// FlowCompleted учитывает завершение flow.
func (m *Metrics) FlowCompleted(state string) {
	if m == nil {
		return
	}
	m.flowsCompleted.WithLabelValues(state).Inc()
}

// TaskDispatched учитывает раздачу задачи.
func (m *Metrics) TaskDispatched(mode string) {
	if m == nil {
		return
	}
	m.tasksDispatched.WithLabelValues(mode).Inc()
}

// TaskExecuted учитывает выполнение задачи.
func (m *Metrics) TaskExecuted(taskType, state string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksExecuted.WithLabelValues(taskType, state).Inc()
	m.taskDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

// DeadLettered учитывает сообщение, отправленное в dead-очередь.
func (m *Metrics) DeadLettered(queue string) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(queue).Inc()
}

// MaintenanceDecision учитывает решение планировщика.
func (m *Metrics) MaintenanceDecision(decision string) {
	if m == nil {
		return
	}
	m.maintenance.WithLabelValues(decision).Inc()
}

// SetPendingWork фиксирует объём работы, найденный проходом.
func (m *Metrics) SetPendingWork(kind string, n int) {
	if m == nil {
		return
	}
	m.pendingWork.WithLabelValues(kind).Set(float64(n))
}
