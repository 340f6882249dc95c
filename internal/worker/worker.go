package worker

import (
	"log/slog"
	"time"

	"github.com/shaiso/dynaflow/internal/domain"
	"github.com/shaiso/dynaflow/internal/mq"
	"github.com/shaiso/dynaflow/internal/repo"
	"github.com/shaiso/dynaflow/internal/telemetry"
)

// Worker — Task Executor.
//
// Worker выполняет захваченные задачи:
//   - в прямом режиме Distributor вызывает RunTask в том же процессе
//   - в режиме очередей DrainProcessorQueue читает очередь processor,
//     выполняет задачи и отправляет итог в очередь result
//
// Исход каждой попытки определяет RetryPolicy. Ошибки обработчика
// не прерывают процессор: они сохраняются в error_text задачи.
type Worker struct {
	tasks *repo.TaskRepo
	flows *repo.FlowRepo
	types *repo.TypeRepo

	registry *Registry

	transport mq.Transport
	queues    mq.QueueNames

	processorID string
	retry       domain.RetryPolicy
	env         map[string]string

	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Config — конфигурация Worker.
type Config struct {
	// Repositories
	TaskRepo *repo.TaskRepo
	FlowRepo *repo.FlowRepo
	TypeRepo *repo.TypeRepo

	// Executor registry (опционально; если nil — используется NewRegistry())
	Registry *Registry

	// Transport — транспорт очередей; nil означает прямой режим.
	Transport mq.Transport
	Queues    mq.QueueNames

	// ProcessorID — идентификатор экземпляра (machine.ID).
	ProcessorID string

	// RetryDelay — сдвиг min_start при повторе (default: 3m).
	RetryDelay time.Duration

	// Env — переменные для шаблонов transform.
	Env map[string]string

	// Metrics (опционально)
	Metrics *telemetry.Metrics

	// Logger
	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	queues := cfg.Queues
	if queues == (mq.QueueNames{}) {
		queues = mq.DefaultQueueNames()
	}

	return &Worker{
		tasks:       cfg.TaskRepo,
		flows:       cfg.FlowRepo,
		types:       cfg.TypeRepo,
		registry:    registry,
		transport:   cfg.Transport,
		queues:      queues,
		processorID: cfg.ProcessorID,
		retry:       domain.NewRetryPolicy(cfg.RetryDelay),
		env:         cfg.Env,
		metrics:     cfg.Metrics,
		logger:      telemetry.WithProcessor(logger, cfg.ProcessorID),
		now:         now,
	}
}

// Registry возвращает реестр executor'ов.
func (w *Worker) Registry() *Registry {
	return w.registry
}

// QueueMode возвращает true, если итоги задач отправляются в очередь result.
func (w *Worker) QueueMode() bool {
	return w.transport != nil
}
