package orchestrator

import (
	"log/slog"
	"time"

	"github.com/shaiso/dynaflow/internal/engine"
	"github.com/shaiso/dynaflow/internal/mq"
	"github.com/shaiso/dynaflow/internal/repo"
	"github.com/shaiso/dynaflow/internal/telemetry"
	"github.com/shaiso/dynaflow/internal/worker"
)

// Default configuration values.
const defaultBatchSize = 100

// Orchestrator — роль "task master" без планировщика.
//
// Orchestrator:
//   - строит задачи для запрошенных flow (Task Builder)
//   - захватывает готовые задачи и раздаёт их (Task Distributor):
//     в очередь processor или прямо в Worker
//   - разбирает очередь result и финализирует flow
//
// Между проходами состояние не хранится: всё, что нужно, читается из БД.
type Orchestrator struct {
	// Repositories
	flows *repo.FlowRepo
	tasks *repo.TaskRepo
	types *repo.TypeRepo

	builders *engine.Builders
	runner   *worker.Worker

	// MQ (nil — прямой режим)
	transport mq.Transport
	queues    mq.QueueNames

	processorID string
	batchSize   int

	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Repositories
	FlowRepo *repo.FlowRepo
	TaskRepo *repo.TaskRepo
	TypeRepo *repo.TypeRepo

	// Builders — реестр построителей (если nil — engine.NewBuilders(nil))
	Builders *engine.Builders

	// Runner — Worker для прямого режима и финализации flow.
	Runner *worker.Worker

	// Transport — транспорт очередей; nil означает прямой режим.
	Transport mq.Transport
	Queues    mq.QueueNames

	// ProcessorID — идентификатор экземпляра (machine.ID).
	ProcessorID string

	// BatchSize — число записей за один проход (default: 100)
	BatchSize int

	Metrics *telemetry.Metrics

	// Logger
	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	builders := cfg.Builders
	if builders == nil {
		builders = engine.NewBuilders(nil)
	}

	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	queues := cfg.Queues
	if queues == (mq.QueueNames{}) {
		queues = mq.DefaultQueueNames()
	}

	return &Orchestrator{
		flows:       cfg.FlowRepo,
		tasks:       cfg.TaskRepo,
		types:       cfg.TypeRepo,
		builders:    builders,
		runner:      cfg.Runner,
		transport:   cfg.Transport,
		queues:      queues,
		processorID: cfg.ProcessorID,
		batchSize:   batchSize,
		metrics:     cfg.Metrics,
		logger:      telemetry.WithProcessor(logger, cfg.ProcessorID),
		now:         now,
	}
}

// QueueMode возвращает true, если задачи раздаются через очередь processor.
func (o *Orchestrator) QueueMode() bool {
	return o.transport != nil
}
