package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shaiso/dynaflow/internal/engine"
	"github.com/shaiso/dynaflow/internal/machine"
	"github.com/shaiso/dynaflow/internal/mq"
	"github.com/shaiso/dynaflow/internal/orchestrator"
	"github.com/shaiso/dynaflow/internal/repo"
	"github.com/shaiso/dynaflow/internal/scheduler"
	"github.com/shaiso/dynaflow/internal/telemetry"
	"github.com/shaiso/dynaflow/internal/worker"
)

// Processor — один экземпляр процессора DynaFlow.
type Processor struct {
	cfg Config

	// Заполняются в Startup
	id           string
	scheduler    *scheduler.Scheduler
	orchestrator *orchestrator.Orchestrator
	worker       *worker.Worker

	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Config — конфигурация Processor.
type Config struct {
	// Repositories
	FlowRepo        *repo.FlowRepo
	TaskRepo        *repo.TaskRepo
	TypeRepo        *repo.TypeRepo
	MaintenanceRepo *repo.MaintenanceRepo

	// Реестры (если nil — встроенные)
	Builders *engine.Builders
	Registry *worker.Registry

	// Transport — транспорт очередей; nil означает прямой режим.
	Transport mq.Transport
	Queues    mq.QueueNames

	// Роли
	TaskMaster    bool
	TaskProcessor bool

	// ProcessorID — готовый идентификатор; пусто — machine.ID(InstanceName).
	ProcessorID  string
	InstanceName string

	// ScratchDir — локальное хранилище, очищается при старте (пусто — не используется).
	ScratchDir string

	MaintenanceInterval time.Duration
	MaintenanceGrace    time.Duration
	StallTimeout        time.Duration
	RetryDelay          time.Duration
	BatchSize           int

	// PollInterval — пауза между циклами; 0 — один цикл.
	PollInterval time.Duration

	// Env — переменные для шаблонов (.Env).
	Env map[string]string

	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// New создаёт Processor и проверяет роли.
func New(cfg Config) (*Processor, error) {
	if !cfg.TaskMaster && !cfg.TaskProcessor {
		return nil, ErrNoRole
	}
	if cfg.Transport != nil {
		if err := cfg.Queues.Validate(); err != nil {
			return nil, err
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	if cfg.Builders == nil {
		cfg.Builders = engine.NewBuilders(cfg.Env)
	}
	if cfg.Registry == nil {
		cfg.Registry = worker.NewRegistry()
	}

	return &Processor{
		cfg:     cfg,
		metrics: cfg.Metrics,
		logger:  logger,
		now:     now,
	}, nil
}

// ID возвращает идентификатор экземпляра (после Startup).
func (p *Processor) ID() string {
	return p.id
}

// QueueMode возвращает true, если задачи передаются через очереди.
func (p *Processor) QueueMode() bool {
	return p.cfg.Transport != nil
}

// Startup готовит экземпляр к работе.
//
// Ошибки справочников и идентификатора возвращаются (процесс завершается),
// ошибки прохода обслуживания и снятия захватов только логируются.
func (p *Processor) Startup(ctx context.Context) error {
	if err := p.clearScratch(); err != nil {
		return err
	}

	id := p.cfg.ProcessorID
	if id == "" {
		var err error
		id, err = machine.ID(p.cfg.InstanceName)
		if err != nil {
			return fmt.Errorf("resolve processor id: %w", err)
		}
	}
	p.id = id
	p.logger = telemetry.WithProcessor(p.logger, id)
	p.wire()

	if err := p.validateTypes(ctx); err != nil {
		return err
	}

	p.recoverQueues(ctx)

	if _, err := p.scheduler.RequestScheduledFlows(ctx); err != nil {
		p.logger.Error("startup maintenance failed", "error", err)
	}
	if _, _, err := p.scheduler.ReclaimOrphans(ctx); err != nil {
		p.logger.Error("failed to reclaim orphaned claims", "error", err)
	}

	p.logger.Info("processor started",
		"task_master", p.cfg.TaskMaster,
		"task_processor", p.cfg.TaskProcessor,
		"queue_mode", p.QueueMode(),
	)
	return nil
}

// wire создаёт компоненты с идентификатором экземпляра.
func (p *Processor) wire() {
	p.worker = worker.New(worker.Config{
		TaskRepo:    p.cfg.TaskRepo,
		FlowRepo:    p.cfg.FlowRepo,
		TypeRepo:    p.cfg.TypeRepo,
		Registry:    p.cfg.Registry,
		Transport:   p.cfg.Transport,
		Queues:      p.cfg.Queues,
		ProcessorID: p.id,
		RetryDelay:  p.cfg.RetryDelay,
		Env:         p.cfg.Env,
		Metrics:     p.metrics,
		Logger:      p.cfg.Logger,
		Now:         p.now,
	})

	p.orchestrator = orchestrator.New(orchestrator.Config{
		FlowRepo:    p.cfg.FlowRepo,
		TaskRepo:    p.cfg.TaskRepo,
		TypeRepo:    p.cfg.TypeRepo,
		Builders:    p.cfg.Builders,
		Runner:      p.worker,
		Transport:   p.cfg.Transport,
		Queues:      p.cfg.Queues,
		ProcessorID: p.id,
		BatchSize:   p.cfg.BatchSize,
		Metrics:     p.metrics,
		Logger:      p.cfg.Logger,
		Now:         p.now,
	})

	p.scheduler = scheduler.New(scheduler.Config{
		MaintenanceRepo: p.cfg.MaintenanceRepo,
		FlowRepo:        p.cfg.FlowRepo,
		TaskRepo:        p.cfg.TaskRepo,
		TypeRepo:        p.cfg.TypeRepo,
		ProcessorID:     p.id,
		Interval:        p.cfg.MaintenanceInterval,
		Grace:           p.cfg.MaintenanceGrace,
		StallTimeout:    p.cfg.StallTimeout,
		Metrics:         p.metrics,
		Logger:          p.cfg.Logger,
		Now:             p.now,
	})
}

// clearScratch удаляет содержимое локального хранилища.
func (p *Processor) clearScratch() error {
	dir := p.cfg.ScratchDir
	if dir == "" {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read scratch dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("clear scratch dir: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	p.logger.Debug("scratch dir cleared", "dir", dir, "removed", len(entries))
	return nil
}

// validateTypes проверяет, что у каждого типа из БД есть построитель
// или исполнитель, а расписания разбираются.
func (p *Processor) validateTypes(ctx context.Context) error {
	flowTypes, err := p.cfg.TypeRepo.ListFlowTypes(ctx)
	if err != nil {
		return fmt.Errorf("load flow types: %w", err)
	}
	taskTypes, err := p.cfg.TypeRepo.ListTaskTypes(ctx)
	if err != nil {
		return fmt.Errorf("load task types: %w", err)
	}

	err = errors.Join(
		p.cfg.Builders.Validate(flowTypes, taskTypes),
		p.cfg.Registry.Validate(taskTypes),
		scheduler.ValidateFlowTypes(flowTypes),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTypes, err)
	}
	return nil
}

// recoverer — транспорт, который хранит неподтверждённые сообщения
// между перезапусками (Redis).
type recoverer interface {
	Recover(ctx context.Context, queue string) (int, error)
}

// recoverQueues возвращает неподтверждённые сообщения в очереди.
func (p *Processor) recoverQueues(ctx context.Context) {
	r, ok := p.cfg.Transport.(recoverer)
	if !ok {
		return
	}

	var queues []string
	if p.cfg.TaskMaster {
		queues = append(queues, p.cfg.Queues.Result)
	}
	if p.cfg.TaskProcessor {
		queues = append(queues, p.cfg.Queues.Processor)
	}

	for _, q := range queues {
		n, err := r.Recover(ctx, q)
		if err != nil {
			p.logger.Error("failed to recover unacked messages", "queue", q, "error", err)
			continue
		}
		if n > 0 {
			p.logger.Info("unacked messages recovered", "queue", q, "count", n)
		}
	}
}
