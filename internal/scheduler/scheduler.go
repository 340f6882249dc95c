package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/dynaflow/internal/domain"
	"github.com/shaiso/dynaflow/internal/repo"
	"github.com/shaiso/dynaflow/internal/telemetry"
)

// Default configuration values.
const (
	defaultGrace        = time.Hour
	defaultStallTimeout = time.Hour
)

// Scheduler — цикл обслуживания (DFMaintenance).
//
// Один проход выполняет только процессор, захвативший синглтон
// DFMaintenance. Проход запрашивает flow периодических типов
// и возвращает в очередь зависшие построения и задачи.
type Scheduler struct {
	maintenance *repo.MaintenanceRepo
	flows       *repo.FlowRepo
	tasks       *repo.TaskRepo
	types       *repo.TypeRepo

	processorID  string
	interval     time.Duration
	grace        time.Duration
	stallTimeout time.Duration

	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	MaintenanceRepo *repo.MaintenanceRepo
	FlowRepo        *repo.FlowRepo
	TaskRepo        *repo.TaskRepo
	TypeRepo        *repo.TypeRepo

	// ProcessorID — идентификатор экземпляра (machine.ID).
	ProcessorID string

	Interval     time.Duration // между проходами (default: 30m)
	Grace        time.Duration // окно чужого незавершённого прохода (default: 1h)
	StallTimeout time.Duration // возраст зависшего построения/задачи (default: 1h)

	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = domain.DefaultMaintenanceInterval
	}
	grace := cfg.Grace
	if grace <= 0 {
		grace = defaultGrace
	}
	stall := cfg.StallTimeout
	if stall <= 0 {
		stall = defaultStallTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Scheduler{
		maintenance:  cfg.MaintenanceRepo,
		flows:        cfg.FlowRepo,
		tasks:        cfg.TaskRepo,
		types:        cfg.TypeRepo,
		processorID:  cfg.ProcessorID,
		interval:     interval,
		grace:        grace,
		stallTimeout: stall,
		metrics:      cfg.Metrics,
		logger:       telemetry.WithProcessor(logger, cfg.ProcessorID),
		now:          now,
	}
}

// RequestScheduledFlows выполняет проход обслуживания, если удалось
// захватить синглтон DFMaintenance.
//
// Захват:
//  1. незавершённый проход этого же процессора (падение) сбрасывается
//  2. чужой проход в пределах Grace — отказ
//  3. следующий проход ещё не наступил — отказ
//  4. иначе условный UPDATE; проигранная гонка — отказ
//
// Любая ошибка хранилища означает отказ. Возвращает true, если проход выполнен.
// Если работа прохода завершилась ошибкой, запись остаётся захваченной
// и следующий вызов этого процессора повторит проход.
func (s *Scheduler) RequestScheduledFlows(ctx context.Context) (bool, error) {
	now := s.now()

	m, err := s.maintenance.GetOrCreate(ctx)
	if err != nil {
		return false, fmt.Errorf("load maintenance record: %w", err)
	}

	decision := m.Decide(s.processorID, now, s.grace)
	s.metrics.MaintenanceDecision(string(decision))

	switch decision {
	case domain.MaintenanceBusy:
		s.logger.Debug("maintenance claimed by another processor", "owner", m.ProcessorID)
		return false, nil
	case domain.MaintenanceNotDue:
		s.logger.Debug("maintenance not due", "next_run", m.NextRunAt)
		return false, nil
	case domain.MaintenanceRecoverOwn:
		s.logger.Warn("recovering own unfinished maintenance run", "started", m.StartedAt)
	}

	claimed, err := s.maintenance.Claim(ctx, m, s.processorID, now)
	if err != nil {
		return false, err
	}
	if !claimed {
		s.logger.Debug("maintenance claim lost")
		return false, nil
	}
	m.MarkClaimed(s.processorID, now)

	if err := s.run(ctx, m, now); err != nil {
		return true, fmt.Errorf("maintenance run: %w", err)
	}

	m.MarkCompleted(now, s.interval)
	completed, err := s.maintenance.Complete(ctx, m, s.processorID)
	if err != nil {
		return true, err
	}
	if !completed {
		s.logger.Warn("maintenance record taken over before completion")
	}

	return true, nil
}

// run выполняет работу прохода обслуживания.
func (s *Scheduler) run(ctx context.Context, m *domain.Maintenance, now time.Time) error {
	from := now.Add(-s.interval)
	if m.LastRunAt != nil {
		from = *m.LastRunAt
	}

	requested, err := s.requestRecurring(ctx, from, now)
	if err != nil {
		return err
	}

	olderThan := now.Add(-s.stallTimeout)

	builds, err := s.flows.RequeueStalledBuilds(ctx, olderThan)
	if err != nil {
		return err
	}
	runs, err := s.tasks.RequeueStalledRuns(ctx, olderThan)
	if err != nil {
		return err
	}

	s.logger.Info("maintenance completed",
		"flows_requested", requested,
		"builds_requeued", builds,
		"runs_requeued", runs,
	)
	return nil
}

// requestRecurring запрашивает flow для периодических типов,
// срабатывание которых после from уже наступило.
// Ошибка одного типа не блокирует остальные.
func (s *Scheduler) requestRecurring(ctx context.Context, from, now time.Time) (int, error) {
	types, err := s.types.ListRecurringFlowTypes(ctx)
	if err != nil {
		return 0, fmt.Errorf("list recurring flow types: %w", err)
	}

	created := 0
	for i := range types {
		ft := &types[i]

		ok, err := s.requestDue(ctx, ft, from, now)
		if err != nil {
			if ctx.Err() != nil {
				return created, ctx.Err()
			}
			s.logger.Error("failed to request scheduled flow", "flow_type", ft.Name, "error", err)
			continue
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// requestDue создаёт flow типа ft, если срабатывание после from наступило.
// Возвращает true, если flow создан (не был дубликатом).
func (s *Scheduler) requestDue(ctx context.Context, ft *domain.FlowType, from, now time.Time) (bool, error) {
	due, err := NextDue(ft.CronExpr, from)
	if err != nil {
		return false, err
	}
	if due.After(now) {
		return false, nil
	}

	// Ключ "{type_id}_{due_unix}" гарантирует один flow на срабатывание
	key := RequestKey(ft.ID, due)

	existing, err := s.flows.GetByRequestKey(ctx, ft.ID, key)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return false, fmt.Errorf("check request key: %w", err)
	}
	if existing != nil {
		s.logger.Debug("scheduled flow already requested", "flow_type", ft.Name, "request_key", key)
		return false, nil
	}

	flow := domain.NewFlow(ft.ID, ft.DefaultSubject, now)
	flow.RequestKey = key
	if err := s.flows.Create(ctx, flow); err != nil {
		return false, fmt.Errorf("create flow: %w", err)
	}

	s.logger.Info("scheduled flow requested",
		"flow_code", flow.Code,
		"flow_type", ft.Name,
		"due", due,
	)
	return true, nil
}

// ReclaimOrphans снимает незавершённые захваты этого процессора,
// оставшиеся после падения: построения flow и задачи.
func (s *Scheduler) ReclaimOrphans(ctx context.Context) (builds, runs int64, err error) {
	builds, err = s.flows.ReleaseOrphanBuilds(ctx, s.processorID)
	if err != nil {
		return 0, 0, err
	}
	runs, err = s.tasks.ReleaseOrphans(ctx, s.processorID)
	if err != nil {
		return builds, 0, err
	}

	if builds > 0 || runs > 0 {
		s.logger.Info("orphaned claims released", "builds", builds, "runs", runs)
	}
	return builds, runs, nil
}
