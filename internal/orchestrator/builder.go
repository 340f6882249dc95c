package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shaiso/dynaflow/internal/domain"
	"github.com/shaiso/dynaflow/internal/repo"
	"github.com/shaiso/dynaflow/internal/telemetry"
)

// Исходы построения для метрик.
const (
	buildOutcomeBuilt    = "built"
	buildOutcomeFailed   = "failed"
	buildOutcomeCanceled = "canceled"
)

// BuildPending строит задачи для flow, ожидающих построения.
//
// Ошибка инфраструктуры по одному flow не прерывает проход:
// flow остаётся захваченным и возвращается в очередь requeue'ем
// зависших построений. Возвращает число обработанных flow.
func (o *Orchestrator) BuildPending(ctx context.Context) (int, error) {
	flows, err := o.flows.ListBuildable(ctx, o.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list buildable flows: %w", err)
	}

	built := 0
	for i := range flows {
		flow := &flows[i]

		ok, err := o.BuildFlow(ctx, flow)
		if err != nil {
			if ctx.Err() != nil {
				return built, ctx.Err()
			}
			o.logger.Error("failed to build flow", "flow_code", flow.Code, "error", err)
			continue
		}
		if ok {
			built++
		}
	}

	return built, nil
}

// BuildFlow захватывает построение flow и создаёт цепочку задач.
//
// Завершённый или уже построенный flow — no-op. Flow с запросом
// отмены отменяется без построения. Ошибка построителя финальна:
// flow завершается как FAILED и повторно не строится.
// Возвращает false, если захват достался другому процессору.
func (o *Orchestrator) BuildFlow(ctx context.Context, flow *domain.Flow) (_ bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.build_flow",
		attribute.String("flow_code", flow.Code.String()),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if flow.IsCompleted() || flow.TasksCreated {
		return false, nil
	}

	logger := telemetry.WithFlowCode(o.logger, flow.Code.String())
	now := o.now()

	claimed, err := o.flows.ClaimBuild(ctx, flow.ID, o.processorID, now)
	if err != nil {
		return false, err
	}
	if !claimed {
		logger.Debug("flow build claimed elsewhere")
		return false, nil
	}

	// После захвата: приоритет скопирован, флаг отмены актуален
	current, err := o.flows.GetByID(ctx, flow.ID)
	if err != nil {
		return false, fmt.Errorf("reload flow: %w", err)
	}
	*flow = *current

	if flow.IsCancelRequested {
		if _, err := o.flows.Complete(ctx, flow.ID, domain.FlowStateCanceled, "canceled before build", now); err != nil {
			return false, err
		}
		o.metrics.FlowBuilt(buildOutcomeCanceled)
		o.metrics.FlowCompleted(string(domain.FlowStateCanceled))
		logger.Info("flow canceled before build")
		return true, nil
	}

	tasks, buildErr := o.buildTasks(ctx, flow)
	if buildErr != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		var infra *infraError
		if errors.As(buildErr, &infra) {
			return false, infra.err
		}
		if err := o.failBuild(ctx, flow, buildErr); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := o.tasks.CreateChain(ctx, flow.ID, o.processorID, tasks); err != nil {
		if errors.Is(err, repo.ErrClaimLost) {
			logger.Warn("flow build claim lost", "error", err)
			return false, nil
		}
		return false, fmt.Errorf("create tasks: %w", err)
	}

	o.metrics.FlowBuilt(buildOutcomeBuilt)
	logger.Info("flow built", "tasks", len(tasks), "priority", flow.PriorityLevel)

	// Все шаги отфильтрованы условиями — flow завершается сразу
	if len(tasks) == 0 && o.runner != nil {
		if _, _, err := o.runner.FinalizeFlow(ctx, flow.ID); err != nil {
			logger.Warn("failed to finalize empty flow", "error", err)
		}
	}

	return true, nil
}

// infraError отличает сбой хранилища от ошибки построения.
type infraError struct {
	err error
}

func (e *infraError) Error() string { return e.err.Error() }
func (e *infraError) Unwrap() error { return e.err }

// buildTasks вызывает построитель типа flow и переводит TaskSpec в задачи.
func (o *Orchestrator) buildTasks(ctx context.Context, flow *domain.Flow) ([]domain.Task, error) {
	flowType, err := o.types.GetFlowType(ctx, flow.TypeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrFlowTypeNotFound, flow.TypeID)
		}
		return nil, &infraError{err: err}
	}

	specs, err := o.builders.Build(flow, flowType)
	if err != nil {
		return nil, err
	}

	now := o.now()
	taskTypes := make(map[string]*domain.TaskType)
	tasks := make([]domain.Task, 0, len(specs))

	for i, spec := range specs {
		tt, ok := taskTypes[spec.TaskTypeName]
		if !ok {
			tt, err = o.types.GetTaskTypeByName(ctx, spec.TaskTypeName)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return nil, fmt.Errorf("step %d: %w: %q", i+1, ErrTaskTypeNotFound, spec.TaskTypeName)
				}
				return nil, &infraError{err: err}
			}
			taskTypes[spec.TaskTypeName] = tt
		}

		tasks = append(tasks, domain.Task{
			TaskTypeID:    tt.ID,
			State:         domain.TaskStatePending,
			MaxRetryCount: tt.MaxRetryCount,
			Param1:        spec.Param1,
			Param2:        spec.Param2,
			RequestedAt:   now,
			MinStartAt:    now.Add(spec.StartDelay),
		})
	}

	return tasks, nil
}

// failBuild завершает flow как FAILED с текстом ошибки построения.
func (o *Orchestrator) failBuild(ctx context.Context, flow *domain.Flow, buildErr error) error {
	if _, err := o.flows.Complete(ctx, flow.ID, domain.FlowStateFailed, buildErr.Error(), o.now()); err != nil {
		return err
	}
	o.metrics.FlowBuilt(buildOutcomeFailed)
	o.metrics.FlowCompleted(string(domain.FlowStateFailed))
	o.logger.Warn("flow build failed", "flow_code", flow.Code, "error", buildErr)
	return nil
}
