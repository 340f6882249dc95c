package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shaiso/dynaflow/internal/domain"
	"github.com/shaiso/dynaflow/internal/mq"
	"github.com/shaiso/dynaflow/internal/repo"
	"github.com/shaiso/dynaflow/internal/telemetry"
)

// RunTask выполняет задачу, захваченную этим процессором.
//
// Задача перечитывается из БД: состояние, владелец и max_retry_count
// после захвата берутся оттуда. Задача чужого владельца пропускается. Завершённый flow — no-op. При запросе отмены
// задача отменяется без запуска executor'а. Иначе executor выбирается
// по lookup типа задачи, исход попытки определяет RetryPolicy.
//
// Возвращаемая ошибка — только инфраструктурная (БД, контекст).
// Ошибка обработчика сохраняется в задаче.
func (w *Worker) RunTask(ctx context.Context, task *domain.Task) (_ *domain.Task, err error) {
	ctx, span := telemetry.StartSpan(ctx, "worker.run_task",
		attribute.String("task_code", task.Code.String()),
		attribute.Int64("flow_id", task.FlowID),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	current, err := w.tasks.GetByID(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	task = current

	flow, err := w.flows.GetByID(ctx, task.FlowID)
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}

	taskType, err := w.types.GetTaskType(ctx, task.TaskTypeID)
	if err != nil {
		return nil, fmt.Errorf("get task type: %w", err)
	}

	logger := telemetry.WithTaskCode(
		telemetry.WithFlowCode(w.logger, flow.Code.String()),
		task.Code.String(), taskType.Name,
	)

	if task.IsCompleted() {
		logger.Debug("task already completed, skipped")
		return task, nil
	}
	if flow.IsCompleted() {
		logger.Debug("flow already completed, task skipped")
		return task, nil
	}

	// Выполняет только владелец захвата: чужую или незахваченную
	// задачу не трогаем.
	if task.State != domain.TaskStateRunning || task.ProcessorID != w.processorID {
		logger.Warn("task is not claimed by this processor, skipped",
			"state", task.State,
			"owner", task.ProcessorID,
		)
		return task, nil
	}

	now := w.now()

	started, err := w.flows.MarkStarted(ctx, flow.ID, now)
	if err != nil {
		return nil, err
	}
	if started {
		logger.Info("flow started")
	}

	if flow.IsCancelRequested || task.IsCancelRequested {
		task.MarkCanceled(now)
		if err := w.tasks.Save(ctx, task); err != nil {
			return nil, fmt.Errorf("cancel task: %w", err)
		}
		w.metrics.TaskExecuted(taskType.Name, string(task.State), 0)
		logger.Info("task canceled")
		return w.complete(ctx, logger, task), nil
	}

	env := Env{
		Flow:     flow,
		TaskType: taskType,
		Vars:     w.env,
	}

	logger.Info("task started", "attempt", task.RetryCount+1)

	begin := time.Now()
	result, procErr := w.execute(telemetry.WithLogger(ctx, logger), env, task)
	elapsed := time.Since(begin)

	// Остановка процессора: задача остаётся захваченной,
	// её вернёт ReclaimOrphans при следующем запуске.
	if procErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	now = w.now()
	if procErr == nil {
		task.MarkSucceeded(result, now)
	} else {
		task.MarkFailed(procErr.Error(), now)
	}
	decision := w.retry.Apply(task, now)

	if err := w.tasks.Save(ctx, task); err != nil {
		return nil, fmt.Errorf("save task result: %w", err)
	}
	w.metrics.TaskExecuted(taskType.Name, string(task.State), elapsed)

	switch decision {
	case domain.RetryDecisionRetry:
		logger.Warn("task failed, retry scheduled",
			"retry_count", task.RetryCount,
			"max_retry_count", task.MaxRetryCount,
			"min_start", task.MinStartAt,
			"error", procErr,
		)
	case domain.RetryDecisionTerminal:
		logger.Warn("task failed",
			"retry_count", task.RetryCount,
			"max_retry_count", task.MaxRetryCount,
			"error", procErr,
		)
	default:
		logger.Info("task succeeded", "duration", elapsed)
	}

	return w.complete(ctx, logger, task), nil
}

func (w *Worker) execute(ctx context.Context, env Env, task *domain.Task) (string, error) {
	executor, err := w.registry.Get(env.TaskType.Lookup)
	if err != nil {
		return "", err
	}
	return process(ctx, executor, env, task)
}

// complete финализирует flow завершённой задачи и в режиме очередей
// отправляет итог в очередь result.
func (w *Worker) complete(ctx context.Context, logger *slog.Logger, task *domain.Task) *domain.Task {
	if task.IsCompleted() {
		if _, _, err := w.FinalizeFlow(ctx, task.FlowID); err != nil {
			logger.Warn("failed to finalize flow", "error", err)
		}
	}

	if w.transport != nil {
		msg := mq.NewMessage(mq.MessageTypeTaskResult, mq.NewTaskResultPayload(task))
		if err := w.transport.Send(ctx, w.queues.Result, msg); err != nil {
			// Не возвращаем ошибку — задача сохранена в БД, результат подхватит финализация
			logger.Warn("failed to send task result", "queue", w.queues.Result, "error", err)
		}
	}

	return task
}

// FinalizeFlow переводит flow в финальное состояние, если все задачи завершены.
//
// При финальной ошибке одной из задач незапущенные задачи flow
// отменяются; flow становится FAILED, когда не остаётся выполняющихся.
// Возвращает финальное состояние и true, если flow завершён.
func (w *Worker) FinalizeFlow(ctx context.Context, flowID int64) (domain.FlowState, bool, error) {
	flow, err := w.flows.GetByID(ctx, flowID)
	if err != nil {
		return "", false, fmt.Errorf("get flow: %w", err)
	}
	if flow.IsCompleted() {
		return flow.State, true, nil
	}
	if !flow.TasksCreated {
		return "", false, nil
	}

	progress, err := w.progress(ctx, flowID)
	if err != nil {
		return "", false, err
	}

	if progress.FailedTerminal > 0 && progress.Pending > 0 {
		n, err := w.tasks.CancelPending(ctx, flowID, w.now())
		if err != nil {
			return "", false, err
		}
		w.logger.Info("pending tasks canceled after terminal failure",
			"flow_code", flow.Code,
			"canceled", n,
		)
		if progress, err = w.progress(ctx, flowID); err != nil {
			return "", false, err
		}
	}

	state, done := progress.Outcome()
	if !done {
		return "", false, nil
	}

	completed, err := w.flows.Complete(ctx, flowID, state, progress.String(), w.now())
	if err != nil {
		return "", false, err
	}
	if completed {
		w.metrics.FlowCompleted(string(state))
		w.logger.Info("flow completed",
			"flow_code", flow.Code,
			"state", state,
			"progress", progress.String(),
		)
	}
	return state, true, nil
}

func (w *Worker) progress(ctx context.Context, flowID int64) (domain.FlowProgress, error) {
	tasks, err := w.tasks.ListByFlow(ctx, flowID)
	if err != nil {
		return domain.FlowProgress{}, err
	}
	ptrs := make([]*domain.Task, len(tasks))
	for i := range tasks {
		ptrs[i] = &tasks[i]
	}
	return domain.Summarize(ptrs), nil
}

// DrainProcessorQueue читает очередь processor до опустошения и выполняет задачи.
//
// Неразбираемые сообщения и сообщения о несуществующих задачах
// отправляются в dead-очередь и подтверждаются. Возвращает число
// обработанных сообщений.
func (w *Worker) DrainProcessorQueue(ctx context.Context) (int, error) {
	if w.transport == nil {
		return 0, ErrNoTransport
	}

	handled := 0
	for {
		if err := ctx.Err(); err != nil {
			return handled, err
		}

		d, err := w.transport.ReadNext(ctx, w.queues.Processor)
		if err != nil {
			return handled, fmt.Errorf("read processor queue: %w", err)
		}
		if d == nil {
			return handled, nil
		}

		if err := w.handleDispatch(ctx, d); err != nil {
			return handled, err
		}
		handled++
	}
}

// handleDispatch обрабатывает одно сообщение task.dispatch.
func (w *Worker) handleDispatch(ctx context.Context, d *mq.Delivery) error {
	if d.Message == nil {
		return w.deadLetter(ctx, d, fmt.Sprintf("decode: %v", d.DecodeErr))
	}
	if d.Message.Type != mq.MessageTypeTaskDispatch {
		return w.deadLetter(ctx, d, fmt.Sprintf("unexpected message type %q", d.Message.Type))
	}

	payload, err := mq.ParsePayload[mq.TaskPayload](d.Message)
	if err != nil {
		return w.deadLetter(ctx, d, err.Error())
	}

	task, err := w.tasks.GetByCode(ctx, payload.Code)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return w.deadLetter(ctx, d, fmt.Sprintf("task %s not found", payload.Code))
		}
		// Сообщение остаётся неподтверждённым и вернётся в очередь
		return fmt.Errorf("load dispatched task: %w", err)
	}

	switch {
	case task.IsCompleted():
		w.logger.Debug("dispatched task already completed", "task_code", task.Code)
		return w.transport.Ack(ctx, d)

	case task.State.IsClaimable():
		// Захват сброшен (stalled requeue) — захватываем заново
		claimed, err := w.tasks.Claim(ctx, task.ID, w.processorID, w.now())
		if err != nil {
			return err
		}
		if !claimed {
			w.logger.Debug("dispatched task claimed elsewhere", "task_code", task.Code)
			return w.transport.Ack(ctx, d)
		}

	default:
		// Захват принимается только от того, кто раздал задачу.
		// Повторная доставка застаёт другого владельца и пропускается.
		taken, err := w.tasks.TakeOver(ctx, task.ID, payload.ProcessorID, w.processorID)
		if err != nil {
			return err
		}
		if !taken {
			w.logger.Warn("duplicate dispatch skipped",
				"task_code", task.Code,
				"dispatched_by", payload.ProcessorID,
				"owner", task.ProcessorID,
			)
			return w.transport.Ack(ctx, d)
		}
	}

	if _, err := w.RunTask(ctx, task); err != nil {
		if ctx.Err() != nil {
			return err
		}
		// Задача остаётся RUNNING; её вернёт requeue зависших задач
		w.logger.Error("failed to run dispatched task", "task_code", task.Code, "error", err)
	}
	return w.transport.Ack(ctx, d)
}

func (w *Worker) deadLetter(ctx context.Context, d *mq.Delivery, reason string) error {
	if err := mq.DeadLetter(ctx, w.transport, w.queues.Dead, d, reason); err != nil {
		return err
	}
	w.metrics.DeadLettered(d.Queue)
	w.logger.Warn("message dead-lettered", "queue", d.Queue, "reason", reason)
	return nil
}
