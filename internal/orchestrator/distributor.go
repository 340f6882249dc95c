package orchestrator

import (
	"context"
	"fmt"

	"github.com/shaiso/dynaflow/internal/domain"
	"github.com/shaiso/dynaflow/internal/mq"
)

// Режимы раздачи для метрик.
const (
	dispatchModeQueue  = "queue"
	dispatchModeDirect = "direct"
)

// Distribute захватывает готовые задачи и раздаёт их.
//
// В режиме очередей захваченная задача отправляется сообщением
// task.dispatch в очередь processor; если отправка не удалась,
// захват снимается. В прямом режиме задача сразу выполняется
// Worker'ом в этом процессе. Проигранный захват пропускается.
// Возвращает число розданных задач.
func (o *Orchestrator) Distribute(ctx context.Context) (int, error) {
	if o.transport == nil && o.runner == nil {
		return 0, ErrNoRunner
	}

	now := o.now()
	tasks, err := o.tasks.ListRunnable(ctx, now, o.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list runnable tasks: %w", err)
	}

	dispatched := 0
	for i := range tasks {
		task := &tasks[i]

		claimed, err := o.tasks.Claim(ctx, task.ID, o.processorID, now)
		if err != nil {
			if ctx.Err() != nil {
				return dispatched, ctx.Err()
			}
			o.logger.Error("failed to claim task", "task_code", task.Code, "error", err)
			continue
		}
		if !claimed {
			o.logger.Debug("task claimed elsewhere", "task_code", task.Code)
			continue
		}

		if o.transport != nil {
			err = o.dispatch(ctx, task)
		} else {
			o.metrics.TaskDispatched(dispatchModeDirect)
			_, err = o.runner.RunTask(ctx, task)
		}
		if err != nil {
			if ctx.Err() != nil {
				return dispatched, ctx.Err()
			}
			o.logger.Error("failed to distribute task", "task_code", task.Code, "error", err)
			continue
		}
		dispatched++
	}

	return dispatched, nil
}

// dispatch отправляет захваченную задачу в очередь processor.
func (o *Orchestrator) dispatch(ctx context.Context, task *domain.Task) error {
	// max_retry_count скопирован из типа при захвате
	claimed, err := o.tasks.GetByID(ctx, task.ID)
	if err != nil {
		o.release(ctx, task)
		return fmt.Errorf("reload claimed task: %w", err)
	}

	msg := mq.NewMessage(mq.MessageTypeTaskDispatch, mq.NewTaskPayload(claimed))
	if err := o.transport.Send(ctx, o.queues.Processor, msg); err != nil {
		o.release(ctx, task)
		return fmt.Errorf("send task to %s: %w", o.queues.Processor, err)
	}

	o.metrics.TaskDispatched(dispatchModeQueue)
	o.logger.Debug("task dispatched", "task_code", task.Code, "queue", o.queues.Processor)
	return nil
}

// release снимает захват задачи, которую не удалось отправить.
func (o *Orchestrator) release(ctx context.Context, task *domain.Task) {
	released, err := o.tasks.ReleaseClaim(ctx, task.ID, o.processorID)
	if err != nil {
		o.logger.Warn("failed to release task claim", "task_code", task.Code, "error", err)
		return
	}
	if released {
		o.logger.Info("task claim released", "task_code", task.Code)
	}
}
