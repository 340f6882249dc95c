package orchestrator

import (
	"context"
	"fmt"

	"github.com/shaiso/dynaflow/internal/mq"
)

// DrainResults читает очередь result до опустошения и финализирует flow.
//
// Неразбираемые сообщения отправляются в dead-очередь. Ошибка
// финализации не блокирует очередь: сообщение подтверждается,
// flow будет финализирован следующим итогом или Worker'ом.
// Возвращает число обработанных сообщений.
func (o *Orchestrator) DrainResults(ctx context.Context) (int, error) {
	if o.transport == nil {
		return 0, ErrNoTransport
	}
	if o.runner == nil {
		return 0, ErrNoRunner
	}

	handled := 0
	for {
		if err := ctx.Err(); err != nil {
			return handled, err
		}

		d, err := o.transport.ReadNext(ctx, o.queues.Result)
		if err != nil {
			return handled, fmt.Errorf("read result queue: %w", err)
		}
		if d == nil {
			return handled, nil
		}

		if err := o.handleResult(ctx, d); err != nil {
			return handled, err
		}
		handled++
	}
}

// PendingResults возвращает число итогов, ожидающих разбора.
func (o *Orchestrator) PendingResults(ctx context.Context) (int, error) {
	if o.transport == nil {
		return 0, nil
	}
	return o.transport.Count(ctx, o.queues.Result)
}

func (o *Orchestrator) handleResult(ctx context.Context, d *mq.Delivery) error {
	if d.Message == nil {
		return o.deadLetter(ctx, d, fmt.Sprintf("decode: %v", d.DecodeErr))
	}
	if d.Message.Type != mq.MessageTypeTaskResult {
		return o.deadLetter(ctx, d, fmt.Sprintf("unexpected message type %q", d.Message.Type))
	}

	payload, err := mq.ParsePayload[mq.TaskResultPayload](d.Message)
	if err != nil {
		return o.deadLetter(ctx, d, err.Error())
	}

	o.logger.Debug("task result received",
		"task_code", payload.Code,
		"state", payload.State,
		"processor", payload.ProcessorID,
	)

	if payload.State.IsTerminal() {
		if _, _, err := o.runner.FinalizeFlow(ctx, payload.FlowID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Error("failed to finalize flow", "flow_id", payload.FlowID, "error", err)
		}
	}

	return o.transport.Ack(ctx, d)
}

func (o *Orchestrator) deadLetter(ctx context.Context, d *mq.Delivery, reason string) error {
	if err := mq.DeadLetter(ctx, o.transport, o.queues.Dead, d, reason); err != nil {
		return err
	}
	o.metrics.DeadLettered(d.Queue)
	o.logger.Warn("message dead-lettered", "queue", d.Queue, "reason", reason)
	return nil
}
