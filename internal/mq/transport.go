package mq

import (
	"context"
	"fmt"
)

// Transport — очередь сообщений с чтением по одному и явным подтверждением.
type Transport interface {
	// Send кладёт сообщение в очередь.
	Send(ctx context.Context, queue string, msg *Message) error

	// ReadNext забирает следующее сообщение. nil, nil — очередь пуста.
	// Сообщение остаётся неподтверждённым до Ack.
	ReadNext(ctx context.Context, queue string) (*Delivery, error)

	// Ack подтверждает обработку.
	Ack(ctx context.Context, d *Delivery) error

	// Count возвращает число сообщений, ожидающих чтения.
	Count(ctx context.Context, queue string) (int, error)

	// Ping проверяет, что брокер доступен.
	Ping(ctx context.Context) error

	// Close освобождает ресурсы.
	Close() error
}

// Delivery — прочитанное сообщение.
type Delivery struct {
	// Queue — очередь, из которой прочитано сообщение.
	Queue string

	// Message — разобранный конверт; nil, если тело не разбирается.
	Message *Message

	// Body — исходное тело.
	Body []byte

	// DecodeErr — ошибка разбора тела.
	DecodeErr error

	// handle — данные реализации для Ack.
	handle any
}

func newDelivery(queue string, body []byte, handle any) *Delivery {
	d := &Delivery{Queue: queue, Body: body, handle: handle}
	d.Message, d.DecodeErr = Decode(body)
	return d
}

// DeadLetter отправляет исходное тело в dead-очередь и подтверждает доставку.
func DeadLetter(ctx context.Context, t Transport, deadQueue string, d *Delivery, reason string) error {
	msg := NewMessage(MessageTypeDeadLetter, DeadLetterPayload{
		SourceQueue: d.Queue,
		Reason:      reason,
		Body:        string(d.Body),
	})
	if err := t.Send(ctx, deadQueue, msg); err != nil {
		return fmt.Errorf("send dead letter: %w", err)
	}
	return t.Ack(ctx, d)
}
