package mq

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitTransport — Transport поверх RabbitMQ.
//
// Сообщения публикуются в обменник по умолчанию с ключом, равным имени очереди.
// Чтение — basic.get без автоподтверждения.
type RabbitTransport struct {
	conn   *Connection
	logger *slog.Logger
	queues QueueNames
}

// NewRabbitTransport объявляет топологию и возвращает транспорт.
// После переподключения топология объявляется заново.
func NewRabbitTransport(ctx context.Context, conn *Connection, queues QueueNames, logger *slog.Logger) (*RabbitTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := queues.Validate(); err != nil {
		return nil, err
	}
	if err := SetupTopology(ctx, conn, queues); err != nil {
		return nil, fmt.Errorf("setup topology: %w", err)
	}
	conn.OnReconnect(func(ch *amqp.Channel) error {
		return declareTopology(ch, queues)
	})

	logger.Debug("rabbitmq topology declared", "topology", TopologyInfo(queues))

	return &RabbitTransport{conn: conn, logger: logger, queues: queues}, nil
}

// Send публикует сообщение.
func (t *RabbitTransport) Send(ctx context.Context, queue string, msg *Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}

	err = t.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(
			ctx,
			"",    // exchange по умолчанию
			queue, // routing key = имя очереди
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Type:         string(msg.Type),
				Body:         body,
			},
		)
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}

	t.logger.Debug("message published",
		"queue", queue,
		"message_id", msg.ID,
		"type", msg.Type,
	)
	return nil
}

// ReadNext забирает одно сообщение.
func (t *RabbitTransport) ReadNext(ctx context.Context, queue string) (*Delivery, error) {
	var (
		raw amqp.Delivery
		ok  bool
	)
	err := t.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		var err error
		raw, ok, err = ch.Get(queue, false)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get from %s: %w", queue, err)
	}
	if !ok {
		return nil, nil
	}
	return newDelivery(queue, raw.Body, raw), nil
}

// Ack подтверждает доставку.
func (t *RabbitTransport) Ack(_ context.Context, d *Delivery) error {
	raw, ok := d.handle.(amqp.Delivery)
	if !ok {
		return fmt.Errorf("ack: delivery from another transport")
	}
	if err := raw.Ack(false); err != nil {
		return fmt.Errorf("ack %s: %w", d.Queue, err)
	}
	return nil
}

// Count возвращает число готовых сообщений в очереди.
func (t *RabbitTransport) Count(ctx context.Context, queue string) (int, error) {
	var n int
	err := t.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
		if err != nil {
			return err
		}
		n = q.Messages
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("inspect queue %s: %w", queue, err)
	}
	return n, nil
}

// Ping сообщает ErrNoChannel, пока соединение восстанавливается.
func (t *RabbitTransport) Ping(ctx context.Context) error {
	if !t.conn.IsConnected() {
		return ErrNoChannel
	}
	return t.conn.WithChannel(ctx, func(*amqp.Channel) error { return nil })
}

// Close закрывает соединение.
func (t *RabbitTransport) Close() error {
	return t.conn.Close()
}
