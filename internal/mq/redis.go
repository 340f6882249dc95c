package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisURL — адрес Redis для локальной разработки.
const DefaultRedisURL = "redis://localhost:6379/0"

// RedisTransport — Transport поверх списков Redis.
//
// Для очереди q используются ключи:
//
//	<prefix>q             — ожидающие сообщения (LPUSH / правый конец — старейшее)
//	<prefix>q:processing  — прочитанные, но не подтверждённые
type RedisTransport struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisClient разбирает URL и проверяет соединение.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		url = DefaultRedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisTransport создаёт транспорт. prefix по умолчанию "dynaflow:".
func NewRedisTransport(client *redis.Client, prefix string, logger *slog.Logger) *RedisTransport {
	if prefix == "" {
		prefix = "dynaflow:"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisTransport{client: client, prefix: prefix, logger: logger}
}

var _ Transport = (*RedisTransport)(nil)

func (t *RedisTransport) key(queue string) string {
	return t.prefix + queue
}

func (t *RedisTransport) processingKey(queue string) string {
	return t.prefix + queue + ":processing"
}

// Send кладёт сообщение в голову списка.
func (t *RedisTransport) Send(ctx context.Context, queue string, msg *Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := t.client.LPush(ctx, t.key(queue), body).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", queue, err)
	}
	t.logger.Debug("message published", "queue", queue, "message_id", msg.ID, "type", msg.Type)
	return nil
}

// ReadNext атомарно переносит старейшее сообщение в список обработки.
func (t *RedisTransport) ReadNext(ctx context.Context, queue string) (*Delivery, error) {
	body, err := t.client.LMove(ctx, t.key(queue), t.processingKey(queue), "RIGHT", "LEFT").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lmove %s: %w", queue, err)
	}
	return newDelivery(queue, []byte(body), body), nil
}

// Ack удаляет сообщение из списка обработки.
func (t *RedisTransport) Ack(ctx context.Context, d *Delivery) error {
	body, ok := d.handle.(string)
	if !ok {
		return fmt.Errorf("ack: delivery from another transport")
	}
	if err := t.client.LRem(ctx, t.processingKey(d.Queue), 1, body).Err(); err != nil {
		return fmt.Errorf("lrem %s: %w", d.Queue, err)
	}
	return nil
}

// Count возвращает длину списка ожидающих.
func (t *RedisTransport) Count(ctx context.Context, queue string) (int, error) {
	n, err := t.client.LLen(ctx, t.key(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", queue, err)
	}
	return int(n), nil
}

// Recover возвращает неподтверждённые сообщения в очередь.
// Вызывается при старте, когда чужих читателей нет.
func (t *RedisTransport) Recover(ctx context.Context, queue string) (int, error) {
	moved := 0
	for {
		_, err := t.client.LMove(ctx, t.processingKey(queue), t.key(queue), "LEFT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover %s: %w", queue, err)
		}
		moved++
	}
}

// Ping проверяет соединение с Redis.
func (t *RedisTransport) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close закрывает клиент.
func (t *RedisTransport) Close() error {
	return t.client.Close()
}
