package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeDead — обменник, через который брокер отправляет отклонённые сообщения в dead-очередь.
const ExchangeDead = "dynaflow.dead"

// Имена очередей по умолчанию.
const (
	DefaultProcessorQueue = "dynaflow.processor"
	DefaultDeadQueue      = "dynaflow.dead"
	DefaultResultQueue    = "dynaflow.result"
)

// ErrQueueNameMissing — имя одной из очередей пустое.
var ErrQueueNameMissing = errors.New("queue name is missing")

// QueueNames — три очереди DynaFlow.
type QueueNames struct {
	// Processor — захваченные задачи для исполнителей.
	Processor string `yaml:"processor"`

	// Dead — сообщения, которые не удалось обработать.
	Dead string `yaml:"dead"`

	// Result — итоги выполнения задач для мастера.
	Result string `yaml:"result"`
}

// DefaultQueueNames возвращает имена очередей по умолчанию.
func DefaultQueueNames() QueueNames {
	return QueueNames{
		Processor: DefaultProcessorQueue,
		Dead:      DefaultDeadQueue,
		Result:    DefaultResultQueue,
	}
}

// Validate проверяет, что все имена заданы.
func (q QueueNames) Validate() error {
	var missing []string
	if strings.TrimSpace(q.Processor) == "" {
		missing = append(missing, "processor")
	}
	if strings.TrimSpace(q.Dead) == "" {
		missing = append(missing, "dead")
	}
	if strings.TrimSpace(q.Result) == "" {
		missing = append(missing, "result")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrQueueNameMissing, strings.Join(missing, ", "))
	}
	return nil
}

// SetupTopology объявляет обменник и очереди.
func SetupTopology(ctx context.Context, conn *Connection, queues QueueNames) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return declareTopology(ch, queues)
	})
}

func declareTopology(ch *amqp.Channel, queues QueueNames) error {
	err := ch.ExchangeDeclare(
		ExchangeDead, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", ExchangeDead, err)
	}

	// Отклонённые сообщения из processor и result уходят в dead
	deadArgs := amqp.Table{
		"x-dead-letter-exchange":    ExchangeDead,
		"x-dead-letter-routing-key": queues.Dead,
	}

	list := []struct {
		name string
		args amqp.Table
	}{
		{queues.Dead, nil},
		{queues.Processor, deadArgs},
		{queues.Result, deadArgs},
	}

	for _, q := range list {
		_, err := ch.QueueDeclare(
			q.name, // name
			true,   // durable
			false,  // delete when unused
			false,  // exclusive
			false,  // no-wait
			q.args, // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	if err := ch.QueueBind(queues.Dead, queues.Dead, ExchangeDead, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", queues.Dead, ExchangeDead, err)
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo(queues QueueNames) string {
	return fmt.Sprintf(`
  DynaFlow queues:
    %s   master -> processor (task.dispatch)
    %s   processor -> master (task.result)
    %s   dead letters via %s
`, queues.Processor, queues.Result, queues.Dead, ExchangeDead)
}
