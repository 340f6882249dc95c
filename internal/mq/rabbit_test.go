package mq

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/dynaflow/internal/testutil"
)

func TestConnection_ReopensChannelAfterChannelError(t *testing.T) {
	ctx := context.Background()
	conn, err := NewConnection(testutil.RabbitURL(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	queues := QueueNames{
		Processor: "test.processor." + uuid.NewString(),
		Dead:      "test.dead." + uuid.NewString(),
		Result:    "test.result." + uuid.NewString(),
	}
	transport, err := NewRabbitTransport(ctx, conn, queues, nil)
	require.NoError(t, err)

	// пассивное объявление несуществующей очереди закрывает канал брокером
	err = conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclarePassive("test.missing."+uuid.NewString(), true, false, false, false, nil)
		return err
	})
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return transport.Ping(ctx) == nil
	}, 10*time.Second, 100*time.Millisecond, "channel must be reopened")
	assert.True(t, conn.IsConnected())

	require.NoError(t, transport.Send(ctx, queues.Processor, NewMessage(MessageTypeTaskResult, nil)))
	require.Eventually(t, func() bool {
		n, err := transport.Count(ctx, queues.Processor)
		return err == nil && n == 1
	}, 5*time.Second, 100*time.Millisecond)

	d, err := transport.ReadNext(ctx, queues.Processor)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NoError(t, transport.Ack(ctx, d))
}
