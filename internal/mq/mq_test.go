package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/dynaflow/internal/domain"
)

func TestTaskPayload_RoundTrip(t *testing.T) {
	task := &domain.Task{
		ID:            7,
		Code:          uuid.New(),
		FlowID:        3,
		TaskTypeID:    42,
		PredecessorID: 6,
		Sequence:      2,
		ProcessorID:   "host-abc",
		RetryCount:    1,
		MaxRetryCount: 2,
		Param1:        "https://example.com/hook",
		Param2:        `{"method":"POST"}`,
		MinStartAt:    time.Unix(1700000000, 0).UTC(),
	}

	body, err := Encode(NewMessage(MessageTypeTaskDispatch, NewTaskPayload(task)))
	require.NoError(t, err)

	msg, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeTaskDispatch, msg.Type)

	payload, err := ParsePayload[TaskPayload](msg)
	require.NoError(t, err)

	got := payload.Task()
	assert.Equal(t, task.Code, got.Code)
	assert.Equal(t, task.TaskTypeID, got.TaskTypeID)
	assert.Equal(t, task.Param1, got.Param1)
	assert.Equal(t, task.Param2, got.Param2)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, task.FlowID, got.FlowID)
	assert.True(t, task.MinStartAt.Equal(got.MinStartAt))
}

func TestDecode_Malformed(t *testing.T) {
	for _, body := range []string{"", "not json", `{"payload":{}}`} {
		_, err := Decode([]byte(body))
		assert.True(t, errors.Is(err, ErrMalformedMessage), "body %q", body)
	}
}

func TestQueueNames_Validate(t *testing.T) {
	require.NoError(t, DefaultQueueNames().Validate())

	q := DefaultQueueNames()
	q.Result = "  "
	err := q.Validate()
	require.ErrorIs(t, err, ErrQueueNameMissing)
	assert.Contains(t, err.Error(), "result")
}

func TestMemoryTransport_FIFOAndAck(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTransport()

	require.NoError(t, tr.Send(ctx, "q", NewMessage(MessageTypeTaskResult, map[string]int{"n": 1})))
	require.NoError(t, tr.Send(ctx, "q", NewMessage(MessageTypeTaskResult, map[string]int{"n": 2})))

	n, err := tr.Count(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	d, err := tr.ReadNext(ctx, "q")
	require.NoError(t, err)
	require.NotNil(t, d.Message)
	first, err := ParsePayload[map[string]int](d.Message)
	require.NoError(t, err)
	assert.Equal(t, 1, first["n"])
	assert.Equal(t, 1, tr.Unacked())

	require.NoError(t, tr.Ack(ctx, d))
	assert.Equal(t, 0, tr.Unacked())
	assert.Error(t, tr.Ack(ctx, d))

	_, err = tr.ReadNext(ctx, "q")
	require.NoError(t, err)
	empty, err := tr.ReadNext(ctx, "q")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestMemoryTransport_PingAfterClose(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTransport()

	require.NoError(t, tr.Ping(ctx))
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Ping(ctx), ErrTransportClosed)
}

func TestDeadLetter_KeepsOriginalBody(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTransport()
	require.NoError(t, tr.SendRaw("processor", []byte("garbage")))

	d, err := tr.ReadNext(ctx, "processor")
	require.NoError(t, err)
	assert.Nil(t, d.Message)
	assert.Error(t, d.DecodeErr)

	require.NoError(t, DeadLetter(ctx, tr, "dead", d, "unparseable"))
	assert.Equal(t, 0, tr.Unacked())

	dead, err := tr.ReadNext(ctx, "dead")
	require.NoError(t, err)
	require.NotNil(t, dead.Message)
	assert.Equal(t, MessageTypeDeadLetter, dead.Message.Type)

	payload, err := ParsePayload[DeadLetterPayload](dead.Message)
	require.NoError(t, err)
	assert.Equal(t, "processor", payload.SourceQueue)
	assert.Equal(t, "garbage", payload.Body)
	assert.Equal(t, "unparseable", payload.Reason)
}
