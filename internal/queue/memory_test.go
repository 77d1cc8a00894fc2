package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "one", 0))
	require.NoError(t, q.Enqueue(ctx, "two", 0))
	require.Equal(t, 2, q.Len())

	msgs, err := q.Receive(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, 0, q.Len())

	for _, msg := range msgs {
		require.NoError(t, q.Delete(ctx, msg.ReceiptHandle))
	}
}

func TestMemoryQueueEmptyReturnsNil(t *testing.T) {
	q := NewMemoryQueue()

	msgs, err := q.Receive(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Nil(t, msgs)
}

func TestMemoryQueueHonorsDelay(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "delayed", 50*time.Millisecond))

	// Not visible yet.
	msgs, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Empty(t, msgs)

	// Waiting long enough makes it visible.
	msgs, err = q.Receive(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "delayed", msgs[0].Body)
}

func TestMemoryQueueRespectsMax(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, "msg", 0))
	}

	msgs, err := q.Receive(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, 3, q.Len())
}

func TestMemoryQueueDeleteUnknownHandle(t *testing.T) {
	q := NewMemoryQueue()

	err := q.Delete(context.Background(), "receipt-999")
	require.Error(t, err)
}

func TestMemoryQueueReceiveCanceledContext(t *testing.T) {
	q := NewMemoryQueue()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Receive(ctx, 10, 5)
	require.ErrorIs(t, err, context.Canceled)
}
