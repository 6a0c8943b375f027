package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(wait time.Duration) (*MemoryQueue, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	q := NewMemoryQueue(Options{WaitTime: wait, VisibilityTimeout: 15 * time.Minute, PollInterval: 10 * time.Millisecond})
	q.now = clock.Now
	return q, clock
}

func TestMemoryQueueVisibility(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(0)
	require.NoError(t, q.Enqueue(ctx, []byte(`{"videoName":"clip"}`)))

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, first.ReceiveCount)
	assert.Equal(t, `{"videoName":"clip"}`, string(first.Body))

	t.Run("invisible while in flight", func(t *testing.T) {
		m, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("reappears after the window", func(t *testing.T) {
		clock.Advance(15 * time.Minute)
		second, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 2, second.ReceiveCount)
		assert.NotEqual(t, first.ReceiptHandle, second.ReceiptHandle)

		// 第一個 worker 的 receipt 已經失效
		assert.ErrorIs(t, q.Delete(ctx, first.ReceiptHandle), ErrReceiptExpired)
		assert.NoError(t, q.Delete(ctx, second.ReceiptHandle))
		assert.NoError(t, q.Delete(ctx, second.ReceiptHandle), "delete is idempotent")

		ready, inflight := q.Stats()
		assert.Zero(t, ready)
		assert.Zero(t, inflight)
	})
}

func TestMemoryQueueExtendVisibility(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(0)
	require.NoError(t, q.Enqueue(ctx, []byte("a")))

	m, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)

	clock.Advance(10 * time.Minute)
	require.NoError(t, q.ExtendVisibility(ctx, m.ReceiptHandle, 15*time.Minute))
	clock.Advance(10 * time.Minute)

	again, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, again, "lease extension keeps the message hidden")
	_, inflight := q.Stats()
	assert.Equal(t, 1, inflight)

	clock.Advance(10 * time.Minute)
	assert.ErrorIs(t, q.ExtendVisibility(ctx, m.ReceiptHandle, time.Minute), ErrReceiptExpired)
}

func TestMemoryQueueOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(0)
	for _, b := range []string{"1", "2", "3"} {
		require.NoError(t, q.Enqueue(ctx, []byte(b)))
	}
	for _, want := range []string{"1", "2", "3"} {
		m, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, want, string(m.Body))
	}
}

func TestMemoryQueueLongPoll(t *testing.T) {
	ctx := context.Background()

	t.Run("wakes up on enqueue", func(t *testing.T) {
		q, _ := newTestQueue(5 * time.Second)
		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = q.Enqueue(ctx, []byte("late"))
		}()
		start := time.Now()
		m, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Less(t, time.Since(start), 3*time.Second)
	})

	t.Run("empty after wait", func(t *testing.T) {
		q, _ := newTestQueue(50 * time.Millisecond)
		m, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("context cancel", func(t *testing.T) {
		q, _ := newTestQueue(5 * time.Second)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := q.Receive(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("closed", func(t *testing.T) {
		q, _ := newTestQueue(0)
		require.NoError(t, q.Close())
		_, err := q.Receive(ctx)
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, q.Enqueue(ctx, nil), ErrClosed)
	})
}
