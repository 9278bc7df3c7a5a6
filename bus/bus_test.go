package bus

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/hivemind/config"
)

// eachBackend runs a subtest against both bus implementations so the
// semantics stay identical.
func eachBackend(t *testing.T, fn func(t *testing.T, b Bus)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		b := NewMemoryBus(config.BusConfig{HighWaterMark: 5, HistoryLimit: 100})
		defer b.Close()
		fn(t, b)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		b, err := NewRedisBus(context.Background(), config.BusConfig{
			Backend:       config.BackendDurable,
			RedisURL:      mr.Addr(),
			HighWaterMark: 5,
			HistoryLimit:  100,
		}, nil)
		require.NoError(t, err)
		defer b.Close()
		fn(t, b)
	})
}

func TestSendReceiveRoundTrip(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Bus) {
		ctx := context.Background()

		err := b.Send(ctx, "queen", "maths", "task", map[string]any{"op": "score", "value": 42.0}, 0)
		require.NoError(t, err)

		msgs, err := b.Receive(ctx, "maths", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)

		assert.Equal(t, "queen", msgs[0].Sender)
		assert.Equal(t, "maths", msgs[0].Recipient)
		assert.Equal(t, "task", msgs[0].Kind)
		assert.Equal(t, "score", msgs[0].Payload["op"])
		assert.Equal(t, 0, msgs[0].Priority)

		// Consumed exactly once: a second receive is empty.
		msgs, err = b.Receive(ctx, "maths", 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestPriorityLaneDrainsFirst(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Bus) {
		ctx := context.Background()

		require.NoError(t, b.Send(ctx, "queen", "w", "task", map[string]any{"n": 1.0}, 0))
		require.NoError(t, b.Send(ctx, "queen", "w", "task", map[string]any{"n": 2.0}, 0))
		require.NoError(t, b.Send(ctx, "queen", "w", "task", map[string]any{"n": 3.0}, 2))
		require.NoError(t, b.Send(ctx, "queen", "w", "task", map[string]any{"n": 4.0}, 1))

		msgs, err := b.Receive(ctx, "w", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 4)

		// All priority-lane messages precede all normal-lane messages,
		// FIFO within each lane.
		assert.Equal(t, 3.0, msgs[0].Payload["n"])
		assert.Equal(t, 4.0, msgs[1].Payload["n"])
		assert.Equal(t, 1.0, msgs[2].Payload["n"])
		assert.Equal(t, 2.0, msgs[3].Payload["n"])
	})
}

func TestReceiveRespectsMax(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Bus) {
		ctx := context.Background()
		for i := 0; i < 4; i++ {
			require.NoError(t, b.Send(ctx, "s", "w", "task", map[string]any{"i": float64(i)}, 0))
		}

		msgs, err := b.Receive(ctx, "w", 3)
		require.NoError(t, err)
		assert.Len(t, msgs, 3)
		assert.Equal(t, 0.0, msgs[0].Payload["i"])

		msgs, err = b.Receive(ctx, "w", 3)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
		assert.Equal(t, 3.0, msgs[0].Payload["i"])
	})
}

func TestQueueFull(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Bus) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			require.NoError(t, b.Send(ctx, "s", "w", "task", nil, 0))
		}
		err := b.Send(ctx, "s", "w", "task", nil, 0)
		assert.ErrorIs(t, err, ErrQueueFull)

		// Priority lane has its own high-water mark.
		assert.NoError(t, b.Send(ctx, "s", "w", "task", nil, 1))
	})
}

func TestQueueSize(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Bus) {
		ctx := context.Background()
		require.NoError(t, b.Send(ctx, "s", "w", "task", nil, 0))
		require.NoError(t, b.Send(ctx, "s", "w", "task", nil, 0))
		require.NoError(t, b.Send(ctx, "s", "w", "task", nil, 2))

		sizes, err := b.QueueSize(ctx, "w")
		require.NoError(t, err)
		assert.Equal(t, 2, sizes.Normal)
		assert.Equal(t, 1, sizes.Priority)
		assert.Equal(t, 3, sizes.Total)
	})
}

func TestHistory(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Bus) {
		ctx := context.Background()
		require.NoError(t, b.Send(ctx, "s", "a", "task", map[string]any{"seq": 1.0}, 0))
		require.NoError(t, b.Send(ctx, "s", "b", "task", map[string]any{"seq": 2.0}, 0))

		msgs, err := b.History(ctx, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		// Newest first.
		assert.Equal(t, "b", msgs[0].Recipient)
		assert.Equal(t, "a", msgs[1].Recipient)

		// History survives consumption.
		_, err = b.Receive(ctx, "a", 10)
		require.NoError(t, err)
		msgs, err = b.History(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	})
}

func TestMemoryBroadcast(t *testing.T) {
	b := NewMemoryBus(config.BusConfig{HighWaterMark: 10, HistoryLimit: 10})
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var got []Message
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Subscribe(BroadcastChannel, func(m Message) {
			mu.Lock()
			got = append(got, m)
			mu.Unlock()
		}))
	}

	n, err := b.Broadcast(ctx, "queen", "announce", map[string]any{"msg": "hello"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, "announce", got[0].Kind)
	assert.Equal(t, "*", got[0].Recipient)
}

func TestMemoryHealthDegradedFallback(t *testing.T) {
	ctx := context.Background()
	// Point the durable backend at a closed port; New must fall back.
	b, err := New(ctx, config.BusConfig{
		Backend:       config.BackendDurable,
		RedisURL:      "127.0.0.1:1",
		HighWaterMark: 10,
		HistoryLimit:  10,
	}, nil)
	require.NoError(t, err)
	defer b.Close()

	h := b.Health(ctx)
	assert.True(t, h.Healthy)
	assert.True(t, h.Degraded)
	assert.Equal(t, config.BackendMemory, h.Backend)
}

func TestHistoryTrimmed(t *testing.T) {
	b := NewMemoryBus(config.BusConfig{HighWaterMark: 100, HistoryLimit: 5})
	defer b.Close()
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.NoError(t, b.Send(ctx, "s", "w", "task", map[string]any{"i": float64(i)}, 0))
	}
	msgs, err := b.History(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, msgs, 5)
	assert.Equal(t, 7.0, msgs[0].Payload["i"])
}

func TestClosedBus(t *testing.T) {
	b := NewMemoryBus(config.BusConfig{HighWaterMark: 10, HistoryLimit: 10})
	require.NoError(t, b.Close())

	err := b.Send(context.Background(), "s", "w", "task", nil, 0)
	assert.ErrorIs(t, err, ErrClosed)
}
