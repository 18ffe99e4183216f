package events

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOrder(t *testing.T) {
	q := NewQueue()
	q.Emit("chat-1", NewEvent("first", nil))
	q.Emit("chat-1", NewEvent("second", nil))
	q.Emit("chat-1", NewEvent("third", nil))

	ctx := context.Background()
	for _, want := range []string{"first", "second", "third"} {
		ev, ok := q.Next(ctx)
		require.True(t, ok)
		assert.Equal(t, want, ev.Name)
	}
}

func TestQueueBlocksUntilEmit(t *testing.T) {
	q := NewQueue()

	got := make(chan Event, 1)
	go func() {
		ev, ok := q.Next(context.Background())
		if ok {
			got <- ev
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Emit("chat-1", NewEvent("late", nil))

	select {
	case ev := <-got:
		assert.Equal(t, "late", ev.Name)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up on Emit")
	}
}

func TestQueueClose(t *testing.T) {
	t.Run("drains before reporting end", func(t *testing.T) {
		q := NewQueue()
		q.Emit("chat-1", NewEvent("queued", nil))
		q.Close()

		ev, ok := q.Next(context.Background())
		require.True(t, ok)
		assert.Equal(t, "queued", ev.Name)

		_, ok = q.Next(context.Background())
		assert.False(t, ok)
	})

	t.Run("emit after close discarded", func(t *testing.T) {
		q := NewQueue()
		q.Close()
		q.Emit("chat-1", NewEvent("dropped", nil))
		assert.Equal(t, 0, q.Len())
	})
}

func TestQueueContextCancel(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Next(ctx)
		done <- ok
	}()

	cancel()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Next did not return on context cancel")
	}
}

func TestRegistry(t *testing.T) {
	t.Run("routes to bound sink", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())
		q := NewQueue()
		r.Bind("chat-1", q)

		r.Emit("chat-1", NewEvent("hello", nil))
		ev, ok := q.Next(context.Background())
		require.True(t, ok)
		assert.Equal(t, "hello", ev.Name)
	})

	t.Run("unbound chat drops silently", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())
		r.Emit("chat-1", NewEvent("lost", nil))
	})

	t.Run("later bind wins", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())
		old, replacement := NewQueue(), NewQueue()
		r.Bind("chat-1", old)
		r.Bind("chat-1", replacement)

		r.Emit("chat-1", NewEvent("taken-over", nil))
		assert.Equal(t, 0, old.Len())
		assert.Equal(t, 1, replacement.Len())
	})

	t.Run("unbind only removes the current owner", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())
		old, replacement := NewQueue(), NewQueue()
		r.Bind("chat-1", old)
		r.Bind("chat-1", replacement)

		// A stale unbind from the replaced sink leaves the owner in place.
		r.Unbind("chat-1", old)
		r.Emit("chat-1", NewEvent("still-delivered", nil))
		assert.Equal(t, 1, replacement.Len())

		r.Unbind("chat-1", replacement)
		r.Emit("chat-1", NewEvent("now-dropped", nil))
		assert.Equal(t, 1, replacement.Len())
	})

	t.Run("bind returns displaced sink", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())
		first, second := NewQueue(), NewQueue()

		assert.Nil(t, r.Bind("chat-1", first))
		prev := r.Bind("chat-1", second)
		assert.Equal(t, Sink(first), prev)
	})

	t.Run("release restores the displaced sink", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())
		first, second := NewQueue(), NewQueue()
		r.Bind("chat-1", first)
		prev := r.Bind("chat-1", second)

		r.Release("chat-1", second, prev)
		r.Emit("chat-1", NewEvent("back-home", nil))
		assert.Equal(t, 1, first.Len())
		assert.Equal(t, 0, second.Len())
	})

	t.Run("release without a displaced sink unbinds", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())
		q := NewQueue()
		r.Bind("chat-1", q)

		r.Release("chat-1", q, nil)
		r.Emit("chat-1", NewEvent("dropped", nil))
		assert.Equal(t, 0, q.Len())
	})

	t.Run("stale release leaves the new owner in place", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())
		old, replacement := NewQueue(), NewQueue()
		r.Bind("chat-1", old)
		r.Bind("chat-1", replacement)

		r.Release("chat-1", old, nil)
		r.Emit("chat-1", NewEvent("still-delivered", nil))
		assert.Equal(t, 1, replacement.Len())
	})
}

func TestNewEventStampsTimestamp(t *testing.T) {
	ev := NewEvent("x", map[string]interface{}{"k": "v"})
	assert.Greater(t, ev.Timestamp, int64(0))
	assert.Equal(t, "x", ev.Name)
}
