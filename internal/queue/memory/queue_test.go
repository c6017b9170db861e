package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrapekit/scrapekit/internal/engine"
)

func job(id string, priority int) engine.Job {
	return engine.Job{ID: id, URL: "https://example.com/" + id, Priority: priority}
}

func TestQueue_PriorityOrder(t *testing.T) {
	t.Parallel()

	q := New(8)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, job("low", 0)))
	require.NoError(t, q.Enqueue(ctx, job("high", 10)))
	require.NoError(t, q.Enqueue(ctx, job("mid", 5)))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "high", first.ID)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "mid", second.ID)

	third, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "low", third.ID)
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	t.Parallel()

	q := New(8)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, job(id, 3)))
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got.ID)
	}
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	t.Parallel()

	q := New(8)
	got := make(chan engine.Job, 1)
	go func() {
		j, err := q.Dequeue(context.Background())
		if err == nil {
			got <- j
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), job("late", 0)))

	select {
	case j := <-got:
		require.Equal(t, "late", j.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue never returned")
	}
}

func TestQueue_DequeueHonorsContext(t *testing.T) {
	t.Parallel()

	q := New(8)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_EnqueueBlocksWhenFull(t *testing.T) {
	t.Parallel()

	q := New(1)
	require.NoError(t, q.Enqueue(context.Background(), job("first", 0)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, job("second", 0))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_DrainReturnsPendingAndCloses(t *testing.T) {
	t.Parallel()

	q := New(8)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, job("a", 0)))
	require.NoError(t, q.Enqueue(ctx, job("b", 1)))

	drained := q.Drain()
	require.Len(t, drained, 2)
	require.Equal(t, 0, q.Len())

	require.ErrorIs(t, q.Enqueue(ctx, job("c", 0)), ErrClosed)
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, ErrClosed)
}

func TestQueue_LenTracksContents(t *testing.T) {
	t.Parallel()

	q := New(8)
	ctx := context.Background()
	require.Equal(t, 0, q.Len())
	require.NoError(t, q.Enqueue(ctx, job("a", 0)))
	require.Equal(t, 1, q.Len())
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, q.Len())
}
