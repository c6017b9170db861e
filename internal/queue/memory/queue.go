// Package memory provides the in-process job queue used by the engine.
package memory

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/scrapekit/scrapekit/internal/engine"
)

// ErrClosed is returned once the queue has been drained for shutdown.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded multi-producer/multi-consumer priority queue. Higher
// priority jobs dequeue first; jobs with equal priority dequeue in FIFO
// order. Capacity is enforced with a token channel so Enqueue and Dequeue
// block (context-aware) instead of spinning.
type Queue struct {
	mu       sync.Mutex
	items    jobHeap
	tokens   chan struct{}
	shutdown chan struct{}
	seq      uint64
	closed   bool
}

// New constructs a queue with the provided capacity (default 64).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{
		tokens:   make(chan struct{}, capacity),
		shutdown: make(chan struct{}),
	}
}

// Enqueue pushes a job, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, job engine.Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.shutdown:
		return ErrClosed
	case q.tokens <- struct{}{}:
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		// Drained between the token grab and here; hand the token back.
		<-q.tokens
		return ErrClosed
	}
	q.seq++
	heap.Push(&q.items, queued{job: job, seq: q.seq})
	return nil
}

// Dequeue pops the highest-priority job, blocking while the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (engine.Job, error) {
	select {
	case <-ctx.Done():
		return engine.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.shutdown:
		return engine.Job{}, ErrClosed
	case <-q.tokens:
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		// A concurrent Drain emptied the heap after our token arrived.
		return engine.Job{}, ErrClosed
	}
	item := heap.Pop(&q.items).(queued)
	return item.job, nil
}

// Drain closes the queue and returns every job still waiting in it. Each
// returned job was never handed to a worker.
func (q *Queue) Drain() []engine.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.shutdown)
	}
	drained := make([]engine.Job, 0, q.items.Len())
	for q.items.Len() > 0 {
		item := heap.Pop(&q.items).(queued)
		drained = append(drained, item.job)
		select {
		case <-q.tokens:
		default:
		}
	}
	return drained
}

// Len reports the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

type queued struct {
	job engine.Job
	seq uint64
}

type jobHeap []queued

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) {
	*h = append(*h, x.(queued))
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
