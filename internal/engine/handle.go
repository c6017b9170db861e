package engine

import (
	"context"
	"sync"
)

// Handle tracks a submitted job through to its terminal state. All methods
// are safe for concurrent use.
type Handle struct {
	id  string
	url string

	mu       sync.Mutex
	status   JobStatus
	attempts int
	err      error

	done chan struct{}
}

func newHandle(id, url string) *Handle {
	return &Handle{
		id:     id,
		url:    url,
		status: StatusQueued,
		done:   make(chan struct{}),
	}
}

// ID returns the job's unique identifier.
func (h *Handle) ID() string {
	return h.id
}

// URL returns the job's target locator.
func (h *Handle) URL() string {
	return h.url
}

// Done is closed once the job reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Status returns the job's current lifecycle state.
func (h *Handle) Status() JobStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Attempts returns the number of fetch attempts performed so far.
func (h *Handle) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

// Err returns the terminal diagnostic, or nil if the job succeeded or has
// not finished yet.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the job finishes or ctx ends, returning the terminal
// diagnostic (nil on success).
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return h.Err()
	}
}

func (h *Handle) setStatus(status JobStatus, attempts int) {
	h.mu.Lock()
	h.status = status
	h.attempts = attempts
	h.mu.Unlock()
}

// resolve transitions the handle to a terminal state exactly once. Later
// calls are ignored, which keeps shutdown races harmless.
func (h *Handle) resolve(status JobStatus, attempts int, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return false
	default:
	}
	h.status = status
	h.attempts = attempts
	h.err = err
	close(h.done)
	return true
}
