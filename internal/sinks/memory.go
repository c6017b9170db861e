package sinks

import (
	"context"
	"sync"

	"github.com/scrapekit/scrapekit/internal/engine"
)

// MemorySink buffers results in memory. Used by tests and small one-shot
// scrapes where the caller collects everything at the end.
type MemorySink struct {
	mu      sync.Mutex
	results []engine.Result

	// RejectFn, when set, is consulted per result; a non-nil return rejects
	// the record. Lets tests exercise the sink-rejection path.
	RejectFn func(engine.Result) error
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Accept appends the result unless RejectFn vetoes it.
func (s *MemorySink) Accept(_ context.Context, res engine.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RejectFn != nil {
		if err := s.RejectFn(res); err != nil {
			return err
		}
	}
	s.results = append(s.results, res)
	return nil
}

// Results returns a copy of everything accepted so far.
func (s *MemorySink) Results() []engine.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.Result, len(s.results))
	copy(out, s.results)
	return out
}

// Len reports the number of accepted results.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}
