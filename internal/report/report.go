// Package report contains ErrorReporter implementations.
package report

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/scrapekit/scrapekit/internal/engine"
)

// LogReporter writes one structured log line per terminal failure.
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter wires a zap logger to the reporter interface.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger}
}

// Report logs the failure with its classification.
func (r *LogReporter) Report(_ context.Context, failure engine.Failure) {
	r.logger.Warn("job failed",
		zap.String("job_id", failure.JobID),
		zap.String("url", failure.URL),
		zap.String("kind", string(failure.Kind)),
		zap.Int("attempts", failure.Attempts),
		zap.Error(failure.Err),
	)
}

// MemoryReporter records failures in memory for later inspection. Used by
// tests and one-shot runs that summarize failures at the end.
type MemoryReporter struct {
	mu       sync.Mutex
	failures []engine.Failure
}

// NewMemoryReporter returns an empty reporter.
func NewMemoryReporter() *MemoryReporter {
	return &MemoryReporter{}
}

// Report appends the failure.
func (r *MemoryReporter) Report(_ context.Context, failure engine.Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, failure)
}

// Failures returns a copy of everything reported so far.
func (r *MemoryReporter) Failures() []engine.Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]engine.Failure, len(r.failures))
	copy(out, r.failures)
	return out
}

// Len reports the number of recorded failures.
func (r *MemoryReporter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}
