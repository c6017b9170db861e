// Package sinks contains ResultSink implementations that ship with the
// engine. Site deployments are expected to supply their own sink; these
// cover development, tests, and the common persistence targets.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/scrapekit/scrapekit/internal/engine"
)

// LogSink emits one structured log line per extracted record. Useful during
// development or when a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Accept logs the result with structured fields.
func (s *LogSink) Accept(_ context.Context, res engine.Result) error {
	s.logger.Info("record extracted",
		zap.String("job_id", res.JobID),
		zap.String("url", res.URL),
		zap.String("backend", string(res.Backend)),
		zap.Int("attempts", res.Attempts),
		zap.Int("status_code", res.StatusCode),
		zap.Int64("duration_ms", res.DurationMs),
		zap.String("blob_uri", res.BlobURI),
		zap.Any("record", res.Record),
	)
	return nil
}
