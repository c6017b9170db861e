package report

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/scrapekit/scrapekit/internal/engine"
)

func sampleFailure() engine.Failure {
	return engine.Failure{
		JobID:    "job-1",
		URL:      "https://shop.example.com/missing",
		Kind:     engine.KindPermanent,
		Attempts: 1,
		Err:      errors.New("unexpected status 404"),
	}
}

func TestMemoryReporter_RecordsFailures(t *testing.T) {
	t.Parallel()

	r := NewMemoryReporter()
	r.Report(context.Background(), sampleFailure())
	r.Report(context.Background(), sampleFailure())

	require.Equal(t, 2, r.Len())
	failures := r.Failures()
	require.Len(t, failures, 2)
	require.Equal(t, engine.KindPermanent, failures[0].Kind)
}

func TestLogReporter_EmitsStructuredWarning(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	r := NewLogReporter(zap.New(core))

	r.Report(context.Background(), sampleFailure())

	entries := logs.FilterMessage("job failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "job-1", fields["job_id"])
	require.Equal(t, "permanent", fields["kind"])
}

func TestLogReporter_NilLoggerIsSafe(t *testing.T) {
	t.Parallel()

	r := NewLogReporter(nil)
	r.Report(context.Background(), sampleFailure())
}
