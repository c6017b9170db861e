package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/scrapekit/scrapekit/internal/engine"
)

func sampleResult() engine.Result {
	return engine.Result{
		JobID:      "job-1",
		URL:        "https://shop.example.com/p/espresso",
		Backend:    engine.BackendStatic,
		Attempts:   2,
		StatusCode: 200,
		FetchedAt:  time.Unix(1700000000, 0).UTC(),
		DurationMs: 42,
		Record:     map[string]string{"title": "Espresso Machine"},
	}
}

func TestMemorySink_CollectsResults(t *testing.T) {
	t.Parallel()

	sink := NewMemorySink()
	require.NoError(t, sink.Accept(context.Background(), sampleResult()))
	require.NoError(t, sink.Accept(context.Background(), sampleResult()))

	require.Equal(t, 2, sink.Len())
	results := sink.Results()
	require.Len(t, results, 2)
	require.Equal(t, "job-1", results[0].JobID)
}

func TestMemorySink_RejectFn(t *testing.T) {
	t.Parallel()

	sink := NewMemorySink()
	sink.RejectFn = func(engine.Result) error {
		return errors.New("no room")
	}
	err := sink.Accept(context.Background(), sampleResult())
	require.Error(t, err)
	require.Equal(t, 0, sink.Len())
}

func TestLogSink_EmitsStructuredRecord(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Accept(context.Background(), sampleResult()))

	entries := logs.FilterMessage("record extracted").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "job-1", fields["job_id"])
	require.Equal(t, int64(200), fields["status_code"])
}

func TestLogSink_NilLoggerIsSafe(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(nil)
	require.NoError(t, sink.Accept(context.Background(), sampleResult()))
}
