package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestObserversAreSafeBeforeInit(t *testing.T) {
	// Deliberately not parallel: other tests may call Init concurrently.
	ObserveJob("succeeded")
	ObserveFetch("example.com", 200, time.Millisecond, 10)
	ObserveRetry("example.com")
	ObserveRateLimitDelay("example.com", time.Millisecond)
	IncActiveWorkers()
	DecActiveWorkers()
	SetQueueDepth(3)
}

func TestInitIsIdempotentAndServesMetrics(t *testing.T) {
	Init()
	Init()

	ObserveJob("succeeded")
	ObserveFetch("example.com", 200, 50*time.Millisecond, 1024)
	ObserveRetry("example.com")
	SetQueueDepth(2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "scrapekit_jobs_total")
	require.Contains(t, body, "scrapekit_fetch_attempts_total")
	require.Contains(t, body, "scrapekit_queue_depth")
}

func TestStatusClass(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2xx", statusClass(200))
	require.Equal(t, "4xx", statusClass(429))
	require.Equal(t, "5xx", statusClass(503))
	require.Equal(t, "other", statusClass(0))
	require.Equal(t, "other", statusClass(700))
}
