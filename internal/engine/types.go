package engine

import (
	"context"
	"net/http"
	"time"
)

// BackendKind selects the fetch strategy for a job.
type BackendKind string

// Supported backend kinds.
const (
	BackendStatic   BackendKind = "static"
	BackendRendered BackendKind = "rendered"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Job status values. Queued is initial; Succeeded, Abandoned and Cancelled
// are terminal.
const (
	StatusQueued    JobStatus = "queued"
	StatusInFlight  JobStatus = "in_flight"
	StatusRetrying  JobStatus = "retrying"
	StatusSucceeded JobStatus = "succeeded"
	StatusAbandoned JobStatus = "abandoned"
	StatusCancelled JobStatus = "cancelled"
)

// ExtractFunc turns fetched content into a site-specific record. It must be
// pure with respect to the engine: no fetching, retrying, or shared state.
type ExtractFunc func(ctx context.Context, page Payload) (any, error)

// Job is one fetch-and-extract unit of work. It is owned exclusively by the
// engine from enqueue until terminal resolution; the Attempt counter is only
// mutated by the single worker currently processing the job.
type Job struct {
	ID        string
	URL       string
	Host      string
	Backend   BackendKind
	Extract   ExtractFunc
	Priority  int
	Attempt   int
	Submitted time.Time

	handle *Handle
}

// Handle returns the caller-facing handle tracking this job's outcome.
func (j Job) Handle() *Handle {
	return j.handle
}

// Request captures everything a backend needs to perform one fetch attempt.
type Request struct {
	JobID   string
	URL     string
	Attempt int
}

// Payload is the content produced by a successful fetch attempt. It is
// created per attempt and consumed immediately by the worker.
type Payload struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// Result is delivered to the ResultSink once per succeeded job.
type Result struct {
	JobID      string      `json:"job_id"`
	URL        string      `json:"url"`
	Backend    BackendKind `json:"backend"`
	Attempts   int         `json:"attempts"`
	StatusCode int         `json:"status_code"`
	FetchedAt  time.Time   `json:"fetched_at"`
	DurationMs int64       `json:"duration_ms"`
	BlobURI    string      `json:"blob_uri,omitempty"`
	Record     any         `json:"record"`
}

// Failure is delivered to the ErrorReporter once per abandoned or cancelled
// job, carrying the last diagnostic.
type Failure struct {
	JobID    string
	URL      string
	Kind     ErrorKind
	Attempts int
	Err      error
}

// Backend performs a single fetch attempt. Implementations must be safe for
// concurrent use by many workers.
type Backend interface {
	Fetch(ctx context.Context, req Request) (Payload, error)
}

// ResultSink receives extracted records. Accept may be called concurrently
// from multiple workers.
type ResultSink interface {
	Accept(ctx context.Context, res Result) error
}

// ErrorReporter receives terminal failures. Report may be called
// concurrently from multiple workers.
type ErrorReporter interface {
	Report(ctx context.Context, failure Failure)
}

// Queue provides concurrent-safe enqueue/dequeue for jobs plus a drain
// operation used during immediate shutdown.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
	Drain() []Job
	Len() int
}

// HostLimiter gates fetches per remote host. Acquire blocks the calling
// worker until the host has both a free concurrency slot and a rate token,
// then returns a release function that must run on every exit path.
type HostLimiter interface {
	Acquire(ctx context.Context, host string) (release func(), err error)
}

// BlobStore archives raw payloads and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
