package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/scrapekit/scrapekit/internal/clock/system"
	"github.com/scrapekit/scrapekit/internal/id/uuid"
	"github.com/scrapekit/scrapekit/internal/metrics"
)

// Submission errors.
var (
	ErrShuttingDown   = errors.New("engine is shutting down")
	ErrNotStarted     = errors.New("engine is not started")
	ErrNilExtractor   = errors.New("extraction function is required")
	ErrUnknownBackend = errors.New("no backend registered for kind")
)

// Config controls engine behavior.
type Config struct {
	// Workers is the fixed number of concurrent workers (default 4).
	Workers int
	// FetchTimeout bounds every single fetch attempt (default 15s).
	FetchTimeout time.Duration
	// BlobPrefix prefixes archived payload object names.
	BlobPrefix string
	// ContentType is used when archiving raw payloads.
	ContentType string
}

// Deps carries the engine's collaborators. Queue, Limiter, Sink, Reporter
// and at least one Backend are required; the rest default sensibly.
type Deps struct {
	Queue    Queue
	Limiter  HostLimiter
	Backends map[BackendKind]Backend
	Policy   *RetryPolicy
	Sink     ResultSink
	Reporter ErrorReporter
	Blobs    BlobStore
	Clock    Clock
	IDs      IDGenerator
	Logger   *zap.Logger
}

// Engine schedules jobs across a bounded worker pool. Each worker
// dequeues a job, acquires the per-host rate limit permit, fetches via the
// job's backend, and either retries with backoff, reports a failure, or
// runs the extraction function and forwards the record to the sink.
type Engine struct {
	cfg      Config
	queue    Queue
	limiter  HostLimiter
	backends map[BackendKind]Backend
	policy   *RetryPolicy
	sink     ResultSink
	reporter ErrorReporter
	blobs    BlobStore
	clock    Clock
	ids      IDGenerator
	logger   *zap.Logger

	runCtx    context.Context
	cancelRun context.CancelFunc
	workers   sync.WaitGroup
	jobs      sync.WaitGroup

	started   atomic.Bool
	accepting atomic.Bool

	submitted atomic.Int64
	succeeded atomic.Int64
	abandoned atomic.Int64
	cancelled atomic.Int64
	retries   atomic.Int64
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	Submitted  int64 `json:"submitted"`
	Succeeded  int64 `json:"succeeded"`
	Abandoned  int64 `json:"abandoned"`
	Cancelled  int64 `json:"cancelled"`
	Retries    int64 `json:"retries"`
	QueueDepth int   `json:"queue_depth"`
}

// New validates deps and constructs an Engine. Call Start before Submit.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if deps.Limiter == nil {
		return nil, fmt.Errorf("host limiter is required")
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("result sink is required")
	}
	if deps.Reporter == nil {
		return nil, fmt.Errorf("error reporter is required")
	}
	if len(deps.Backends) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if deps.Policy == nil {
		deps.Policy = NewRetryPolicy(0, 0, 0)
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.NewGenerator()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	metrics.Init()
	return &Engine{
		cfg:      cfg,
		queue:    deps.Queue,
		limiter:  deps.Limiter,
		backends: deps.Backends,
		policy:   deps.Policy,
		sink:     deps.Sink,
		reporter: deps.Reporter,
		blobs:    deps.Blobs,
		clock:    deps.Clock,
		ids:      deps.IDs,
		logger:   deps.Logger,
	}, nil
}

// Start launches the worker pool. The pool runs until Shutdown or until ctx
// is cancelled.
func (e *Engine) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	e.runCtx, e.cancelRun = context.WithCancel(ctx)
	e.accepting.Store(true)
	for i := 0; i < e.cfg.Workers; i++ {
		e.workers.Add(1)
		go func(id int) {
			defer e.workers.Done()
			e.runWorker(e.runCtx, id)
		}(i)
	}
	e.logger.Info("engine started", zap.Int("workers", e.cfg.Workers))
}

// Submit enqueues one fetch-and-extract job and returns its handle.
// The locator must be an absolute http(s) URL.
func (e *Engine) Submit(ctx context.Context, rawURL string, kind BackendKind, extract ExtractFunc, priority int) (*Handle, error) {
	if !e.accepting.Load() {
		if !e.started.Load() {
			return nil, ErrNotStarted
		}
		return nil, ErrShuttingDown
	}
	if extract == nil {
		return nil, ErrNilExtractor
	}
	if _, ok := e.backends[kind]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
	}
	canonical, host, err := parseLocator(rawURL)
	if err != nil {
		return nil, err
	}
	id, err := e.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}

	handle := newHandle(id, canonical)
	job := Job{
		ID:        id,
		URL:       canonical,
		Host:      host,
		Backend:   kind,
		Extract:   extract,
		Priority:  priority,
		Submitted: e.clock.Now(),
		handle:    handle,
	}
	e.jobs.Add(1)
	if err := e.queue.Enqueue(ctx, job); err != nil {
		e.jobs.Done()
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	e.submitted.Add(1)
	metrics.SetQueueDepth(e.queue.Len())
	e.logger.Debug("job submitted",
		zap.String("job_id", id),
		zap.String("url", canonical),
		zap.String("backend", string(kind)),
	)
	return handle, nil
}

// Shutdown stops accepting new jobs. With drain=true it waits for every
// outstanding job (including retries parked on a timer) to reach a terminal
// state; with drain=false it cancels in-flight fetches and reports queued
// jobs as cancelled. ctx bounds the wait.
func (e *Engine) Shutdown(ctx context.Context, drain bool) error {
	if !e.started.Load() {
		return ErrNotStarted
	}
	e.accepting.Store(false)

	if drain {
		if err := e.waitJobs(ctx); err != nil {
			return err
		}
		e.cancelRun()
		e.workers.Wait()
		return nil
	}

	e.cancelRun()
	for _, job := range e.queue.Drain() {
		e.finish(job, StatusCancelled, NewCancelled(errors.New("engine shut down before job was attempted")))
	}
	if err := e.waitJobs(ctx); err != nil {
		return err
	}
	e.workers.Wait()
	return nil
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Submitted:  e.submitted.Load(),
		Succeeded:  e.succeeded.Load(),
		Abandoned:  e.abandoned.Load(),
		Cancelled:  e.cancelled.Load(),
		Retries:    e.retries.Load(),
		QueueDepth: e.queue.Len(),
	}
}

func (e *Engine) waitJobs(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.jobs.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (e *Engine) runWorker(ctx context.Context, id int) {
	logger := e.logger.With(zap.Int("worker", id))
	for {
		job, err := e.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		metrics.SetQueueDepth(e.queue.Len())
		e.process(ctx, job, logger)
	}
}

// process runs one attempt. The worker owns the job (and its attempt
// counter) exclusively from dequeue until it re-enqueues or finishes it.
func (e *Engine) process(ctx context.Context, job Job, logger *zap.Logger) {
	job.Attempt++
	job.handle.setStatus(StatusInFlight, job.Attempt)
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	release, err := e.limiter.Acquire(ctx, job.Host)
	if err != nil {
		e.finish(job, StatusCancelled, NewCancelled(err))
		return
	}

	backend := e.backends[job.Backend]
	fetchCtx, cancelFetch := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	page, fetchErr := backend.Fetch(fetchCtx, Request{JobID: job.ID, URL: job.URL, Attempt: job.Attempt})
	cancelFetch()
	release()

	if fetchErr != nil {
		if ctx.Err() != nil {
			e.finish(job, StatusCancelled, NewCancelled(fetchErr))
			return
		}
		e.handleFailure(ctx, job, fetchErr, logger)
		return
	}

	metrics.ObserveFetch(job.Host, page.StatusCode, page.Duration, len(page.Body))
	e.deliver(ctx, job, page, logger)
}

func (e *Engine) handleFailure(ctx context.Context, job Job, fetchErr error, logger *zap.Logger) {
	decision := e.policy.Decide(job.Attempt, fetchErr)
	if !decision.Retry {
		status := StatusAbandoned
		if KindOf(fetchErr) == KindCancelled {
			status = StatusCancelled
		}
		logger.Warn("job abandoned",
			zap.String("job_id", job.ID),
			zap.String("url", job.URL),
			zap.Int("attempt", job.Attempt),
			zap.String("reason", decision.Reason),
			zap.Error(fetchErr),
		)
		e.finish(job, status, fetchErr)
		return
	}

	job.handle.setStatus(StatusRetrying, job.Attempt)
	e.retries.Add(1)
	metrics.ObserveRetry(job.Host)
	logger.Debug("job retry scheduled",
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
		zap.Duration("after", decision.After),
		zap.Error(fetchErr),
	)

	// Park the retry on a timer so the worker is free for other jobs.
	go func() {
		timer := time.NewTimer(decision.After)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			e.finish(job, StatusCancelled, NewCancelled(fetchErr))
		case <-timer.C:
			job.handle.setStatus(StatusQueued, job.Attempt)
			if err := e.queue.Enqueue(ctx, job); err != nil {
				e.finish(job, StatusCancelled, NewCancelled(err))
			}
		}
	}()
}

func (e *Engine) deliver(ctx context.Context, job Job, page Payload, logger *zap.Logger) {
	// Terminal bookkeeping must outlive pool cancellation: a fetch that
	// completed during shutdown still gets its natural outcome.
	resCtx := context.WithoutCancel(ctx)

	blobURI := ""
	if e.blobs != nil {
		path := blobPath(e.cfg.BlobPrefix, job.ID, page.Body)
		uri, err := e.blobs.PutObject(resCtx, path, e.cfg.ContentType, page.Body)
		if err != nil {
			logger.Warn("archive payload failed", zap.String("job_id", job.ID), zap.Error(err))
		} else {
			blobURI = uri
		}
	}

	record, err := e.runExtract(resCtx, job, page)
	if err != nil {
		logger.Warn("extraction failed",
			zap.String("job_id", job.ID),
			zap.String("url", job.URL),
			zap.Error(err),
		)
		e.finish(job, StatusAbandoned, err)
		return
	}

	result := Result{
		JobID:      job.ID,
		URL:        page.FinalURL,
		Backend:    job.Backend,
		Attempts:   job.Attempt,
		StatusCode: page.StatusCode,
		FetchedAt:  e.clock.Now(),
		DurationMs: page.Duration.Milliseconds(),
		BlobURI:    blobURI,
		Record:     record,
	}
	if result.URL == "" {
		result.URL = job.URL
	}
	if err := e.sink.Accept(resCtx, result); err != nil {
		e.finish(job, StatusAbandoned, NewPermanent(0, fmt.Errorf("sink rejected record: %w", err)))
		return
	}

	e.finish(job, StatusSucceeded, nil)
	logger.Debug("job succeeded",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
		zap.Int("attempts", job.Attempt),
	)
}

// runExtract shields the pool from misbehaving extraction plugins: errors
// and panics become ExtractionError for this job only.
func (e *Engine) runExtract(ctx context.Context, job Job, page Payload) (record any, err error) {
	defer func() {
		if r := recover(); r != nil {
			record = nil
			err = NewExtraction(fmt.Errorf("extractor panic: %v", r))
		}
	}()
	record, err = job.Extract(ctx, page)
	if err != nil {
		var classified *Error
		if errors.As(err, &classified) && classified.Kind == KindExtraction {
			return nil, err
		}
		return nil, NewExtraction(err)
	}
	return record, nil
}

// finish resolves a job exactly once and performs terminal bookkeeping.
func (e *Engine) finish(job Job, status JobStatus, jobErr error) {
	if !job.handle.resolve(status, job.Attempt, jobErr) {
		return
	}
	defer e.jobs.Done()
	metrics.ObserveJob(string(status))
	switch status {
	case StatusSucceeded:
		e.succeeded.Add(1)
	case StatusAbandoned:
		e.abandoned.Add(1)
	case StatusCancelled:
		e.cancelled.Add(1)
	}
	if status == StatusAbandoned || status == StatusCancelled {
		e.reporter.Report(context.Background(), Failure{
			JobID:    job.ID,
			URL:      job.URL,
			Kind:     KindOf(jobErr),
			Attempts: job.Attempt,
			Err:      jobErr,
		})
	}
}

func parseLocator(rawURL string) (canonical, host string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("malformed locator %q: %w", rawURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", fmt.Errorf("malformed locator %q: scheme must be http or https", rawURL)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("malformed locator %q: missing host", rawURL)
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), u.Hostname(), nil
}

func blobPath(prefix, jobID string, body []byte) string {
	sum := sha256.Sum256(body)
	name := fmt.Sprintf("%s/%s.html", jobID, hex.EncodeToString(sum[:]))
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
