// Package rendered implements the browser-automation fetch backend. Pages
// are loaded in headless Chrome via chromedp, waiting for a readiness
// condition before the rendered DOM is extracted.
package rendered

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/scrapekit/scrapekit/internal/engine"
)

// Config controls the rendered backend.
type Config struct {
	// PoolSize is the number of pooled browser sessions (default 1).
	PoolSize int
	// NavTimeout bounds a single navigation (default 45s).
	NavTimeout time.Duration
	// WaitSelector is the readiness condition: the fetch completes once
	// this selector is present in the DOM (default "body").
	WaitSelector string
	// SettleDelay is an extra pause after readiness for late mutations.
	SettleDelay time.Duration
	UserAgent   string
}

// session owns one browser context. Sessions are checked out exclusively by
// one worker at a time and recycled (torn down and replaced) after a crash.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Fetcher implements engine.Backend with a fixed-size pool of browser
// sessions. Checkout blocks, mirroring the rate limiter's acquire/release
// discipline.
type Fetcher struct {
	cfg         Config
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
	sessions    chan *session

	// navigate is swapped out in tests so pool and classification logic
	// can run without a browser.
	navigate func(ctx context.Context, sess *session, rawURL string) (pageSnapshot, error)

	closeOnce sync.Once
}

type pageSnapshot struct {
	html       string
	finalURL   string
	statusCode int
	headers    http.Header
}

// New creates a rendered Fetcher. The browser processes launch lazily on
// first use.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{
		cfg:         cfg,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		sessions:    make(chan *session, cfg.PoolSize),
	}
	f.navigate = f.runChromedp
	for i := 0; i < cfg.PoolSize; i++ {
		f.sessions <- f.newSession()
	}
	return f, nil
}

// Close tears down every pooled session and the allocator.
func (f *Fetcher) Close() {
	f.closeOnce.Do(func() {
		for i := 0; i < f.cfg.PoolSize; i++ {
			sess := <-f.sessions
			sess.cancel()
		}
		f.allocCancel()
	})
}

// Fetch checks out a session, navigates, waits for readiness, and returns
// the rendered DOM. Navigation timeouts are transient; session crashes are
// RenderError and recycle the session so the next job gets a fresh browser.
func (f *Fetcher) Fetch(ctx context.Context, req engine.Request) (engine.Payload, error) {
	var sess *session
	select {
	case <-ctx.Done():
		return engine.Payload{}, engine.NewCancelled(fmt.Errorf("session wait: %w", ctx.Err()))
	case sess = <-f.sessions:
	}

	start := time.Now()
	navCtx, cancelNav := context.WithTimeout(ctx, f.cfg.NavTimeout)
	snap, err := f.navigate(navCtx, sess, req.URL)
	cancelNav()

	if err != nil {
		f.sessions <- f.recycleIfCrashed(sess, err)
		return engine.Payload{}, f.classify(ctx, req.URL, err)
	}
	f.sessions <- sess

	if snap.statusCode/100 != 2 {
		return engine.Payload{}, engine.ClassifyStatus(snap.statusCode, snap.headers)
	}
	finalURL := snap.finalURL
	if finalURL == "" {
		finalURL = req.URL
	}
	return engine.Payload{
		URL:        req.URL,
		FinalURL:   finalURL,
		StatusCode: snap.statusCode,
		Headers:    snap.headers,
		Body:       []byte(snap.html),
		Duration:   time.Since(start),
		Rendered:   true,
	}, nil
}

func (f *Fetcher) newSession() *session {
	ctx, cancel := chromedp.NewContext(f.allocator)
	return &session{ctx: ctx, cancel: cancel}
}

// recycleIfCrashed replaces a session whose browser died. Timeouts and
// cancellations leave the session intact.
func (f *Fetcher) recycleIfCrashed(sess *session, err error) *session {
	if !isCrash(sess, err) {
		return sess
	}
	f.logger.Warn("browser session crashed, recycling", zap.Error(err))
	sess.cancel()
	return f.newSession()
}

func (f *Fetcher) classify(ctx context.Context, rawURL string, err error) error {
	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		return engine.NewCancelled(err)
	case errors.Is(err, context.DeadlineExceeded):
		return engine.NewTransient(0, fmt.Errorf("navigation timed out for %s: %w", rawURL, err))
	default:
		return engine.NewRender(fmt.Errorf("render %s: %w", rawURL, err))
	}
}

// isCrash reports whether the error indicates the browser process (not just
// this navigation) is gone.
func isCrash(sess *session, err error) bool {
	if sess.ctx.Err() != nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "target crashed") ||
		strings.Contains(msg, "browser closed") ||
		strings.Contains(msg, "exec allocator")
}

func (f *Fetcher) runChromedp(ctx context.Context, sess *session, rawURL string) (pageSnapshot, error) {
	tabCtx, cancelTab := chromedp.NewContext(sess.ctx)
	defer cancelTab()

	runCtx, cancelRun := context.WithCancel(tabCtx)
	defer cancelRun()
	stop := forwardCancel(ctx, cancelRun)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	var (
		html     string
		finalURL string
	)
	actions := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
	}
	if f.cfg.UserAgent != "" {
		actions = append(chromedp.Tasks{
			chromedp.ActionFunc(func(ctx context.Context) error {
				return emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx)
			}),
		}, actions...)
	}
	if f.cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(f.cfg.SettleDelay))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(runCtx, actions); err != nil {
		if ctx.Err() != nil {
			return pageSnapshot{}, ctx.Err()
		}
		return pageSnapshot{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, headers := meta.snapshot()
	return pageSnapshot{
		html:       html,
		finalURL:   finalURL,
		statusCode: status,
		headers:    headers,
	}, nil
}

// forwardCancel propagates cancellation of parent into cancel without tying
// the chromedp context's lifetime to parent directly.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// responseMeta records the document response observed during navigation.
type responseMeta struct {
	mu      sync.Mutex
	status  int
	headers http.Header
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.headers = headers
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, http.Header) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	return status, m.headers.Clone()
}
