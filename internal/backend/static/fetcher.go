// Package static implements the lightweight HTTP fetch backend using the
// Colly collector. One request/response exchange per attempt, no JavaScript.
package static

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/scrapekit/scrapekit/internal/engine"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool
}

// Fetcher implements engine.Backend over a shared Colly collector. The base
// collector is cloned per attempt, so concurrent fetches never share hook
// state.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher with a pooled HTTP transport.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET and classifies the outcome: 2xx is
// success; 5xx, 429 (honoring Retry-After), connection errors and timeouts
// are transient; other 4xx and malformed locators are permanent.
func (f *Fetcher) Fetch(ctx context.Context, req engine.Request) (engine.Payload, error) {
	if _, err := url.ParseRequestURI(req.URL); err != nil {
		return engine.Payload{}, engine.NewPermanent(0, fmt.Errorf("malformed locator: %w", err))
	}

	var (
		payload  engine.Payload
		errResp  *colly.Response
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		payload = engine.Payload{
			URL:        req.URL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		errResp = r
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(req.URL)
	}()

	select {
	case <-ctx.Done():
		return engine.Payload{}, classifyContext(ctx.Err())
	case visitErr := <-done:
		if fetchErr != nil {
			return engine.Payload{}, classify(errResp, fetchErr)
		}
		if visitErr != nil {
			return engine.Payload{}, classify(nil, visitErr)
		}
	}

	if payload.StatusCode == 0 {
		return engine.Payload{}, engine.NewTransient(0, errors.New("empty response"))
	}
	return payload, nil
}

func classify(resp *colly.Response, err error) error {
	if resp != nil && resp.StatusCode > 0 && resp.StatusCode/100 != 2 {
		headers := http.Header{}
		if resp.Headers != nil {
			headers = *resp.Headers
		}
		classified := engine.ClassifyStatus(resp.StatusCode, headers)
		classified.Err = fmt.Errorf("%w: %v", classified.Err, err)
		return classified
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return engine.NewTransient(0, fmt.Errorf("fetch timed out: %w", err))
	}
	if errors.Is(err, context.Canceled) {
		return engine.NewCancelled(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return engine.NewTransient(0, fmt.Errorf("network error: %w", err))
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// Transport-level failures (refused connections, resets, DNS)
		// arrive as *url.Error and are worth retrying.
		return engine.NewTransient(0, fmt.Errorf("request failed: %w", err))
	}
	return engine.NewPermanent(0, err)
}

func classifyContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return engine.NewTransient(0, fmt.Errorf("fetch timed out: %w", err))
	}
	return engine.NewCancelled(err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}
