package rendered

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrapekit/scrapekit/internal/engine"
)

// newTestFetcher swaps the navigate function so pool and classification logic
// run without launching a browser.
func newTestFetcher(t *testing.T, cfg Config, navigate func(ctx context.Context, sess *session, rawURL string) (pageSnapshot, error)) *Fetcher {
	t.Helper()
	f, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(f.Close)
	f.navigate = navigate
	return f
}

func TestFetch_RenderedSuccess(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, Config{PoolSize: 1}, func(_ context.Context, _ *session, rawURL string) (pageSnapshot, error) {
		return pageSnapshot{
			html:       "<html><div id=\"app\">rendered</div></html>",
			finalURL:   rawURL + "#loaded",
			statusCode: http.StatusOK,
			headers:    http.Header{"Content-Type": {"text/html"}},
		}, nil
	})

	page, err := f.Fetch(context.Background(), engine.Request{
		JobID: "job-1",
		URL:   "https://spa.example.com/app",
	})
	require.NoError(t, err)
	require.True(t, page.Rendered)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, "https://spa.example.com/app#loaded", page.FinalURL)
	require.Contains(t, string(page.Body), "rendered")
}

func TestFetch_EmptyFinalURLFallsBackToRequest(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, Config{PoolSize: 1}, func(context.Context, *session, string) (pageSnapshot, error) {
		return pageSnapshot{html: "<html></html>", statusCode: http.StatusOK}, nil
	})

	page, err := f.Fetch(context.Background(), engine.Request{URL: "https://spa.example.com/"})
	require.NoError(t, err)
	require.Equal(t, "https://spa.example.com/", page.FinalURL)
}

func TestFetch_NonSuccessStatusIsClassified(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, Config{PoolSize: 1}, func(context.Context, *session, string) (pageSnapshot, error) {
		return pageSnapshot{html: "<html>gone</html>", statusCode: http.StatusGone}, nil
	})

	_, err := f.Fetch(context.Background(), engine.Request{URL: "https://spa.example.com/old"})
	require.Error(t, err)
	require.Equal(t, engine.KindPermanent, engine.KindOf(err))
}

func TestFetch_NavigationTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, Config{PoolSize: 1}, func(context.Context, *session, string) (pageSnapshot, error) {
		return pageSnapshot{}, context.DeadlineExceeded
	})

	_, err := f.Fetch(context.Background(), engine.Request{URL: "https://spa.example.com/slow"})
	require.Error(t, err)
	require.Equal(t, engine.KindTransient, engine.KindOf(err))
}

func TestFetch_CrashIsRenderErrorAndRecyclesSession(t *testing.T) {
	t.Parallel()

	var seen []*session
	f := newTestFetcher(t, Config{PoolSize: 1}, func(_ context.Context, sess *session, _ string) (pageSnapshot, error) {
		seen = append(seen, sess)
		if len(seen) == 1 {
			return pageSnapshot{}, errors.New("target crashed")
		}
		return pageSnapshot{html: "<html></html>", statusCode: http.StatusOK}, nil
	})

	_, err := f.Fetch(context.Background(), engine.Request{URL: "https://spa.example.com/a"})
	require.Error(t, err)
	require.Equal(t, engine.KindRender, engine.KindOf(err))

	_, err = f.Fetch(context.Background(), engine.Request{URL: "https://spa.example.com/b"})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	require.NotSame(t, seen[0], seen[1], "crashed session must be replaced")
}

func TestFetch_NavigationErrorKeepsHealthySession(t *testing.T) {
	t.Parallel()

	var seen []*session
	f := newTestFetcher(t, Config{PoolSize: 1}, func(_ context.Context, sess *session, _ string) (pageSnapshot, error) {
		seen = append(seen, sess)
		if len(seen) == 1 {
			return pageSnapshot{}, errors.New("net::ERR_NAME_NOT_RESOLVED")
		}
		return pageSnapshot{html: "<html></html>", statusCode: http.StatusOK}, nil
	})

	_, err := f.Fetch(context.Background(), engine.Request{URL: "https://spa.example.com/a"})
	require.Error(t, err)
	require.Equal(t, engine.KindRender, engine.KindOf(err))

	_, err = f.Fetch(context.Background(), engine.Request{URL: "https://spa.example.com/b"})
	require.NoError(t, err)
	require.Same(t, seen[0], seen[1], "healthy session should be reused")
}

func TestFetch_SessionCheckoutHonorsContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	f := newTestFetcher(t, Config{PoolSize: 1}, func(ctx context.Context, _ *session, _ string) (pageSnapshot, error) {
		select {
		case <-block:
		case <-ctx.Done():
			return pageSnapshot{}, ctx.Err()
		}
		return pageSnapshot{html: "<html></html>", statusCode: http.StatusOK}, nil
	})

	go func() {
		_, _ = f.Fetch(context.Background(), engine.Request{URL: "https://spa.example.com/hold"})
	}()

	// Give the first fetch time to check out the only session.
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, engine.Request{URL: "https://spa.example.com/waiting"})
	require.Error(t, err)
	require.Equal(t, engine.KindCancelled, engine.KindOf(err))

	close(block)
}

func TestFetch_CancelledContextDuringNavigation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	f := newTestFetcher(t, Config{PoolSize: 1}, func(navCtx context.Context, _ *session, _ string) (pageSnapshot, error) {
		cancel()
		<-navCtx.Done()
		return pageSnapshot{}, navCtx.Err()
	})

	_, err := f.Fetch(ctx, engine.Request{URL: "https://spa.example.com/cancelled"})
	require.Error(t, err)
	require.Equal(t, engine.KindCancelled, engine.KindOf(err))
}
