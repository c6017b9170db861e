package cmd

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/scrapekit/scrapekit/internal/archive/gcs"
	"github.com/scrapekit/scrapekit/internal/archive/local"
	archivememory "github.com/scrapekit/scrapekit/internal/archive/memory"
	"github.com/scrapekit/scrapekit/internal/backend/rendered"
	"github.com/scrapekit/scrapekit/internal/backend/static"
	"github.com/scrapekit/scrapekit/internal/config"
	"github.com/scrapekit/scrapekit/internal/engine"
	queuememory "github.com/scrapekit/scrapekit/internal/queue/memory"
	"github.com/scrapekit/scrapekit/internal/ratelimit"
	"github.com/scrapekit/scrapekit/internal/report"
	"github.com/scrapekit/scrapekit/internal/sinks"
	pgsink "github.com/scrapekit/scrapekit/internal/sinks/postgres"
	pubsubsink "github.com/scrapekit/scrapekit/internal/sinks/pubsub"
)

// buildEngine assembles an Engine from config. The returned cleanup releases
// everything the engine does not own itself (browser pool, sink connections).
func buildEngine(ctx context.Context, cfg config.Config, logger *zap.Logger) (*engine.Engine, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	queue := queuememory.New(cfg.Engine.QueueDepth)
	limiter := ratelimit.New(ratelimit.Config{
		Default: ratelimit.HostConfig{
			MaxConcurrent: cfg.RateLimit.MaxConcurrent,
			MinInterval:   time.Duration(cfg.RateLimit.MinIntervalMs) * time.Millisecond,
		},
	})

	backends := map[engine.BackendKind]engine.Backend{
		engine.BackendStatic: static.New(static.Config{
			UserAgent:     cfg.Engine.UserAgent,
			Timeout:       cfg.FetchTimeout(),
			RespectRobots: cfg.Static.RespectRobots,
		}),
	}
	if cfg.Rendered.Enabled {
		browser, err := rendered.New(rendered.Config{
			PoolSize:     cfg.Rendered.PoolSize,
			NavTimeout:   time.Duration(cfg.Rendered.NavTimeoutSeconds) * time.Second,
			WaitSelector: cfg.Rendered.WaitSelector,
			SettleDelay:  time.Duration(cfg.Rendered.SettleDelayMs) * time.Millisecond,
			UserAgent:    cfg.Engine.UserAgent,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("init rendered backend: %w", err)
		}
		cleanups = append(cleanups, browser.Close)
		backends[engine.BackendRendered] = browser
	}

	sink, sinkCleanup, err := buildSink(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if sinkCleanup != nil {
		cleanups = append(cleanups, sinkCleanup)
	}

	blobs, blobCleanup, err := buildArchive(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if blobCleanup != nil {
		cleanups = append(cleanups, blobCleanup)
	}

	eng, err := engine.New(engine.Config{
		Workers:      cfg.Engine.Workers,
		FetchTimeout: cfg.FetchTimeout(),
		BlobPrefix:   cfg.Archive.Prefix,
		ContentType:  cfg.Archive.ContentType,
	}, engine.Deps{
		Queue:    queue,
		Limiter:  limiter,
		Backends: backends,
		Policy: engine.NewRetryPolicy(
			cfg.Retry.MaxAttempts,
			time.Duration(cfg.Retry.BaseDelayMs)*time.Millisecond,
			time.Duration(cfg.Retry.MaxDelaySeconds)*time.Second,
		),
		Sink:     sink,
		Reporter: report.NewLogReporter(logger),
		Blobs:    blobs,
		Logger:   logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("init engine: %w", err)
	}
	return eng, cleanup, nil
}

func buildSink(ctx context.Context, cfg config.Config, logger *zap.Logger) (engine.ResultSink, func(), error) {
	switch cfg.Sink.Provider {
	case "log":
		return sinks.NewLogSink(logger), nil, nil
	case "memory":
		return sinks.NewMemorySink(), nil, nil
	case "postgres":
		sink, err := pgsink.New(ctx, pgsink.Config{
			DSN:      cfg.Sink.Postgres.DSN,
			Table:    cfg.Sink.Postgres.Table,
			MaxConns: cfg.Sink.Postgres.MaxConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres sink: %w", err)
		}
		return sink, sink.Close, nil
	case "pubsub":
		sink, err := pubsubsink.New(ctx, pubsubsink.Config{
			ProjectID: cfg.Sink.PubSub.ProjectID,
			TopicID:   cfg.Sink.PubSub.TopicID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init pubsub sink: %w", err)
		}
		return sink, func() { _ = sink.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink.provider %q", cfg.Sink.Provider)
	}
}

func buildArchive(ctx context.Context, cfg config.Config) (engine.BlobStore, func(), error) {
	switch cfg.Archive.Provider {
	case "none":
		return nil, nil, nil
	case "memory":
		return archivememory.New(), nil, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Archive.LocalDir})
		if err != nil {
			return nil, nil, fmt.Errorf("init local archive: %w", err)
		}
		return store, nil, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("init gcs archive: %w", err)
		}
		return store, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown archive.provider %q", cfg.Archive.Provider)
	}
}
