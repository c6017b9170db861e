package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrapekit/scrapekit/internal/engine"
	"github.com/scrapekit/scrapekit/internal/extract"
)

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Runs the configured targets once and exits",
		Long: `Submits every target from the configuration file, waits for all of
them to reach a terminal state, and exits. Interrupt once to stop
accepting work and discard queued jobs.`,
		RunE: runScrape,
	}
	return cmd
}

func runScrape(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	if len(cfg.Targets) == 0 {
		return fmt.Errorf("no targets configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, cleanup, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	// The pool lifecycle is owned by Shutdown below, not by the signal
	// context, so a clean run can still drain after submission.
	eng.Start(context.Background())

	handles := make([]*engine.Handle, 0, len(cfg.Targets))
	for _, target := range cfg.Targets {
		kind := engine.BackendStatic
		if target.Backend != "" {
			kind = engine.BackendKind(target.Backend)
		}
		handle, err := eng.Submit(ctx, target.URL, kind, extract.Fields(target.Selectors), target.Priority)
		if err != nil {
			logger.Error("submit failed", zap.String("url", target.URL), zap.Error(err))
			continue
		}
		handles = append(handles, handle)
	}

	for _, handle := range handles {
		if err := handle.Wait(ctx); err != nil {
			break
		}
	}

	drain := ctx.Err() == nil
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx, drain); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	stats := eng.Stats()
	logger.Info("scrape finished",
		zap.Int64("submitted", stats.Submitted),
		zap.Int64("succeeded", stats.Succeeded),
		zap.Int64("abandoned", stats.Abandoned),
		zap.Int64("cancelled", stats.Cancelled),
		zap.Int64("retries", stats.Retries),
	)
	return nil
}
