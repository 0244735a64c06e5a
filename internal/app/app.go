// Package app wires the exchange client, ledger, cache, engine, and journal
// together and runs the configured operating mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/marginbot/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the configured mode, and blocks until
// the context is cancelled or the mode returns.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "run":
		return a.runMode(ctx, deps)
	case "reconcile":
		return a.reconcileOnce(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// runMode starts the long-running loops: the WebSocket ticker feed, the
// periodic per-symbol reconciliation pass, and the journal exporter.
func (a *App) runMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	if deps.TickerFeed != nil {
		g.Go(func() error {
			return deps.TickerFeed.Run(ctx)
		})
	}

	g.Go(func() error {
		return a.reconcileLoop(ctx, deps)
	})

	if deps.Journal != nil {
		g.Go(func() error {
			return a.journalLoop(ctx, deps)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reconcileLoop periodically syncs every configured symbol against the
// exchange. Sync failures are logged and retried on the next tick; only
// context cancellation stops the loop.
func (a *App) reconcileLoop(ctx context.Context, deps *Dependencies) error {
	interval := time.Duration(a.cfg.Engine.ReconcileIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		a.reconcileAll(ctx, deps)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *App) reconcileAll(ctx context.Context, deps *Dependencies) {
	for _, symbol := range a.cfg.Engine.Symbols {
		changed, err := deps.Engine.SyncWithExchange(ctx, a.cfg.Engine.Strategy, symbol)
		if err != nil {
			a.logger.Warn("reconciliation pass failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		if changed {
			a.logger.Info("reconciliation applied changes", slog.String("symbol", symbol))
		}
	}
}

// reconcileOnce runs a single reconciliation pass over all symbols and exits.
func (a *App) reconcileOnce(ctx context.Context, deps *Dependencies) error {
	a.reconcileAll(ctx, deps)
	return nil
}

// journalLoop periodically exports recently closed positions to object
// storage.
func (a *App) journalLoop(ctx context.Context, deps *Dependencies) error {
	interval := time.Duration(a.cfg.Journal.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	lookback := time.Duration(a.cfg.Journal.LookbackHours) * time.Hour
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		n, err := deps.Journal.Archive(ctx, time.Now().UTC().Add(-lookback))
		if err != nil {
			a.logger.Warn("journal export failed", slog.String("error", err.Error()))
			continue
		}
		if n > 0 {
			a.logger.Info("journal export complete", slog.Int64("positions", n))
		}
	}
}

// Close tears down all resources in reverse registration order. Safe to call
// more than once.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
