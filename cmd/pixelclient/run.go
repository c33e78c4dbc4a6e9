package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/pixel-canvas/internal/config"
	"github.com/rickgao/pixel-canvas/internal/connection"
	"github.com/rickgao/pixel-canvas/internal/database"
	"github.com/rickgao/pixel-canvas/internal/grid"
	"github.com/rickgao/pixel-canvas/internal/journal"
	"github.com/rickgao/pixel-canvas/internal/session"
	"github.com/rickgao/pixel-canvas/internal/term"
	"github.com/rickgao/pixel-canvas/internal/version"
)

// run wires the client together and drives the prompt until quit, EOF or a
// shutdown signal.
func run(parent context.Context, cfg *config.ClientConfig, opts *options, in io.Reader, out, errOut io.Writer) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting pixelclient",
		"version", version.String(),
		"host", cfg.Server.Host,
		"endpoint", cfg.Server.Endpoint,
		"config", opts.configPath,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	screen := term.NewScreen(out, term.WithANSI(!opts.noColor))

	handlerOpts := []grid.HandlerOption{
		grid.WithIndicator(screen),
		grid.WithHandlerLogger(logger),
	}

	if cfg.Journal.Enabled {
		w, closeJournal, err := startJournal(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeJournal()
		handlerOpts = append(handlerOpts, grid.WithChangeSink(w))
	}

	rec := grid.NewReconciler(screen,
		grid.WithDefaultColor(cfg.Grid.DefaultColor),
		grid.WithLogger(logger),
	)
	handler := grid.NewStreamHandler(rec, cfg.Grid.Size, handlerOpts...)

	tokens := newTokenClient(cfg, logger)
	dialer := connection.NewDialer(connection.ClientConfig{
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
		PingInterval:     cfg.Connection.PingInterval,
		PingTimeout:      cfg.Connection.PingTimeout,
		WriteTimeout:     cfg.Connection.WriteTimeout,
		BufferSize:       cfg.Connection.BufferSize,
	}, logger)

	scfg := session.DefaultConfig()
	scfg.Scheme = cfg.Server.WSScheme()
	scfg.Host = cfg.Server.Host
	scfg.Endpoint = cfg.Server.Endpoint
	scfg.TokenTimeout = cfg.Server.Timeout
	scfg.DialTimeout = cfg.Connection.HandshakeTimeout

	mgr := session.New(scfg, tokens, dialer, handler, screen, logger)
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		mgr.Stop(shutdownCtx)
	}()

	fmt.Fprintf(out, "pixelclient %s connected to %s (%s). Type help for commands.\n",
		version.Version, cfg.Server.Host, cfg.Server.Endpoint)

	p := &prompt{
		session: mgr,
		render:  screen.Render,
		out:     out,
	}
	if opts.name != "" {
		p.exec(ctx, "register "+opts.name)
	}

	err := p.run(ctx, in)
	logger.Info("pixelclient stopped")
	return err
}

// startJournal connects to PostgreSQL and starts the change journal.
func startJournal(ctx context.Context, cfg *config.ClientConfig, logger *slog.Logger) (*journal.Writer, func(), error) {
	db := cfg.Journal.Database
	logger.Info("connecting to journal database",
		"host", db.Host,
		"port", db.Port,
		"database", db.Name,
	)

	pool, err := database.Connect(ctx, db)
	if err != nil {
		return nil, nil, fmt.Errorf("connect journal database: %w", err)
	}

	w := journal.NewWriter(journal.ConfigFrom(cfg.Journal), pool, cfg.Server.Endpoint, logger)
	if err := w.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := w.Start(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return w, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := w.Stop(stopCtx); err != nil {
			logger.Warn("journal stop failed", "error", err)
		}
		stats := w.Stats()
		logger.Info("journal closed",
			"rows", stats.Rows,
			"dropped", stats.Dropped,
			"errors", stats.Errors,
			"buffer_resizes", stats.Resizes,
		)
		pool.Close()
	}, nil
}
