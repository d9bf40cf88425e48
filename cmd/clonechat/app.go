package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/clonechat"
	"github.com/nevindra/clonechat/internal/config"
	"github.com/nevindra/clonechat/observer"
	"github.com/nevindra/clonechat/store/postgres"
	"github.com/nevindra/clonechat/store/sqlite"
	"github.com/nevindra/clonechat/telegram"
)

// app carries the pieces a command needs, built in dependency order by
// newApp and torn down in reverse by Close.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	tracer clonechat.Tracer
	stats  clonechat.Stats
	store  clonechat.TaskStore
	links  *clonechat.LinkFile

	// client is retry- and pace-wrapped; set by connect.
	client clonechat.Client

	closers []func(context.Context) error
}

func newApp(ctx context.Context, g *globalFlags) (*app, error) {
	// 1. Load config
	var envFiles []string
	if g.envFile != "" {
		envFiles = append(envFiles, g.envFile)
	}
	cfg, err := config.Load(g.config, envFiles...)
	if err != nil {
		return nil, err
	}

	// 2. Logging
	logger, closeLog, err := newLogger(cfg.Cloner.LogFile, g.verbose)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, stats: clonechat.NopStats{}}
	a.closers = append(a.closers, func(context.Context) error { return closeLog() })

	// 3. Observability (opt-in)
	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("observer: %w", err)
		}
		a.tracer, a.stats = inst.Tracer, inst.Stats
		a.closers = append(a.closers, shutdown)
	}

	// 4. Task store
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	// 5. Link registry
	a.links = clonechat.NewLinkFile(cfg.Cloner.LinkFile)
	return a, nil
}

// connect dials the platform and wraps the client with retry and send
// pacing. Commands that never touch Telegram skip it.
func (a *app) connect(ctx context.Context) error {
	if err := a.cfg.RequirePlatform(); err != nil {
		return err
	}
	tg, err := telegram.Connect(ctx, telegram.Options{
		APIID:       a.cfg.Telegram.APIID,
		APIHash:     a.cfg.Telegram.APIHash,
		Phone:       a.cfg.Telegram.Phone,
		SessionFile: a.cfg.Telegram.SessionFile,
		Logger:      a.logger,
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return tg.Close() })

	a.client = clonechat.WithPace(
		clonechat.WithRetry(tg,
			clonechat.RetryLogger(a.logger),
			clonechat.RetryStats(a.stats)),
		a.cfg.Cloner.Delay(),
		clonechat.PaceLogger(a.logger),
	)
	return nil
}

// Close tears down in reverse construction order. Errors are logged,
// not returned: shutdown must not mask the command's own error.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown", "error", err)
		}
	}
}

// newLogger builds the text logger writing to stderr and, when a path
// is configured, the append-only app log file.
func newLogger(path string, verbose bool) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	w := io.Writer(os.Stderr)
	closeFn := func() error { return nil }
	if path != "" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("log directory: %w", err)
			}
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = f.Close
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h), closeFn, nil
}

// openStore picks PostgreSQL when a database URL is configured, else
// the embedded SQLite file. Schema setup is idempotent and runs on
// every open.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (clonechat.TaskStore, func(context.Context) error, error) {
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		st := postgres.New(pool)
		if err := st.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		return st, func(context.Context) error { return st.Close() }, nil
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("database directory: %w", err)
		}
	}
	st := sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
	if err := st.Init(ctx); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return st, func(context.Context) error { return st.Close() }, nil
}
