package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rustyeddy/papertrade/config"
	"github.com/rustyeddy/papertrade/docstore"
	"github.com/rustyeddy/papertrade/engine"
	"github.com/rustyeddy/papertrade/journal"
	"github.com/rustyeddy/papertrade/logging"
	"github.com/rustyeddy/papertrade/market"
)

// app is one engine with its store and quote provider, built from config.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	store   docstore.Store
	journal *journal.Journal
	quotes  market.Provider
	engine  *engine.Engine
}

type appOption func(*engine.Options, *app)

// withQuotes replaces the configured quote provider.
func withQuotes(p market.Provider) appOption {
	return func(_ *engine.Options, a *app) { a.quotes = p }
}

func withClock(now func() time.Time) appOption {
	return func(o *engine.Options, _ *app) { o.Clock = now }
}

func newApp(cfg *config.Config, opts ...appOption) (*app, error) {
	a := &app{
		cfg: cfg,
		log: logging.NewStderr(cfg.Logging.Level, cfg.Logging.Format),
	}

	eopts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(&eopts, a)
	}

	a.store, err = docstore.Open(cfg.Store.Driver, cfg.Store.Path, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.journal = journal.New(a.store,
		journal.WithRetry(cfg.Store.Retries, 50*time.Millisecond),
		journal.WithLogger(a.log))

	if a.quotes == nil {
		a.quotes, err = newQuotes(cfg, eopts.Hours, eopts.Clock, a.log)
		if err != nil {
			_ = a.store.Close()
			return nil, err
		}
	}

	a.engine = engine.New(eopts, a.journal, a.quotes, a.log)
	return a, nil
}

// newQuotes builds the configured provider. The redis cache sits in front
// of the bar file when one is configured, else in front of the static
// prices.
func newQuotes(cfg *config.Config, hours market.Hours, now func() time.Time, log *slog.Logger) (market.Provider, error) {
	var primary market.Provider = market.NewStaticQuotes(cfg.Quotes.Static, time.Now())
	if cfg.Quotes.Bars != "" {
		bs, err := market.LoadBarsFile(cfg.Quotes.Bars)
		if err != nil {
			return nil, fmt.Errorf("load bars: %w", err)
		}
		if st := bs.Stats(); st.BadLines > 0 || st.SuspiciousGaps > 0 {
			log.Warn("bar file has problems", "path", cfg.Quotes.Bars,
				"bad_lines", st.BadLines, "duplicates", st.Duplicates, "suspicious_gaps", st.SuspiciousGaps)
		}
		primary = market.NewBarQuotes(bs, hours, now)
	}

	switch cfg.Quotes.Provider {
	case "", "static", "bars":
		return primary, nil
	case "redis":
		ttl, err := cfg.Quotes.Redis.TTLDuration()
		if err != nil {
			return nil, err
		}
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Quotes.Redis.Addr, DB: cfg.Quotes.Redis.DB})
		return market.NewCachedProvider(primary, rdb, ttl), nil
	}
	return nil, fmt.Errorf("unknown quote provider %q", cfg.Quotes.Provider)
}

// start recovers the stored accounts. Under the hours gate one tick opens
// the session when the clock is inside a trading window.
func (a *app) start(ctx context.Context) error {
	if err := a.engine.Start(ctx); err != nil {
		return err
	}
	if !a.engine.Exchange().Accepting() {
		return a.engine.Exchange().Tick(ctx)
	}
	return nil
}

func (a *app) close(ctx context.Context) error {
	return errors.Join(a.engine.Stop(ctx), a.store.Close())
}

// withApp runs fn against a started app and shuts it down afterwards.
func withApp(ctx context.Context, fn func(a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	if err := a.start(ctx); err != nil {
		_ = a.close(ctx)
		return err
	}
	return errors.Join(fn(a), a.close(ctx))
}
