// Package app wires configuration into stores, sources and the task runner.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"propertysearch/server/config"
	"propertysearch/server/internal/api"
	"propertysearch/server/internal/database"
	"propertysearch/server/internal/database/postgres"
	"propertysearch/server/internal/geocoding"
	"propertysearch/server/internal/httpclient"
	"propertysearch/server/internal/metrics"
	"propertysearch/server/internal/pipeline"
	"propertysearch/server/internal/propertylog"
	"propertysearch/server/internal/rightmove"
	"propertysearch/server/internal/telegram"
	"propertysearch/server/internal/tfl"
)

// Store is everything the tasks and the API need from persistence.
type Store interface {
	api.Store
	pipeline.PropertyStore
	pipeline.TubeStore
	Close() error
}

var (
	_ Store = (*database.Database)(nil)
	_ Store = (*postgres.Store)(nil)
)

type App struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Store    Store
	Runner   *pipeline.Runner
}

// New opens the configured store, applies its schema and builds the runner.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	runner, err := NewRunner(cfg, store, logger, m)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Metrics:  m,
		Store:    store,
		Runner:   runner,
	}, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}

// OpenStore connects to sqlite or postgres per DB_DRIVER and migrates it.
func OpenStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		logger.Info("Using postgres database")
		return postgres.NewStore(pool), nil
	default:
		db, err := database.NewDatabase(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := db.RunMigrations(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		logger.WithField("path", cfg.Database.Path).Info("Using sqlite database")
		return db, nil
	}
}

// cachedListings answers location lookups from the on-disk cache.
type cachedListings struct {
	*rightmove.Source
	locator *geocoding.CachedLocator
}

func (c cachedListings) ResolveLocation(ctx context.Context, location string) (string, error) {
	return c.locator.ResolveLocation(ctx, location)
}

// NewRunner builds the sources and registers both tasks. Rightmove and TfL share
// one outbound client, so their requests are gated and labelled together.
func NewRunner(cfg *config.Config, store Store, logger *logrus.Logger, m *metrics.Metrics) (*pipeline.Runner, error) {
	shared := httpclient.New(httpclient.Options{
		Name:                   "outbound",
		MaxParallelConnections: cfg.HTTP.MaxParallelConnections,
		MaxRetryCount:          cfg.HTTP.MaxRetryCount,
		RetryBaseDelay:         cfg.HTTP.RetryBaseDelay,
		UserAgent:              cfg.HTTP.UserAgent,
		Timeout:                cfg.HTTP.Timeout,
		Metrics:                m,
	}, logger)

	source := rightmove.NewSource(shared, rightmove.Config{
		PageRetryCount: cfg.Rightmove.PageRetryCount,
		PageRetryDelay: cfg.Rightmove.PageRetryDelay,
	}, logger)

	var listings pipeline.ListingSource = source
	if cfg.Rightmove.LocationCacheDir != "" {
		locator, err := geocoding.NewCachedLocator(source, cfg.Rightmove.LocationCacheDir, logger)
		if err != nil {
			return nil, err
		}
		listings = cachedListings{Source: source, locator: locator}
	}

	// A nil interface, not a typed nil, disables histories.
	var histories pipeline.HistorySource
	if cfg.PropertyLog.Enabled {
		historyClient := httpclient.New(httpclient.Options{
			Name:                   "propertylog",
			MaxParallelConnections: cfg.PropertyLog.MaxParallelConnections,
			MaxRetryCount:          cfg.HTTP.MaxRetryCount,
			RetryBaseDelay:         cfg.HTTP.RetryBaseDelay,
			UserAgent:              cfg.HTTP.UserAgent,
			Referer:                propertylog.Referer,
			Timeout:                cfg.HTTP.Timeout,
			Metrics:                m,
		}, logger)
		histories = propertylog.NewSource(historyClient, propertylog.Config{
			User:          cfg.PropertyLog.User,
			MaxRetryCount: cfg.PropertyLog.MaxRetryCount,
			RetryDelay:    cfg.PropertyLog.RetryDelay,
		}, logger)
	}

	property := pipeline.NewPropertyPipeline(listings, histories, store, pipeline.Options{
		StrictLocations: cfg.Pipeline.StrictLocations,
	}, logger, m)
	tube := pipeline.NewTubeUpdater(tfl.NewSource(shared, cfg.TfL.BaseURL, logger), store, logger)

	var notifier pipeline.Notifier
	if cfg.TelegramEnabled() {
		notifyClient := httpclient.New(httpclient.Options{
			Name:                   "telegram",
			MaxParallelConnections: 1,
			MaxRetryCount:          cfg.HTTP.MaxRetryCount,
			RetryBaseDelay:         cfg.HTTP.RetryBaseDelay,
			Timeout:                cfg.HTTP.Timeout,
			Metrics:                m,
		}, logger)
		notifier = telegram.NewService(notifyClient, telegram.Config{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
		}, logger)
	}

	return pipeline.NewRunner(property, tube, notifier, logger, m), nil
}
