package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"propertysearch/server/config"
	"propertysearch/server/internal/api"
	"propertysearch/server/internal/app"
	"propertysearch/server/internal/logging"
	"propertysearch/server/internal/pipeline"
	"propertysearch/server/internal/scheduler"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize logger")
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	handler := api.NewHandler(a.Store, logger)
	if err := handler.RefreshStations(ctx); err != nil {
		logger.WithError(err).Error("Failed to load station index")
	}

	// Keep the nearest-station index in step with the stored stations
	if updateTube, ok := a.Runner.Task(pipeline.TaskUpdateTube); ok {
		a.Runner.Register(pipeline.TaskUpdateTube, func(ctx context.Context) error {
			if err := updateTube(ctx); err != nil {
				return err
			}
			return handler.RefreshStations(ctx)
		})
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(handler, api.RouterConfig{
		AllowOrigins: cfg.Server.CORSAllowOrigins,
		StaticDir:    cfg.Server.StaticDir,
		Gatherer:     a.Registry,
	}, logger)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.NewScheduler(a.Runner, []scheduler.Job{
			{Task: pipeline.TaskUpdateTube, Interval: cfg.Scheduler.TubeInterval},
			{Task: pipeline.TaskUpdateProperty, Interval: cfg.Scheduler.PropertyInterval},
		}, cfg.Scheduler.RunOnStartup, logger)
		sched.Start()
		logger.WithFields(logrus.Fields{
			"property_interval": cfg.Scheduler.PropertyInterval.String(),
			"tube_interval":     cfg.Scheduler.TubeInterval.String(),
		}).Info("Scheduler started")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	logger.Info("Server stopped")
}
