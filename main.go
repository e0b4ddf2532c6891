package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lykmapipo/osm-analytics/config"
	"github.com/lykmapipo/osm-analytics/internal/broadcaster"
	"github.com/lykmapipo/osm-analytics/internal/engine"
	"github.com/lykmapipo/osm-analytics/internal/geo"
	"github.com/lykmapipo/osm-analytics/internal/hotprojects"
	"github.com/lykmapipo/osm-analytics/internal/models"
	"github.com/lykmapipo/osm-analytics/internal/search"
	"github.com/lykmapipo/osm-analytics/internal/server"
	"github.com/lykmapipo/osm-analytics/internal/units"
	"github.com/lykmapipo/osm-analytics/internal/utils"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	logger := utils.ServerLogger
	logger.Info("Starting osm-analytics...")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load application configuration
	appConfig, err := config.Load(*configPath)
	if err != nil {
		utils.LogAppError(err, logger)
		os.Exit(1)
	}
	utils.InitializeComponentLoggers(utils.ParseLogLevel(appConfig.LogLevel))
	logger.Info("Configuration loaded")

	projects := hotprojects.NewService(appConfig.HotProjects)
	eng := engine.NewEngine(
		appConfig.Engine,
		geo.NewResolver(projects),
		search.NewClient(appConfig.Search),
		projects,
		units.Convert,
	)

	hub := broadcaster.NewBroadcaster(appConfig.Broadcaster, eng)
	eng.Subscribe(hub.Publish)

	srv := server.NewServer(appConfig.Server, eng, models.NewLayerCatalogue(appConfig.Layers), hub)

	var wg sync.WaitGroup

	// Start project catalogue refresh
	wg.Add(1)
	go func() {
		defer wg.Done()
		projects.Start(ctx)
	}()

	// Start broadcaster
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Start(ctx)
	}()

	// Start HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(ctx); err != nil {
			utils.LogError("SERVER", "Server error: %v", err)
			cancel()
		}
	}()

	logger.Info("osm-analytics started on %s", appConfig.Server.Port)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received...")
	case <-ctx.Done():
	}

	// Cancel context to signal shutdown
	cancel()

	// Wait for all components to shut down
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	// Wait for shutdown with timeout
	select {
	case <-done:
		logger.Info("Graceful shutdown completed")
	case <-time.After(10 * time.Second):
		logger.Warn("Shutdown timeout reached")
	}
}
