package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lykmapipo/osm-analytics/internal/models"
	"github.com/lykmapipo/osm-analytics/internal/stats"
	"github.com/lykmapipo/osm-analytics/internal/utils"
)

// Config holds HTTP server configuration
type Config struct {
	Port          string        `json:"port" yaml:"port"`                   // Listen address (default: ":8080")
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`             // Read/write timeout (default: 30s)
	UpdateTimeout time.Duration `json:"updateTimeout" yaml:"updateTimeout"` // Deadline for one region update (default: 90s)
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Port:          ":8080",
		Timeout:       30 * time.Second,
		UpdateTimeout: 90 * time.Second,
	}
}

// Engine is the statistics engine driven by the HTTP surface
type Engine interface {
	Update(ctx context.Context, region models.Region, layers []models.Layer, filters models.FilterSelection) error
	SetFilters(filters models.FilterSelection) *stats.Snapshot
	SetUnitSystem(system string) (*stats.Snapshot, error)
	Snapshot() *stats.Snapshot
	Updating() bool
}

// Broadcaster pushes snapshots to websocket clients
type Broadcaster interface {
	UpgradeConnection(w http.ResponseWriter, r *http.Request)
	GetClientCount() int
}

// Server represents the HTTP server
type Server struct {
	config      Config
	engine      Engine
	layers      *models.LayerCatalogue
	broadcaster Broadcaster
	logger      *utils.Logger
}

// NewServer creates a new server
func NewServer(config Config, engine Engine, layers *models.LayerCatalogue, broadcaster Broadcaster) *Server {
	return &Server{
		config:      config,
		engine:      engine,
		layers:      layers,
		broadcaster: broadcaster,
		logger:      utils.ServerLogger,
	}
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	// API endpoints
	mux.HandleFunc("POST /api/update", s.handleUpdate)
	mux.HandleFunc("POST /api/filters", s.handleFilters)
	mux.HandleFunc("POST /api/units", s.handleUnits)
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/layers", s.handleLayers)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Health check endpoint (for compatibility)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.config.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.config.Timeout,
	}

	s.logger.Info("HTTP server listening on %s", s.config.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
