// Package hotprojects keeps the catalogue of humanitarian mapping projects
// and finds the ones touching a region.
package hotprojects

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/lykmapipo/osm-analytics/internal/models"
	"github.com/lykmapipo/osm-analytics/internal/utils"
)

// Config holds hot projects service configuration
type Config struct {
	SourceURL       string        `json:"sourceUrl" yaml:"sourceUrl"`             // GeoJSON FeatureCollection of projects
	SourceFile      string        `json:"sourceFile" yaml:"sourceFile"`           // Local alternative to SourceURL
	RefreshInterval time.Duration `json:"refreshInterval" yaml:"refreshInterval"` // How often to reload (default: 1 hour)
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`                 // HTTP timeout (default: 30s)
}

// DefaultConfig returns default hot projects configuration
func DefaultConfig() Config {
	return Config{
		SourceURL:       "",
		RefreshInterval: time.Hour,
		Timeout:         30 * time.Second,
	}
}

// Service provides the project catalogue
type Service struct {
	config   Config
	mu       sync.RWMutex
	projects []models.Project
	client   *http.Client
	logger   *utils.Logger
}

// NewService creates a new hot projects service
func NewService(config Config) *Service {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Service{
		config:   config,
		projects: []models.Project{},
		client:   &http.Client{Timeout: config.Timeout},
		logger:   utils.ProjectsLogger,
	}
}

// Start loads the catalogue and refreshes it periodically until ctx is done
func (s *Service) Start(ctx context.Context) {
	if s.config.SourceURL == "" && s.config.SourceFile == "" {
		s.logger.Info("No project source configured, catalogue stays empty")
		return
	}
	s.logger.Info("Starting hot projects service (url=%q file=%q)", s.config.SourceURL, s.config.SourceFile)

	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("Initial load failed: %v", err)
	}
	if s.config.RefreshInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Shutting down")
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("Refresh failed: %v", err)
			}
		}
	}
}

// Refresh reloads the catalogue from the configured source
func (s *Service) Refresh(ctx context.Context) error {
	data, err := s.read(ctx)
	if err != nil {
		return err
	}
	projects, err := Decode(data)
	if err != nil {
		return err
	}
	s.SetProjects(projects)
	s.logger.Info("Loaded %d projects", len(projects))
	return nil
}

func (s *Service) read(ctx context.Context) ([]byte, error) {
	if s.config.SourceFile != "" {
		data, err := os.ReadFile(s.config.SourceFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read project file: %w", err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.SourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("project request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("project request returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read project response: %w", err)
	}
	return data, nil
}

// SetProjects replaces the catalogue
func (s *Service) SetProjects(projects []models.Project) {
	cp := make([]models.Project, len(projects))
	copy(cp, projects)

	s.mu.Lock()
	s.projects = cp
	s.mu.Unlock()
}

// All returns every catalogued project
func (s *Service) All() []models.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projects := make([]models.Project, len(s.projects))
	copy(projects, s.projects)
	return projects
}

// ByID returns the project with the given id
func (s *Service) ByID(id int) (models.Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.projects {
		if p.ID == id {
			return p, true
		}
	}
	return models.Project{}, false
}

// Search returns the projects whose area meets region, ordered by id. A
// project matches when its centroid lies inside the region or the region's
// centroid lies inside the project.
func (s *Service) Search(region orb.Polygon) []models.Project {
	out := []models.Project{}
	if len(region) == 0 {
		return out
	}
	bound := region.Bound()
	center, _ := planar.CentroidArea(region)

	s.mu.RLock()
	for _, p := range s.projects {
		if !bound.Intersects(p.Bound) {
			continue
		}
		if planar.PolygonContains(region, p.Centroid) || containsPoint(p, center) {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func containsPoint(p models.Project, pt orb.Point) bool {
	if len(p.Outline) >= 4 {
		return planar.RingContains(p.Outline, pt)
	}
	return p.Bound.Contains(pt)
}

// Decode parses a GeoJSON FeatureCollection of projects. Each feature needs
// an "id" property and a Polygon or MultiPolygon geometry; others are skipped.
func Decode(data []byte) ([]models.Project, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode projects: %w", err)
	}

	projects := make([]models.Project, 0, len(fc.Features))
	for i, f := range fc.Features {
		p, ok := projectFromFeature(f)
		if !ok {
			utils.ProjectsLogger.Debug("skipping project feature %d", i)
			continue
		}
		projects = append(projects, p)
	}
	return projects, nil
}

func projectFromFeature(f *geojson.Feature) (models.Project, bool) {
	id, ok := f.Properties["id"].(float64)
	if !ok {
		return models.Project{}, false
	}

	var outline orb.Ring
	switch g := f.Geometry.(type) {
	case orb.Polygon:
		if len(g) > 0 {
			outline = g[0]
		}
	case orb.MultiPolygon:
		if len(g) > 0 && len(g[0]) > 0 {
			outline = g[0][0]
		}
	}
	if len(outline) == 0 {
		return models.Project{}, false
	}

	centroid, _ := planar.CentroidArea(orb.Polygon{outline})
	return models.Project{
		ID:       int(id),
		Name:     f.Properties.MustString("name", fmt.Sprintf("Project #%d", int(id))),
		Bound:    outline.Bound(),
		Centroid: centroid,
		Outline:  outline,
	}, true
}
