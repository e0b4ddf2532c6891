// Package engine orchestrates region updates: it resolves the region, fans
// out one feature search per layer, aggregates the joined results and
// publishes immutable snapshots.
package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/lykmapipo/osm-analytics/internal/models"
	"github.com/lykmapipo/osm-analytics/internal/stats"
	"github.com/lykmapipo/osm-analytics/internal/units"
	"github.com/lykmapipo/osm-analytics/internal/utils"
)

// ErrStaleUpdate is returned by Update when a newer update started before
// this one finished. Its results were discarded.
var ErrStaleUpdate = errors.New("update superseded by a newer request")

// RegionResolver turns a region descriptor into geometry
type RegionResolver interface {
	Resolve(ctx context.Context, region models.Region) (orb.Polygon, error)
}

// FeatureSearcher fetches one layer's features inside a polygon. The result
// carries the number of features that could not be decoded.
type FeatureSearcher interface {
	Search(ctx context.Context, region orb.Polygon, layer models.Layer) (models.LayerResult, error)
}

// ProjectSearcher finds hot projects touching a polygon
type ProjectSearcher interface {
	Search(region orb.Polygon) []models.Project
}

// Listener is called with every published snapshot. Listeners run while the
// engine holds its lock and must not block or call back into the engine.
type Listener func(*stats.Snapshot)

// Config holds engine configuration
type Config struct {
	Stats         stats.Config  `json:"stats" yaml:"stats"`
	FetchTimeout  time.Duration `json:"fetchTimeout" yaml:"fetchTimeout"`   // Deadline for the whole per-layer fan-out (default: 60s)
	MaxFetches    int           `json:"maxFetches" yaml:"maxFetches"`       // Concurrent layer searches, 0 for unlimited
	UnitSystem    string        `json:"unitSystem" yaml:"unitSystem"`       // Initial unit system (default: metric)
	HistogramMode string        `json:"histogramMode" yaml:"histogramMode"` // "recency" or "experience" (default: recency)
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		Stats:         stats.DefaultConfig(),
		FetchTimeout:  60 * time.Second,
		MaxFetches:    0,
		UnitSystem:    units.Metric,
		HistogramMode: stats.HistogramRecency,
	}
}

// Engine owns the retained layer results and the published snapshot
type Engine struct {
	config     Config
	resolver   RegionResolver
	searcher   FeatureSearcher
	projects   ProjectSearcher
	convert    units.Converter
	aggregator *stats.Aggregator
	logger     *utils.Logger

	mu         sync.Mutex
	generation uint64
	key        string
	region     models.Region
	layers     []models.Layer
	results    []models.LayerResult // nil until the current update has fetched
	filters    models.FilterSelection
	unitSystem string
	hot        []models.Project
	listeners  []Listener

	updating atomic.Bool
	current  atomic.Pointer[stats.Snapshot]
}

// NewEngine creates a new engine. projects may be nil to disable the hot
// projects lookup; convert defaults to units.Convert.
func NewEngine(config Config, resolver RegionResolver, searcher FeatureSearcher, projects ProjectSearcher, convert units.Converter) *Engine {
	if convert == nil {
		convert = units.Convert
	}
	if !units.IsValid(config.UnitSystem) {
		config.UnitSystem = units.Metric
	}
	if config.HistogramMode == "" {
		config.HistogramMode = stats.HistogramRecency
	}

	return &Engine{
		config:     config,
		resolver:   resolver,
		searcher:   searcher,
		projects:   projects,
		convert:    convert,
		aggregator: stats.NewAggregator(config.Stats),
		logger:     utils.EngineLogger,
		unitSystem: config.UnitSystem,
	}
}

// Snapshot returns the latest published snapshot, nil before the first update
func (e *Engine) Snapshot() *stats.Snapshot {
	return e.current.Load()
}

// Updating reports whether an update is in flight
func (e *Engine) Updating() bool {
	return e.updating.Load()
}

// Filters returns the current filter selection
func (e *Engine) Filters() models.FilterSelection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filters
}

// UnitSystem returns the current unit system
func (e *Engine) UnitSystem() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unitSystem
}

// Subscribe registers a listener for published snapshots
func (e *Engine) Subscribe(l Listener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// Update replaces the region and layers, fetches every layer and publishes a
// fresh snapshot. On failure the previous snapshot stays visible. If a newer
// update starts before this one completes, ErrStaleUpdate is returned.
func (e *Engine) Update(ctx context.Context, region models.Region, layers []models.Layer, filters models.FilterSelection) error {
	key := RequestKey(region, layers, filters)

	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.key = key
	e.region = region
	e.layers = layers
	e.filters = filters
	e.results = nil
	e.hot = nil
	e.mu.Unlock()
	e.updating.Store(true)

	e.logger.Info("Update %d started (key=%s region=%s layers=%d)", gen, key, region.Key(), len(layers))

	polygon, err := e.resolver.Resolve(ctx, region)
	if err != nil {
		appErr := utils.RegionResolutionFailure(err, region.Type)
		if !e.failed(gen) {
			updatesTotal.WithLabelValues("stale").Inc()
			return ErrStaleUpdate
		}
		updatesTotal.WithLabelValues("region_error").Inc()
		utils.LogAppError(appErr, e.logger)
		return appErr
	}

	if e.projects != nil {
		go e.lookupHotProjects(gen, polygon)
	}

	results, err := e.fetch(ctx, polygon, layers)
	if err != nil {
		if !e.failed(gen) {
			updatesTotal.WithLabelValues("stale").Inc()
			return ErrStaleUpdate
		}
		updatesTotal.WithLabelValues("fetch_error").Inc()
		utils.LogAppError(err, e.logger)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.generation {
		e.logger.Debug("Update %d discarded, generation is now %d", gen, e.generation)
		updatesTotal.WithLabelValues("stale").Inc()
		return ErrStaleUpdate
	}
	defer e.updating.Store(false)

	e.results = results
	e.publishLocked(e.renderLocked(), "update")
	updatesTotal.WithLabelValues("ok").Inc()
	return nil
}

// SetFilters records a new filter selection and, when results are retained,
// re-aggregates them without fetching. It returns the latest snapshot.
func (e *Engine) SetFilters(filters models.FilterSelection) *stats.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.filters = filters
	if e.generation > 0 {
		e.key = RequestKey(e.region, e.layers, filters)
	}
	if e.results == nil {
		// An in-flight update picks the new filters up when it aggregates
		return e.current.Load()
	}
	snap := e.renderLocked()
	e.publishLocked(snap, "filters")
	return snap
}

// SetUnitSystem switches the unit system used for length measures and
// re-renders the retained results without fetching.
func (e *Engine) SetUnitSystem(system string) (*stats.Snapshot, error) {
	if !units.IsValid(system) {
		return nil, utils.NewAppError(utils.ErrorTypeValidation, utils.CodeInvalidRequest,
			fmt.Sprintf("unknown unit system %q", system), "ENGINE")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.unitSystem = system
	if e.results == nil {
		return e.current.Load(), nil
	}
	snap := e.renderLocked()
	e.publishLocked(snap, "units")
	return snap, nil
}

// failed clears the updating flag for a failed update that is still current.
// It reports false when a newer update has taken over.
func (e *Engine) failed(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.generation {
		return false
	}
	e.updating.Store(false)
	return true
}

// fetch runs one search per layer and waits for all of them. Every per-layer
// error is joined into a single FeatureFetchFailure.
func (e *Engine) fetch(ctx context.Context, polygon orb.Polygon, layers []models.Layer) ([]models.LayerResult, error) {
	if e.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.FetchTimeout)
		defer cancel()
	}

	results := make([]models.LayerResult, len(layers))
	errs := make([]error, len(layers))

	var g errgroup.Group
	if e.config.MaxFetches > 0 {
		g.SetLimit(e.config.MaxFetches)
	}
	for i, layer := range layers {
		g.Go(func() error {
			start := time.Now()
			result, err := e.searcher.Search(ctx, polygon, layer)
			fetchDuration.WithLabelValues(layer.Name).Observe(time.Since(start).Seconds())
			if err != nil {
				errs[i] = fmt.Errorf("layer %s: %w", layer.Name, err)
				return errs[i]
			}
			result.Layer = layer
			if result.Features == nil {
				result.Features = []models.Feature{}
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		failed := make([]string, 0, len(layers))
		for i, layerErr := range errs {
			if layerErr != nil {
				failed = append(failed, layers[i].Name)
			}
		}
		return nil, utils.FeatureFetchFailure(errors.Join(errs...), failed)
	}
	return results, nil
}

func (e *Engine) lookupHotProjects(gen uint64, polygon orb.Polygon) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Hot projects lookup panicked: %v", r)
		}
	}()

	projects := e.projects.Search(polygon)

	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.generation {
		return
	}
	e.hot = projects

	// Before the update publishes, renderLocked picks e.hot up instead
	cur := e.current.Load()
	if cur == nil || cur.Generation != gen {
		return
	}
	e.publishLocked(cur.WithHotProjects(projects), "hot_projects")
	e.logger.Debug("Merged %d hot projects into generation %d", len(projects), gen)
}

// renderLocked aggregates the retained results with the current filters and
// unit system. Callers hold e.mu.
func (e *Engine) renderLocked() *stats.Snapshot {
	cfg := e.aggregator.Config()
	tallies := e.aggregator.Aggregate(e.results, e.filters)
	if tallies.MalformedBins > 0 {
		malformedBinsTotal.Add(float64(tallies.MalformedBins))
	}

	snap := stats.BuildSnapshot(tallies, e.filters, stats.RenderOptions{
		UnitSystem: e.unitSystem,
		Convert:    e.convert,
	})
	snap.ID = utils.GenerateID("snap")
	snap.Generation = e.generation
	snap.Key = e.key
	snap.Region = e.region
	snap.Histogram = stats.ActivityHistogram(e.results, e.config.HistogramMode, cfg.HistogramBins, cfg.MaxSamples)
	if e.hot != nil {
		snap = snap.WithHotProjects(e.hot)
	}
	return snap
}

func (e *Engine) publishLocked(snap *stats.Snapshot, trigger string) {
	e.current.Store(snap)
	snapshotsPublished.WithLabelValues(trigger).Inc()
	for _, l := range e.listeners {
		l(snap)
	}
}

// RequestKey digests a region, its layers and filters into a short identity
func RequestKey(region models.Region, layers []models.Layer, filters models.FilterSelection) string {
	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = l.Name
	}
	sum := blake2b.Sum256([]byte(region.Key() + "|" + strings.Join(names, ",") + "|" + filters.Key()))
	return hex.EncodeToString(sum[:8])
}
