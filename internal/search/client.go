// Package search fetches layer features for a region from the vector tile
// search service.
package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	internalgeo "github.com/lykmapipo/osm-analytics/internal/geo"
	"github.com/lykmapipo/osm-analytics/internal/models"
	"github.com/lykmapipo/osm-analytics/internal/utils"
)

// Config holds search client configuration
type Config struct {
	BaseURL             string        `json:"baseUrl" yaml:"baseUrl"`                         // Search service root, layers are fetched from {BaseURL}/{layer}
	Timeout             time.Duration `json:"timeout" yaml:"timeout"`                         // Per-request timeout (default: 30s)
	MaxIdleConnsPerHost int           `json:"maxIdleConnsPerHost" yaml:"maxIdleConnsPerHost"` // Connection pool size per host (default: 20)
	DetailLevel         int           `json:"detailLevel" yaml:"detailLevel"`                 // Detail level assumed when a feature has no tile zoom (default: 13)
}

// DefaultConfig returns default search client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:             "http://localhost:7778/search",
		Timeout:             30 * time.Second,
		MaxIdleConnsPerHost: 20,
		DetailLevel:         models.SamplingThreshold,
	}
}

// Client queries the search service, reusing one HTTP client for connection pooling
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *utils.Logger
}

// NewClient creates a new search client
func NewClient(config Config) *Client {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxIdleConnsPerHost <= 0 {
		config.MaxIdleConnsPerHost = defaults.MaxIdleConnsPerHost
	}
	if config.DetailLevel <= 0 {
		config.DetailLevel = defaults.DetailLevel
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     utils.SearchLogger,
	}
}

// Search fetches the features of layer inside region. Features whose
// properties cannot be decoded are skipped and counted in Malformed.
func (c *Client) Search(ctx context.Context, region orb.Polygon, layer models.Layer) (models.LayerResult, error) {
	result := models.LayerResult{Layer: layer}

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/" + url.PathEscape(layer.Name)
	query := url.Values{}
	query.Set("bbox", internalgeo.BBoxParam(region))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return result, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result, fmt.Errorf("search request for %s failed: %w", layer.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return result, fmt.Errorf("search request for %s returned status %d: %s", layer.Name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, fmt.Errorf("failed to read search response: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return result, fmt.Errorf("failed to decode search response for %s: %w", layer.Name, err)
	}

	result.Features, result.Malformed = c.decode(fc, region, layer)
	if result.Malformed > 0 {
		c.logger.Warn("Skipped %d malformed features in layer %s", result.Malformed, layer.Name)
	}
	c.logger.Debug("Fetched %d features for %s in %v", len(result.Features), layer.Name, time.Since(start))
	return result, nil
}

func (c *Client) decode(fc *geojson.FeatureCollection, region orb.Polygon, layer models.Layer) ([]models.Feature, int) {
	features := make([]models.Feature, 0, len(fc.Features))
	skipped := 0
	for i, gf := range fc.Features {
		if !Within(region, gf.Geometry) {
			continue
		}
		f, err := models.FeatureFromProperties(gf.Properties, c.config.DetailLevel)
		if err != nil {
			skipped++
			c.logger.Debug("feature %d of %s: %v", i, layer.Name, err)
			continue
		}
		if layer.MeasuresLength && f.Length == nil && gf.Geometry != nil {
			if km := lineLength(gf.Geometry); km > 0 {
				f.Length = &km
			}
		}
		features = append(features, f)
	}
	return features, skipped
}

// Within reports whether a feature geometry falls in region. Points must lie
// inside the polygon; other geometries only need their bounds to overlap it.
// Features without geometry are kept.
func Within(region orb.Polygon, g orb.Geometry) bool {
	if g == nil || len(region) == 0 {
		return true
	}
	if p, ok := g.(orb.Point); ok {
		return planar.PolygonContains(region, p)
	}
	return region.Bound().Intersects(g.Bound())
}

// lineLength returns the geodesic length of linear geometries in km
func lineLength(g orb.Geometry) float64 {
	switch g.(type) {
	case orb.LineString, orb.MultiLineString:
		return geo.LengthHaversine(g) / 1000
	default:
		return 0
	}
}
