// Package geo turns user-selected regions into polygons
package geo

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/lykmapipo/osm-analytics/internal/models"
	"github.com/lykmapipo/osm-analytics/internal/utils"
)

// ProjectLookup finds a catalogued project by id
type ProjectLookup interface {
	ByID(id int) (models.Project, bool)
}

// Resolver resolves bbox and polygon regions locally and "hot" regions
// through the project catalogue.
type Resolver struct {
	projects ProjectLookup
	logger   *utils.Logger
}

// NewResolver creates a resolver. projects may be nil, in which case hot
// regions fail to resolve.
func NewResolver(projects ProjectLookup) *Resolver {
	return &Resolver{
		projects: projects,
		logger:   utils.EngineLogger,
	}
}

// Resolve returns the polygon covering region
func (r *Resolver) Resolve(ctx context.Context, region models.Region) (orb.Polygon, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch region.Type {
	case models.RegionBBox:
		return BBoxPolygon(region.BBox)
	case models.RegionPolygon:
		return RingPolygon(region.Polygon)
	case models.RegionHot:
		if r.projects == nil {
			return nil, fmt.Errorf("no project catalogue configured")
		}
		p, ok := r.projects.ByID(region.ProjectID)
		if !ok {
			return nil, fmt.Errorf("unknown project %d", region.ProjectID)
		}
		if len(p.Outline) >= 4 {
			return orb.Polygon{p.Outline}, nil
		}
		r.logger.Debug("project %d has no outline, using its bound", p.ID)
		return p.Bound.ToPolygon(), nil
	default:
		return nil, fmt.Errorf("unsupported region type %q", region.Type)
	}
}

// BBoxPolygon converts [minLon, minLat, maxLon, maxLat] into a polygon
func BBoxPolygon(bbox [4]float64) (orb.Polygon, error) {
	b := orb.Bound{
		Min: orb.Point{bbox[0], bbox[1]},
		Max: orb.Point{bbox[2], bbox[3]},
	}
	if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
		return nil, fmt.Errorf("invalid bbox %v: min exceeds max", bbox)
	}
	if err := checkLonLat(b.Min); err != nil {
		return nil, err
	}
	if err := checkLonLat(b.Max); err != nil {
		return nil, err
	}
	return b.ToPolygon(), nil
}

// RingPolygon builds a closed polygon from lon/lat pairs
func RingPolygon(coords [][2]float64) (orb.Polygon, error) {
	if len(coords) < 3 {
		return nil, fmt.Errorf("polygon needs at least 3 points, got %d", len(coords))
	}
	ring := make(orb.Ring, 0, len(coords)+1)
	for _, c := range coords {
		p := orb.Point{c[0], c[1]}
		if err := checkLonLat(p); err != nil {
			return nil, err
		}
		ring = append(ring, p)
	}
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}, nil
}

// BBoxParam renders a polygon's bound as the "minLon,minLat,maxLon,maxLat"
// query parameter used by the search service.
func BBoxParam(p orb.Polygon) string {
	b := p.Bound()
	return fmt.Sprintf("%g,%g,%g,%g", b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat())
}

func checkLonLat(p orb.Point) error {
	if p.Lon() < -180 || p.Lon() > 180 || p.Lat() < -90 || p.Lat() > 90 {
		return fmt.Errorf("coordinate %v out of range", p)
	}
	return nil
}
