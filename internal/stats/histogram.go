package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lykmapipo/osm-analytics/internal/models"
)

// Histogram modes
const (
	HistogramRecency    = "recency"
	HistogramExperience = "experience"
)

// Histogram is the distribution of all fetched features over one dimension,
// independent of the filter selection. It backs the range sliders.
type Histogram struct {
	Mode   string    `json:"mode"`
	Edges  []float64 `json:"edges"`
	Counts []float64 `json:"counts"`
}

type weightedValue struct {
	value  float64
	weight float64
}

// ActivityHistogram bins every fetched feature by timestamp (recency) or user
// experience. Sampled bins contribute each sample weighted by the bin's
// scale factor; exact features contribute the midpoint of their range.
func ActivityHistogram(results []models.LayerResult, mode string, bins, maxSamples int) Histogram {
	h := Histogram{Mode: mode, Edges: []float64{}, Counts: []float64{}}
	if bins <= 0 {
		return h
	}

	var points []weightedValue
	for _, result := range results {
		for _, f := range result.Features {
			points = appendFeaturePoints(points, f, mode, maxSamples)
		}
	}
	if len(points) == 0 {
		return h
	}

	sort.Slice(points, func(i, j int) bool { return points[i].value < points[j].value })
	xs := make([]float64, len(points))
	weights := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.value
		weights[i] = p.weight
	}

	lo, hi := xs[0], xs[len(xs)-1]
	if lo == hi {
		bins = 1
	}
	dividers := make([]float64, bins+1)
	// stat.Histogram needs every value strictly below the last divider
	floats.Span(dividers, lo, math.Nextafter(hi, math.Inf(1)))

	h.Edges = dividers
	h.Counts = stat.Histogram(nil, dividers, xs, weights)
	return h
}

func appendFeaturePoints(points []weightedValue, f models.Feature, mode string, maxSamples int) []weightedValue {
	if f.Samples != nil {
		if f.Samples.Validate() != nil || f.Samples.Len() == 0 {
			return points
		}
		weight := scaleSamples(f.TotalCount, 1, maxSamples)
		if weight == 0 {
			return points
		}
		values := f.Samples.Timestamps
		if mode == HistogramExperience {
			values = f.Samples.Experiences
		}
		for _, v := range values {
			if finite(v) {
				points = append(points, weightedValue{value: v, weight: weight})
			}
		}
		return points
	}

	r := f.Timestamp
	if mode == HistogramExperience {
		r = f.Experience
	}
	mid := (r.Min + r.Max) / 2
	if !finite(mid) {
		return points
	}
	return append(points, weightedValue{value: mid, weight: 1})
}

// gonum's histogram panics on NaN and infinite values
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
