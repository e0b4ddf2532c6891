package models

import (
	"fmt"

	"github.com/paulmach/orb"
)

// SamplingThreshold is the detail level below which tiles carry sampled bins
// instead of exhaustive features.
const SamplingThreshold = 13

// MaxSamples caps the number of samples stored per bin
const MaxSamples = 16

// Range is a closed interval. Scalars are represented as Point(v).
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Point returns the degenerate range [v, v]
func Point(v float64) Range {
	return Range{Min: v, Max: v}
}

// NewRange builds a range, swapping the bounds if given in reverse order
func NewRange(lo, hi float64) Range {
	if lo > hi {
		lo, hi = hi, lo
	}
	return Range{Min: lo, Max: hi}
}

// FilterSelection holds the time and experience windows chosen in the UI.
// A nil window is unbounded.
type FilterSelection struct {
	Time       *Range `json:"time,omitempty" yaml:"time,omitempty"`
	Experience *Range `json:"experience,omitempty" yaml:"experience,omitempty"`
}

// Key renders the selection for request identity
func (f FilterSelection) Key() string {
	return fmt.Sprintf("t=%s;e=%s", rangeKey(f.Time), rangeKey(f.Experience))
}

func rangeKey(r *Range) string {
	if r == nil {
		return "*"
	}
	return fmt.Sprintf("%g:%g", r.Min, r.Max)
}

// Feature is one record of a layer fetch. Without Samples it is an exact
// observation of a single edit; with Samples it is a sampled bin standing
// in for TotalCount features of a low detail level tile.
type Feature struct {
	DetailLevel   int        `json:"detailLevel"`
	Timestamp     Range      `json:"timestamp"`
	Experience    Range      `json:"experience"`
	ContributorID string     `json:"contributorId,omitempty"`
	SubTagValue   string     `json:"subTagValue,omitempty"`
	Length        *float64   `json:"length,omitempty"` // km, linear features only
	TotalCount    int        `json:"totalCount,omitempty"`
	Samples       *SampleSet `json:"-"`
}

// IsSampled reports whether the feature is a sampled bin
func (f Feature) IsSampled() bool {
	return f.Samples != nil
}

// LengthOrZero returns the feature length, 0 when absent
func (f Feature) LengthOrZero() float64 {
	if f.Length == nil {
		return 0
	}
	return *f.Length
}

// NewObservation builds an exact observation with scalar timestamp and experience
func NewObservation(timestamp, experience float64, contributorID, subTagValue string, detailLevel int) Feature {
	return Feature{
		DetailLevel:   detailLevel,
		Timestamp:     Point(timestamp),
		Experience:    Point(experience),
		ContributorID: contributorID,
		SubTagValue:   subTagValue,
	}
}

// NewSampledBin builds a sampled bin whose range summary spans all samples
func NewSampledBin(samples SampleSet, totalCount, detailLevel int) Feature {
	return Feature{
		DetailLevel: detailLevel,
		Timestamp:   spanOf(samples.Timestamps),
		Experience:  spanOf(samples.Experiences),
		TotalCount:  totalCount,
		Samples:     &samples,
	}
}

func spanOf(values []float64) Range {
	if len(values) == 0 {
		return Range{}
	}
	r := Point(values[0])
	for _, v := range values[1:] {
		if v < r.Min {
			r.Min = v
		}
		if v > r.Max {
			r.Max = v
		}
	}
	return r
}

// SampleSet holds the parallel per-sample arrays of a sampled bin
type SampleSet struct {
	Timestamps     []float64 `json:"timestamps"`
	Experiences    []float64 `json:"experiences"`
	ContributorIDs []string  `json:"contributorIds"`
	SubTagValues   []string  `json:"subTagValues"`
}

// Len returns the sample size (length of the timestamp array)
func (s *SampleSet) Len() int {
	return len(s.Timestamps)
}

// Validate checks that all parallel arrays have the same length
func (s *SampleSet) Validate() error {
	n := len(s.Timestamps)
	if len(s.Experiences) != n || len(s.ContributorIDs) != n || len(s.SubTagValues) != n {
		return fmt.Errorf("sample arrays differ in length: timestamps=%d experiences=%d contributors=%d tags=%d",
			n, len(s.Experiences), len(s.ContributorIDs), len(s.SubTagValues))
	}
	return nil
}

// LayerResult is one active layer's fetched feature set
type LayerResult struct {
	Layer     Layer     `json:"layer"`
	Features  []Feature `json:"features"`
	Malformed int       `json:"malformed"` // features dropped while decoding
}

// Sampled reports whether the batch is in sampled mode. The first feature's
// detail level decides for the whole batch.
func (r LayerResult) Sampled(threshold int) bool {
	return len(r.Features) > 0 && r.Features[0].DetailLevel < threshold
}

// Region types
const (
	RegionBBox    = "bbox"
	RegionPolygon = "polygon"
	RegionHot     = "hot"
)

// Region describes the user's selected area
type Region struct {
	Type      string       `json:"type"`
	BBox      [4]float64   `json:"bbox,omitempty"` // minLon, minLat, maxLon, maxLat
	Polygon   [][2]float64 `json:"polygon,omitempty"`
	ProjectID int          `json:"projectId,omitempty"`
}

// Key renders the region for request identity
func (r Region) Key() string {
	switch r.Type {
	case RegionBBox:
		return fmt.Sprintf("bbox:%g,%g,%g,%g", r.BBox[0], r.BBox[1], r.BBox[2], r.BBox[3])
	case RegionHot:
		return fmt.Sprintf("hot:%d", r.ProjectID)
	default:
		return fmt.Sprintf("%s:%v", r.Type, r.Polygon)
	}
}

// Project is a humanitarian mapping project
type Project struct {
	ID       int       `json:"id"`
	Name     string    `json:"name"`
	Bound    orb.Bound `json:"-"`
	Centroid orb.Point `json:"centroid"`
	Outline  orb.Ring  `json:"-"`
}
