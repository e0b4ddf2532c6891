package stats

import (
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lykmapipo/osm-analytics/internal/models"
	"github.com/lykmapipo/osm-analytics/internal/units"
)

// LayerSummary is the per-layer part of a snapshot
type LayerSummary struct {
	Name             string           `json:"name"`
	Title            string           `json:"title"`
	TagKey           string           `json:"tagKey"`
	Sampled          bool             `json:"sampled"`
	Highlighted      []models.Feature `json:"highlighted"`
	HighlightedCount int              `json:"highlightedCount"`
	// Measure is the displayed number: the converted length sum for length
	// layers, otherwise the shared feature count.
	Measure float64 `json:"measure"`
	Unit    string  `json:"unit,omitempty"`
}

// Snapshot is the immutable result of one aggregation cycle
type Snapshot struct {
	ID           string                 `json:"id"`
	Generation   uint64                 `json:"generation"`
	Key          string                 `json:"key"`
	Region       models.Region          `json:"region"`
	Filters      models.FilterSelection `json:"filters"`
	UnitSystem   string                 `json:"unitSystem"`
	Layers       []LayerSummary         `json:"layers"`
	Contributors []RankedEntry          `json:"contributors"`
	SubTags      []RankedEntry          `json:"subTags"`
	TagKey       string                 `json:"tagKey,omitempty"`

	ContributorCount  int    `json:"contributorCount"`
	SubTagCount       int    `json:"subTagCount"`
	Estimated         bool   `json:"estimated"`
	TotalMeasure      int64  `json:"totalMeasure"`
	ContributorSketch uint64 `json:"contributorSketch"`
	MalformedBins     int    `json:"malformedBins"`

	HotProjects []models.Project `json:"hotProjects"`
	Histogram   Histogram        `json:"histogram"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

// RenderOptions controls how tallies become display values
type RenderOptions struct {
	UnitSystem string
	Convert    units.Converter
}

// BuildSnapshot ranks the tallies and renders per-layer measures. Identity
// fields (ID, generation, region, hot projects) are filled in by the caller.
func BuildSnapshot(t *Tallies, selection models.FilterSelection, opts RenderOptions) *Snapshot {
	convert := opts.Convert
	if convert == nil {
		convert = units.Convert
	}
	system := opts.UnitSystem
	if system == "" {
		system = units.Metric
	}

	shared := math.Round(t.FeatureCount)
	layers := make([]LayerSummary, 0, len(t.Layers))
	for _, lt := range t.Layers {
		summary := LayerSummary{
			Name:             lt.Layer.Name,
			Title:            lt.Layer.Title,
			TagKey:           lt.Layer.TagKey,
			Sampled:          lt.Sampled,
			Highlighted:      lt.Highlighted,
			HighlightedCount: len(lt.Highlighted),
			Measure:          shared,
		}
		if lt.Layer.MeasuresLength {
			summary.Measure = math.Round(convert(system, units.Distance, lt.Length))
			summary.Unit = units.Label(system, units.Distance)
		}
		layers = append(layers, summary)
	}

	s := &Snapshot{
		Filters:           selection,
		UnitSystem:        system,
		Layers:            layers,
		Contributors:      Rank(t.Contributors),
		SubTags:           Rank(t.SubTags),
		ContributorCount:  t.Contributors.Size(),
		SubTagCount:       t.SubTags.Size(),
		Estimated:         t.AnyEstimated,
		TotalMeasure:      int64(shared),
		ContributorSketch: t.ContributorSketch,
		MalformedBins:     t.MalformedBins,
		HotProjects:       []models.Project{},
		GeneratedAt:       time.Now().UTC(),
	}
	if len(t.Layers) > 0 {
		s.TagKey = t.Layers[0].Layer.TagKey
	}
	return s
}

// WithHotProjects returns a copy of the snapshot carrying the given projects.
// The receiver is left untouched.
func (s *Snapshot) WithHotProjects(projects []models.Project) *Snapshot {
	cp := *s
	cp.HotProjects = make([]models.Project, len(projects))
	copy(cp.HotProjects, projects)
	return &cp
}

// ContributorLabel renders the distinct contributor count, with a trailing
// "+" when the count is a lower bound from sampled data.
func (s *Snapshot) ContributorLabel() string {
	return countLabel(s.ContributorCount, s.Estimated)
}

// SubTagLabel renders the distinct sub-tag count like ContributorLabel
func (s *Snapshot) SubTagLabel() string {
	return countLabel(s.SubTagCount, s.Estimated)
}

func countLabel(n int, estimated bool) string {
	label := humanize.Comma(int64(n))
	if estimated {
		label += "+"
	}
	return label
}
