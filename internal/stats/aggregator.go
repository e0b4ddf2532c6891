package stats

import (
	"github.com/axiomhq/hyperloglog"

	"github.com/lykmapipo/osm-analytics/internal/models"
	"github.com/lykmapipo/osm-analytics/internal/utils"
)

// Config holds aggregation configuration
type Config struct {
	SamplingThreshold int `json:"samplingThreshold" yaml:"samplingThreshold"` // Detail level below which batches are sampled (default: 13)
	MaxSamples        int `json:"maxSamples" yaml:"maxSamples"`               // Sample cap per bin, used as scaling floor (default: 16)
	HistogramBins     int `json:"histogramBins" yaml:"histogramBins"`         // Buckets in the activity histogram (default: 20)
}

// DefaultConfig returns default aggregation configuration
func DefaultConfig() Config {
	return Config{
		SamplingThreshold: models.SamplingThreshold,
		MaxSamples:        models.MaxSamples,
		HistogramBins:     20,
	}
}

// LayerTally is the per-layer part of an aggregation pass
type LayerTally struct {
	Layer       models.Layer
	Sampled     bool
	Highlighted []models.Feature
	Length      float64 // sum of highlighted lengths, km
	Malformed   int
}

// Tallies is the raw output of one aggregation pass
type Tallies struct {
	Contributors *Tally
	SubTags      *Tally
	// FeatureCount is one accumulator shared by every layer. Non-length
	// layers all display this same value.
	FeatureCount  float64
	Layers        []LayerTally
	AnyEstimated  bool
	MalformedBins int
	// ContributorSketch estimates distinct contributors across all fetched
	// data, ignoring the filter selection.
	ContributorSketch uint64
}

// Aggregator folds layer results into contributor, sub-tag and measure tallies
type Aggregator struct {
	config Config
	logger *utils.Logger
}

// NewAggregator creates a new aggregator
func NewAggregator(config Config) *Aggregator {
	if config.SamplingThreshold <= 0 {
		config.SamplingThreshold = models.SamplingThreshold
	}
	if config.MaxSamples <= 0 {
		config.MaxSamples = models.MaxSamples
	}
	return &Aggregator{
		config: config,
		logger: utils.EngineLogger,
	}
}

// Config returns the aggregator configuration
func (a *Aggregator) Config() Config {
	return a.config
}

// Aggregate runs one pass over results with the given selection. It is a pure
// function of its inputs; malformed bins are logged and skipped.
func (a *Aggregator) Aggregate(results []models.LayerResult, selection models.FilterSelection) *Tallies {
	t := &Tallies{
		Contributors: NewTally(),
		SubTags:      NewTally(),
		Layers:       make([]LayerTally, 0, len(results)),
	}
	sketch := hyperloglog.New14()

	for _, result := range results {
		lt := LayerTally{
			Layer:       result.Layer,
			Sampled:     result.Sampled(a.config.SamplingThreshold),
			Highlighted: make([]models.Feature, 0, len(result.Features)),
			Malformed:   result.Malformed,
		}
		t.MalformedBins += result.Malformed

		for _, f := range result.Features {
			insertContributors(sketch, f)
			if AcceptsFeature(selection, f) {
				lt.Highlighted = append(lt.Highlighted, f)
				lt.Length += f.LengthOrZero()
			}
		}

		if lt.Sampled {
			// Samples only give a lower bound on distinct entities
			t.AnyEstimated = true
			for i, bin := range result.Features {
				delta, err := ExpandSample(bin, selection, a.config.MaxSamples)
				if err != nil {
					lt.Malformed++
					t.MalformedBins++
					a.logger.Warn("skipping bin %d of layer %s: %v", i, result.Layer.Name, err)
					continue
				}
				t.Contributors.Merge(delta.Contributors)
				t.SubTags.Merge(delta.SubTags)
				t.FeatureCount += delta.Measure
			}
		} else {
			for _, f := range lt.Highlighted {
				t.Contributors.Inc(f.ContributorID)
				t.SubTags.Inc(f.SubTagValue)
				t.FeatureCount++
			}
		}

		t.Layers = append(t.Layers, lt)
	}

	t.ContributorSketch = sketch.Estimate()
	return t
}

func insertContributors(sketch *hyperloglog.Sketch, f models.Feature) {
	if f.Samples != nil {
		for _, id := range f.Samples.ContributorIDs {
			if id != "" {
				sketch.Insert([]byte(id))
			}
		}
		return
	}
	if f.ContributorID != "" {
		sketch.Insert([]byte(f.ContributorID))
	}
}
