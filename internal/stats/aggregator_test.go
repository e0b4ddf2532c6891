package stats

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lykmapipo/osm-analytics/internal/models"
)

var (
	buildings = models.Layer{Name: "buildings", Title: "Buildings", TagKey: "building"}
	pois      = models.Layer{Name: "pois", Title: "Points of Interest", TagKey: "amenity"}
	highways  = models.Layer{Name: "highways", Title: "Roads", TagKey: "highway", MeasuresLength: true}
)

func km(v float64) *float64 {
	return &v
}

func exactLayer(layer models.Layer, features ...models.Feature) models.LayerResult {
	return models.LayerResult{Layer: layer, Features: features}
}

func TestAggregateExactMode(t *testing.T) {
	agg := NewAggregator(DefaultConfig())
	selection := models.FilterSelection{Time: rng(100, 200)}

	results := []models.LayerResult{
		exactLayer(buildings,
			models.NewObservation(150, 5, "alice", "house", 14),
			models.NewObservation(180, 7, "bob", "school", 14),
			models.NewObservation(300, 9, "carol", "house", 14),
			models.NewObservation(120, 1, "alice", "house", 14),
		),
	}

	tallies := agg.Aggregate(results, selection)

	require.Len(t, tallies.Layers, 1)
	assert.False(t, tallies.Layers[0].Sampled)
	assert.Len(t, tallies.Layers[0].Highlighted, 3)
	assert.False(t, tallies.AnyEstimated)
	assert.Equal(t, 3.0, tallies.FeatureCount)
	assert.Equal(t, []string{"alice", "bob"}, tallies.Contributors.Keys())
	assert.Equal(t, 2, tallies.Contributors.Count("alice"))
	assert.Equal(t, 2, tallies.SubTags.Count("house"))
	assert.Equal(t, 1, tallies.SubTags.Count("school"))
	// sketch ignores the selection
	assert.InDelta(t, 3, float64(tallies.ContributorSketch), 1)
}

func TestAggregateRangeSummaryOverlap(t *testing.T) {
	agg := NewAggregator(DefaultConfig())
	selection := models.FilterSelection{Time: rng(100, 200)}

	straddling := models.Feature{
		DetailLevel: 14,
		Timestamp:   models.NewRange(50, 120),
		Experience:  models.NewRange(1, 3),
	}
	before := models.Feature{
		DetailLevel: 14,
		Timestamp:   models.NewRange(10, 99),
		Experience:  models.NewRange(1, 3),
	}

	tallies := agg.Aggregate([]models.LayerResult{exactLayer(buildings, straddling, before)}, selection)
	assert.Len(t, tallies.Layers[0].Highlighted, 1)
	assert.Equal(t, 1.0, tallies.FeatureCount)
}

func TestAggregateSampledMode(t *testing.T) {
	agg := NewAggregator(DefaultConfig())
	selection := models.FilterSelection{Time: rng(100, 200)}

	inside := makeBin(20, 150, 50, 60, 400)
	outside := makeBin(40, 10, 20)
	results := []models.LayerResult{{Layer: buildings, Features: []models.Feature{inside, outside}}}

	tallies := agg.Aggregate(results, selection)

	require.Len(t, tallies.Layers, 1)
	assert.True(t, tallies.Layers[0].Sampled)
	assert.True(t, tallies.AnyEstimated)
	// only the first bin's range summary overlaps the selection
	assert.Len(t, tallies.Layers[0].Highlighted, 1)
	assert.InDelta(t, 20.0/16, tallies.FeatureCount, 1e-9)
	assert.Equal(t, []string{"u0"}, tallies.Contributors.Keys())
}

func TestAggregateFirstFeatureDecidesMode(t *testing.T) {
	agg := NewAggregator(DefaultConfig())

	// Exact first feature: the bin that follows is treated as an observation.
	bin := makeBin(100, 1, 2, 3)
	results := []models.LayerResult{exactLayer(buildings,
		models.NewObservation(1, 1, "alice", "house", 14),
		bin,
	)}

	tallies := agg.Aggregate(results, models.FilterSelection{})
	assert.False(t, tallies.Layers[0].Sampled)
	assert.False(t, tallies.AnyEstimated)
	assert.Equal(t, 2.0, tallies.FeatureCount)
}

func TestAggregateSharedFeatureCount(t *testing.T) {
	agg := NewAggregator(DefaultConfig())

	results := []models.LayerResult{
		exactLayer(buildings,
			models.NewObservation(1, 1, "alice", "house", 14),
			models.NewObservation(2, 1, "bob", "house", 14),
		),
		exactLayer(pois,
			models.NewObservation(3, 1, "carol", "cafe", 14),
		),
	}

	tallies := agg.Aggregate(results, models.FilterSelection{})
	assert.Equal(t, 3.0, tallies.FeatureCount)

	snap := BuildSnapshot(tallies, models.FilterSelection{}, RenderOptions{})
	require.Len(t, snap.Layers, 2)
	// both count layers show the combined total
	assert.Equal(t, 3.0, snap.Layers[0].Measure)
	assert.Equal(t, 3.0, snap.Layers[1].Measure)
	assert.Equal(t, 2, snap.Layers[0].HighlightedCount)
	assert.Equal(t, 1, snap.Layers[1].HighlightedCount)
}

func TestAggregateEstimateFlagIsDashboardWide(t *testing.T) {
	agg := NewAggregator(DefaultConfig())

	results := []models.LayerResult{
		exactLayer(buildings, models.NewObservation(1, 1, "alice", "house", 14)),
		{Layer: pois, Features: []models.Feature{makeBin(4, 1, 2)}},
	}

	tallies := agg.Aggregate(results, models.FilterSelection{})
	assert.True(t, tallies.AnyEstimated)
	assert.False(t, tallies.Layers[0].Sampled)
	assert.True(t, tallies.Layers[1].Sampled)
}

func TestAggregateSkipsMalformedBins(t *testing.T) {
	agg := NewAggregator(DefaultConfig())

	broken := makeBin(50, 1, 2, 3)
	broken.Samples.ContributorIDs = broken.Samples.ContributorIDs[:1]
	good := makeBin(8, 1, 2)

	results := []models.LayerResult{{Layer: buildings, Features: []models.Feature{broken, good}}}
	tallies := agg.Aggregate(results, models.FilterSelection{})

	assert.Equal(t, 1, tallies.MalformedBins)
	assert.Equal(t, 1, tallies.Layers[0].Malformed)
	assert.InDelta(t, 2.0, tallies.FeatureCount, 1e-9)
	assert.Equal(t, []string{"u0", "u1"}, tallies.Contributors.Keys())
}

func TestAggregateCountsFeaturesDroppedWhileDecoding(t *testing.T) {
	agg := NewAggregator(DefaultConfig())

	broken := makeBin(50, 1, 2)
	broken.Samples.Experiences = nil
	results := []models.LayerResult{
		{Layer: buildings, Features: []models.Feature{broken, makeBin(8, 1)}, Malformed: 2},
		{Layer: pois, Malformed: 1},
	}
	tallies := agg.Aggregate(results, models.FilterSelection{})

	assert.Equal(t, 4, tallies.MalformedBins)
	assert.Equal(t, 3, tallies.Layers[0].Malformed)
	assert.Equal(t, 1, tallies.Layers[1].Malformed)

	snap := BuildSnapshot(tallies, models.FilterSelection{}, RenderOptions{})
	assert.Equal(t, 4, snap.MalformedBins)
}

func TestAggregateLengthLayer(t *testing.T) {
	agg := NewAggregator(DefaultConfig())
	selection := models.FilterSelection{Time: rng(0, 10)}

	road := func(ts, length float64) models.Feature {
		f := models.NewObservation(ts, 1, "alice", "primary", 14)
		f.Length = km(length)
		return f
	}
	results := []models.LayerResult{exactLayer(highways, road(1, 2.5), road(5, 1.5), road(50, 100))}

	tallies := agg.Aggregate(results, selection)
	assert.InDelta(t, 4.0, tallies.Layers[0].Length, 1e-9)

	snap := BuildSnapshot(tallies, selection, RenderOptions{UnitSystem: "imperial"})
	assert.Equal(t, "mi", snap.Layers[0].Unit)
	assert.Equal(t, 2.0, snap.Layers[0].Measure)
}

func TestAggregateIsDeterministic(t *testing.T) {
	agg := NewAggregator(DefaultConfig())
	selection := models.FilterSelection{Time: rng(0, 100), Experience: rng(0, 50)}

	results := []models.LayerResult{
		exactLayer(buildings,
			models.NewObservation(10, 5, "bob", "house", 14),
			models.NewObservation(20, 5, "alice", "school", 14),
			models.NewObservation(30, 5, "bob", "house", 14),
		),
		{Layer: pois, Features: []models.Feature{makeBin(30, 5, 15, 500), makeBin(3, 7)}},
	}

	first := agg.Aggregate(results, selection)
	second := agg.Aggregate(results, selection)

	if diff := cmp.Diff(first, second, cmp.AllowUnexported(Tally{})); diff != "" {
		t.Errorf("Aggregate() not deterministic (-first +second):\n%s", diff)
	}

	a := BuildSnapshot(first, selection, RenderOptions{})
	b := BuildSnapshot(second, selection, RenderOptions{})
	assert.Equal(t, a.Contributors, b.Contributors)
	assert.Equal(t, a.SubTags, b.SubTags)
}

func TestAggregateEndToEnd(t *testing.T) {
	agg := NewAggregator(DefaultConfig())
	selection := models.FilterSelection{Time: rng(100, 200)}

	results := []models.LayerResult{
		exactLayer(buildings,
			models.NewObservation(150, 1, "u1", "house", 14),
			models.NewObservation(180, 1, "u2", "house", 14),
			models.NewObservation(300, 1, "u3", "garage", 14),
		),
		{Layer: pois, Features: []models.Feature{func() models.Feature {
			bin := makeBin(20, 150, 50, 60, 400)
			bin.Samples.ContributorIDs[0] = "u9"
			return bin
		}()}},
	}

	snap := BuildSnapshot(agg.Aggregate(results, selection), selection, RenderOptions{})

	assert.Equal(t, 3, snap.ContributorCount)
	assert.True(t, snap.Estimated)
	assert.Equal(t, "3+", snap.ContributorLabel())
	assert.Equal(t, "building", snap.TagKey)
	// 2 exact features plus 20*1/16 from the bin, rounded
	assert.Equal(t, int64(3), snap.TotalMeasure)
	assert.Equal(t, "house", snap.SubTags[0].Key)
	assert.Equal(t, 2, snap.SubTags[0].Count)
}

func TestAggregateNoLayers(t *testing.T) {
	tallies := NewAggregator(Config{}).Aggregate(nil, models.FilterSelection{})
	assert.Zero(t, tallies.FeatureCount)
	assert.Empty(t, tallies.Layers)

	snap := BuildSnapshot(tallies, models.FilterSelection{}, RenderOptions{})
	assert.Empty(t, snap.Contributors)
	assert.Empty(t, snap.TagKey)
	assert.Equal(t, "0", snap.ContributorLabel())
}
