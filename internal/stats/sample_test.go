package stats

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lykmapipo/osm-analytics/internal/models"
	"github.com/lykmapipo/osm-analytics/internal/utils"
)

// makeBin builds a bin whose samples have timestamps ts, experience 1 and
// contributor/tag ids derived from the sample index.
func makeBin(totalCount int, ts ...float64) models.Feature {
	samples := models.SampleSet{}
	for i, v := range ts {
		samples.Timestamps = append(samples.Timestamps, v)
		samples.Experiences = append(samples.Experiences, 1)
		samples.ContributorIDs = append(samples.ContributorIDs, "u"+strconv.Itoa(i))
		samples.SubTagValues = append(samples.SubTagValues, "tag"+strconv.Itoa(i%2))
	}
	return models.NewSampledBin(samples, totalCount, 10)
}

func TestExpandSample(t *testing.T) {
	t.Run("full sample of a large bin scales to the total", func(t *testing.T) {
		ts := make([]float64, 16)
		for i := range ts {
			ts[i] = 100
		}
		delta, err := ExpandSample(makeBin(100, ts...), models.FilterSelection{}, models.MaxSamples)
		require.NoError(t, err)
		assert.Equal(t, 16, delta.Matching)
		assert.InDelta(t, 100.0, delta.Measure, 1e-9)
	})

	t.Run("small bin scales by its own count", func(t *testing.T) {
		selection := models.FilterSelection{Time: rng(0, 10)}
		delta, err := ExpandSample(makeBin(5, 1, 2, 50, 60, 70), selection, models.MaxSamples)
		require.NoError(t, err)
		assert.Equal(t, 2, delta.Matching)
		assert.InDelta(t, 2.0, delta.Measure, 1e-9)
	})

	t.Run("entity tallies stay at sample weight", func(t *testing.T) {
		selection := models.FilterSelection{Time: rng(0, 10)}
		delta, err := ExpandSample(makeBin(1000, 1, 2, 3, 50), selection, models.MaxSamples)
		require.NoError(t, err)
		assert.Equal(t, 3, delta.Contributors.Size())
		assert.Equal(t, 3, delta.Contributors.Total())
		assert.Equal(t, 2, delta.SubTags.Count("tag0"))
		assert.Equal(t, 1, delta.SubTags.Count("tag1"))
		assert.InDelta(t, 1000.0*3/16, delta.Measure, 1e-9)
	})

	t.Run("no matches contributes nothing", func(t *testing.T) {
		selection := models.FilterSelection{Time: rng(500, 600)}
		delta, err := ExpandSample(makeBin(20, 1, 2, 3), selection, models.MaxSamples)
		require.NoError(t, err)
		assert.Zero(t, delta.Matching)
		assert.Zero(t, delta.Measure)
		assert.Zero(t, delta.Contributors.Size())
		assert.Zero(t, delta.SubTags.Size())
	})

	t.Run("zero total count contributes no measure", func(t *testing.T) {
		delta, err := ExpandSample(makeBin(0, 1, 2), models.FilterSelection{}, models.MaxSamples)
		require.NoError(t, err)
		assert.Equal(t, 2, delta.Matching)
		assert.Zero(t, delta.Measure)
	})

	t.Run("mismatched arrays fail fast", func(t *testing.T) {
		bin := makeBin(20, 1, 2, 3)
		bin.Samples.SubTagValues = bin.Samples.SubTagValues[:2]

		_, err := ExpandSample(bin, models.FilterSelection{}, models.MaxSamples)
		require.Error(t, err)
		assert.True(t, utils.IsCode(err, utils.CodeMalformedSample))
	})

	t.Run("feature without samples is malformed", func(t *testing.T) {
		_, err := ExpandSample(models.NewObservation(1, 1, "u", "t", 10), models.FilterSelection{}, models.MaxSamples)
		assert.True(t, utils.IsCode(err, utils.CodeMalformedSample))
	})
}
