package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lykmapipo/osm-analytics/internal/utils"
)

func TestFeatureFromProperties(t *testing.T) {
	t.Run("exact observation with scalar values", func(t *testing.T) {
		props := map[string]interface{}{
			"_timestamp":      1450000000.0,
			"_userExperience": 42.0,
			"_uid":            123.0,
			"_tagValue":       "residential",
			"_length":         1.5,
			"tile":            map[string]interface{}{"z": 14.0},
		}

		f, err := FeatureFromProperties(props, 0)
		require.NoError(t, err)
		assert.False(t, f.IsSampled())
		assert.Equal(t, 14, f.DetailLevel)
		assert.Equal(t, Point(1450000000), f.Timestamp)
		assert.Equal(t, Point(42), f.Experience)
		assert.Equal(t, "123", f.ContributorID)
		assert.Equal(t, "residential", f.SubTagValue)
		require.NotNil(t, f.Length)
		assert.InDelta(t, 1.5, *f.Length, 1e-9)
	})

	t.Run("exact observation with ranges", func(t *testing.T) {
		props := map[string]interface{}{
			"_timestampMin":      200.0,
			"_timestampMax":      100.0,
			"_userExperienceMin": 1.0,
			"_userExperienceMax": 5.0,
		}

		f, err := FeatureFromProperties(props, 15)
		require.NoError(t, err)
		assert.Equal(t, 15, f.DetailLevel)
		assert.Equal(t, Range{Min: 100, Max: 200}, f.Timestamp)
		assert.Equal(t, Range{Min: 1, Max: 5}, f.Experience)
		assert.Nil(t, f.Length)
	})

	t.Run("sampled bin decodes parallel arrays once", func(t *testing.T) {
		props := map[string]interface{}{
			"_timestamps":      "10;20;30",
			"_userExperiences": "1;2;3",
			"_uids":            "7;8;7",
			"_tagValues":       "a;b;a",
			"_count":           40.0,
			"tile":             map[string]interface{}{"z": 10.0},
		}

		f, err := FeatureFromProperties(props, 0)
		require.NoError(t, err)
		require.True(t, f.IsSampled())
		assert.Equal(t, 10, f.DetailLevel)
		assert.Equal(t, 40, f.TotalCount)
		assert.Equal(t, []float64{10, 20, 30}, f.Samples.Timestamps)
		assert.Equal(t, []string{"7", "8", "7"}, f.Samples.ContributorIDs)
		assert.Equal(t, Range{Min: 10, Max: 30}, f.Timestamp)
		assert.NoError(t, f.Samples.Validate())
	})

	t.Run("unparseable sample number is malformed", func(t *testing.T) {
		props := map[string]interface{}{
			"_timestamps":      "10;x",
			"_userExperiences": "1;2",
		}

		_, err := FeatureFromProperties(props, 0)
		require.Error(t, err)
		assert.True(t, utils.IsCode(err, utils.CodeMalformedSample))
	})

	nonFinite := []struct {
		name  string
		props map[string]interface{}
	}{
		{"NaN sample timestamp", map[string]interface{}{"_timestamps": "1;NaN;3", "_userExperiences": "1;2;3"}},
		{"Inf sample timestamp", map[string]interface{}{"_timestamps": "1;Inf;3", "_userExperiences": "1;2;3"}},
		{"negative Inf sample experience", map[string]interface{}{"_timestamps": "1;2", "_userExperiences": "-Inf;2"}},
		{"NaN scalar timestamp", map[string]interface{}{"_timestamp": "NaN", "_userExperience": 1.0}},
		{"Inf range bound", map[string]interface{}{"_timestampMin": 1.0, "_timestampMax": "+Inf"}},
		{"non-numeric experience", map[string]interface{}{"_timestamp": 1.0, "_userExperience": "many"}},
		{"NaN bin count", map[string]interface{}{"_timestamps": "1", "_userExperiences": "1", "_count": "NaN"}},
	}
	for _, tt := range nonFinite {
		t.Run(tt.name+" is malformed", func(t *testing.T) {
			_, err := FeatureFromProperties(tt.props, 0)
			require.Error(t, err)
			assert.True(t, utils.IsCode(err, utils.CodeMalformedSample))
		})
	}

	t.Run("numeric strings are accepted", func(t *testing.T) {
		f, err := FeatureFromProperties(map[string]interface{}{"_timestamp": " 12.5 ", "_userExperience": nil}, 14)
		require.NoError(t, err)
		assert.Equal(t, Point(12.5), f.Timestamp)
		assert.Equal(t, Point(0), f.Experience)
	})
}

func TestSplitNumbersRejectsNonFinite(t *testing.T) {
	_, err := SplitNumbers("1;NaN")
	assert.Error(t, err)
	_, err = SplitNumbers("Inf")
	assert.Error(t, err)

	got, err := SplitNumbers("1; 2.5")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5}, got)
}

func TestSampleSetValidate(t *testing.T) {
	s := SampleSet{
		Timestamps:     []float64{1, 2},
		Experiences:    []float64{1},
		ContributorIDs: []string{"a", "b"},
		SubTagValues:   []string{"x", "y"},
	}
	assert.Error(t, s.Validate())

	s.Experiences = append(s.Experiences, 2)
	assert.NoError(t, s.Validate())
}

func TestNewRangeNormalisesBounds(t *testing.T) {
	assert.Equal(t, Range{Min: 1, Max: 9}, NewRange(9, 1))
	assert.Equal(t, Range{Min: 3, Max: 3}, Point(3))
}

func TestLayerResultSampled(t *testing.T) {
	exact := LayerResult{Features: []Feature{{DetailLevel: 13}, {DetailLevel: 5}}}
	sampled := LayerResult{Features: []Feature{{DetailLevel: 12}, {DetailLevel: 14}}}

	assert.False(t, exact.Sampled(SamplingThreshold))
	assert.True(t, sampled.Sampled(SamplingThreshold))
	assert.False(t, LayerResult{}.Sampled(SamplingThreshold))
}

func TestLayerCatalogue(t *testing.T) {
	c := NewLayerCatalogue(DefaultLayers())

	l, ok := c.Lookup("highways")
	require.True(t, ok)
	assert.True(t, l.MeasuresLength)

	_, ok = c.Lookup("unknown")
	assert.False(t, ok)
	assert.Len(t, c.All(), 4)
}
