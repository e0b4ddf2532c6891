package stats

import (
	"github.com/lykmapipo/osm-analytics/internal/models"
	"github.com/lykmapipo/osm-analytics/internal/utils"
)

// SampleDelta is the contribution of one sampled bin to the running tallies.
// Entity tallies stay at sample resolution; only Measure is scaled up to the
// bin's true feature count.
type SampleDelta struct {
	Contributors *Tally
	SubTags      *Tally
	Measure      float64
	Matching     int
}

// ExpandSample re-derives per-sample matches for a sampled bin and scales the
// matching share back to an estimated feature count:
//
//	measure = totalCount * matching / min(maxSamples, totalCount)
func ExpandSample(bin models.Feature, selection models.FilterSelection, maxSamples int) (SampleDelta, error) {
	delta := SampleDelta{
		Contributors: NewTally(),
		SubTags:      NewTally(),
	}

	if bin.Samples == nil {
		return delta, utils.MalformedSampleRecord("feature carries no samples")
	}
	samples := bin.Samples
	if err := samples.Validate(); err != nil {
		return delta, utils.MalformedSampleRecord(err.Error())
	}

	for i, ts := range samples.Timestamps {
		if !Accepts(selection, models.Point(ts), models.Point(samples.Experiences[i])) {
			continue
		}
		delta.Contributors.Inc(samples.ContributorIDs[i])
		delta.SubTags.Inc(samples.SubTagValues[i])
		delta.Matching++
	}

	delta.Measure = scaleSamples(bin.TotalCount, delta.Matching, maxSamples)
	return delta, nil
}

func scaleSamples(totalCount, matching, maxSamples int) float64 {
	if matching == 0 || totalCount <= 0 {
		return 0
	}
	denominator := totalCount
	if maxSamples < denominator {
		denominator = maxSamples
	}
	return float64(totalCount) * float64(matching) / float64(denominator)
}
