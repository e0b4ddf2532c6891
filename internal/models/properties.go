package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lykmapipo/osm-analytics/internal/utils"
)

// Property names used by the vector tile service
const (
	propTimestamp       = "_timestamp"
	propTimestampMin    = "_timestampMin"
	propTimestampMax    = "_timestampMax"
	propExperience      = "_userExperience"
	propExperienceMin   = "_userExperienceMin"
	propExperienceMax   = "_userExperienceMax"
	propUID             = "_uid"
	propTagValue        = "_tagValue"
	propLength          = "_length"
	propCount           = "_count"
	propTimestamps      = "_timestamps"
	propUserExperiences = "_userExperiences"
	propUIDs            = "_uids"
	propTagValues       = "_tagValues"
	propTile            = "tile"
)

// numericProperties must hold finite numbers whenever they are present
var numericProperties = []string{
	propTimestamp, propTimestampMin, propTimestampMax,
	propExperience, propExperienceMin, propExperienceMax,
	propLength, propCount,
}

// FeatureFromProperties decodes a tile feature's property map. Bins are
// recognised by the presence of "_timestamps"; their semicolon-delimited
// sample arrays are split into typed slices here and never re-parsed.
// fallbackLevel is used when the feature carries no tile zoom.
func FeatureFromProperties(props map[string]interface{}, fallbackLevel int) (Feature, error) {
	level := fallbackLevel
	if tile, ok := props[propTile].(map[string]interface{}); ok {
		if z, ok := number(tile["z"]); ok {
			level = int(z)
		}
	}

	if key, bad := invalidNumber(props); bad {
		return Feature{}, utils.MalformedSampleRecord(fmt.Sprintf("%s: not a finite number", key))
	}

	if raw, ok := props[propTimestamps].(string); ok {
		return sampledFromProperties(props, raw, level)
	}

	f := Feature{
		DetailLevel:   level,
		Timestamp:     rangeProperty(props, propTimestamp, propTimestampMin, propTimestampMax),
		Experience:    rangeProperty(props, propExperience, propExperienceMin, propExperienceMax),
		ContributorID: stringProperty(props[propUID]),
		SubTagValue:   stringProperty(props[propTagValue]),
	}
	if l, ok := number(props[propLength]); ok {
		f.Length = &l
	}
	return f, nil
}

func sampledFromProperties(props map[string]interface{}, rawTimestamps string, level int) (Feature, error) {
	timestamps, err := SplitNumbers(rawTimestamps)
	if err != nil {
		return Feature{}, utils.MalformedSampleRecord(fmt.Sprintf("%s: %v", propTimestamps, err))
	}
	experiences, err := SplitNumbers(stringProperty(props[propUserExperiences]))
	if err != nil {
		return Feature{}, utils.MalformedSampleRecord(fmt.Sprintf("%s: %v", propUserExperiences, err))
	}

	samples := SampleSet{
		Timestamps:     timestamps,
		Experiences:    experiences,
		ContributorIDs: SplitStrings(stringProperty(props[propUIDs])),
		SubTagValues:   SplitStrings(stringProperty(props[propTagValues])),
	}

	count := samples.Len()
	if c, ok := number(props[propCount]); ok {
		count = int(c)
	}

	f := NewSampledBin(samples, count, level)
	if _, ok := props[propTimestampMin]; ok {
		f.Timestamp = rangeProperty(props, propTimestamp, propTimestampMin, propTimestampMax)
	}
	if _, ok := props[propExperienceMin]; ok {
		f.Experience = rangeProperty(props, propExperience, propExperienceMin, propExperienceMax)
	}
	if l, ok := number(props[propLength]); ok {
		f.Length = &l
	}
	return f, nil
}

// SplitNumbers parses a semicolon-delimited list of finite numbers. An empty
// string yields an empty slice.
func SplitNumbers(s string) ([]float64, error) {
	if s == "" {
		return []float64{}, nil
	}
	parts := strings.Split(s, ";")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if !isFinite(v) {
			return nil, fmt.Errorf("element %d: %q is not finite", i, p)
		}
		out[i] = v
	}
	return out, nil
}

// SplitStrings splits a semicolon-delimited list. An empty string yields an
// empty slice.
func SplitStrings(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ";")
}

func rangeProperty(props map[string]interface{}, scalar, lo, hi string) Range {
	if v, ok := number(props[scalar]); ok {
		return Point(v)
	}
	min, _ := number(props[lo])
	max, _ := number(props[hi])
	return NewRange(min, max)
}

func invalidNumber(props map[string]interface{}) (string, bool) {
	for _, key := range numericProperties {
		v, ok := props[key]
		if !ok || v == nil {
			continue
		}
		if _, ok := number(v); !ok {
			return key, true
		}
	}
	return "", false
}

// number converts a property value to a finite float64
func number(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	return f, isFinite(f)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func stringProperty(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}
