package stats

import "github.com/lykmapipo/osm-analytics/internal/models"

// Matches reports whether value overlaps the closed filter interval.
// A nil filter is unbounded.
func Matches(value models.Range, filter *models.Range) bool {
	if filter == nil {
		return true
	}
	return value.Max >= filter.Min && value.Min <= filter.Max
}

// Accepts applies the time and experience windows; both must match.
func Accepts(selection models.FilterSelection, timestamp, experience models.Range) bool {
	return Matches(timestamp, selection.Time) && Matches(experience, selection.Experience)
}

// AcceptsFeature applies the selection to a feature's range summary
func AcceptsFeature(selection models.FilterSelection, f models.Feature) bool {
	return Accepts(selection, f.Timestamp, f.Experience)
}
