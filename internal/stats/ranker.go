package stats

import "sort"

// RankedEntry is one row of a leaderboard
type RankedEntry struct {
	Key   string  `json:"key"`
	Count int     `json:"count"`
	Share float64 `json:"share"` // percentage of the leaderboard total
}

// Rank converts a tally into a leaderboard sorted by descending count.
// Ties keep first-seen order.
func Rank(t *Tally) []RankedEntry {
	if t == nil || t.Size() == 0 {
		return []RankedEntry{}
	}

	total := t.Total()
	entries := make([]RankedEntry, 0, t.Size())
	for _, key := range t.keys {
		count := t.counts[key]
		entry := RankedEntry{Key: key, Count: count}
		if total > 0 {
			entry.Share = float64(count) / float64(total) * 100
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})

	return entries
}
