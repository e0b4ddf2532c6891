package stats

// Tally is a counter keyed by string that remembers the order in which keys
// were first seen, so iteration and tie-breaking never depend on map order.
type Tally struct {
	keys   []string
	counts map[string]int
}

// NewTally creates an empty tally
func NewTally() *Tally {
	return &Tally{counts: make(map[string]int)}
}

// Add increments key by n, registering it on first sight
func (t *Tally) Add(key string, n int) {
	if _, ok := t.counts[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.counts[key] += n
}

// Inc increments key by one
func (t *Tally) Inc(key string) {
	t.Add(key, 1)
}

// Count returns the count for key
func (t *Tally) Count(key string) int {
	return t.counts[key]
}

// Size returns the number of distinct keys
func (t *Tally) Size() int {
	return len(t.keys)
}

// Total returns the sum of all counts
func (t *Tally) Total() int {
	total := 0
	for _, k := range t.keys {
		total += t.counts[k]
	}
	return total
}

// Keys returns the keys in first-seen order
func (t *Tally) Keys() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// Merge folds other into t, preserving other's first-seen order for new keys
func (t *Tally) Merge(other *Tally) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		t.Add(k, other.counts[k])
	}
}
