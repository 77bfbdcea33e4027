package timeseries

import (
	"fmt"
	"sort"
	"time"
)

// Batch holds several named value sequences that share one timestamp index:
// Values[name][i] was observed at Timestamps[i].
type Batch struct {
	Timestamps []time.Time
	Values     map[string][]float64
}

// NewBatch validates that every value sequence matches the timestamp index
func NewBatch(timestamps []time.Time, values map[string][]float64) (Batch, error) {
	b := Batch{Timestamps: timestamps, Values: values}
	if err := b.Validate(); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// Validate checks that every value sequence has exactly Len() entries
func (b Batch) Validate() error {
	for _, name := range sortedKeys(b.Values) {
		if got := len(b.Values[name]); got != len(b.Timestamps) {
			return fmt.Errorf("%w: property %q has %d values for %d timestamps",
				ErrInvalidArgument, name, got, len(b.Timestamps))
		}
	}
	return nil
}

// ParseBatch parses raw timestamp strings and validates the batch
func ParseBatch(timestamps []string, values map[string][]float64) (Batch, error) {
	ts, err := ParseTimestamps(timestamps)
	if err != nil {
		return Batch{}, err
	}
	return NewBatch(ts, values)
}

// Len returns the length of the shared index
func (b Batch) Len() int {
	return len(b.Timestamps)
}

// Properties returns the property names in lexical order
func (b Batch) Properties() []string {
	return sortedKeys(b.Values)
}

// Series returns the named property as a timestamp-sorted Series
func (b Batch) Series(name string) (Series, bool) {
	values, ok := b.Values[name]
	if !ok {
		return Series{}, false
	}
	s, err := SeriesFromArrays(name, b.Timestamps, values)
	if err != nil {
		return Series{}, false
	}
	return s, true
}

func sortedKeys(m map[string][]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
