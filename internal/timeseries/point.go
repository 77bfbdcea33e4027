package timeseries

import "time"

// Point represents a single timestamped sample
type Point struct {
	T time.Time `json:"t"` // Timestamp
	V float64   `json:"v"` // Value
}

// NewPoint creates a new Point with the given timestamp and value
func NewPoint(t time.Time, v float64) Point {
	return Point{T: t, V: v}
}
