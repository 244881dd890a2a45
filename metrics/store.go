package metrics

import (
	"sort"
	"sync"
	"time"
)

// Point is one (step, value) sample of a series.
type Point struct {
	Step  int     `json:"step"`
	Value float64 `json:"value"`
}

// Status summarizes the run as seen through recorded scalars.
type Status struct {
	RunID   string             `json:"run_id"`
	Step    int                `json:"step"`
	Updated time.Time          `json:"updated"`
	Latest  map[string]float64 `json:"latest"`
}

// Store keeps every series in memory for the monitor. It is safe for one
// writer and any number of readers.
type Store struct {
	mu      sync.RWMutex
	runID   string
	series  map[string][]Point
	step    int
	updated time.Time
	limit   int
}

// NewStore creates a store. When limit > 0 only the most recent limit
// points of each series are kept.
func NewStore(runID string, limit int) *Store {
	return &Store{runID: runID, series: make(map[string][]Point), limit: limit}
}

// AddScalar records a point.
func (s *Store) AddScalar(tag string, value float64, step int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	points := append(s.series[tag], Point{Step: step, Value: value})
	if s.limit > 0 && len(points) > s.limit {
		points = points[len(points)-s.limit:]
	}
	s.series[tag] = points
	if step > s.step {
		s.step = step
	}
	s.updated = time.Now()
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Tags returns the recorded series names in sorted order.
func (s *Store) Tags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tags := make([]string, 0, len(s.series))
	for tag := range s.series {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Series returns a copy of one series and whether it exists.
func (s *Store) Series(tag string) ([]Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	points, ok := s.series[tag]
	if !ok {
		return nil, false
	}
	return append([]Point(nil), points...), true
}

// Status returns the latest value of every series.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{RunID: s.runID, Step: s.step, Updated: s.updated, Latest: make(map[string]float64, len(s.series))}
	for tag, points := range s.series {
		if len(points) > 0 {
			st.Latest[tag] = points[len(points)-1].Value
		}
	}
	return st
}
