package metrics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JSONLSink appends one JSON object per scalar to a file, the local
// replacement for an event-file writer. The file is flushed after every
// step so a crash loses at most the current iteration.
type JSONLSink struct {
	mu       sync.Mutex
	file     *os.File
	w        *bufio.Writer
	enc      *json.Encoder
	lastStep int
	now      func() time.Time
}

// NewJSONLSink opens (or creates) path for appending.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create scalar directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open scalar log: %w", err)
	}
	w := bufio.NewWriter(f)
	return &JSONLSink{file: f, w: w, enc: json.NewEncoder(w), lastStep: -1, now: time.Now}, nil
}

// AddScalar writes one record. Buffered records are flushed when the step
// changes.
func (s *JSONLSink) AddScalar(tag string, value float64, step int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastStep >= 0 && step != s.lastStep {
		if err := s.w.Flush(); err != nil {
			return fmt.Errorf("failed to flush scalar log: %w", err)
		}
	}
	s.lastStep = step

	if err := s.enc.Encode(Scalar{Tag: tag, Step: step, Value: value, Time: s.now().UTC()}); err != nil {
		return fmt.Errorf("failed to write scalar %s: %w", tag, err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to flush scalar log: %w", err)
	}
	return s.file.Close()
}

// ReadJSONL parses a scalar log written by JSONLSink.
func ReadJSONL(r io.Reader) ([]Scalar, error) {
	var out []Scalar
	dec := json.NewDecoder(r)
	for {
		var s Scalar
		err := dec.Decode(&s)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode scalar log: %w", err)
		}
		out = append(out, s)
	}
}
