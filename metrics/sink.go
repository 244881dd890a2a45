// Package metrics records training scalars (losses, statistics, learning
// rate) as named time series and exposes them to files, a database and an
// HTTP monitor.
package metrics

import (
	"errors"
	"math"
	"time"
)

// Scalar is one recorded value of a named series.
type Scalar struct {
	Tag   string    `json:"tag"`
	Step  int       `json:"step"`
	Value float64   `json:"value"`
	Time  time.Time `json:"time"`
}

// Sink receives scalars keyed by tag and step.
type Sink interface {
	AddScalar(tag string, value float64, step int) error
	Close() error
}

type discard struct{}

func (discard) AddScalar(string, float64, int) error { return nil }
func (discard) Close() error                        { return nil }

// Discard drops every scalar.
var Discard Sink = discard{}

// MultiSink fans scalars out to several sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink returns a sink writing to every non-nil sink in order.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// AddScalar writes to every sink and returns the first error.
func (m *MultiSink) AddScalar(tag string, value float64, step int) error {
	for _, s := range m.sinks {
		if err := s.AddScalar(tag, value, step); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// psnrFloor keeps log10 finite for a perfect reconstruction.
const psnrFloor = 1e-10

// MSE2PSNR converts a mean squared error of [0, 1] colours to PSNR in dB.
// A zero error maps to 100 dB.
func MSE2PSNR(mse float64) float64 {
	return -10.0 * math.Log10(math.Max(mse, psnrFloor))
}
