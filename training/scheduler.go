package training

import (
	"fmt"
	"math"
)

// LRScheduler defines the interface for learning rate scheduling strategies.
// All schedulers must be stateless pure functions of the step so that a
// resumed run reproduces the same rates.
type LRScheduler interface {
	// GetLR returns the learning rate for the given iteration
	GetLR(step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// WarmupCosineScheduler ramps linearly to the base rate over WarmUpEnd
// steps, then decays along a half cosine to Alpha·base at EndIter.
type WarmupCosineScheduler struct {
	WarmUpEnd int
	EndIter   int
	Alpha     float64
}

// NewWarmupCosineScheduler creates a warm-up + cosine decay scheduler
func NewWarmupCosineScheduler(warmUpEnd, endIter int, alpha float64) *WarmupCosineScheduler {
	return &WarmupCosineScheduler{WarmUpEnd: warmUpEnd, EndIter: endIter, Alpha: alpha}
}

// Factor returns the multiplier applied to the base learning rate.
func (s *WarmupCosineScheduler) Factor(step int) float64 {
	if step < s.WarmUpEnd {
		return float64(step) / float64(s.WarmUpEnd)
	}
	progress := float64(step-s.WarmUpEnd) / float64(s.EndIter-s.WarmUpEnd)
	return (math.Cos(math.Pi*progress)+1.0)*0.5*(1-s.Alpha) + s.Alpha
}

func (s *WarmupCosineScheduler) GetLR(step int, baseLR float64) float64 {
	return baseLR * s.Factor(step)
}

func (s *WarmupCosineScheduler) GetName() string {
	return "WarmupCosineLR"
}

// NoOpScheduler maintains constant learning rate
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(step int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}

// NewLRScheduler builds a scheduler by name: "warmup_cosine" (default) or
// "constant".
func NewLRScheduler(name string, sc ScheduleConfig) (LRScheduler, error) {
	switch name {
	case "", "warmup_cosine":
		return NewWarmupCosineScheduler(sc.WarmUpEnd, sc.EndIter, sc.LearningRateAlpha), nil
	case "constant":
		return &NoOpScheduler{}, nil
	default:
		return nil, fmt.Errorf("unknown learning rate schedule %q", name)
	}
}

// ScheduleConfig holds the static hyperparameters the schedule derives from.
type ScheduleConfig struct {
	LearningRate      float64
	LearningRateAlpha float64
	WarmUpEnd         int
	EndIter           int
	AnnealEnd         int
	LRSchedule        string
}

// Schedule derives learning rate, cosine-anneal ratio and coarse-to-fine
// progress from the iteration. Every value is recomputed on each call.
type Schedule struct {
	config    ScheduleConfig
	scheduler LRScheduler
}

// NewSchedule creates a schedule for the given configuration.
func NewSchedule(config ScheduleConfig) (*Schedule, error) {
	scheduler, err := NewLRScheduler(config.LRSchedule, config)
	if err != nil {
		return nil, err
	}
	return &Schedule{config: config, scheduler: scheduler}, nil
}

// Scheduler returns the learning rate scheduler in use.
func (s *Schedule) Scheduler() LRScheduler { return s.scheduler }

// LearningRateFactor returns the rate multiplier at iter.
func (s *Schedule) LearningRateFactor(iter int) float64 {
	return s.scheduler.GetLR(iter, 1.0)
}

// LearningRate returns the effective rate at iter.
func (s *Schedule) LearningRate(iter int) float64 {
	return s.scheduler.GetLR(iter, s.config.LearningRate)
}

// CosAnnealRatio returns 1 when annealing is disabled, otherwise
// min(1, iter/anneal_end).
func (s *Schedule) CosAnnealRatio(iter int) float32 {
	if s.config.AnnealEnd == 0 {
		return 1.0
	}
	return float32(math.Min(1.0, float64(iter)/float64(s.config.AnnealEnd)))
}

// Progress returns the coarse-to-fine unlock ratio: 0.5 + iter/end_iter
// up to the midpoint of training and 1 afterwards.
func (s *Schedule) Progress(iter int) float32 {
	if float64(iter) > float64(s.config.EndIter)/2 {
		return 1.0
	}
	return float32(0.5 + float64(iter)/float64(s.config.EndIter))
}
