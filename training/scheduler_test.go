package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchedule(t *testing.T) *Schedule {
	t.Helper()
	s, err := NewSchedule(ScheduleConfig{
		LearningRate:      5e-4,
		LearningRateAlpha: 0.05,
		WarmUpEnd:         500,
		EndIter:           10000,
		AnnealEnd:         2000,
	})
	require.NoError(t, err)
	return s
}

func TestWarmupIsLinear(t *testing.T) {
	s := testSchedule(t)
	prev := -1.0
	for iter := 0; iter < 500; iter++ {
		f := s.LearningRateFactor(iter)
		assert.InDelta(t, float64(iter)/500, f, 1e-12)
		assert.GreaterOrEqual(t, f, prev)
		prev = f
	}
}

func TestCosineDecayRange(t *testing.T) {
	s := testSchedule(t)
	for iter := 500; iter < 10000; iter += 37 {
		f := s.LearningRateFactor(iter)
		assert.GreaterOrEqual(t, f, 0.05, "iter %d", iter)
		assert.LessOrEqual(t, f, 1.0, "iter %d", iter)
	}
	assert.InDelta(t, 1.0, s.LearningRateFactor(500), 1e-12)
	assert.Equal(t, 0.05, s.LearningRateFactor(10000))
	assert.InDelta(t, 5e-4*0.05, s.LearningRate(10000), 1e-15)
}

func TestCosAnnealRatio(t *testing.T) {
	s := testSchedule(t)
	assert.Equal(t, float32(0), s.CosAnnealRatio(0))
	assert.InDelta(t, 0.5, s.CosAnnealRatio(1000), 1e-7)
	assert.Equal(t, float32(1), s.CosAnnealRatio(2000))
	assert.Equal(t, float32(1), s.CosAnnealRatio(9000))

	disabled, err := NewSchedule(ScheduleConfig{EndIter: 10, WarmUpEnd: 1})
	require.NoError(t, err)
	assert.Equal(t, float32(1), disabled.CosAnnealRatio(0))
}

func TestProgress(t *testing.T) {
	s := testSchedule(t)
	prev := float32(-1)
	for iter := 0; iter <= 5000; iter++ {
		p := s.Progress(iter)
		assert.Greater(t, p, prev, "iter %d", iter)
		prev = p
	}
	assert.Equal(t, float32(0.5), s.Progress(0))
	for _, iter := range []int{5001, 7000, 10000, 20000} {
		assert.Equal(t, float32(1), s.Progress(iter))
	}
}

func TestConstantScheduler(t *testing.T) {
	s, err := NewSchedule(ScheduleConfig{LearningRate: 1e-3, EndIter: 100, LRSchedule: "constant"})
	require.NoError(t, err)
	assert.Equal(t, "ConstantLR", s.Scheduler().GetName())
	assert.Equal(t, 1e-3, s.LearningRate(0))
	assert.Equal(t, 1e-3, s.LearningRate(99))

	_, err = NewSchedule(ScheduleConfig{LRSchedule: "step"})
	assert.Error(t, err)
}
