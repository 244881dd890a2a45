package optimizer

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGroups(t *testing.T) (*Parameter, *Parameter, []*ParamGroup) {
	t.Helper()
	w, err := NewParameter("sdf.center", []int{3}, []float32{0.1, -0.2, 0.3})
	require.NoError(t, err)
	b, err := NewParameter("color.albedo", []int{3}, []float32{0, 0, 0})
	require.NoError(t, err)
	return w, b, []*ParamGroup{
		{Name: "sdf", Params: []*Parameter{w}},
		{Name: "color", Params: []*Parameter{b}},
	}
}

func TestAdamConfig(t *testing.T) {
	config := DefaultAdamConfig()
	assert.Equal(t, float32(0.001), config.LearningRate)
	assert.Equal(t, float32(0.9), config.Beta1)
	assert.Equal(t, float32(0.999), config.Beta2)
	assert.Equal(t, float32(1e-8), config.Epsilon)
	assert.Equal(t, float32(0), config.WeightDecay)
}

func TestNewParameterRejectsWrongSize(t *testing.T) {
	_, err := NewParameter("bad", []int{2, 2}, []float32{1, 2, 3})
	assert.Error(t, err)
}

func TestNewAdamRejectsDuplicates(t *testing.T) {
	w, _, _ := newTestGroups(t)
	_, err := NewAdam(DefaultAdamConfig(),
		&ParamGroup{Name: "a", Params: []*Parameter{w}},
		&ParamGroup{Name: "b", Params: []*Parameter{w}},
	)
	assert.Error(t, err)

	_, err = NewAdam(DefaultAdamConfig())
	assert.Error(t, err)
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	w, _, groups := newTestGroups(t)
	adam, err := NewAdam(AdamConfig{LearningRate: 0.01, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}, groups...)
	require.NoError(t, err)

	w.Grad[0] = 2.0
	w.Grad[1] = -0.5
	require.NoError(t, adam.Step())

	// After bias correction the first step is lr * sign(grad).
	assert.InDelta(t, 0.1-0.01, w.Data[0], 1e-6)
	assert.InDelta(t, -0.2+0.01, w.Data[1], 1e-6)
	assert.InDelta(t, 0.3, w.Data[2], 1e-6)
	assert.Equal(t, uint64(1), adam.GetStepCount())
}

func TestAdamUpdateLearningRateAppliesToAllGroups(t *testing.T) {
	_, _, groups := newTestGroups(t)
	adam, err := NewAdam(DefaultAdamConfig(), groups...)
	require.NoError(t, err)

	adam.UpdateLearningRate(0.05)
	for _, g := range adam.Groups {
		assert.Equal(t, float32(0.05), g.LearningRate, g.Name)
	}
	assert.Equal(t, float32(0.05), adam.LearningRate())
}

func TestAdamZeroGrad(t *testing.T) {
	w, b, groups := newTestGroups(t)
	adam, err := NewAdam(DefaultAdamConfig(), groups...)
	require.NoError(t, err)

	w.Grad[0], b.Grad[2] = 1, 2
	adam.ZeroGrad()
	assert.Equal(t, []float32{0, 0, 0}, w.Grad)
	assert.Equal(t, []float32{0, 0, 0}, b.Grad)
}

// A state that survives a JSON round trip must continue the trajectory
// bit-for-bit.
func TestAdamStateRoundTripIsExact(t *testing.T) {
	run := func(adam *Adam, w, b *Parameter, steps int, offset int) {
		for s := 0; s < steps; s++ {
			k := float32(s + offset)
			w.Grad[0], w.Grad[1], w.Grad[2] = 0.3*k, -0.1, 0.05*k*k
			b.Grad[0], b.Grad[1], b.Grad[2] = -0.2, 0.7/(k+1), 0.01
			require.NoError(t, adam.Step())
		}
	}

	w1, b1, g1 := newTestGroups(t)
	a1, err := NewAdam(DefaultAdamConfig(), g1...)
	require.NoError(t, err)
	run(a1, w1, b1, 6, 0)

	w2, b2, g2 := newTestGroups(t)
	a2, err := NewAdam(DefaultAdamConfig(), g2...)
	require.NoError(t, err)
	run(a2, w2, b2, 3, 0)

	state, err := a2.GetState()
	require.NoError(t, err)
	raw, err := json.Marshal(state)
	require.NoError(t, err)

	var decoded OptimizerState
	require.NoError(t, json.Unmarshal(raw, &decoded))

	w3, b3, g3 := newTestGroups(t)
	copy(w3.Data, w2.Data)
	copy(b3.Data, b2.Data)
	a3, err := NewAdam(DefaultAdamConfig(), g3...)
	require.NoError(t, err)
	require.NoError(t, a3.LoadState(&decoded))
	assert.Equal(t, uint64(3), a3.GetStepCount())

	run(a3, w3, b3, 3, 3)
	assert.Equal(t, w1.Data, w3.Data)
	assert.Equal(t, b1.Data, b3.Data)
}

func TestAdamLoadStateRejectsMismatch(t *testing.T) {
	_, _, groups := newTestGroups(t)
	adam, err := NewAdam(DefaultAdamConfig(), groups...)
	require.NoError(t, err)

	assert.Error(t, adam.LoadState(&OptimizerState{Type: "SGD"}))

	state, err := adam.GetState()
	require.NoError(t, err)
	state.StateData = state.StateData[:1]
	assert.Error(t, adam.LoadState(state))
}

func TestExtractBufferIndex(t *testing.T) {
	tests := []struct {
		name     string
		expected int
	}{
		{"momentum_0", 0},
		{"variance_12", 12},
		{"squared_grad_avg_3", 3},
		{"nounderscore", -1},
		{"momentum_x", -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, extractBufferIndex(tt.name), tt.name)
	}
}

func TestExtractParams(t *testing.T) {
	params := map[string]interface{}{
		"lr32":  float32(0.5),
		"lr64":  float64(0.25),
		"steps": float64(12),
		"bad":   "0.1",
	}
	assert.Equal(t, float32(0.5), extractFloat32Param(params, "lr32", 0))
	assert.Equal(t, float32(0.25), extractFloat32Param(params, "lr64", 0))
	assert.Equal(t, float32(0.001), extractFloat32Param(params, "bad", 0.001))
	assert.Equal(t, uint64(12), extractUint64Param(params, "steps", 0))
	assert.Equal(t, uint64(7), extractUint64Param(params, "missing", 7))
}

func TestAdamWeightDecay(t *testing.T) {
	w, err := NewParameter("w", []int{1}, []float32{1})
	require.NoError(t, err)
	adam, err := NewAdam(AdamConfig{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8, WeightDecay: 0.5},
		&ParamGroup{Name: "g", Params: []*Parameter{w}})
	require.NoError(t, err)

	require.NoError(t, adam.Step())
	// Zero gradient plus decay still moves the weight toward zero.
	assert.Less(t, float64(w.Data[0]), 1.0)
	assert.False(t, math.IsNaN(float64(w.Data[0])))
}
