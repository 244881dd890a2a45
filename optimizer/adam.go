package optimizer

import (
	"fmt"
	"math"
)

// Adam implements the Adam optimizer over host-resident parameter groups.
// Moment buffers are indexed by the flattened parameter order across groups,
// which is also the order used when the state is checkpointed.
type Adam struct {
	// Hyperparameters
	Beta1       float32 // Momentum decay (typically 0.9)
	Beta2       float32 // Variance decay (typically 0.999)
	Epsilon     float32 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay float32 // L2 regularization coefficient

	Groups []*ParamGroup

	MomentumBuffers [][]float32 // First moment for each parameter
	VarianceBuffers [][]float32 // Second moment for each parameter

	// Step tracking for bias correction
	StepCount uint64

	params []*Parameter
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdam creates an Adam optimizer. Every group starts at
// config.LearningRate.
func NewAdam(config AdamConfig, groups ...*ParamGroup) (*Adam, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("no parameter groups provided")
	}

	adam := &Adam{
		Beta1:       config.Beta1,
		Beta2:       config.Beta2,
		Epsilon:     config.Epsilon,
		WeightDecay: config.WeightDecay,
		Groups:      groups,
	}

	seen := make(map[*Parameter]bool)
	for _, g := range groups {
		g.LearningRate = config.LearningRate
		for _, p := range g.Params {
			if seen[p] {
				return nil, fmt.Errorf("parameter %s appears in more than one group", p.Name)
			}
			seen[p] = true
			adam.params = append(adam.params, p)
			adam.MomentumBuffers = append(adam.MomentumBuffers, make([]float32, p.Size()))
			adam.VarianceBuffers = append(adam.VarianceBuffers, make([]float32, p.Size()))
		}
	}
	if len(adam.params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}

	return adam, nil
}

// Params returns every managed parameter in checkpoint order.
func (adam *Adam) Params() []*Parameter {
	return adam.params
}

// ZeroGrad clears every gradient.
func (adam *Adam) ZeroGrad() {
	for _, p := range adam.params {
		p.ZeroGrad()
	}
}

// Step performs a single Adam optimization step
func (adam *Adam) Step() error {
	adam.StepCount++

	t := float64(adam.StepCount)
	biasCorrection1 := 1 - math.Pow(float64(adam.Beta1), t)
	biasCorrection2 := 1 - math.Pow(float64(adam.Beta2), t)

	idx := 0
	for _, g := range adam.Groups {
		stepSize := float64(g.LearningRate) / biasCorrection1
		for _, p := range g.Params {
			m := adam.MomentumBuffers[idx]
			v := adam.VarianceBuffers[idx]
			if len(p.Grad) != len(p.Data) {
				return fmt.Errorf("parameter %s: gradient has %d values, data has %d", p.Name, len(p.Grad), len(p.Data))
			}
			for i, grad := range p.Grad {
				if adam.WeightDecay != 0 {
					grad += adam.WeightDecay * p.Data[i]
				}
				m[i] = adam.Beta1*m[i] + (1-adam.Beta1)*grad
				v[i] = adam.Beta2*v[i] + (1-adam.Beta2)*grad*grad
				denom := math.Sqrt(float64(v[i]))/math.Sqrt(biasCorrection2) + float64(adam.Epsilon)
				p.Data[i] -= float32(stepSize * float64(m[i]) / denom)
			}
			idx++
		}
	}

	return nil
}

// UpdateLearningRate updates the learning rate of every group
func (adam *Adam) UpdateLearningRate(newLR float32) {
	for _, g := range adam.Groups {
		g.LearningRate = newLR
	}
}

// LearningRate returns the learning rate of the first group.
func (adam *Adam) LearningRate() float32 {
	return adam.Groups[0].LearningRate
}

// GetStepCount returns the current step count
func (adam *Adam) GetStepCount() uint64 {
	return adam.StepCount
}

// GetState copies the moments and hyperparameters out for checkpointing.
func (adam *Adam) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": float64(adam.LearningRate()),
			"beta1":         float64(adam.Beta1),
			"beta2":         float64(adam.Beta2),
			"epsilon":       float64(adam.Epsilon),
			"weight_decay":  float64(adam.WeightDecay),
			"step_count":    float64(adam.StepCount),
		},
	}

	for i, p := range adam.params {
		state.StateData = append(state.StateData,
			*extractBufferState(adam.MomentumBuffers[i], p.Shape, fmt.Sprintf("momentum_%d", i), "momentum"),
			*extractBufferState(adam.VarianceBuffers[i], p.Shape, fmt.Sprintf("variance_%d", i), "variance"),
		)
	}

	return state, nil
}

// LoadState restores moments, step count and hyperparameters.
func (adam *Adam) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	adam.Beta1 = extractFloat32Param(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat32Param(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat32Param(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.UpdateLearningRate(extractFloat32Param(state.Parameters, "learning_rate", adam.LearningRate()))
	adam.StepCount = extractUint64Param(state.Parameters, "step_count", 0)

	restored := 0
	for _, tensor := range state.StateData {
		idx := extractBufferIndex(tensor.Name)
		if idx < 0 || idx >= len(adam.params) {
			return fmt.Errorf("invalid buffer index %d in state tensor %s", idx, tensor.Name)
		}

		switch tensor.StateType {
		case "momentum":
			if err := restoreBufferState(adam.MomentumBuffers[idx], tensor.Data, tensor.Name); err != nil {
				return err
			}
		case "variance":
			if err := restoreBufferState(adam.VarianceBuffers[idx], tensor.Data, tensor.Name); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown state type %q for tensor %s", tensor.StateType, tensor.Name)
		}
		restored++
	}

	if restored != 2*len(adam.params) {
		return fmt.Errorf("expected %d state tensors, got %d", 2*len(adam.params), restored)
	}

	return nil
}

// GetStats returns optimizer statistics
func (adam *Adam) GetStats() AdamStats {
	total := 0
	for _, p := range adam.params {
		total += p.Size()
	}
	return AdamStats{
		StepCount:     adam.StepCount,
		LearningRate:  adam.LearningRate(),
		Beta1:         adam.Beta1,
		Beta2:         adam.Beta2,
		Epsilon:       adam.Epsilon,
		WeightDecay:   adam.WeightDecay,
		NumParameters: total,
	}
}

// AdamStats provides statistics about the Adam optimizer
type AdamStats struct {
	StepCount     uint64
	LearningRate  float32
	Beta1         float32
	Beta2         float32
	Epsilon       float32
	WeightDecay   float32
	NumParameters int
}

var _ Optimizer = (*Adam)(nil)
