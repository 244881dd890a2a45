package optimizer

import (
	"fmt"
)

// Parameter is one trainable tensor together with its accumulated gradient.
// Components own their parameters; the optimizer only updates Data in place
// from Grad.
type Parameter struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32
}

// NewParameter allocates a parameter initialised from data.
func NewParameter(name string, shape []int, data []float32) (*Parameter, error) {
	size := calculateTensorSize(shape)
	if len(data) != size {
		return nil, fmt.Errorf("parameter %s: shape %v needs %d values, got %d", name, shape, size, len(data))
	}
	p := &Parameter{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  append([]float32(nil), data...),
		Grad:  make([]float32, size),
	}
	return p, nil
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Size returns the number of scalar values in the parameter.
func (p *Parameter) Size() int {
	return len(p.Data)
}

// ParamGroup is a named set of parameters sharing one learning rate.
type ParamGroup struct {
	Name         string
	Params       []*Parameter
	LearningRate float32
}

// calculateTensorSize calculates the number of elements in a tensor
func calculateTensorSize(shape []int) int {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}
