package tensor

import (
	"fmt"
)

// New wraps data in a tensor of the given shape. The slice is not copied.
func New(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if len(data) != numElems {
		return nil, fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrShapeMismatch, shape, numElems, len(data))
	}

	s := make([]int, len(shape))
	copy(s, shape)
	return &Tensor{
		Shape:    s,
		Strides:  calculateStrides(s),
		Data:     data,
		NumElems: numElems,
	}, nil
}

// MustNew is New for shapes known to be valid at the call site.
func MustNew(shape []int, data []float32) *Tensor {
	t, err := New(shape, data)
	if err != nil {
		panic(err)
	}
	return t
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape ...int) *Tensor {
	return MustNew(shape, make([]float32, calculateNumElements(shape)))
}

// Ones allocates a tensor filled with 1.
func Ones(shape ...int) *Tensor {
	return Full(1, shape...)
}

// Full allocates a tensor filled with value.
func Full(value float32, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = value
	}
	return t
}

// FromRows builds an N×len(rows[0]) tensor from a slice of equally sized rows.
func FromRows(rows [][]float32) (*Tensor, error) {
	if len(rows) == 0 {
		return Zeros(0, 0), nil
	}
	width := len(rows[0])
	data := make([]float32, 0, len(rows)*width)
	for i, r := range rows {
		if len(r) != width {
			return nil, fmt.Errorf("%w: row %d has %d elements, expected %d", ErrShapeMismatch, i, len(r), width)
		}
		data = append(data, r...)
	}
	return New([]int{len(rows), width}, data)
}
