package tensor

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
)

// ErrShapeMismatch is returned when two tensors (or a tensor and its data)
// disagree on shape.
var ErrShapeMismatch = errors.New("tensor shape mismatch")

// Tensor is a dense, row-major float32 array living in host memory.
// Rows are the leading dimension: a batch of N rays with 3 components is
// stored as Shape [N, 3].
type Tensor struct {
	Shape    []int
	Strides  []int
	Data     []float32
	NumElems int
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, t.NumElems)
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

// validateShape rejects negative dimensions. Zero-sized dimensions are
// allowed so that empty point clouds and empty chunks can be represented.
func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim < 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be non-negative", i, dim)
		}
	}
	return nil
}

// Rows returns the size of the leading dimension.
func (t *Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// RowSize returns the number of elements in one row.
func (t *Tensor) RowSize() int {
	if len(t.Shape) <= 1 {
		return 1
	}
	return calculateNumElements(t.Shape[1:])
}

// Row returns a view of row i.
func (t *Tensor) Row(i int) []float32 {
	n := t.RowSize()
	return t.Data[i*n : (i+1)*n]
}

// Sum adds every element in float64 precision and returns the result as
// float32.
func (t *Tensor) Sum() float32 {
	var s float64
	for _, v := range t.Data {
		s += float64(v)
	}
	return float32(s)
}

// Mean returns the arithmetic mean of all elements, or 0 for an empty tensor.
func (t *Tensor) Mean() float32 {
	if t.NumElems == 0 {
		return 0
	}
	return t.Sum() / float32(t.NumElems)
}

// AllFinite reports whether the tensor holds no NaN or Inf values.
func (t *Tensor) AllFinite() bool {
	for _, v := range t.Data {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// SameShape reports whether both tensors have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}
