package tensor

import (
	"fmt"
	"strings"
)

// Reshape returns a new tensor with the same data but different shape
// The new shape must have the same total number of elements
func (t *Tensor) Reshape(newShape ...int) (*Tensor, error) {
	shape := make([]int, len(newShape))
	copy(shape, newShape)

	newNumElems := 1
	negOneIdx := -1

	for i, dim := range shape {
		if dim < 0 {
			if dim != -1 {
				return nil, fmt.Errorf("negative dimension %d at index %d is not allowed (only -1 is allowed)", dim, i)
			}
			if negOneIdx >= 0 {
				return nil, fmt.Errorf("only one dimension can be -1")
			}
			negOneIdx = i
		} else {
			newNumElems *= dim
		}
	}

	if negOneIdx >= 0 {
		if newNumElems == 0 || t.NumElems%newNumElems != 0 {
			return nil, fmt.Errorf("%w: cannot infer -1 for tensor of size %d into %v", ErrShapeMismatch, t.NumElems, newShape)
		}
		shape[negOneIdx] = t.NumElems / newNumElems
		newNumElems = t.NumElems
	}

	if newNumElems != t.NumElems {
		return nil, fmt.Errorf("%w: cannot reshape tensor of size %d into shape %v (size %d)", ErrShapeMismatch, t.NumElems, shape, newNumElems)
	}

	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		Data:     t.Data, // Share the same underlying data
		NumElems: t.NumElems,
	}, nil
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return MustNew(t.Shape, data)
}

// Split cuts the tensor into consecutive chunks of at most chunkRows rows
// along the leading dimension. Chunks are views into the original data and
// preserve row order.
func (t *Tensor) Split(chunkRows int) ([]*Tensor, error) {
	if chunkRows <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkRows)
	}
	rows := t.Rows()
	rowSize := t.RowSize()
	chunks := make([]*Tensor, 0, (rows+chunkRows-1)/chunkRows)
	for start := 0; start < rows; start += chunkRows {
		end := min(start+chunkRows, rows)
		shape := append([]int{end - start}, t.Shape[1:]...)
		chunk, err := New(shape, t.Data[start*rowSize:end*rowSize])
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Concat joins tensors along the leading dimension. All trailing dimensions
// must match.
func Concat(parts ...*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("concat needs at least one tensor")
	}
	tail := parts[0].Shape[1:]
	rows := 0
	for i, p := range parts {
		if len(p.Shape) != len(tail)+1 {
			return nil, fmt.Errorf("%w: part %d has rank %d, expected %d", ErrShapeMismatch, i, len(p.Shape), len(tail)+1)
		}
		for j, d := range p.Shape[1:] {
			if d != tail[j] {
				return nil, fmt.Errorf("%w: part %d has shape %v, trailing dims must be %v", ErrShapeMismatch, i, p.Shape, tail)
			}
		}
		rows += p.Shape[0]
	}

	data := make([]float32, 0, rows*parts[0].RowSize())
	for _, p := range parts {
		data = append(data, p.Data...)
	}
	return New(append([]int{rows}, tail...), data)
}

// Equal reports whether both tensors have the same shape and bit-identical
// data.
func (t *Tensor) Equal(other *Tensor) bool {
	if !SameShape(t, other) {
		return false
	}
	for i, v := range t.Data {
		if other.Data[i] != v {
			return false
		}
	}
	return true
}

// PrintData formats up to maxElements values for debugging.
func (t *Tensor) PrintData(maxElements int) string {
	var sb strings.Builder
	sb.WriteString(t.String())
	sb.WriteString(" [")
	for i, v := range t.Data {
		if i >= maxElements {
			sb.WriteString(" ...")
			break
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%.4f", v))
	}
	sb.WriteString("]")
	return sb.String()
}
