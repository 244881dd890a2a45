package tensor

import (
	"errors"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateStrides(t *testing.T) {
	tests := []struct {
		shape    []int
		expected []int
	}{
		{[]int{}, []int{}},
		{[]int{5}, []int{1}},
		{[]int{2, 3}, []int{3, 1}},
		{[]int{2, 3, 4}, []int{12, 4, 1}},
		{[]int{1, 5, 1, 3}, []int{15, 3, 3, 1}},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, calculateStrides(test.shape), "calculateStrides(%v)", test.shape)
	}
}

func TestValidateShape(t *testing.T) {
	tests := []struct {
		shape   []int
		wantErr bool
	}{
		{[]int{}, false},
		{[]int{5}, false},
		{[]int{0, 3}, false},
		{[]int{-1}, true},
		{[]int{2, -3}, true},
	}

	for _, test := range tests {
		err := validateShape(test.shape)
		assert.Equal(t, test.wantErr, err != nil, "validateShape(%v) error = %v", test.shape, err)
	}
}

func TestNewRejectsWrongLength(t *testing.T) {
	_, err := New([]int{2, 3}, make([]float32, 5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestReshape(t *testing.T) {
	x := MustNew([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})

	y, err := x.Reshape(3, -1)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, y.Shape)
	assert.Equal(t, x.Data, y.Data)

	_, err = x.Reshape(4, 2)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	_, err = x.Reshape(-1, -1)
	assert.Error(t, err)
}

func TestSplitPreservesOrder(t *testing.T) {
	data := make([]float32, 7*3)
	for i := range data {
		data[i] = float32(i)
	}
	x := MustNew([]int{7, 3}, data)

	chunks, err := x.Split(3)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{3, 3}, chunks[0].Shape)
	assert.Equal(t, []int{1, 3}, chunks[2].Shape)

	joined, err := Concat(chunks...)
	require.NoError(t, err)
	assert.True(t, joined.Equal(x))
}

func TestSplitRejectsNonPositiveChunk(t *testing.T) {
	_, err := Ones(4, 3).Split(0)
	assert.Error(t, err)
}

func TestConcatTrailingMismatch(t *testing.T) {
	_, err := Concat(Ones(2, 3), Ones(2, 1))
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestReductions(t *testing.T) {
	x := MustNew([]int{4, 1}, []float32{1, 2, 3, 4})
	assert.InDelta(t, 10, x.Sum(), 1e-6)
	assert.InDelta(t, 2.5, x.Mean(), 1e-6)
	assert.Equal(t, float32(0), Zeros(0, 3).Mean())

	assert.True(t, x.AllFinite())
	x.Data[2] = math32.NaN()
	assert.False(t, x.AllFinite())
}

func TestFromRows(t *testing.T) {
	x, err := FromRows([][]float32{{1, 2}, {3, 4}, {5, 6}})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, x.Shape)
	assert.Equal(t, []float32{3, 4}, x.Row(1))

	_, err = FromRows([][]float32{{1, 2}, {3}})
	assert.Error(t, err)
}
