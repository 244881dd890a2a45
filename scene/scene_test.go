package scene

import (
	"errors"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsawler/go-hfs/tensor"
)

func constantOutput(n int) *RenderOutput {
	return &RenderOutput{
		Color:        tensor.Full(0.5, n, 3),
		SVal:         tensor.Full(20, n, 1),
		CDF:          tensor.Full(0.1, n, 1),
		WeightMax:    tensor.Full(0.3, n, 1),
		WeightSum:    tensor.Full(0.9, n, 1),
		NCCCost:      tensor.Full(0.2, n, 1),
		InsideSphere: tensor.Ones(n, 1),
	}
}

func TestRenderOutputCapabilities(t *testing.T) {
	out := constantOutput(4)
	assert.False(t, out.HasNormals())
	assert.False(t, out.HasDepth())
	assert.True(t, out.HasNCC())

	out.Gradients = tensor.Zeros(4, 8, 3)
	assert.False(t, out.HasNormals())
	out.Weights = tensor.Zeros(4, 8)
	assert.True(t, out.HasNormals())
	out.Depth = tensor.Zeros(4, 1)
	assert.True(t, out.HasDepth())
}

func TestRenderOutputValidate(t *testing.T) {
	require.NoError(t, constantOutput(4).Validate(4))

	err := constantOutput(4).Validate(5)
	assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))

	out := constantOutput(4)
	out.WeightSum.Data[2] = math32.NaN()
	assert.True(t, errors.Is(out.Validate(4), ErrNonFinite))

	out = constantOutput(4)
	out.GradientError = math32.Inf(1)
	assert.True(t, errors.Is(out.Validate(4), ErrNonFinite))

	out = constantOutput(4)
	out.CDF = nil
	assert.Error(t, out.Validate(4))
}

func TestSphereBounds(t *testing.T) {
	origins := tensor.MustNew([]int{2, 3}, []float32{0, 0, -3, 2, 0, 0})
	dirs := tensor.MustNew([]int{2, 3}, []float32{0, 0, 1, -2, 0, 0})
	near, far := SphereBounds(origins, dirs)

	assert.InDelta(t, 2, near.Data[0], 1e-6)
	assert.InDelta(t, 4, far.Data[0], 1e-6)
	// Unnormalised direction: closest approach at t = 1.
	assert.InDelta(t, 0, near.Data[1], 1e-6)
	assert.InDelta(t, 2, far.Data[1], 1e-6)
}

func TestMat4(t *testing.T) {
	m := Identity4()
	m[3], m[7], m[11] = 1, 2, 3
	assert.Equal(t, [3]float64{1, 2, 3}, m.Translation())
	assert.Equal(t, [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, m.Rotation())
	assert.Equal(t, 2.0, m.At(1, 3))
}

func TestImageAccess(t *testing.T) {
	im := NewImage(3, 2, 3)
	im.Set(2, 1, 1, 0.75)
	assert.Equal(t, float32(0.75), im.At(2, 1, 1))
	assert.Equal(t, float32(0.75), im.Pix[(1*3+2)*3+1])
}

func TestMat4InverseAndTransform(t *testing.T) {
	m := Mat4{2, 0, 0, 1, 0, 4, 0, 2, 0, 0, 8, 3, 0, 0, 0, 1}
	inv, err := m.Inverse()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, inv.At(0, 0), 1e-12)
	assert.InDelta(t, -0.5, inv.At(0, 3), 1e-12)
	assert.InDelta(t, -0.375, inv.At(2, 3), 1e-12)

	id := m.Mul(inv)
	for i, v := range Identity4() {
		assert.InDelta(t, v, id[i], 1e-12)
	}

	p := m.TransformPoint([3]float64{1, 1, 1})
	assert.Equal(t, [3]float64{3, 6, 11}, p)
	assert.Equal(t, [3]float64{2, 4, 8}, m.RotateVector([3]float64{1, 1, 1}))

	_, err = Mat4{}.Inverse()
	assert.Error(t, err)
}
