package scene

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/tsawler/go-hfs/tensor"
)

// RenderOutput holds per-ray renderer results. The required fields are
// always set; the optional ones are nil when the renderer configuration
// does not provide them, which callers check through the Has* methods.
type RenderOutput struct {
	Color        *tensor.Tensor // N×3
	SVal         *tensor.Tensor // N×1
	CDF          *tensor.Tensor // N×1, weighted CDF of the first sample
	WeightMax    *tensor.Tensor // N×1
	WeightSum    *tensor.Tensor // N×1
	NCCCost      *tensor.Tensor // N×1
	InsideSphere *tensor.Tensor // N×1, mid-sample inside the bounding sphere

	GradientError float32

	Gradients    *tensor.Tensor // N×S×3
	Weights      *tensor.Tensor // N×S
	SampleInside *tensor.Tensor // N×S
	Depth        *tensor.Tensor // N×1
}

// HasNormals reports whether per-sample gradients and weights are present.
func (o *RenderOutput) HasNormals() bool {
	return o.Gradients != nil && o.Weights != nil
}

// HasDepth reports whether a depth estimate is present.
func (o *RenderOutput) HasDepth() bool { return o.Depth != nil }

// HasNCC reports whether a consistency cost is present.
func (o *RenderOutput) HasNCC() bool { return o.NCCCost != nil }

// Validate checks shapes against n rays and rejects non-finite values.
func (o *RenderOutput) Validate(n int) error {
	required := []struct {
		name  string
		t     *tensor.Tensor
		width int
	}{
		{"color", o.Color, 3},
		{"s_val", o.SVal, 1},
		{"cdf", o.CDF, 1},
		{"weight_max", o.WeightMax, 1},
		{"weight_sum", o.WeightSum, 1},
		{"ncc_cost", o.NCCCost, 1},
		{"inside_sphere", o.InsideSphere, 1},
	}
	for _, r := range required {
		if r.t == nil {
			return fmt.Errorf("render output %s is missing", r.name)
		}
		if r.t.Rows() != n || r.t.RowSize() != r.width {
			return fmt.Errorf("%w: render output %s has shape %v, expected [%d %d]", tensor.ErrShapeMismatch, r.name, r.t.Shape, n, r.width)
		}
		if !r.t.AllFinite() {
			return fmt.Errorf("%w: %s", ErrNonFinite, r.name)
		}
	}
	if math32.IsNaN(o.GradientError) || math32.IsInf(o.GradientError, 0) {
		return fmt.Errorf("%w: gradient_error = %v", ErrNonFinite, o.GradientError)
	}
	return nil
}

// RenderGrads are loss gradients with respect to the renderer outputs of
// the most recent Render call. Nil tensors mean zero gradient.
type RenderGrads struct {
	Color         *tensor.Tensor // N×3
	WeightSum     *tensor.Tensor // N×1
	NCCCost       *tensor.Tensor // N×1
	GradientError float32
}
