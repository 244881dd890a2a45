package field

import (
	"context"
	"errors"
	"fmt"

	"github.com/chewxy/math32"

	"github.com/tsawler/go-hfs/scene"
	"github.com/tsawler/go-hfs/tensor"
)

// Options configure the renderer.
type Options struct {
	// Samples per ray, uniformly spaced between near and far.
	Samples int
	// Step used by the finite-difference backward pass.
	Epsilon float32
	// PatchRadius is the half size of the photometric consistency patch.
	PatchRadius int
}

// DefaultOptions returns the renderer defaults.
func DefaultOptions() Options {
	return Options{Samples: 32, Epsilon: 1e-3, PatchRadius: 1}
}

// Renderer renders a Model with NeuS-style unbiased volume rendering.
// Backward differentiates the last rendered batch numerically with
// respect to every model parameter.
type Renderer struct {
	model *Model
	opts  Options
	last  *scene.RenderInput
}

// NewRenderer binds a renderer to model.
func NewRenderer(model *Model, opts Options) *Renderer {
	if opts.Samples <= 0 {
		opts.Samples = DefaultOptions().Samples
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = DefaultOptions().Epsilon
	}
	if opts.PatchRadius <= 0 {
		opts.PatchRadius = DefaultOptions().PatchRadius
	}
	return &Renderer{model: model, opts: opts}
}

// Model returns the rendered model.
func (r *Renderer) Model() *Model { return r.model }

// sdfAt evaluates the distance and its spatial gradient at p.
func (r *Renderer) sdfAt(p [3]float32) (float32, [3]float32) {
	c := r.model.SDF.Center.Data
	d := [3]float32{p[0] - c[0], p[1] - c[1], p[2] - c[2]}
	n := math32.Sqrt(d[0]*d[0] + d[1]*d[1] + d[2]*d[2])
	var g [3]float32
	if n > 0 {
		g = [3]float32{d[0] / n, d[1] / n, d[2] / n}
	}
	return n - r.model.SDF.Radius.Data[0] + r.model.Detail.Gate()*r.model.Detail.Offset.Data[0], g
}

// SDF evaluates the signed distance at P×3 points.
func (r *Renderer) SDF(points *tensor.Tensor) ([]float32, error) {
	if points.Rows() > 0 && points.RowSize() != 3 {
		return nil, fmt.Errorf("%w: points have shape %v", tensor.ErrShapeMismatch, points.Shape)
	}
	out := make([]float32, points.Rows())
	for i := range out {
		row := points.Row(i)
		out[i], _ = r.sdfAt([3]float32{row[0], row[1], row[2]})
	}
	return out, nil
}

// SDFBackward accumulates the analytic gradient of Σ grad[i]·sdf(p_i).
func (r *Renderer) SDFBackward(points *tensor.Tensor, grad []float32) error {
	if len(grad) != points.Rows() {
		return fmt.Errorf("%w: %d gradients for %d points", tensor.ErrShapeMismatch, len(grad), points.Rows())
	}
	m := r.model
	gate := m.Detail.Gate()
	for i, g := range grad {
		if g == 0 {
			continue
		}
		row := points.Row(i)
		_, n := r.sdfAt([3]float32{row[0], row[1], row[2]})
		for a := 0; a < 3; a++ {
			m.SDF.Center.Grad[a] -= g * n[a]
		}
		m.SDF.Radius.Grad[0] -= g
		m.Detail.Offset.Grad[0] += g * gate
	}
	return nil
}

func sigmoid(x float32) float32 { return 1 / (1 + math32.Exp(-x)) }

func relu(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

// Render marches every ray through the field.
func (r *Renderer) Render(ctx context.Context, in *scene.RenderInput) (*scene.RenderOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.Origins == nil || in.Directions == nil || in.Near == nil || in.Far == nil {
		return nil, errors.New("render input needs origins, directions, near and far")
	}
	n := in.Origins.Rows()
	if in.Directions.Rows() != n || in.Near.Rows() != n || in.Far.Rows() != n {
		return nil, fmt.Errorf("%w: render input row counts differ", tensor.ErrShapeMismatch)
	}
	r.last = in
	return r.render(in), nil
}

func (r *Renderer) render(in *scene.RenderInput) *scene.RenderOutput {
	n, S := in.Origins.Rows(), r.opts.Samples
	out := &scene.RenderOutput{
		Color:        tensor.Zeros(n, 3),
		SVal:         tensor.Zeros(n, 1),
		CDF:          tensor.Zeros(n, 1),
		WeightMax:    tensor.Zeros(n, 1),
		WeightSum:    tensor.Zeros(n, 1),
		NCCCost:      tensor.Zeros(n, 1),
		InsideSphere: tensor.Zeros(n, 1),
		Gradients:    tensor.Zeros(n, S, 3),
		Weights:      tensor.Zeros(n, S),
		SampleInside: tensor.Zeros(n, S),
		Depth:        tensor.Zeros(n, 1),
	}

	m := r.model
	s := math32.Exp(10 * m.Variance.Value.Data[0])
	albedo := m.Color.Albedo.Data
	bg := m.Background.RGB.Data
	if in.Background != nil {
		bg = in.Background
	}
	anneal := in.CosAnnealRatio
	views := newProjectors(in.Views)

	var gradErrSum, insideSum float32
	for i := 0; i < n; i++ {
		o, d := in.Origins.Row(i), in.Directions.Row(i)
		near, far := in.Near.Data[i], in.Far.Data[i]
		dist := (far - near) / float32(S)

		transmittance := float32(1)
		var wsum, wmax, depth float32
		var rgb [3]float32
		for k := 0; k < S; k++ {
			t := near + dist*(float32(k)+0.5)
			p := [3]float32{o[0] + t*d[0], o[1] + t*d[1], o[2] + t*d[2]}
			sdf, grad := r.sdfAt(p)

			trueCos := d[0]*grad[0] + d[1]*grad[1] + d[2]*grad[2]
			iterCos := -(relu(-trueCos*0.5+0.5)*(1-anneal) + relu(-trueCos)*anneal)
			prevCDF := sigmoid((sdf - iterCos*dist*0.5) * s)
			nextCDF := sigmoid((sdf + iterCos*dist*0.5) * s)
			alpha := (prevCDF - nextCDF + 1e-5) / (prevCDF + 1e-5)
			alpha = math32.Max(0, math32.Min(1, alpha))

			w := alpha * transmittance
			transmittance *= 1 - alpha + 1e-7

			inside := float32(0)
			if p[0]*p[0]+p[1]*p[1]+p[2]*p[2] < 1 {
				inside = 1
			}
			gn := math32.Sqrt(grad[0]*grad[0] + grad[1]*grad[1] + grad[2]*grad[2])
			gradErrSum += (gn - 1) * (gn - 1) * inside
			insideSum += inside

			for c := 0; c < 3; c++ {
				rgb[c] += w * albedo[c]
				out.Gradients.Data[(i*S+k)*3+c] = grad[c]
			}
			out.Weights.Data[i*S+k] = w
			out.SampleInside.Data[i*S+k] = inside
			wsum += w
			depth += w * t
			if w > wmax {
				wmax = w
			}
			if k == 0 {
				out.CDF.Data[i] = prevCDF
			}
			if k == S/2 {
				out.InsideSphere.Data[i] = inside
			}
		}

		for c := 0; c < 3; c++ {
			out.Color.Data[i*3+c] = rgb[c] + (1-wsum)*bg[c]
		}
		out.SVal.Data[i] = 1 / s
		out.WeightSum.Data[i] = wsum
		out.WeightMax.Data[i] = wmax
		out.Depth.Data[i] = depth
		if len(views) > 1 && wsum > 1e-6 {
			td := depth / wsum
			out.NCCCost.Data[i] = patchCost(views, [3]float32{o[0] + td*d[0], o[1] + td*d[1], o[2] + td*d[2]}, r.opts.PatchRadius)
		}
	}
	out.GradientError = gradErrSum / (insideSum + 1e-5)
	return out
}

// Backward accumulates parameter gradients of
// Σ gC·color + gW·weight_sum + gN·ncc + gE·gradient_error
// for the last rendered batch, by central differences.
func (r *Renderer) Backward(ctx context.Context, grads *scene.RenderGrads) error {
	if r.last == nil {
		return errors.New("backward called before render")
	}
	objective := func() float32 {
		out := r.render(r.last)
		return dot(grads.Color, out.Color) + dot(grads.WeightSum, out.WeightSum) +
			dot(grads.NCCCost, out.NCCCost) + grads.GradientError*out.GradientError
	}

	h := r.opts.Epsilon
	for _, c := range r.model.Components() {
		for _, p := range c.Parameters() {
			for j := range p.Data {
				if err := ctx.Err(); err != nil {
					return err
				}
				orig := p.Data[j]
				p.Data[j] = orig + h
				plus := objective()
				p.Data[j] = orig - h
				minus := objective()
				p.Data[j] = orig
				p.Grad[j] += (plus - minus) / (2 * h)
			}
		}
	}
	return nil
}

func dot(g, v *tensor.Tensor) float32 {
	if g == nil {
		return 0
	}
	var s float32
	for i, x := range g.Data {
		s += x * v.Data[i]
	}
	return s
}

var _ scene.Renderer = (*Renderer)(nil)
