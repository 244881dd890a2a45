// Package scenetest provides deterministic stand-ins for the renderer, the
// field components and the data provider.
package scenetest

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-hfs/optimizer"
	"github.com/tsawler/go-hfs/scene"
	"github.com/tsawler/go-hfs/tensor"
)

// Component is a trainable component with a single parameter vector that
// records every progress value it receives.
type Component struct {
	name     string
	params   []*optimizer.Parameter
	Progress []float32
}

// NewComponent creates a component whose parameter "weight" holds values.
func NewComponent(name string, values ...float32) *Component {
	p, err := optimizer.NewParameter("weight", []int{len(values)}, values)
	if err != nil {
		panic(err)
	}
	return &Component{name: name, params: []*optimizer.Parameter{p}}
}

func (c *Component) Name() string                       { return c.name }
func (c *Component) Parameters() []*optimizer.Parameter { return c.params }

// SetProgress records the value.
func (c *Component) SetProgress(progress float32) {
	c.Progress = append(c.Progress, progress)
}

// LastProgress returns the most recent progress value, or -1.
func (c *Component) LastProgress() float32 {
	if len(c.Progress) == 0 {
		return -1
	}
	return c.Progress[len(c.Progress)-1]
}

// Renderer returns constant outputs. Backward and SDFBackward push the
// summed incoming gradients into every parameter of Components so that the
// optimizer trajectory depends on the loss.
type Renderer struct {
	Components []*Component

	Color         [3]float32
	WeightSum     float32
	NCCCost       float32
	GradientError float32

	// EchoDirections makes colour equal to |direction| per channel so that
	// outputs differ per ray.
	EchoDirections bool
	WithNormals    bool
	WithDepth      bool
	Samples        int
	Radius         float32

	RenderCalls   int
	BackwardCalls int
	RenderedRays  int
	Fail          error
}

// NewRenderer returns a renderer with moderate constant outputs.
func NewRenderer(components ...*Component) *Renderer {
	return &Renderer{
		Components:    components,
		Color:         [3]float32{0.5, 0.4, 0.3},
		WeightSum:     0.8,
		NCCCost:       0.2,
		GradientError: 0.05,
		Samples:       4,
		Radius:        0.5,
	}
}

func (r *Renderer) Render(ctx context.Context, in *scene.RenderInput) (*scene.RenderOutput, error) {
	if r.Fail != nil {
		return nil, r.Fail
	}
	n := in.Origins.Rows()
	r.RenderCalls++
	r.RenderedRays += n

	out := &scene.RenderOutput{
		Color:         tensor.Zeros(n, 3),
		SVal:          tensor.Full(16, n, 1),
		CDF:           tensor.Full(0.1, n, 1),
		WeightMax:     tensor.Full(0.4, n, 1),
		WeightSum:     tensor.Full(r.WeightSum, n, 1),
		NCCCost:       tensor.Full(r.NCCCost, n, 1),
		InsideSphere:  tensor.Ones(n, 1),
		GradientError: r.GradientError,
	}
	for i := 0; i < n; i++ {
		row := out.Color.Row(i)
		if r.EchoDirections {
			d := in.Directions.Row(i)
			for c := 0; c < 3; c++ {
				row[c] = float32(math.Abs(float64(d[c])))
			}
		} else {
			copy(row, r.Color[:])
		}
	}
	if r.WithNormals {
		s := r.Samples
		out.Gradients = tensor.Zeros(n, s, 3)
		out.Weights = tensor.Full(1/float32(s), n, s)
		out.SampleInside = tensor.Ones(n, s)
		for i := 0; i < n*s; i++ {
			out.Gradients.Data[i*3+2] = 1
		}
	}
	if r.WithDepth {
		out.Depth = tensor.Zeros(n, 1)
		for i := 0; i < n; i++ {
			out.Depth.Data[i] = in.Near.Data[i] + 0.5*(in.Far.Data[i]-in.Near.Data[i])
		}
	}
	return out, nil
}

func (r *Renderer) Backward(ctx context.Context, grads *scene.RenderGrads) error {
	r.BackwardCalls++
	total := grads.GradientError
	for _, t := range []*tensor.Tensor{grads.Color, grads.WeightSum, grads.NCCCost} {
		if t != nil {
			total += t.Sum()
		}
	}
	r.accumulate(total)
	return nil
}

// SDF is the distance to a sphere of Radius at the origin.
func (r *Renderer) SDF(points *tensor.Tensor) ([]float32, error) {
	if points.Rows() > 0 && points.RowSize() != 3 {
		return nil, fmt.Errorf("%w: points must be P×3, got %v", tensor.ErrShapeMismatch, points.Shape)
	}
	out := make([]float32, points.Rows())
	for i := range out {
		p := points.Row(i)
		out[i] = float32(math.Sqrt(float64(p[0]*p[0]+p[1]*p[1]+p[2]*p[2]))) - r.Radius
	}
	return out, nil
}

func (r *Renderer) SDFBackward(points *tensor.Tensor, grad []float32) error {
	var total float32
	for _, g := range grad {
		total += g
	}
	r.accumulate(total)
	return nil
}

func (r *Renderer) accumulate(v float32) {
	for _, c := range r.Components {
		for _, p := range c.params {
			for i := range p.Grad {
				p.Grad[i] += v
			}
		}
	}
}

// Provider serves a synthetic scene of identical constant-colour images
// seen from a camera on the -z axis.
type Provider struct {
	Images int
	Width  int
	Height int
	Color  [3]float32
	Points *tensor.Tensor

	Batches []int // image index of every RandomRayBatch call
}

// NewProvider returns a provider of n images of w×h pixels.
func NewProvider(n, w, h int) *Provider {
	return &Provider{
		Images: n,
		Width:  w,
		Height: h,
		Color:  [3]float32{0.6, 0.4, 0.2},
		Points: tensor.MustNew([]int{2, 3}, []float32{0.5, 0, 0, 0, 0.5, 0}),
	}
}

func (p *Provider) NumImages() int { return p.Images }

func (p *Provider) RandomRayBatch(imageIndex, batchSize int, rng *rand.Rand) (*scene.RayBatch, error) {
	if imageIndex < 0 || imageIndex >= p.Images {
		return nil, fmt.Errorf("image index %d out of range [0, %d)", imageIndex, p.Images)
	}
	p.Batches = append(p.Batches, imageIndex)

	origins := tensor.Zeros(batchSize, 3)
	dirs := tensor.Zeros(batchSize, 3)
	color := tensor.Zeros(batchSize, 3)
	for i := 0; i < batchSize; i++ {
		x := rng.Intn(p.Width)
		y := rng.Intn(p.Height)
		copy(origins.Row(i), []float32{0, 0, -3})
		copy(dirs.Row(i), p.direction(x, y, p.Width, p.Height))
		copy(color.Row(i), p.Color[:])
	}
	return &scene.RayBatch{
		ImageIndex: imageIndex,
		Origins:    origins,
		Directions: dirs,
		TrueColor:  color,
		Mask:       tensor.Ones(batchSize, 1),
		Views:      p.views(imageIndex, 1),
	}, nil
}

func (p *Provider) FullRayGrid(imageIndex, level int) (*scene.RayGrid, error) {
	return p.grid(imageIndex, level, 0)
}

func (p *Provider) InterpolatedRayGrid(indexA, indexB int, ratio float64, level int) (*scene.RayGrid, error) {
	return p.grid(indexA, level, float32(ratio))
}

func (p *Provider) grid(imageIndex, level int, shift float32) (*scene.RayGrid, error) {
	if imageIndex < 0 || imageIndex >= p.Images {
		return nil, fmt.Errorf("image index %d out of range [0, %d)", imageIndex, p.Images)
	}
	if level < 1 {
		level = 1
	}
	w, h := p.Width/level, p.Height/level
	origins := tensor.Zeros(w*h, 3)
	dirs := tensor.Zeros(w*h, 3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			copy(origins.Row(i), []float32{shift, 0, -3})
			copy(dirs.Row(i), p.direction(x, y, w, h))
		}
	}
	return &scene.RayGrid{Width: w, Height: h, Origins: origins, Directions: dirs, Views: p.views(imageIndex, level)}, nil
}

func (p *Provider) direction(x, y, w, h int) []float32 {
	dx := (float32(x)+0.5)/float32(w) - 0.5
	dy := (float32(y)+0.5)/float32(h) - 0.5
	n := float32(math.Sqrt(float64(dx*dx + dy*dy + 1)))
	return []float32{dx / n, dy / n, 1 / n}
}

func (p *Provider) views(imageIndex, level int) *scene.ViewSet {
	gray := scene.NewImage(p.Width/level, p.Height/level, 1)
	for i := range gray.Pix {
		gray.Pix[i] = 0.5
	}
	return &scene.ViewSet{
		Intrinsics:    []scene.Mat4{scene.Identity4()},
		IntrinsicsInv: []scene.Mat4{scene.Identity4()},
		Poses:         []scene.Mat4{p.Pose(imageIndex)},
		Gray:          []*scene.Image{gray},
	}
}

func (p *Provider) BoundingSphereBounds(origins, directions *tensor.Tensor) (near, far *tensor.Tensor) {
	return scene.SphereBounds(origins, directions)
}

func (p *Provider) PointsAt(imageIndex int) *tensor.Tensor {
	if p.Points == nil {
		return tensor.Zeros(0, 3)
	}
	return p.Points
}

func (p *Provider) ImageAt(imageIndex, level int) (*scene.Image, error) {
	if level < 1 {
		level = 1
	}
	im := scene.NewImage(p.Width/level, p.Height/level, 3)
	for i := 0; i < im.Width*im.Height; i++ {
		copy(im.Pix[i*3:i*3+3], p.Color[:])
	}
	return im, nil
}

func (p *Provider) Pose(imageIndex int) scene.Mat4 { return scene.Identity4() }

func (p *Provider) BoundingBox() (min, max [3]float64) {
	return [3]float64{-1, -1, -1}, [3]float64{1, 1, 1}
}

func (p *Provider) ScaleTransform() scene.Mat4 { return scene.Identity4() }

var (
	_ scene.Renderer      = (*Renderer)(nil)
	_ scene.DataProvider  = (*Provider)(nil)
	_ scene.Component     = (*Component)(nil)
	_ scene.ProgressAware = (*Component)(nil)
)
