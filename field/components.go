// Package field is a small analytic scene backend: a sphere signed
// distance field with a progress-gated offset, constant albedo, a learned
// inverse variance and a background colour. It exists so the trainer can
// run end to end without an external network implementation.
package field

import (
	"sync"

	"github.com/tsawler/go-hfs/optimizer"
	"github.com/tsawler/go-hfs/scene"
)

// Component names, also used as checkpoint keys.
const (
	SDFName        = "sdf_network"
	DetailName     = "sdf_network_high"
	ColorName      = "color_network"
	VarianceName   = "deviation_network"
	BackgroundName = "nerf_outside"
)

// progress is the coarse-to-fine value set by the training schedule.
type progress struct {
	mu    sync.RWMutex
	value float32
}

// SetProgress implements scene.ProgressAware.
func (p *progress) SetProgress(v float32) {
	p.mu.Lock()
	p.value = v
	p.mu.Unlock()
}

// Progress returns the last value set.
func (p *progress) Progress() float32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

type component struct {
	name   string
	params []*optimizer.Parameter
}

func (c *component) Name() string                       { return c.name }
func (c *component) Parameters() []*optimizer.Parameter { return c.params }

func mustParam(name string, values ...float32) *optimizer.Parameter {
	p, err := optimizer.NewParameter(name, []int{len(values)}, values)
	if err != nil {
		panic(err)
	}
	return p
}

// SDF is a sphere with a learned centre and radius.
type SDF struct {
	component
	progress
	Center *optimizer.Parameter
	Radius *optimizer.Parameter
}

// NewSDF creates a sphere SDF.
func NewSDF(center [3]float32, radius float32) *SDF {
	s := &SDF{
		Center: mustParam("center", center[0], center[1], center[2]),
		Radius: mustParam("radius", radius),
	}
	s.component = component{name: SDFName, params: []*optimizer.Parameter{s.Center, s.Radius}}
	return s
}

// Detail adds a learned constant offset to the distance, faded in as the
// progress passes 0.5.
type Detail struct {
	component
	progress
	Offset *optimizer.Parameter
}

// NewDetail creates a zero offset.
func NewDetail() *Detail {
	d := &Detail{Offset: mustParam("offset", 0)}
	d.component = component{name: DetailName, params: []*optimizer.Parameter{d.Offset}}
	return d
}

// Gate returns the offset weight for the current progress: 0 up to 0.5,
// rising linearly to 1 at progress 1.
func (d *Detail) Gate() float32 {
	g := (d.Progress() - 0.5) * 2
	if g < 0 {
		return 0
	}
	if g > 1 {
		return 1
	}
	return g
}

// Color is a constant albedo.
type Color struct {
	component
	progress
	Albedo *optimizer.Parameter
}

// NewColor creates a grey albedo.
func NewColor() *Color {
	c := &Color{Albedo: mustParam("albedo", 0.5, 0.5, 0.5)}
	c.component = component{name: ColorName, params: []*optimizer.Parameter{c.Albedo}}
	return c
}

// Variance holds the log inverse standard deviation: s = exp(10·v).
type Variance struct {
	component
	Value *optimizer.Parameter
}

// NewVariance creates the deviation with an initial value.
func NewVariance(init float32) *Variance {
	v := &Variance{Value: mustParam("variance", init)}
	v.component = component{name: VarianceName, params: []*optimizer.Parameter{v.Value}}
	return v
}

// Background is the colour seen by rays that leave the unit sphere.
type Background struct {
	component
	progress
	RGB *optimizer.Parameter
}

// NewBackground creates a black background.
func NewBackground() *Background {
	b := &Background{RGB: mustParam("rgb", 0, 0, 0)}
	b.component = component{name: BackgroundName, params: []*optimizer.Parameter{b.RGB}}
	return b
}

// Model bundles the components of one scene.
type Model struct {
	SDF        *SDF
	Detail     *Detail
	Color      *Color
	Variance   *Variance
	Background *Background
}

// NewModel creates a sphere of radius 0.5 at the origin.
func NewModel() *Model {
	return NewModelWith(0.5, 0.3)
}

// NewModelWith creates a sphere of the given radius at the origin with the
// given initial variance parameter.
func NewModelWith(radius, variance float32) *Model {
	return &Model{
		SDF:        NewSDF([3]float32{0, 0, 0}, radius),
		Detail:     NewDetail(),
		Color:      NewColor(),
		Variance:   NewVariance(variance),
		Background: NewBackground(),
	}
}

// Components returns every component in checkpoint order.
func (m *Model) Components() []scene.Component {
	return []scene.Component{m.Background, m.SDF, m.Detail, m.Variance, m.Color}
}

// Coupled returns the components driven by the training progress.
func (m *Model) Coupled() []scene.ProgressAware {
	return []scene.ProgressAware{m.SDF, m.Detail, m.Color}
}

var (
	_ scene.Component     = (*SDF)(nil)
	_ scene.ProgressAware = (*Detail)(nil)
	_ scene.ProgressAware = (*Background)(nil)
)
