// Package scene defines the contracts between the training core and its
// collaborators: the trainable field components, the differentiable
// renderer and the data provider.
package scene

import (
	"context"
	"errors"
	"math/rand"

	"github.com/tsawler/go-hfs/optimizer"
	"github.com/tsawler/go-hfs/tensor"
)

// ErrNonFinite is returned when a renderer produces NaN or Inf values.
var ErrNonFinite = errors.New("non-finite renderer output")

// Component is one trainable field (signed distance, radiance, background,
// variance). Its parameters are registered with the optimizer and persisted
// in checkpoints under Name.
type Component interface {
	Name() string
	Parameters() []*optimizer.Parameter
}

// ProgressAware components expose coarse-to-fine capacity that is unlocked
// by the training schedule.
type ProgressAware interface {
	SetProgress(progress float32)
}

// Mat4 is a row-major 4x4 matrix.
type Mat4 [16]float64

// Identity4 returns the 4x4 identity.
func Identity4() Mat4 {
	return Mat4{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

// At returns element (r, c).
func (m Mat4) At(r, c int) float64 { return m[r*4+c] }

// Rotation returns the upper-left 3x3 block, row-major.
func (m Mat4) Rotation() [9]float64 {
	return [9]float64{m[0], m[1], m[2], m[4], m[5], m[6], m[8], m[9], m[10]}
}

// Translation returns the last column.
func (m Mat4) Translation() [3]float64 {
	return [3]float64{m[3], m[7], m[11]}
}

// Image is a dense row-major float image with values in [0, 1].
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []float32
}

// NewImage allocates a zeroed image.
func NewImage(width, height, channels int) *Image {
	return &Image{Width: width, Height: height, Channels: channels, Pix: make([]float32, width*height*channels)}
}

// At returns channel c of pixel (x, y).
func (im *Image) At(x, y, c int) float32 {
	return im.Pix[(y*im.Width+x)*im.Channels+c]
}

// Set writes channel c of pixel (x, y).
func (im *Image) Set(x, y, c int, v float32) {
	im.Pix[(y*im.Width+x)*im.Channels+c] = v
}

// ViewSet carries the reference view (index 0) and its neighbours used for
// multi-view photometric consistency.
type ViewSet struct {
	Intrinsics    []Mat4
	IntrinsicsInv []Mat4
	Poses         []Mat4
	Gray          []*Image
}

// RayBatch is one iteration's training rays. Origins, Directions and
// TrueColor are N×3; Mask, Near and Far are N×1. Near and Far are filled in
// by the training loop from the bounding-sphere test.
type RayBatch struct {
	ImageIndex int
	Origins    *tensor.Tensor
	Directions *tensor.Tensor
	TrueColor  *tensor.Tensor
	Mask       *tensor.Tensor
	Near       *tensor.Tensor
	Far        *tensor.Tensor
	Views      *ViewSet
}

// Len returns the number of rays.
func (b *RayBatch) Len() int { return b.Origins.Rows() }

// RayGrid is a full image worth of rays in row-major pixel order.
type RayGrid struct {
	Width      int
	Height     int
	Origins    *tensor.Tensor
	Directions *tensor.Tensor
	Views      *ViewSet
}

// Len returns Width*Height.
func (g *RayGrid) Len() int { return g.Width * g.Height }

// DataProvider yields training rays, full-image ray grids and the scene
// geometry used for meshing.
type DataProvider interface {
	NumImages() int
	RandomRayBatch(imageIndex, batchSize int, rng *rand.Rand) (*RayBatch, error)
	FullRayGrid(imageIndex, level int) (*RayGrid, error)
	InterpolatedRayGrid(indexA, indexB int, ratio float64, level int) (*RayGrid, error)
	BoundingSphereBounds(origins, directions *tensor.Tensor) (near, far *tensor.Tensor)
	// PointsAt returns auxiliary surface samples (P×3) for the view.
	PointsAt(imageIndex int) *tensor.Tensor
	// ImageAt returns the ground-truth colour image at a resolution level.
	ImageAt(imageIndex, level int) (*Image, error)
	// Pose returns the camera-to-world transform of a view.
	Pose(imageIndex int) Mat4
	BoundingBox() (min, max [3]float64)
	// ScaleTransform maps normalized coordinates to world space.
	ScaleTransform() Mat4
}

// RenderInput is everything the renderer consumes for one set of rays.
type RenderInput struct {
	Origins        *tensor.Tensor
	Directions     *tensor.Tensor
	Near           *tensor.Tensor
	Far            *tensor.Tensor
	CosAnnealRatio float32
	// Background is an RGB colour, or nil for a transparent background.
	Background []float32
	Views      *ViewSet
}

// Renderer is the differentiable volumetric renderer bound to the scene
// components. Backward accumulates parameter gradients from the gradients
// of the last Render call's outputs.
type Renderer interface {
	Render(ctx context.Context, in *RenderInput) (*RenderOutput, error)
	Backward(ctx context.Context, grads *RenderGrads) error
	// SDF evaluates the signed distance at P×3 points.
	SDF(points *tensor.Tensor) ([]float32, error)
	// SDFBackward accumulates parameter gradients of Σ grad[i]·sdf(points[i]).
	SDFBackward(points *tensor.Tensor, grad []float32) error
}
