package field

import (
	"github.com/chewxy/math32"

	"github.com/tsawler/go-hfs/scene"
)

// projector maps world points to pixels of one view.
type projector struct {
	worldToCam scene.Mat4
	intrinsics scene.Mat4
	gray       *scene.Image
}

// newProjectors prepares the reference view (first) and its sources.
// Views whose pose cannot be inverted are dropped.
func newProjectors(vs *scene.ViewSet) []projector {
	if vs == nil {
		return nil
	}
	var out []projector
	for i := range vs.Poses {
		if i >= len(vs.Gray) || i >= len(vs.Intrinsics) || vs.Gray[i] == nil {
			break
		}
		w2c, err := vs.Poses[i].Inverse()
		if err != nil {
			continue
		}
		out = append(out, projector{worldToCam: w2c, intrinsics: vs.Intrinsics[i], gray: vs.Gray[i]})
	}
	return out
}

// project returns the pixel of p, or false when p is behind the camera.
func (pr projector) project(p [3]float32) (float32, float32, bool) {
	c := pr.worldToCam.TransformPoint([3]float64{float64(p[0]), float64(p[1]), float64(p[2])})
	if c[2] <= 1e-6 {
		return 0, 0, false
	}
	uv := pr.intrinsics.RotateVector(c)
	return float32(uv[0] / uv[2]), float32(uv[1] / uv[2]), true
}

// bilinear samples a single-channel image with border clamping.
func bilinear(im *scene.Image, x, y float32) float32 {
	x = math32.Max(0, math32.Min(float32(im.Width-1), x))
	y = math32.Max(0, math32.Min(float32(im.Height-1), y))
	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 >= im.Width {
		x1 = im.Width - 1
	}
	if y1 >= im.Height {
		y1 = im.Height - 1
	}
	fx, fy := x-float32(x0), y-float32(y0)
	top := im.At(x0, y0, 0)*(1-fx) + im.At(x1, y0, 0)*fx
	bottom := im.At(x0, y1, 0)*(1-fx) + im.At(x1, y1, 0)*fx
	return top*(1-fy) + bottom*fy
}

// patchCost scores how consistently the surface point looks across views:
// 1 − NCC of square patches around its projections, averaged over source
// views and clipped to [0, 2]. Without a source view the cost is 0.
func patchCost(views []projector, p [3]float32, radius int) float32 {
	if len(views) < 2 {
		return 0
	}
	ru, rv, ok := views[0].project(p)
	if !ok {
		return 0
	}
	ref := patch(views[0].gray, ru, rv, radius)

	var total float32
	var count int
	for _, v := range views[1:] {
		su, sv, ok := v.project(p)
		if !ok {
			continue
		}
		total += 1 - ncc(ref, patch(v.gray, su, sv, radius))
		count++
	}
	if count == 0 {
		return 0
	}
	return math32.Max(0, math32.Min(2, total/float32(count)))
}

func patch(im *scene.Image, u, v float32, radius int) []float32 {
	out := make([]float32, 0, (2*radius+1)*(2*radius+1))
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			out = append(out, bilinear(im, u+float32(dx), v+float32(dy)))
		}
	}
	return out
}

// ncc is the normalized cross-correlation of two equally sized patches.
// Flat patches correlate perfectly only with each other.
func ncc(a, b []float32) float32 {
	var ma, mb float32
	for i := range a {
		ma += a[i]
		mb += b[i]
	}
	ma /= float32(len(a))
	mb /= float32(len(b))

	var cov, va, vb float32
	for i := range a {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	const eps = 1e-8
	if va < eps && vb < eps {
		return 1
	}
	return cov / math32.Sqrt(va*vb+eps)
}
