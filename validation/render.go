// Package validation renders full images, normal, depth and consistency
// maps, meshes and novel-view animations from the current model.
package validation

import (
	"context"
	"fmt"

	"github.com/tsawler/go-hfs/scene"
	"github.com/tsawler/go-hfs/tensor"
)

// Frame is a rendered ray grid reassembled in row-major pixel order.
// Optional maps are nil when the renderer does not provide them.
type Frame struct {
	Width   int
	Height  int
	Color   *tensor.Tensor // N×3
	Normals *tensor.Tensor // N×3, world space
	Depth   *tensor.Tensor // N×1
	NCC     *tensor.Tensor // N×1
}

// RenderOptions control one full-frame render.
type RenderOptions struct {
	BatchSize      int
	CosAnnealRatio float32
	Background     []float32
}

// RenderFrame splits the grid into chunks of BatchSize rays, renders each
// chunk and concatenates the results in the original order.
func RenderFrame(ctx context.Context, r scene.Renderer, p scene.DataProvider, grid *scene.RayGrid, opts RenderOptions) (*Frame, error) {
	origins, err := grid.Origins.Split(opts.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to split origins: %w", err)
	}
	directions, err := grid.Directions.Split(opts.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to split directions: %w", err)
	}

	var colors, normals, depths, nccs []*tensor.Tensor
	for i := range origins {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		near, far := p.BoundingSphereBounds(origins[i], directions[i])
		out, err := r.Render(ctx, &scene.RenderInput{
			Origins:        origins[i],
			Directions:     directions[i],
			Near:           near,
			Far:            far,
			CosAnnealRatio: opts.CosAnnealRatio,
			Background:     opts.Background,
			Views:          grid.Views,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to render chunk %d: %w", i, err)
		}
		if out.Color == nil || out.Color.Rows() != origins[i].Rows() {
			return nil, fmt.Errorf("%w: chunk %d colour output", tensor.ErrShapeMismatch, i)
		}
		colors = append(colors, out.Color)
		if out.HasNormals() {
			normals = append(normals, surfaceNormals(out))
		}
		if out.HasDepth() {
			depths = append(depths, out.Depth)
		}
		if out.HasNCC() {
			nccs = append(nccs, out.NCCCost)
		}
	}

	f := &Frame{Width: grid.Width, Height: grid.Height}
	if f.Color, err = tensor.Concat(colors...); err != nil {
		return nil, err
	}
	// Maps missing from any chunk are dropped entirely.
	if len(normals) == len(origins) {
		if f.Normals, err = tensor.Concat(normals...); err != nil {
			return nil, err
		}
	}
	if len(depths) == len(origins) {
		if f.Depth, err = tensor.Concat(depths...); err != nil {
			return nil, err
		}
	}
	if len(nccs) == len(origins) {
		if f.NCC, err = tensor.Concat(nccs...); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// surfaceNormals integrates per-sample gradients with the rendering
// weights, counting only samples inside the bounding sphere.
func surfaceNormals(out *scene.RenderOutput) *tensor.Tensor {
	n := out.Weights.Rows()
	samples := out.Weights.RowSize()
	normals := tensor.Zeros(n, 3)
	for i := 0; i < n; i++ {
		row := normals.Row(i)
		for k := 0; k < samples; k++ {
			w := out.Weights.Data[i*samples+k]
			if out.SampleInside != nil {
				w *= out.SampleInside.Data[i*samples+k]
			}
			for c := 0; c < 3; c++ {
				row[c] += out.Gradients.Data[(i*samples+k)*3+c] * w
			}
		}
	}
	return normals
}
