// Package mesh turns a signed distance function into a triangle mesh:
// regular-grid sampling, iso-surface extraction and PLY files.
package mesh

import (
	"context"
	"fmt"

	"github.com/tsawler/go-hfs/tensor"
)

// DefaultBlockSize is the number of points evaluated per SDF call.
const DefaultBlockSize = 64 * 64 * 64

// SDFFunc evaluates the signed distance at P×3 points.
type SDFFunc func(points *tensor.Tensor) ([]float32, error)

// Grid holds a scalar field sampled on Res³ points spanning [Min, Max].
// Values are indexed x-major: (i*Res+j)*Res+k.
type Grid struct {
	Res    int
	Min    [3]float64
	Max    [3]float64
	Values []float32
}

// Index returns the flat index of grid point (i, j, k).
func (g *Grid) Index(i, j, k int) int { return (i*g.Res+j)*g.Res + k }

// Position returns the coordinates of grid point (i, j, k).
func (g *Grid) Position(i, j, k int) [3]float64 {
	idx := [3]int{i, j, k}
	var p [3]float64
	for a := 0; a < 3; a++ {
		p[a] = g.Min[a] + float64(idx[a])/float64(g.Res-1)*(g.Max[a]-g.Min[a])
	}
	return p
}

// SampleGrid evaluates sdf on a res³ lattice and stores the negated
// distance, so the field is positive inside the surface. Points are sent
// to sdf in blocks of blockSize (DefaultBlockSize when <= 0); ctx is
// checked between blocks.
func SampleGrid(ctx context.Context, sdf SDFFunc, min, max [3]float64, res, blockSize int) (*Grid, error) {
	if res < 2 {
		return nil, fmt.Errorf("grid resolution must be at least 2, got %d", res)
	}
	for a := 0; a < 3; a++ {
		if !(max[a] > min[a]) {
			return nil, fmt.Errorf("empty bounding box on axis %d: [%g, %g]", a, min[a], max[a])
		}
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	g := &Grid{Res: res, Min: min, Max: max, Values: make([]float32, res*res*res)}
	total := len(g.Values)
	for start := 0; start < total; start += blockSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + blockSize
		if end > total {
			end = total
		}

		points := tensor.Zeros(end-start, 3)
		for n := start; n < end; n++ {
			i, j, k := n/(res*res), (n/res)%res, n%res
			p := g.Position(i, j, k)
			row := points.Row(n - start)
			row[0], row[1], row[2] = float32(p[0]), float32(p[1]), float32(p[2])
		}

		values, err := sdf(points)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate sdf block at %d: %w", start, err)
		}
		if len(values) != end-start {
			return nil, fmt.Errorf("%w: sdf returned %d values for %d points", tensor.ErrShapeMismatch, len(values), end-start)
		}
		for n, v := range values {
			g.Values[start+n] = -v
		}
	}
	return g, nil
}
