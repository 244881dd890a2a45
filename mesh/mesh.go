package mesh

import (
	"context"
	"fmt"
)

// Mesh is an indexed triangle mesh.
type Mesh struct {
	Vertices [][3]float32
	Faces    [][3]uint32
}

// faceNormal returns the unnormalized normal of triangle (a, b, c).
func (m *Mesh) faceNormal(a, b, c uint32) [3]float64 {
	pa, pb, pc := m.Vertices[a], m.Vertices[b], m.Vertices[c]
	u := [3]float64{float64(pb[0] - pa[0]), float64(pb[1] - pa[1]), float64(pb[2] - pa[2])}
	v := [3]float64{float64(pc[0] - pa[0]), float64(pc[1] - pa[1]), float64(pc[2] - pa[2])}
	return [3]float64{
		u[1]*v[2] - u[2]*v[1],
		u[2]*v[0] - u[0]*v[2],
		u[0]*v[1] - u[1]*v[0],
	}
}

// FaceNormal returns the unnormalized normal of face f.
func (m *Mesh) FaceNormal(f int) [3]float64 {
	face := m.Faces[f]
	return m.faceNormal(face[0], face[1], face[2])
}

// Bounds returns the axis-aligned bounding box of the vertices.
func (m *Mesh) Bounds() (min, max [3]float32) {
	if len(m.Vertices) == 0 {
		return min, max
	}
	min, max = m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		for a := 0; a < 3; a++ {
			if v[a] < min[a] {
				min[a] = v[a]
			}
			if v[a] > max[a] {
				max[a] = v[a]
			}
		}
	}
	return min, max
}

// ScaleTranslate maps every vertex to v*scale + offset.
func (m *Mesh) ScaleTranslate(scale float64, offset [3]float64) {
	for i, v := range m.Vertices {
		for a := 0; a < 3; a++ {
			m.Vertices[i][a] = float32(float64(v[a])*scale + offset[a])
		}
	}
}

// Extract samples sdf over the box and extracts the surface where the
// negated distance equals threshold.
func Extract(ctx context.Context, sdf SDFFunc, min, max [3]float64, res int, threshold float32) (*Mesh, error) {
	g, err := SampleGrid(ctx, sdf, min, max, res, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to sample sdf grid: %w", err)
	}
	return ExtractIsoSurface(g, threshold), nil
}
