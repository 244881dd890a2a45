package mesh

// Cube corner offsets.
var cornerOffsets = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// Six tetrahedra around the 0-6 diagonal. Neighbouring cubes split their
// shared faces along the same diagonal, so the surface has no cracks.
var cubeTetrahedra = [6][4]int{
	{0, 5, 1, 6},
	{0, 1, 2, 6},
	{0, 2, 3, 6},
	{0, 3, 7, 6},
	{0, 7, 4, 6},
	{0, 4, 5, 6},
}

type edgeKey struct{ a, b int }

type extractor struct {
	grid      *Grid
	threshold float32
	mesh      *Mesh
	edges     map[edgeKey]uint32
}

// ExtractIsoSurface extracts the level set Values == threshold with
// marching tetrahedra. Triangles are wound so their normals point towards
// decreasing values (outward for a field that is positive inside).
// Vertices on shared edges are welded.
func ExtractIsoSurface(g *Grid, threshold float32) *Mesh {
	ex := &extractor{grid: g, threshold: threshold, mesh: &Mesh{}, edges: make(map[edgeKey]uint32)}
	res := g.Res
	for i := 0; i < res-1; i++ {
		for j := 0; j < res-1; j++ {
			for k := 0; k < res-1; k++ {
				ex.cube(i, j, k)
			}
		}
	}
	return ex.mesh
}

func (ex *extractor) cube(i, j, k int) {
	var corners [8]int
	var values [8]float32
	inside := 0
	for c, o := range cornerOffsets {
		corners[c] = ex.grid.Index(i+o[0], j+o[1], k+o[2])
		values[c] = ex.grid.Values[corners[c]]
		if values[c] > ex.threshold {
			inside++
		}
	}
	if inside == 0 || inside == 8 {
		return
	}
	for _, tet := range cubeTetrahedra {
		ex.tetrahedron(
			[4]int{corners[tet[0]], corners[tet[1]], corners[tet[2]], corners[tet[3]]},
			[4]float32{values[tet[0]], values[tet[1]], values[tet[2]], values[tet[3]]},
		)
	}
}

func (ex *extractor) tetrahedron(idx [4]int, values [4]float32) {
	var in, out []int
	for v := 0; v < 4; v++ {
		if values[v] > ex.threshold {
			in = append(in, v)
		} else {
			out = append(out, v)
		}
	}

	cross := func(a, b int) uint32 { return ex.vertex(idx[a], idx[b], values[a], values[b]) }

	switch len(in) {
	case 1:
		ex.triangle(idx, in, out, cross(in[0], out[0]), cross(in[0], out[1]), cross(in[0], out[2]))
	case 3:
		ex.triangle(idx, in, out, cross(out[0], in[0]), cross(out[0], in[1]), cross(out[0], in[2]))
	case 2:
		p0 := cross(in[0], out[0])
		p1 := cross(in[0], out[1])
		p2 := cross(in[1], out[1])
		p3 := cross(in[1], out[0])
		ex.triangle(idx, in, out, p0, p1, p2)
		ex.triangle(idx, in, out, p0, p2, p3)
	}
}

// vertex returns the welded vertex on the edge between grid points a and b.
func (ex *extractor) vertex(a, b int, va, vb float32) uint32 {
	key := edgeKey{a, b}
	if a > b {
		key = edgeKey{b, a}
	}
	if id, ok := ex.edges[key]; ok {
		return id
	}

	t := float64((ex.threshold - va) / (vb - va))
	pa, pb := ex.position(a), ex.position(b)
	var p [3]float32
	for c := 0; c < 3; c++ {
		p[c] = float32(pa[c] + t*(pb[c]-pa[c]))
	}
	id := uint32(len(ex.mesh.Vertices))
	ex.mesh.Vertices = append(ex.mesh.Vertices, p)
	ex.edges[key] = id
	return id
}

func (ex *extractor) position(flat int) [3]float64 {
	res := ex.grid.Res
	return ex.grid.Position(flat/(res*res), (flat/res)%res, flat%res)
}

// triangle appends (a, b, c), flipping it when its normal points from the
// outside corners towards the inside ones.
func (ex *extractor) triangle(idx [4]int, in, out []int, a, b, c uint32) {
	if a == b || b == c || a == c {
		return
	}
	centroid := func(set []int) [3]float64 {
		var s [3]float64
		for _, v := range set {
			p := ex.position(idx[v])
			for d := 0; d < 3; d++ {
				s[d] += p[d] / float64(len(set))
			}
		}
		return s
	}
	ci, co := centroid(in), centroid(out)
	dir := [3]float64{co[0] - ci[0], co[1] - ci[1], co[2] - ci[2]}

	n := ex.mesh.faceNormal(a, b, c)
	if n[0]*dir[0]+n[1]*dir[1]+n[2]*dir[2] < 0 {
		b, c = c, b
	}
	ex.mesh.Faces = append(ex.mesh.Faces, [3]uint32{a, b, c})
}
