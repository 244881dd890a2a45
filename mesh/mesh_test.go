package mesh

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-hfs/tensor"
)

func sphereSDF(radius float64) SDFFunc {
	return func(points *tensor.Tensor) ([]float32, error) {
		out := make([]float32, points.Rows())
		for i := range out {
			p := points.Row(i)
			out[i] = float32(math.Sqrt(float64(p[0]*p[0]+p[1]*p[1]+p[2]*p[2])) - radius)
		}
		return out, nil
	}
}

var unitBox = [2][3]float64{{-1, -1, -1}, {1, 1, 1}}

func TestSampleGridBlocksAndNegates(t *testing.T) {
	calls := 0
	sdf := func(points *tensor.Tensor) ([]float32, error) {
		calls++
		assert.LessOrEqual(t, points.Rows(), 100)
		out := make([]float32, points.Rows())
		for i := range out {
			out[i] = points.Row(i)[0]
		}
		return out, nil
	}

	g, err := SampleGrid(context.Background(), sdf, unitBox[0], unitBox[1], 5, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, g.Values, 125)
	assert.Equal(t, float32(1), g.Values[g.Index(0, 3, 2)])
	assert.Equal(t, float32(-1), g.Values[g.Index(4, 0, 0)])
	assert.Equal(t, [3]float64{0, -0.5, 1}, g.Position(2, 1, 4))
}

func TestSampleGridErrors(t *testing.T) {
	ctx := context.Background()
	_, err := SampleGrid(ctx, sphereSDF(0.5), unitBox[0], unitBox[1], 1, 0)
	assert.Error(t, err)

	_, err = SampleGrid(ctx, sphereSDF(0.5), [3]float64{0, 0, 0}, [3]float64{1, 0, 1}, 4, 0)
	assert.Error(t, err)

	short := func(points *tensor.Tensor) ([]float32, error) { return []float32{0}, nil }
	_, err = SampleGrid(ctx, short, unitBox[0], unitBox[1], 4, 0)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = SampleGrid(cancelled, sphereSDF(0.5), unitBox[0], unitBox[1], 4, 0)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestExtractSphere(t *testing.T) {
	m, err := Extract(context.Background(), sphereSDF(0.5), unitBox[0], unitBox[1], 24, 0)
	require.NoError(t, err)
	require.NotEmpty(t, m.Faces)

	for _, v := range m.Vertices {
		r := math.Sqrt(float64(v[0]*v[0] + v[1]*v[1] + v[2]*v[2]))
		assert.InDelta(t, 0.5, r, 0.01)
	}
	// Welded: shared edges produce one vertex.
	assert.Less(t, len(m.Vertices), len(m.Faces))

	outward := 0
	for f, face := range m.Faces {
		n := m.FaceNormal(f)
		c := m.Vertices[face[0]]
		if n[0]*float64(c[0])+n[1]*float64(c[1])+n[2]*float64(c[2]) > 0 {
			outward++
		}
	}
	assert.GreaterOrEqual(t, float64(outward)/float64(len(m.Faces)), 0.99)

	min, max := m.Bounds()
	for a := 0; a < 3; a++ {
		assert.InDelta(t, -0.5, min[a], 0.02)
		assert.InDelta(t, 0.5, max[a], 0.02)
	}
}

func TestExtractThresholdShiftsSurface(t *testing.T) {
	// The grid stores -sdf, so threshold -0.1 selects sdf == 0.1.
	m, err := Extract(context.Background(), sphereSDF(0.5), unitBox[0], unitBox[1], 24, -0.1)
	require.NoError(t, err)
	v := m.Vertices[0]
	assert.InDelta(t, 0.6, math.Sqrt(float64(v[0]*v[0]+v[1]*v[1]+v[2]*v[2])), 0.01)
}

func TestExtractEmpty(t *testing.T) {
	m, err := Extract(context.Background(), sphereSDF(5), unitBox[0], unitBox[1], 6, 0)
	require.NoError(t, err)
	assert.Empty(t, m.Vertices)
	assert.Empty(t, m.Faces)
}

func TestScaleTranslate(t *testing.T) {
	m := &Mesh{Vertices: [][3]float32{{1, 2, 3}}}
	m.ScaleTranslate(2, [3]float64{0.5, 0, -1})
	assert.Equal(t, [3]float32{2.5, 4, 5}, m.Vertices[0])
}

func TestPLYRoundTrip(t *testing.T) {
	m := &Mesh{
		Vertices: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1.5}},
		Faces:    [][3]uint32{{0, 1, 2}, {0, 3, 1}},
	}
	path := filepath.Join(t.TempDir(), "meshes", "00000001.ply")
	require.NoError(t, SavePLY(path, m))

	got, err := LoadPLY(path)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestReadASCIIPLY(t *testing.T) {
	in := `ply
format ascii 1.0
comment made by hand
element vertex 3
property float x
property float y
property float z
property uchar red
element face 1
property list uchar int vertex_indices
end_header
0 0 0 255
1 0 0 0
0 1 0 12
3 0 1 2
`
	m, err := ReadPLY(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, m.Vertices)
	assert.Equal(t, [][3]uint32{{0, 1, 2}}, m.Faces)
}

func TestReadPLYRejectsGarbage(t *testing.T) {
	_, err := ReadPLY(strings.NewReader("not a ply\n"))
	assert.Error(t, err)

	var buf bytes.Buffer
	buf.WriteString("ply\nformat binary_big_endian 1.0\nend_header\n")
	_, err = ReadPLY(&buf)
	assert.Error(t, err)
}
