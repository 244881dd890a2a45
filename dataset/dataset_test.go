package dataset

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-hfs/scene"
)

const (
	testWidth  = 8
	testHeight = 6
)

func writePNG(t *testing.T, path string, fill func(x, y int) color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, testWidth, testHeight))
	for y := 0; y < testHeight; y++ {
		for x := 0; x < testWidth; x++ {
			img.SetRGBA(x, y, fill(x, y))
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// writeScene creates three views on the z axis looking at the origin.
func writeScene(t *testing.T) string {
	dir := t.TempDir()
	yaml := "scale_mat: [2, 0, 0, 0.5,  0, 2, 0, 0,  0, 0, 2, 0,  0, 0, 0, 1]\nviews:\n"
	for i := 0; i < 3; i++ {
		shade := uint8(60 * (i + 1))
		writePNG(t, filepath.Join(dir, "image", fmt.Sprintf("%03d.png", i)), func(x, y int) color.RGBA {
			return color.RGBA{R: shade, G: 0, B: 255 - shade, A: 255}
		})
		writePNG(t, filepath.Join(dir, "mask", fmt.Sprintf("%03d.png", i)), func(x, y int) color.RGBA {
			if x < testWidth/2 {
				return color.RGBA{255, 255, 255, 255}
			}
			return color.RGBA{0, 0, 0, 255}
		})
		yaml += fmt.Sprintf(`  - image: image/%03d.png
    mask: mask/%03d.png
    intrinsics: [10, 0, 3.5, 0,  0, 10, 2.5, 0,  0, 0, 1, 0,  0, 0, 0, 1]
    pose: [1, 0, 0, %d,  0, 1, 0, 0,  0, 0, 1, -3,  0, 0, 0, 1]
    points: [[0.1, 0.2, 0.3]]
`, i, i, i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cameras.yaml"), []byte(yaml), 0644))
	return dir
}

func loadScene(t *testing.T) *Dataset {
	d, err := Load(Config{DataDir: writeScene(t), Neighbors: 1}, nil)
	require.NoError(t, err)
	return d
}

func TestLoad(t *testing.T) {
	d := loadScene(t)
	assert.Equal(t, 3, d.NumImages())
	w, h := d.Size()
	assert.Equal(t, testWidth, w)
	assert.Equal(t, testHeight, h)

	min, max := d.BoundingBox()
	assert.Equal(t, [3]float64{-1.01, -1.01, -1.01}, min)
	assert.Equal(t, [3]float64{1.01, 1.01, 1.01}, max)
	assert.Equal(t, 2.0, d.ScaleTransform().At(0, 0))
	assert.Equal(t, [3]float64{0.5, 0, 0}, d.ScaleTransform().Translation())

	// Camera 1 is closest to camera 0.
	assert.Equal(t, []int{1}, d.neighbors[0])
	assert.Equal(t, []int{0}, d.neighbors[1])
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, d.PointsAt(2).Data)
}

func TestToGrayImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(2, 3, 5, 4))
	src.SetRGBA(2, 3, color.RGBA{A: 255})
	src.SetRGBA(3, 3, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	src.SetRGBA(4, 3, color.RGBA{R: 128, G: 128, B: 128, A: 255})

	gray := toGrayImage(src)
	require.Equal(t, 3, gray.Width)
	require.Equal(t, 1, gray.Height)
	require.Equal(t, 1, gray.Channels)
	assert.InDelta(t, 0, gray.At(0, 0, 0), 0.01)
	assert.InDelta(t, 1, gray.At(1, 0, 0), 0.01)
	assert.InDelta(t, 128.0/255, gray.At(2, 0, 0), 0.01)
}

func TestLoadRejectsNonImage(t *testing.T) {
	dir := writeScene(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image", "001.png"), []byte("definitely not an image"), 0644))
	_, err := Load(Config{DataDir: dir}, nil)
	assert.Error(t, err)
}

func TestLoadRejectsBadCameraFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cameras.yaml"), []byte("views:\n  - image: a.png\n    pose: [1, 2]\n"), 0644))
	_, err := Load(Config{DataDir: dir}, nil)
	assert.Error(t, err)
}

func TestRandomRayBatch(t *testing.T) {
	d := loadScene(t)
	b1, err := d.RandomRayBatch(1, 64, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	b2, err := d.RandomRayBatch(1, 64, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	assert.Equal(t, []int{64, 3}, b1.Origins.Shape)
	assert.Equal(t, []int{64, 1}, b1.Mask.Shape)
	assert.Equal(t, b1.Directions.Data, b2.Directions.Data)

	for i := 0; i < 64; i++ {
		assert.Equal(t, []float32{1, 0, -3}, b1.Origins.Row(i))
		dir := b1.Directions.Row(i)
		assert.InDelta(t, 1.0, math.Sqrt(float64(dir[0]*dir[0]+dir[1]*dir[1]+dir[2]*dir[2])), 1e-5)
		assert.InDelta(t, 120.0/255, b1.TrueColor.Row(i)[0], 1e-6)
		m := b1.Mask.Data[i]
		assert.True(t, m < 0.01 || m > 0.99)
	}
	require.Len(t, b1.Views.Poses, 2)
	assert.Equal(t, d.Pose(1), b1.Views.Poses[0])

	_, err = d.RandomRayBatch(3, 8, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestFullRayGrid(t *testing.T) {
	d := loadScene(t)
	g, err := d.FullRayGrid(0, 1)
	require.NoError(t, err)
	assert.Equal(t, testWidth*testHeight, g.Len())

	// Pixel (0, 0) back-projects to (-0.35, -0.25, 1).
	n := math.Sqrt(0.35*0.35 + 0.25*0.25 + 1)
	dir := g.Directions.Row(0)
	assert.InDelta(t, -0.35/n, dir[0], 1e-6)
	assert.InDelta(t, -0.25/n, dir[1], 1e-6)
	assert.InDelta(t, 1/n, dir[2], 1e-6)

	// Last pixel of the first row.
	dir = g.Directions.Row(testWidth - 1)
	assert.InDelta(t, 0.35/n, dir[0], 1e-6)

	half, err := d.FullRayGrid(0, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, half.Width)
	assert.Equal(t, 3, half.Height)
	assert.Equal(t, []int{12, 3}, half.Directions.Shape)
}

func TestImageAt(t *testing.T) {
	d := loadScene(t)
	img, err := d.ImageAt(2, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Width)
	assert.Equal(t, 3, img.Height)
	assert.InDelta(t, 180.0/255, img.At(1, 1, 0), 2.0/255)

	_, err = d.ImageAt(-1, 1)
	assert.Error(t, err)
}

func TestImageAtCache(t *testing.T) {
	d, err := Load(Config{DataDir: writeScene(t), Neighbors: 1, ImageCache: 2}, nil)
	require.NoError(t, err)

	a, err := d.ImageAt(0, 2)
	require.NoError(t, err)
	b, err := d.ImageAt(0, 2)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = d.ImageAt(1, 2)
	require.NoError(t, err)
	_, err = d.ImageAt(2, 2)
	require.NoError(t, err)

	// View 0 was evicted by the two newer entries.
	c, err := d.ImageAt(0, 2)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, a.Pix, c.Pix)

	stats := d.CacheStats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(4), stats.Misses)
	assert.InDelta(t, 20.0, stats.HitRate, 1e-9)
	assert.Contains(t, stats.String(), "Hits: 1")
}

func TestInterpolatedRayGridEndpoints(t *testing.T) {
	d := loadScene(t)
	g, err := d.InterpolatedRayGrid(0, 2, 0.5, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, g.Origins.Row(0)[0], 1e-5)
	assert.InDelta(t, -3.0, g.Origins.Row(0)[2], 1e-5)
}

func rotZ(deg float64) scene.Mat4 {
	a := deg * math.Pi / 180
	m := scene.Identity4()
	m[0], m[1], m[4], m[5] = math.Cos(a), -math.Sin(a), math.Sin(a), math.Cos(a)
	return m
}

func TestInterpolatePose(t *testing.T) {
	a := rotZ(0)
	a[3] = 1
	b := rotZ(90)
	b[7] = 2

	p0, err := InterpolatePose(a, b, 0)
	require.NoError(t, err)
	p1, err := InterpolatePose(a, b, 1)
	require.NoError(t, err)
	for i := range a {
		assert.InDelta(t, a[i], p0[i], 1e-9)
		assert.InDelta(t, b[i], p1[i], 1e-9)
	}

	mid, err := InterpolatePose(rotZ(0), rotZ(90), 0.5)
	require.NoError(t, err)
	want := rotZ(45)
	for i := range want {
		assert.InDelta(t, want[i], mid[i], 1e-9)
	}
}

func TestQuatRoundTrip(t *testing.T) {
	for _, deg := range []float64{0, 30, 90, 179, -120} {
		r := rotZ(deg).Rotation()
		got := quatToRotation(rotationToQuat(r))
		for i := range r {
			assert.InDelta(t, r[i], got[i], 1e-9, "deg %v", deg)
		}
	}
}
