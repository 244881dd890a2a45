// Package dataset provides calibrated multi-view images as training rays.
package dataset

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"path/filepath"
	"sort"

	"github.com/tsawler/go-hfs/scene"
	"github.com/tsawler/go-hfs/tensor"
)

// Config locates a scene on disk.
type Config struct {
	DataDir    string `yaml:"data_dir" toml:"data_dir"`
	CameraFile string `yaml:"camera_file" toml:"camera_file"`
	// Neighbors is the number of source views picked for consistency
	// scoring when a view does not list its own.
	Neighbors int `yaml:"neighbors" toml:"neighbors"`
	// ImageCache bounds the number of downsampled images kept in memory.
	ImageCache int `yaml:"image_cache" toml:"image_cache"`
}

// DefaultConfig returns the default dataset layout.
func DefaultConfig() Config {
	return Config{CameraFile: "cameras.yaml", Neighbors: 2, ImageCache: 16}
}

// Dataset holds every image, mask and camera in memory.
type Dataset struct {
	images        []*scene.Image
	masks         []*scene.Image
	gray          []*scene.Image
	intrinsics    []scene.Mat4
	intrinsicsInv []scene.Mat4
	poses         []scene.Mat4
	neighbors     [][]int
	points        []*tensor.Tensor
	scaleMat      scene.Mat4
	bboxMin       [3]float64
	bboxMax       [3]float64
	width         int
	height        int
	cache         *imageCache
}

// Load reads the camera file and every referenced image.
func Load(cfg Config, logger *slog.Logger) (*Dataset, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CameraFile == "" {
		cfg.CameraFile = "cameras.yaml"
	}
	cf, err := LoadCameraFile(filepath.Join(cfg.DataDir, cfg.CameraFile))
	if err != nil {
		return nil, err
	}
	logger.Info("load data: begin", "dir", cfg.DataDir, "views", len(cf.Views))

	d := &Dataset{
		scaleMat: toMat4(cf.ScaleMat),
		bboxMin:  toVec3(cf.BBoxMin, -1.01),
		bboxMax:  toVec3(cf.BBoxMax, 1.01),
		cache:    newImageCache(cfg.ImageCache),
	}
	for i, v := range cf.Views {
		img, err := openImage(filepath.Join(cfg.DataDir, v.Image))
		if err != nil {
			return nil, fmt.Errorf("view %d: %w", i, err)
		}
		rgb := toSceneImage(img)
		if i == 0 {
			d.width, d.height = rgb.Width, rgb.Height
		} else if rgb.Width != d.width || rgb.Height != d.height {
			return nil, fmt.Errorf("view %d: image is %dx%d, expected %dx%d", i, rgb.Width, rgb.Height, d.width, d.height)
		}

		mask := scene.NewImage(rgb.Width, rgb.Height, 1)
		if v.Mask != "" {
			mimg, err := openImage(filepath.Join(cfg.DataDir, v.Mask))
			if err != nil {
				return nil, fmt.Errorf("view %d mask: %w", i, err)
			}
			mask = toGrayImage(mimg)
			if mask.Width != rgb.Width || mask.Height != rgb.Height {
				return nil, fmt.Errorf("view %d: mask size does not match image", i)
			}
		} else {
			for p := range mask.Pix {
				mask.Pix[p] = 1
			}
		}

		intr := toMat4(v.Intrinsics)
		intrInv, err := intr.Inverse()
		if err != nil {
			return nil, fmt.Errorf("view %d intrinsics: %w", i, err)
		}

		pts := tensor.Zeros(len(v.Points), 3)
		for p, pt := range v.Points {
			row := pts.Row(p)
			row[0], row[1], row[2] = float32(pt[0]), float32(pt[1]), float32(pt[2])
		}

		d.images = append(d.images, rgb)
		d.masks = append(d.masks, mask)
		d.gray = append(d.gray, toGrayImage(img))
		d.intrinsics = append(d.intrinsics, intr)
		d.intrinsicsInv = append(d.intrinsicsInv, intrInv)
		d.poses = append(d.poses, toMat4(v.Pose))
		d.points = append(d.points, pts)
	}

	k := cfg.Neighbors
	for i, v := range cf.Views {
		if len(v.Neighbors) > 0 {
			d.neighbors = append(d.neighbors, append([]int(nil), v.Neighbors...))
		} else {
			d.neighbors = append(d.neighbors, d.closestViews(i, k))
		}
	}

	logger.Info("load data: end", "width", d.width, "height", d.height)
	return d, nil
}

// closestViews returns up to k views ordered by camera-centre distance.
func (d *Dataset) closestViews(i, k int) []int {
	ci := d.poses[i].Translation()
	type cand struct {
		idx  int
		dist float64
	}
	var cands []cand
	for j := range d.poses {
		if j == i {
			continue
		}
		cj := d.poses[j].Translation()
		cands = append(cands, cand{j, math.Hypot(math.Hypot(ci[0]-cj[0], ci[1]-cj[1]), ci[2]-cj[2])})
	}
	sort.SliceStable(cands, func(a, b int) bool { return cands[a].dist < cands[b].dist })
	if k > len(cands) {
		k = len(cands)
	}
	out := make([]int, 0, k)
	for _, c := range cands[:k] {
		out = append(out, c.idx)
	}
	return out
}

// NumImages returns the number of views.
func (d *Dataset) NumImages() int { return len(d.images) }

// Size returns the full-resolution image size.
func (d *Dataset) Size() (width, height int) { return d.width, d.height }

// Pose returns the camera-to-world transform of a view.
func (d *Dataset) Pose(imageIndex int) scene.Mat4 { return d.poses[imageIndex] }

// BoundingBox returns the object bounding box in the normalized frame.
func (d *Dataset) BoundingBox() (min, max [3]float64) { return d.bboxMin, d.bboxMax }

// ScaleTransform maps normalized coordinates to world space.
func (d *Dataset) ScaleTransform() scene.Mat4 { return d.scaleMat }

// PointsAt returns the sparse surface samples of a view.
func (d *Dataset) PointsAt(imageIndex int) *tensor.Tensor { return d.points[imageIndex] }

// ImageAt returns the colour image of a view downsampled by level. The
// result may be shared with later calls and must not be modified.
func (d *Dataset) ImageAt(imageIndex, level int) (*scene.Image, error) {
	if err := d.checkIndex(imageIndex); err != nil {
		return nil, err
	}
	return d.cache.getOrCreate(levelKey{image: imageIndex, level: level}, func() *scene.Image {
		return downsample(d.images[imageIndex], level)
	}), nil
}

// CacheStats reports how often ImageAt was served from memory.
func (d *Dataset) CacheStats() CacheStats { return d.cache.stats() }

// BoundingSphereBounds intersects rays with the unit sphere.
func (d *Dataset) BoundingSphereBounds(origins, directions *tensor.Tensor) (near, far *tensor.Tensor) {
	return scene.SphereBounds(origins, directions)
}

// views assembles the reference view and its neighbours.
func (d *Dataset) views(imageIndex int) *scene.ViewSet {
	ids := append([]int{imageIndex}, d.neighbors[imageIndex]...)
	vs := &scene.ViewSet{}
	for _, id := range ids {
		vs.Intrinsics = append(vs.Intrinsics, d.intrinsics[id])
		vs.IntrinsicsInv = append(vs.IntrinsicsInv, d.intrinsicsInv[id])
		vs.Poses = append(vs.Poses, d.poses[id])
		vs.Gray = append(vs.Gray, d.gray[id])
	}
	return vs
}

func (d *Dataset) checkIndex(imageIndex int) error {
	if imageIndex < 0 || imageIndex >= len(d.images) {
		return fmt.Errorf("image index %d out of range [0, %d)", imageIndex, len(d.images))
	}
	return nil
}

// RandomRayBatch samples batchSize pixels of one view uniformly.
func (d *Dataset) RandomRayBatch(imageIndex, batchSize int, rng *rand.Rand) (*scene.RayBatch, error) {
	if err := d.checkIndex(imageIndex); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	b := &scene.RayBatch{
		ImageIndex: imageIndex,
		Origins:    tensor.Zeros(batchSize, 3),
		Directions: tensor.Zeros(batchSize, 3),
		TrueColor:  tensor.Zeros(batchSize, 3),
		Mask:       tensor.Zeros(batchSize, 1),
		Views:      d.views(imageIndex),
	}
	img, mask := d.images[imageIndex], d.masks[imageIndex]
	for i := 0; i < batchSize; i++ {
		x, y := rng.Intn(d.width), rng.Intn(d.height)
		o, dir := pixelRay(d.intrinsicsInv[imageIndex], d.poses[imageIndex], float64(x), float64(y))
		setRow(b.Origins, i, o)
		setRow(b.Directions, i, dir)
		c := b.TrueColor.Row(i)
		c[0], c[1], c[2] = img.At(x, y, 0), img.At(x, y, 1), img.At(x, y, 2)
		b.Mask.Data[i] = mask.At(x, y, 0)
	}
	return b, nil
}

// FullRayGrid returns one ray per pixel of a (W/level)×(H/level) grid
// spanning the whole image.
func (d *Dataset) FullRayGrid(imageIndex, level int) (*scene.RayGrid, error) {
	if err := d.checkIndex(imageIndex); err != nil {
		return nil, err
	}
	g := d.grid(d.intrinsicsInv[imageIndex], d.poses[imageIndex], level)
	g.Views = d.views(imageIndex)
	return g, nil
}

// InterpolatedRayGrid renders from a pose between two views, using the
// first view's intrinsics.
func (d *Dataset) InterpolatedRayGrid(indexA, indexB int, ratio float64, level int) (*scene.RayGrid, error) {
	if err := d.checkIndex(indexA); err != nil {
		return nil, err
	}
	if err := d.checkIndex(indexB); err != nil {
		return nil, err
	}
	pose, err := InterpolatePose(d.poses[indexA], d.poses[indexB], ratio)
	if err != nil {
		return nil, fmt.Errorf("failed to interpolate pose: %w", err)
	}
	return d.grid(d.intrinsicsInv[0], pose, level), nil
}

func (d *Dataset) grid(intrInv, pose scene.Mat4, level int) *scene.RayGrid {
	if level < 1 {
		level = 1
	}
	w, h := d.width/level, d.height/level
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	g := &scene.RayGrid{Width: w, Height: h, Origins: tensor.Zeros(w*h, 3), Directions: tensor.Zeros(w*h, 3)}
	for y := 0; y < h; y++ {
		py := linspace(float64(d.height-1), h, y)
		for x := 0; x < w; x++ {
			o, dir := pixelRay(intrInv, pose, linspace(float64(d.width-1), w, x), py)
			setRow(g.Origins, y*w+x, o)
			setRow(g.Directions, y*w+x, dir)
		}
	}
	return g
}

// linspace returns the i-th of n evenly spaced values in [0, end].
func linspace(end float64, n, i int) float64 {
	if n <= 1 {
		return 0
	}
	return end * float64(i) / float64(n-1)
}

// pixelRay back-projects pixel (x, y) through the inverse intrinsics and
// rotates the unit direction into world space.
func pixelRay(intrInv, pose scene.Mat4, x, y float64) (origin, dir [3]float64) {
	var p [3]float64
	for r := 0; r < 3; r++ {
		p[r] = intrInv.At(r, 0)*x + intrInv.At(r, 1)*y + intrInv.At(r, 2)
	}
	n := math.Sqrt(p[0]*p[0] + p[1]*p[1] + p[2]*p[2])
	for r := 0; r < 3; r++ {
		p[r] /= n
	}
	return pose.Translation(), pose.RotateVector(p)
}

func setRow(t *tensor.Tensor, i int, v [3]float64) {
	row := t.Row(i)
	row[0], row[1], row[2] = float32(v[0]), float32(v[1]), float32(v[2])
}

var _ scene.DataProvider = (*Dataset)(nil)
