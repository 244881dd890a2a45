package validation

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/anthonynsimon/bild/imgio"

	"github.com/tsawler/go-hfs/scene"
	"github.com/tsawler/go-hfs/tensor"
)

// Output subdirectories below the experiment directory.
const (
	ColorDir   = "validations_fine"
	NormalDir  = "normals"
	DepthDir   = "depths"
	NCCDir     = "ncc_costs"
	MeshDir    = "meshes"
	RenderDir  = "render"
	MetricFile = "logs/image_metric.txt"
)

// to8 maps a unit value to a byte the way rendered colours are stored:
// scaled by 256 and clipped.
func to8(v float32) uint8 {
	v *= 256
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func clip8(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// colorImage converts an N×3 colour tensor to an RGBA image.
func colorImage(t *tensor.Tensor, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		row := t.Row(i)
		img.SetRGBA(i%w, i/w, color.RGBA{R: to8(row[0]), G: to8(row[1]), B: to8(row[2]), A: 255})
	}
	return img
}

// stackWithTruth places the rendered image above the ground truth.
func stackWithTruth(rendered *image.RGBA, truth *scene.Image) *image.RGBA {
	w, h := rendered.Bounds().Dx(), rendered.Bounds().Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, 2*h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.SetRGBA(x, y, rendered.RGBAAt(x, y))
			if truth == nil || x >= truth.Width || y >= truth.Height {
				continue
			}
			var c [3]uint8
			for ch := 0; ch < 3; ch++ {
				src := ch
				if truth.Channels == 1 {
					src = 0
				}
				c[ch] = clip8(truth.At(x, y, src)*255 + 0.5)
			}
			out.SetRGBA(x, h+y, color.RGBA{R: c[0], G: c[1], B: c[2], A: 255})
		}
	}
	return out
}

// normalImage rotates world-space normals into the camera frame of pose
// and maps [-1, 1] to bytes.
func normalImage(normals *tensor.Tensor, pose scene.Mat4, w, h int) (*image.RGBA, error) {
	inv, err := pose.Inverse()
	if err != nil {
		return nil, fmt.Errorf("failed to invert pose: %w", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		row := normals.Row(i)
		n := inv.RotateVector([3]float64{float64(row[0]), float64(row[1]), float64(row[2])})
		img.SetRGBA(i%w, i/w, color.RGBA{
			R: clip8(float32(n[0]*128 + 128)),
			G: clip8(float32(n[1]*128 + 128)),
			B: clip8(float32(n[2]*128 + 128)),
			A: 255,
		})
	}
	return img, nil
}

// depthImage clamps negative depths to zero and normalizes by the maximum.
func depthImage(depth *tensor.Tensor, w, h int) *image.Gray {
	var maxDepth float32
	for _, d := range depth.Data[:w*h] {
		if d > maxDepth {
			maxDepth = d
		}
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		d := depth.Data[i]
		if d < 0 || maxDepth == 0 {
			d = 0
		} else {
			d = 255 * d / maxDepth
		}
		img.SetGray(i%w, i/w, color.Gray{Y: clip8(d)})
	}
	return img
}

// nccImage maps costs in [0, 2] to bytes.
func nccImage(cost *tensor.Tensor, w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.SetGray(i%w, i/w, color.Gray{Y: clip8(255 * cost.Data[i] / 2)})
	}
	return img
}

// sceneImage copies an N×3 colour tensor into a float image for scoring.
func sceneImage(t *tensor.Tensor, w, h int) *scene.Image {
	im := scene.NewImage(w, h, 3)
	copy(im.Pix, t.Data[:w*h*3])
	return im
}

func savePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := imgio.Save(path, img, imgio.PNGEncoder()); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// frameName is the file name shared by all per-view outputs.
func frameName(iter, imageIndex int) string {
	return fmt.Sprintf("%08d_0_%d.png", iter, imageIndex)
}
