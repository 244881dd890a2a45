package dataset

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"os"

	"github.com/anthonynsimon/bild/clone"
	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/imgio"
	"github.com/h2non/filetype"
	"golang.org/x/image/draw"

	"github.com/tsawler/go-hfs/scene"
)

// sniffLen is how much of a file filetype needs to recognize it.
const sniffLen = 262

// openImage checks the file signature and decodes it.
func openImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	f.Close()
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	if !filetype.IsImage(head[:n]) {
		return nil, fmt.Errorf("%s is not an image", path)
	}

	img, err := imgio.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// toSceneImage converts img to an RGB float image in [0, 1].
func toSceneImage(img image.Image) *scene.Image {
	rgba := clone.AsRGBA(img)
	b := rgba.Bounds()
	out := scene.NewImage(b.Dx(), b.Dy(), 3)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := rgba.RGBAAt(b.Min.X+x, b.Min.Y+y)
			out.Set(x, y, 0, float32(c.R)/255)
			out.Set(x, y, 1, float32(c.G)/255)
			out.Set(x, y, 2, float32(c.B)/255)
		}
	}
	return out
}

// toGrayImage converts img to a single-channel float image in [0, 1].
func toGrayImage(img image.Image) *scene.Image {
	gray := effect.Grayscale(img)
	b := gray.Bounds()
	out := scene.NewImage(b.Dx(), b.Dy(), 1)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, 0, float32(gray.RGBAAt(b.Min.X+x, b.Min.Y+y).R)/255)
		}
	}
	return out
}

// fromSceneImage converts an RGB float image back to 8-bit.
func fromSceneImage(im *scene.Image) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, im.Width, im.Height))
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			var c [3]uint8
			for ch := 0; ch < 3 && ch < im.Channels; ch++ {
				c[ch] = quantize(im.At(x, y, ch))
			}
			if im.Channels == 1 {
				c[1], c[2] = c[0], c[0]
			}
			out.SetRGBA(x, y, color.RGBA{R: c[0], G: c[1], B: c[2], A: 255})
		}
	}
	return out
}

func quantize(v float32) uint8 {
	v = v*255 + 0.5
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// downsample resizes im to (width/level, height/level) with bilinear
// filtering. Level 1 returns im itself.
func downsample(im *scene.Image, level int) *scene.Image {
	if level <= 1 {
		return im
	}
	w, h := im.Width/level, im.Height/level
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	src := fromSceneImage(im)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return toSceneImage(dst)
}
