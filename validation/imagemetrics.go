package validation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/tsawler/go-hfs/metrics"
	"github.com/tsawler/go-hfs/scene"
)

const (
	ssimWindow = 11
	ssimSigma  = 1.5
	ssimC1     = 0.01 * 0.01
	ssimC2     = 0.03 * 0.03
)

// ImageScores are the full-image comparisons written to the metric log.
type ImageScores struct {
	L1         float64
	PSNR       float64
	SSIM       float64
	Perceptual float64
}

// PerceptualMetric is a learned or hand-crafted perceptual distance where
// lower means more similar.
type PerceptualMetric interface {
	Distance(pred, truth *scene.Image) (float64, error)
}

// Score compares a rendered image with the ground truth. Both must have
// the same size and channel count.
func Score(pred, truth *scene.Image, perceptual PerceptualMetric) (ImageScores, error) {
	if err := sameImageShape(pred, truth); err != nil {
		return ImageScores{}, err
	}
	var s ImageScores
	s.L1 = MeanAbsError(pred, truth)
	s.PSNR = metrics.MSE2PSNR(MeanSquaredError(pred, truth))
	s.SSIM = SSIM(pred, truth)
	if perceptual != nil {
		d, err := perceptual.Distance(pred, truth)
		if err != nil {
			return ImageScores{}, fmt.Errorf("perceptual metric failed: %w", err)
		}
		s.Perceptual = d
	}
	return s, nil
}

func sameImageShape(a, b *scene.Image) error {
	if a.Width != b.Width || a.Height != b.Height || a.Channels != b.Channels {
		return fmt.Errorf("image shapes differ: %dx%dx%d vs %dx%dx%d",
			a.Width, a.Height, a.Channels, b.Width, b.Height, b.Channels)
	}
	return nil
}

// MeanAbsError is the L1 distance averaged over all pixels and channels.
func MeanAbsError(a, b *scene.Image) float64 {
	if len(a.Pix) == 0 {
		return 0
	}
	var sum float64
	for i := range a.Pix {
		sum += math.Abs(float64(a.Pix[i] - b.Pix[i]))
	}
	return sum / float64(len(a.Pix))
}

// MeanSquaredError averages the squared difference over all values.
func MeanSquaredError(a, b *scene.Image) float64 {
	if len(a.Pix) == 0 {
		return 0
	}
	var sum float64
	for i := range a.Pix {
		d := float64(a.Pix[i] - b.Pix[i])
		sum += d * d
	}
	return sum / float64(len(a.Pix))
}

// SSIM is the structural similarity index with an 11×11 Gaussian window
// (σ = 1.5) and zero padding, averaged over channels.
func SSIM(a, b *scene.Image) float64 {
	kernel := gaussianKernel(ssimWindow, ssimSigma)
	perChannel := make([]float64, a.Channels)
	for c := 0; c < a.Channels; c++ {
		x := channel(a, c)
		y := channel(b, c)
		w, h := a.Width, a.Height

		muX := blur(x, w, h, kernel)
		muY := blur(y, w, h, kernel)
		xx := blur(product(x, x), w, h, kernel)
		yy := blur(product(y, y), w, h, kernel)
		xy := blur(product(x, y), w, h, kernel)

		values := make([]float64, len(x))
		for i := range values {
			mx, my := muX[i], muY[i]
			sx := xx[i] - mx*mx
			sy := yy[i] - my*my
			sxy := xy[i] - mx*my
			values[i] = ((2*mx*my + ssimC1) * (2*sxy + ssimC2)) /
				((mx*mx + my*my + ssimC1) * (sx + sy + ssimC2))
		}
		perChannel[c] = stat.Mean(values, nil)
	}
	return stat.Mean(perChannel, nil)
}

func channel(im *scene.Image, c int) []float64 {
	out := make([]float64, im.Width*im.Height)
	for i := range out {
		out[i] = float64(im.Pix[i*im.Channels+c])
	}
	return out
}

func product(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] * b[i]
	}
	return out
}

func gaussianKernel(size int, sigma float64) []float64 {
	k := make([]float64, size)
	half := size / 2
	var sum float64
	for i := range k {
		d := float64(i - half)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// blur applies the separable kernel with zero padding.
func blur(src []float64, w, h int, k []float64) []float64 {
	half := len(k) / 2
	tmp := make([]float64, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				xx := x + i - half
				if xx >= 0 && xx < w {
					acc += kv * src[y*w+xx]
				}
			}
			tmp[y*w+x] = acc
		}
	}
	out := make([]float64, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				yy := y + i - half
				if yy >= 0 && yy < h {
					acc += kv * tmp[yy*w+x]
				}
			}
			out[y*w+x] = acc
		}
	}
	return out
}

// GradientPerceptual compares luminance gradient magnitudes over a small
// image pyramid. It is zero for identical images and grows with
// structural differences.
type GradientPerceptual struct {
	Scales int
}

// NewGradientPerceptual returns a three-scale metric.
func NewGradientPerceptual() *GradientPerceptual {
	return &GradientPerceptual{Scales: 3}
}

func (g *GradientPerceptual) Distance(pred, truth *scene.Image) (float64, error) {
	if err := sameImageShape(pred, truth); err != nil {
		return 0, err
	}
	a, b := luminance(pred), luminance(truth)
	w, h := pred.Width, pred.Height
	var total float64
	var used int
	for s := 0; s < g.Scales && w >= 2 && h >= 2; s++ {
		ga := gradientMagnitude(a, w, h)
		gb := gradientMagnitude(b, w, h)
		diff := make([]float64, len(ga))
		for i := range ga {
			diff[i] = math.Abs(ga[i] - gb[i])
		}
		total += stat.Mean(diff, nil)
		used++
		a, _, _ = halve(a, w, h)
		b, w, h = halve(b, w, h)
	}
	if used == 0 {
		return 0, nil
	}
	return total / float64(used), nil
}

func luminance(im *scene.Image) []float64 {
	out := make([]float64, im.Width*im.Height)
	for i := range out {
		if im.Channels < 3 {
			out[i] = float64(im.Pix[i*im.Channels])
			continue
		}
		p := im.Pix[i*im.Channels : i*im.Channels+3]
		out[i] = 0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])
	}
	return out
}

func gradientMagnitude(src []float64, w, h int) []float64 {
	out := make([]float64, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var gx, gy float64
			if x+1 < w {
				gx = src[y*w+x+1] - src[y*w+x]
			}
			if y+1 < h {
				gy = src[(y+1)*w+x] - src[y*w+x]
			}
			out[y*w+x] = math.Hypot(gx, gy)
		}
	}
	return out
}

func halve(src []float64, w, h int) ([]float64, int, int) {
	nw, nh := w/2, h/2
	out := make([]float64, nw*nh)
	for y := 0; y < nh; y++ {
		for x := 0; x < nw; x++ {
			out[y*nw+x] = (src[2*y*w+2*x] + src[2*y*w+2*x+1] + src[(2*y+1)*w+2*x] + src[(2*y+1)*w+2*x+1]) / 4
		}
	}
	return out, nw, nh
}
