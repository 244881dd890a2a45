package training

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/tsawler/go-hfs/metrics"
	"github.com/tsawler/go-hfs/scene"
	"github.com/tsawler/go-hfs/tensor"
)

const (
	maskSumEpsilon  = 1e-5
	nccCountEpsilon = 1e-8
	weightClampLow  = 1e-3
	weightClampHigh = 1 - 1e-3
	nccScale        = 0.5
)

// Loss interface defines methods that all loss functions must implement.
// Forward reports the scalar terms; Backward returns the gradients of the
// total with respect to the renderer outputs and the auxiliary SDF values.
type Loss interface {
	Forward(in *LossInput) (*LossTerms, error)
	Backward(in *LossInput) (*scene.RenderGrads, []float32, error)
}

// LossInput bundles one iteration's renderer output, its ray batch and the
// SDF evaluated at the auxiliary point cloud.
type LossInput struct {
	Output *scene.RenderOutput
	Batch  *scene.RayBatch
	// PointSDF holds sdf(p) for every auxiliary surface point. Empty means
	// the geometric term is zero.
	PointSDF []float32
}

// LossTerms are the individual loss terms, their weighted total and the
// per-step statistics reported alongside them.
type LossTerms struct {
	Color   float32
	Eikonal float32
	Mask    float32
	SDF     float32
	NCC     float32
	Total   float32

	PSNR      float32
	SVal      float32
	CDF       float32
	WeightMax float32
}

// LossWeights are the configurable term weights. Color, SDF and NCC are
// fixed at 1.
type LossWeights struct {
	IGRWeight  float32
	MaskWeight float32
}

// LossComposer combines the colour, eikonal, mask, geometric and
// multi-view consistency terms.
type LossComposer struct {
	weights LossWeights
}

// NewLossComposer creates a composer with the given weights.
func NewLossComposer(weights LossWeights) *LossComposer {
	return &LossComposer{weights: weights}
}

func (lc *LossComposer) check(in *LossInput) (int, error) {
	out, batch := in.Output, in.Batch
	n := batch.Len()
	if batch.TrueColor.Rows() != n || batch.Mask.Rows() != n {
		return 0, fmt.Errorf("%w: batch has %d rays, %d colours, %d mask values", tensor.ErrShapeMismatch, n, batch.TrueColor.Rows(), batch.Mask.Rows())
	}
	if err := out.Validate(n); err != nil {
		return 0, err
	}
	return n, nil
}

// Forward computes every term. No clamping is applied to the total.
func (lc *LossComposer) Forward(in *LossInput) (*LossTerms, error) {
	n, err := lc.check(in)
	if err != nil {
		return nil, err
	}
	out, batch := in.Output, in.Batch

	maskSum := batch.Mask.Sum() + maskSumEpsilon

	var colorAbs, colorSq float64
	for i := 0; i < n; i++ {
		m := batch.Mask.Data[i]
		c, t := out.Color.Row(i), batch.TrueColor.Row(i)
		for k := 0; k < 3; k++ {
			e := float64((c[k] - t[k]) * m)
			if e < 0 {
				colorAbs -= e
			} else {
				colorAbs += e
			}
			d := float64(c[k] - t[k])
			colorSq += d * d * float64(m)
		}
	}

	var bce float64
	for i := 0; i < n; i++ {
		w := clamp(out.WeightSum.Data[i], weightClampLow, weightClampHigh)
		m := batch.Mask.Data[i]
		bce -= float64(m*math32.Log(w) + (1-m)*math32.Log(1-w))
	}

	var sdfAbs float64
	for _, s := range in.PointSDF {
		sdfAbs += float64(math32.Abs(s))
	}
	sdfLoss := float32(0)
	if len(in.PointSDF) > 0 {
		sdfLoss = float32(sdfAbs / float64(len(in.PointSDF)))
	}

	terms := &LossTerms{
		Color:   float32(colorAbs / float64(maskSum)),
		Eikonal: out.GradientError,
		Mask:    float32(bce / float64(n)),
		SDF:     sdfLoss,
		NCC:     nccScale * out.NCCCost.Sum() / (out.InsideSphere.Sum() + nccCountEpsilon),
	}
	terms.Total = terms.Color +
		terms.Eikonal*lc.weights.IGRWeight +
		terms.Mask*lc.weights.MaskWeight +
		terms.SDF +
		terms.NCC

	terms.PSNR = float32(metrics.MSE2PSNR(colorSq / (float64(maskSum) * 3.0)))
	terms.SVal = out.SVal.Mean()
	terms.CDF = maskedMean(out.CDF, batch.Mask, maskSum)
	terms.WeightMax = maskedMean(out.WeightMax, batch.Mask, maskSum)

	return terms, nil
}

// Backward returns d(total)/d(output) for the colour, accumulated weight,
// consistency cost and gradient error, and d(total)/d(sdf) per auxiliary
// point.
func (lc *LossComposer) Backward(in *LossInput) (*scene.RenderGrads, []float32, error) {
	n, err := lc.check(in)
	if err != nil {
		return nil, nil, err
	}
	out, batch := in.Output, in.Batch
	maskSum := batch.Mask.Sum() + maskSumEpsilon

	grads := &scene.RenderGrads{
		Color:         tensor.Zeros(n, 3),
		WeightSum:     tensor.Zeros(n, 1),
		NCCCost:       tensor.Zeros(n, 1),
		GradientError: lc.weights.IGRWeight,
	}

	for i := 0; i < n; i++ {
		m := batch.Mask.Data[i]
		c, t, g := out.Color.Row(i), batch.TrueColor.Row(i), grads.Color.Row(i)
		for k := 0; k < 3; k++ {
			g[k] = sign((c[k]-t[k])*m) * m / maskSum
		}

		w := out.WeightSum.Data[i]
		if w > weightClampLow && w < weightClampHigh {
			grads.WeightSum.Data[i] = lc.weights.MaskWeight * ((1-m)/(1-w) - m/w) / float32(n)
		}
	}

	nccGrad := nccScale / (out.InsideSphere.Sum() + nccCountEpsilon)
	for i := range grads.NCCCost.Data {
		grads.NCCCost.Data[i] = nccGrad
	}

	sdfGrad := make([]float32, len(in.PointSDF))
	for i, s := range in.PointSDF {
		sdfGrad[i] = sign(s) / float32(len(in.PointSDF))
	}

	return grads, sdfGrad, nil
}

func maskedMean(values, mask *tensor.Tensor, maskSum float32) float32 {
	var s float64
	for i := range mask.Data {
		s += float64(values.Row(i)[0] * mask.Data[i])
	}
	return float32(s / float64(maskSum))
}

func clamp(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(hi, v))
}

func sign(v float32) float32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

var _ Loss = (*LossComposer)(nil)
