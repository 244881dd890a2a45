package validation

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/tsawler/go-hfs/mesh"
	"github.com/tsawler/go-hfs/scene"
)

// InterpolationFrames is the number of frames rendered between two views.
// The animation plays them forward and then backward.
const InterpolationFrames = 60

// interpolationLevel is the resolution level of interpolated frames.
const interpolationLevel = 4

// Config controls validation outputs.
type Config struct {
	BaseDir            string
	BatchSize          int
	ResolutionLevel    int
	UseWhiteBackground bool
	Seed               int64
}

// Validator renders images and meshes from the current model state and
// writes them below the experiment directory.
type Validator struct {
	config     Config
	provider   scene.DataProvider
	renderer   scene.Renderer
	perceptual PerceptualMetric
	logger     *slog.Logger
}

// NewValidator creates a validator. A nil perceptual metric uses
// GradientPerceptual.
func NewValidator(config Config, provider scene.DataProvider, renderer scene.Renderer, perceptual PerceptualMetric, logger *slog.Logger) (*Validator, error) {
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("validation batch size must be positive, got %d", config.BatchSize)
	}
	if config.ResolutionLevel <= 0 {
		return nil, fmt.Errorf("validation resolution level must be positive, got %d", config.ResolutionLevel)
	}
	if perceptual == nil {
		perceptual = NewGradientPerceptual()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Validator{
		config:     config,
		provider:   provider,
		renderer:   renderer,
		perceptual: perceptual,
		logger:     logger,
	}, nil
}

// randomView picks the view validated at iter. The choice depends only on
// the seed and the iteration, so a resumed run picks the same views.
func (v *Validator) randomView(iter int) int {
	rng := rand.New(rand.NewSource(v.config.Seed*7_919 + int64(iter)*104_729 + 2))
	return rng.Intn(v.provider.NumImages())
}

func (v *Validator) background() []float32 {
	if v.config.UseWhiteBackground {
		return []float32{1, 1, 1}
	}
	return nil
}

// ValidateImage renders view imageIndex (a random view when negative) at
// level (the configured level when negative) and writes the colour,
// normal, depth and consistency maps. At full resolution it also appends
// the image scores to the metric log.
func (v *Validator) ValidateImage(ctx context.Context, iter, imageIndex, level int, cosAnnealRatio float32) error {
	if imageIndex < 0 {
		imageIndex = v.randomView(iter)
	}
	if imageIndex >= v.provider.NumImages() {
		return fmt.Errorf("image index %d out of range [0, %d)", imageIndex, v.provider.NumImages())
	}

	header := fmt.Sprintf("Validate: iter: %d, camera: %d\n", iter, imageIndex)
	v.logger.Info("validate image", "iter", iter, "camera", imageIndex)
	if level == 1 {
		if err := v.appendMetric(header); err != nil {
			return err
		}
	}
	if level < 0 {
		level = v.config.ResolutionLevel
	}

	grid, err := v.provider.FullRayGrid(imageIndex, level)
	if err != nil {
		return fmt.Errorf("failed to generate rays for view %d: %w", imageIndex, err)
	}
	frame, err := RenderFrame(ctx, v.renderer, v.provider, grid, RenderOptions{
		BatchSize:      v.config.BatchSize,
		CosAnnealRatio: cosAnnealRatio,
		Background:     v.background(),
	})
	if err != nil {
		return err
	}
	w, h := frame.Width, frame.Height

	if level == 1 {
		truth, err := v.provider.ImageAt(imageIndex, 1)
		if err != nil {
			return fmt.Errorf("failed to load ground truth %d: %w", imageIndex, err)
		}
		scores, err := Score(sceneImage(frame.Color, w, h), truth, v.perceptual)
		if err != nil {
			return err
		}
		lines := fmt.Sprintf("%4d img: loss: %.2f\n", imageIndex, scores.L1) +
			fmt.Sprintf("%4d img: PSNR: %.2f, SSIM: %.2f, LPIPS %.2f\n", imageIndex, scores.PSNR, scores.SSIM, scores.Perceptual)
		if err := v.appendMetric(lines); err != nil {
			return err
		}
		v.logger.Info("image scores", "camera", imageIndex, "l1", scores.L1, "psnr", scores.PSNR, "ssim", scores.SSIM, "perceptual", scores.Perceptual)
	}

	name := frameName(iter, imageIndex)
	truth, err := v.provider.ImageAt(imageIndex, level)
	if err != nil {
		return fmt.Errorf("failed to load ground truth %d: %w", imageIndex, err)
	}
	if err := savePNG(filepath.Join(v.config.BaseDir, ColorDir, name), stackWithTruth(colorImage(frame.Color, w, h), truth)); err != nil {
		return err
	}
	if frame.Normals != nil {
		img, err := normalImage(frame.Normals, v.provider.Pose(imageIndex), w, h)
		if err != nil {
			return err
		}
		if err := savePNG(filepath.Join(v.config.BaseDir, NormalDir, name), img); err != nil {
			return err
		}
	}
	if frame.Depth != nil {
		if err := savePNG(filepath.Join(v.config.BaseDir, DepthDir, name), depthImage(frame.Depth, w, h)); err != nil {
			return err
		}
	}
	if frame.NCC != nil {
		if err := savePNG(filepath.Join(v.config.BaseDir, NCCDir, name), nccImage(frame.NCC, w, h)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateMesh extracts the iso-surface of the signed distance field over
// the scene bounding box and writes meshes/<iter>.ply. worldSpace applies
// the scene scale transform to the vertices.
func (v *Validator) ValidateMesh(ctx context.Context, iter int, worldSpace bool, resolution int, threshold float32) error {
	v.logger.Info("validate mesh", "iter", iter, "resolution", resolution, "threshold", threshold)
	min, max := v.provider.BoundingBox()
	m, err := mesh.Extract(ctx, v.renderer.SDF, min, max, resolution, threshold)
	if err != nil {
		return fmt.Errorf("failed to extract mesh: %w", err)
	}
	if worldSpace {
		st := v.provider.ScaleTransform()
		m.ScaleTranslate(st.At(0, 0), st.Translation())
	}
	path := filepath.Join(v.config.BaseDir, MeshDir, fmt.Sprintf("%08d.ply", iter))
	if err := mesh.SavePLY(path, m); err != nil {
		return err
	}
	v.logger.Info("mesh saved", "path", path, "vertices", len(m.Vertices), "faces", len(m.Faces))
	return nil
}

// InterpolationRatio eases the camera between the two views.
func InterpolationRatio(frame int) float64 {
	return math.Sin((float64(frame)/InterpolationFrames-0.5)*math.Pi)*0.5 + 0.5
}

// InterpolateView renders a camera path from view a to view b and back and
// writes it to render/<iter>_<a>_<b>.gif. It returns the output path.
func (v *Validator) InterpolateView(ctx context.Context, iter, a, b int, cosAnnealRatio float32) (string, error) {
	frames := make([]*image.RGBA, 0, 2*InterpolationFrames)
	for i := 0; i < InterpolationFrames; i++ {
		grid, err := v.provider.InterpolatedRayGrid(a, b, InterpolationRatio(i), interpolationLevel)
		if err != nil {
			return "", fmt.Errorf("failed to generate rays for frame %d: %w", i, err)
		}
		grid.Views = nil
		frame, err := RenderFrame(ctx, v.renderer, v.provider, grid, RenderOptions{
			BatchSize:      v.config.BatchSize,
			CosAnnealRatio: cosAnnealRatio,
			Background:     v.background(),
		})
		if err != nil {
			return "", err
		}
		frames = append(frames, colorImage(frame.Color, frame.Width, frame.Height))
		v.logger.Debug("rendered frame", "frame", i)
	}
	for i := InterpolationFrames - 1; i >= 0; i-- {
		frames = append(frames, frames[i])
	}

	path := filepath.Join(v.config.BaseDir, RenderDir, fmt.Sprintf("%08d_%d_%d.gif", iter, a, b))
	if err := saveAnimation(path, frames); err != nil {
		return "", err
	}
	return path, nil
}

func (v *Validator) appendMetric(s string) error {
	path := filepath.Join(v.config.BaseDir, MetricFile)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open metric log: %w", err)
	}
	if _, err := f.WriteString(s); err != nil {
		f.Close()
		return fmt.Errorf("failed to write metric log: %w", err)
	}
	return f.Close()
}
