package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/tsawler/go-hfs/metrics"
	"github.com/tsawler/go-hfs/optimizer"
	"github.com/tsawler/go-hfs/scene"
	"github.com/tsawler/go-hfs/tensor"
)

// Phase is the state of the training loop.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseRunning
	PhaseCheckpointed
	PhaseValidating
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseRunning:
		return "running"
	case PhaseCheckpointed:
		return "checkpointed"
	case PhaseValidating:
		return "validating"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Validation image cadence is thinned out past this iteration.
const validationThrottleIter = 10000

// Config holds configuration for training
type Config struct {
	EndIter     int
	BatchSize   int
	SaveFreq    int // Save a checkpoint every N iterations (and at iteration 1)
	ReportFreq  int // Append a progress line every N iterations (and at iteration 1)
	ValFreq     int // Validate an image every N iterations (and at iteration 1)
	ValMeshFreq int // Export a mesh every N iterations (and at iteration 1)

	ValidateResolutionLevel int
	MeshResolution          int
	MeshThreshold           float32

	UseWhiteBackground bool
	Weights            LossWeights
	Schedule           ScheduleConfig
	Adam               optimizer.AdamConfig
	Seed               int64

	// LogDir receives loss.txt.
	LogDir string
}

// Validate checks the configuration bounds the loop relies on.
func (c Config) Validate() error {
	switch {
	case c.EndIter <= 0:
		return fmt.Errorf("end_iter must be positive, got %d", c.EndIter)
	case c.BatchSize <= 0:
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	case c.SaveFreq <= 0 || c.ReportFreq <= 0 || c.ValFreq <= 0 || c.ValMeshFreq <= 0:
		return fmt.Errorf("save, report, val and val_mesh frequencies must be positive")
	case c.Schedule.EndIter <= c.Schedule.WarmUpEnd:
		return fmt.Errorf("end_iter (%d) must exceed warm_up_end (%d)", c.Schedule.EndIter, c.Schedule.WarmUpEnd)
	case c.Schedule.AnnealEnd < 0:
		return fmt.Errorf("anneal_end must be non-negative, got %d", c.Schedule.AnnealEnd)
	}
	return nil
}

// Validator renders validation artifacts from the current model state.
type Validator interface {
	ValidateImage(ctx context.Context, iter, imageIndex, level int, cosAnnealRatio float32) error
	ValidateMesh(ctx context.Context, iter int, worldSpace bool, resolution int, threshold float32) error
}

// Dependencies are the collaborators the Trainer drives.
type Dependencies struct {
	Provider   scene.DataProvider
	Renderer   scene.Renderer
	Components []scene.Component

	// Coupled components receive the coarse-to-fine progress every
	// iteration. Background is pinned to progress 1.
	Coupled    []scene.ProgressAware
	Background scene.ProgressAware

	Checkpoints *CheckpointManager
	Sink        metrics.Sink
	Validator   Validator
	Progress    *ProgressBar
	Logger      *slog.Logger
}

// Trainer runs the optimization loop. It exclusively owns the training
// State; no other component mutates parameters or optimizer state.
type Trainer struct {
	config   Config
	provider scene.DataProvider
	renderer scene.Renderer

	state     *State
	adam      *optimizer.Adam
	schedule  *Schedule
	loss      Loss
	perm      *ImagePermutation
	coupling  *ProgressBroadcaster
	ckpt      *CheckpointManager
	sink      metrics.Sink
	validator Validator
	lossLog   *LossLog
	bar       *ProgressBar
	logger    *slog.Logger

	background scene.ProgressAware
	phase      Phase
	lastTerms  *LossTerms
}

// NewTrainer wires the loop. One Adam parameter group is created per
// component.
func NewTrainer(config Config, deps Dependencies) (*Trainer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Provider == nil || deps.Renderer == nil {
		return nil, errors.New("trainer needs a data provider and a renderer")
	}
	if deps.Provider.NumImages() <= 0 {
		return nil, errors.New("data provider has no images")
	}
	if len(deps.Components) == 0 {
		return nil, errors.New("trainer needs at least one component")
	}

	schedule, err := NewSchedule(config.Schedule)
	if err != nil {
		return nil, err
	}

	groups := make([]*optimizer.ParamGroup, 0, len(deps.Components))
	for _, c := range deps.Components {
		groups = append(groups, &optimizer.ParamGroup{Name: c.Name(), Params: c.Parameters()})
	}
	adamConfig := config.Adam
	adamConfig.LearningRate = float32(schedule.LearningRate(0))
	adam, err := optimizer.NewAdam(adamConfig, groups...)
	if err != nil {
		return nil, fmt.Errorf("failed to create optimizer: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	sink := deps.Sink
	if sink == nil {
		sink = metrics.Discard
	}
	ckpt := deps.Checkpoints
	if ckpt == nil {
		ckpt = NewCheckpointManager(DefaultCheckpointConfig(), logger)
	}

	return &Trainer{
		config:   config,
		provider: deps.Provider,
		renderer: deps.Renderer,
		state: &State{
			Optimizer:  adam,
			Components: deps.Components,
		},
		adam:       adam,
		schedule:   schedule,
		loss:       NewLossComposer(config.Weights),
		perm:       NewImagePermutation(deps.Provider.NumImages(), config.Seed),
		coupling:   NewProgressBroadcaster(deps.Coupled...),
		ckpt:       ckpt,
		sink:       sink,
		validator:  deps.Validator,
		lossLog:    NewLossLog(filepath.Join(config.LogDir, "loss.txt")),
		bar:        deps.Progress,
		logger:     logger,
		background: deps.Background,
	}, nil
}

// State returns the training state.
func (t *Trainer) State() *State { return t.state }

// IterStep returns the number of completed iterations.
func (t *Trainer) IterStep() int { return t.state.IterStep }

// Phase returns the loop state.
func (t *Trainer) Phase() Phase { return t.phase }

// Schedule returns the schedule controller.
func (t *Trainer) Schedule() *Schedule { return t.schedule }

// LastLoss returns the terms of the most recent iteration, or nil.
func (t *Trainer) LastLoss() *LossTerms { return t.lastTerms }

// CosAnnealRatio returns the ratio for the current iteration.
func (t *Trainer) CosAnnealRatio() float32 {
	return t.schedule.CosAnnealRatio(t.state.IterStep)
}

// Resume restores the state from a checkpoint (see CheckpointManager.Resume).
func (t *Trainer) Resume(name string) error {
	if _, err := t.ckpt.Resume(t.state, name, t.config.EndIter); err != nil {
		return err
	}
	t.applySchedule()
	return nil
}

// SaveCheckpoint persists the current state.
func (t *Trainer) SaveCheckpoint() (string, error) {
	return t.ckpt.Save(t.state)
}

// Train runs iterations until IterStep reaches EndIter. Cancellation is
// observed between iterations only.
func (t *Trainer) Train(ctx context.Context) error {
	t.phase = PhaseRunning
	if t.background != nil {
		t.background.SetProgress(1.0)
	}
	t.applySchedule()

	t.logger.Info("training started", "iter", t.state.IterStep, "end_iter", t.config.EndIter,
		"images", t.provider.NumImages(), "scheduler", t.schedule.Scheduler().GetName())
	if t.bar != nil {
		t.bar.Start(t.state.IterStep)
	}

	for t.state.IterStep < t.config.EndIter {
		if err := ctx.Err(); err != nil {
			t.logger.Warn("training interrupted", "iter", t.state.IterStep, "error", err)
			return err
		}
		if err := t.step(ctx); err != nil {
			return fmt.Errorf("iteration %d: %w", t.state.IterStep+1, err)
		}
	}

	if t.bar != nil {
		t.bar.Finish()
	}
	t.phase = PhaseFinished
	t.logger.Info("training finished", "iter", t.state.IterStep)
	return nil
}

// step runs one iteration of the training protocol.
func (t *Trainer) step(ctx context.Context) error {
	iter := t.state.IterStep
	imageIndex := t.perm.Index(iter)

	batch, err := t.provider.RandomRayBatch(imageIndex, t.config.BatchSize, iterationRand(t.config.Seed, iter))
	if err != nil {
		return fmt.Errorf("failed to sample ray batch: %w", err)
	}
	batch.Near, batch.Far = t.provider.BoundingSphereBounds(batch.Origins, batch.Directions)
	batch.Mask = t.prepareMask(batch.Mask)

	out, err := t.renderer.Render(ctx, &scene.RenderInput{
		Origins:        batch.Origins,
		Directions:     batch.Directions,
		Near:           batch.Near,
		Far:            batch.Far,
		CosAnnealRatio: t.schedule.CosAnnealRatio(iter),
		Background:     t.background3(),
		Views:          batch.Views,
	})
	if err != nil {
		return fmt.Errorf("render failed: %w", err)
	}

	points := t.provider.PointsAt(iter % t.provider.NumImages())
	pointSDF, err := t.renderer.SDF(points)
	if err != nil {
		return fmt.Errorf("failed to evaluate auxiliary points: %w", err)
	}

	in := &LossInput{Output: out, Batch: batch, PointSDF: pointSDF}
	terms, err := t.loss.Forward(in)
	if err != nil {
		return fmt.Errorf("loss failed: %w", err)
	}
	grads, sdfGrad, err := t.loss.Backward(in)
	if err != nil {
		return fmt.Errorf("loss backward failed: %w", err)
	}

	t.adam.ZeroGrad()
	if err := t.renderer.Backward(ctx, grads); err != nil {
		return fmt.Errorf("render backward failed: %w", err)
	}
	if len(sdfGrad) > 0 {
		if err := t.renderer.SDFBackward(points, sdfGrad); err != nil {
			return fmt.Errorf("sdf backward failed: %w", err)
		}
	}
	if err := t.adam.Step(); err != nil {
		return fmt.Errorf("optimizer step failed: %w", err)
	}

	lr := float64(t.adam.LearningRate())
	t.state.IterStep++
	iter = t.state.IterStep
	t.lastTerms = terms

	if err := t.emitScalars(iter, terms, lr); err != nil {
		return err
	}

	if iter%t.config.ReportFreq == 0 || iter == 1 {
		if err := t.lossLog.Append(iter, terms.Total, lr); err != nil {
			return err
		}
	}

	if iter%t.config.SaveFreq == 0 || iter == 1 {
		t.phase = PhaseCheckpointed
		if _, err := t.ckpt.Save(t.state); err != nil {
			return err
		}
	}

	if t.validator != nil {
		if t.shouldValidateImage(iter) {
			t.phase = PhaseValidating
			if err := t.validator.ValidateImage(ctx, iter, -1, -1, t.schedule.CosAnnealRatio(iter)); err != nil {
				return fmt.Errorf("image validation failed: %w", err)
			}
		}
		if iter%t.config.ValMeshFreq == 0 || iter == 1 {
			t.phase = PhaseValidating
			if err := t.validator.ValidateMesh(ctx, iter, false, t.config.MeshResolution, t.config.MeshThreshold); err != nil {
				return fmt.Errorf("mesh validation failed: %w", err)
			}
		}
	}

	t.applySchedule()
	t.phase = PhaseRunning

	if t.bar != nil {
		t.bar.Update(iter, map[string]float64{"loss": float64(terms.Total), "psnr": float64(terms.PSNR)})
	}
	return nil
}

func (t *Trainer) shouldValidateImage(iter int) bool {
	if iter%t.config.ValFreq != 0 && iter != 1 {
		return false
	}
	if iter <= validationThrottleIter {
		return true
	}
	return iter%(t.config.ValFreq*5) == 0
}

// applySchedule sets the learning rate and broadcasts progress for the
// upcoming iteration.
func (t *Trainer) applySchedule() {
	iter := t.state.IterStep
	t.adam.UpdateLearningRate(float32(t.schedule.LearningRate(iter)))
	t.coupling.Broadcast(t.schedule.Progress(iter))
}

// prepareMask binarizes the mask at 0.5 when the mask term is active and
// replaces it with ones otherwise.
func (t *Trainer) prepareMask(mask *tensor.Tensor) *tensor.Tensor {
	out := tensor.Zeros(mask.Shape...)
	for i, v := range mask.Data {
		if t.config.Weights.MaskWeight <= 0 || v > 0.5 {
			out.Data[i] = 1
		}
	}
	return out
}

func (t *Trainer) background3() []float32 {
	if t.config.UseWhiteBackground {
		return []float32{1, 1, 1}
	}
	return nil
}

func (t *Trainer) emitScalars(iter int, terms *LossTerms, lr float64) error {
	scalars := []struct {
		tag   string
		value float64
	}{
		{"Loss/loss", float64(terms.Total)},
		{"Loss/color_loss", float64(terms.Color)},
		{"Loss/eikonal_loss", float64(terms.Eikonal)},
		{"Loss/mask_loss", float64(terms.Mask)},
		{"Loss/sdf_loss", float64(terms.SDF)},
		{"Loss/ncc_loss", float64(terms.NCC)},
		{"Statistics/s_val", float64(terms.SVal)},
		{"Statistics/cdf", float64(terms.CDF)},
		{"Statistics/weight_max", float64(terms.WeightMax)},
		{"Statistics/psnr", float64(terms.PSNR)},
		{"Statistics/lr", lr},
	}
	for _, s := range scalars {
		if err := t.sink.AddScalar(s.tag, s.value, iter); err != nil {
			return fmt.Errorf("failed to record %s: %w", s.tag, err)
		}
	}
	return nil
}
