package training_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-hfs/checkpoints"
	"github.com/tsawler/go-hfs/metrics"
	"github.com/tsawler/go-hfs/optimizer"
	"github.com/tsawler/go-hfs/scene"
	"github.com/tsawler/go-hfs/scene/scenetest"
	"github.com/tsawler/go-hfs/training"
)

type imageCall struct {
	iter, index, level int
}

type recordingValidator struct {
	mu     sync.Mutex
	images []imageCall
	meshes []int
	world  []bool
}

func (v *recordingValidator) ValidateImage(ctx context.Context, iter, imageIndex, level int, cosAnnealRatio float32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.images = append(v.images, imageCall{iter, imageIndex, level})
	return nil
}

func (v *recordingValidator) ValidateMesh(ctx context.Context, iter int, worldSpace bool, resolution int, threshold float32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.meshes = append(v.meshes, iter)
	v.world = append(v.world, worldSpace)
	return nil
}

type fixture struct {
	dir        string
	provider   *scenetest.Provider
	renderer   *scenetest.Renderer
	sdf        *scenetest.Component
	color      *scenetest.Component
	background *scenetest.Component
	validator  *recordingValidator
	store      *metrics.Store
	trainer    *training.Trainer
}

func testConfig(dir string, endIter int) training.Config {
	return training.Config{
		EndIter:                 endIter,
		BatchSize:               8,
		SaveFreq:                1,
		ReportFreq:              1,
		ValFreq:                 10,
		ValMeshFreq:             10,
		ValidateResolutionLevel: 4,
		MeshResolution:          16,
		Weights:                 training.LossWeights{IGRWeight: 0.1, MaskWeight: 0.1},
		Schedule: training.ScheduleConfig{
			LearningRate:      5e-4,
			LearningRateAlpha: 0.05,
			WarmUpEnd:         0,
			EndIter:           endIter,
			AnnealEnd:         0,
		},
		Adam:   optimizer.DefaultAdamConfig(),
		Seed:   3,
		LogDir: filepath.Join(dir, "logs"),
	}
}

func newFixture(t *testing.T, dir string, config training.Config) *fixture {
	t.Helper()
	f := &fixture{
		dir:        dir,
		provider:   scenetest.NewProvider(3, 8, 6),
		sdf:        scenetest.NewComponent("sdf_network", 0.1, 0.2, 0.3),
		color:      scenetest.NewComponent("color_network", 0.5, 0.5),
		background: scenetest.NewComponent("nerf_outside", 0),
		validator:  &recordingValidator{},
		store:      metrics.NewStore("test", 0),
	}
	f.renderer = scenetest.NewRenderer(f.sdf, f.color, f.background)

	ckpt := training.NewCheckpointManager(training.CheckpointConfig{
		SaveDirectory: filepath.Join(dir, "checkpoints"),
		Format:        checkpoints.FormatJSON,
	}, nil)

	trainer, err := training.NewTrainer(config, training.Dependencies{
		Provider:    f.provider,
		Renderer:    f.renderer,
		Components:  []scene.Component{f.background, f.sdf, f.color},
		Coupled:     []scene.ProgressAware{f.sdf, f.color},
		Background:  f.background,
		Checkpoints: ckpt,
		Sink:        f.store,
		Validator:   f.validator,
	})
	require.NoError(t, err)
	f.trainer = trainer
	return f
}

func TestTrainTwoIterations(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir, testConfig(dir, 2))

	require.NoError(t, f.trainer.Train(context.Background()))
	assert.Equal(t, 2, f.trainer.IterStep())
	assert.Equal(t, training.PhaseFinished, f.trainer.Phase())

	entries, err := os.ReadDir(filepath.Join(dir, "checkpoints"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"ckpt_000001.json", "ckpt_000002.json"}, names)

	raw, err := os.ReadFile(filepath.Join(dir, "logs", "loss.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "iter:1 loss = "))
	assert.True(t, strings.HasPrefix(lines[1], "iter:2 loss = "))

	// Only iteration 1 hits a validation frequency.
	assert.Equal(t, []imageCall{{iter: 1, index: -1, level: -1}}, f.validator.images)
	assert.Equal(t, []int{1}, f.validator.meshes)
	assert.Equal(t, []bool{false}, f.validator.world)

	assert.Equal(t, 2, f.renderer.RenderCalls)
	assert.Equal(t, 2, f.renderer.BackwardCalls)
	assert.Len(t, f.provider.Batches, 2)
}

func TestTrainRecordsScalars(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir, testConfig(dir, 3))
	require.NoError(t, f.trainer.Train(context.Background()))

	tags := f.store.Tags()
	for _, tag := range []string{
		"Loss/loss", "Loss/color_loss", "Loss/eikonal_loss", "Loss/mask_loss", "Loss/sdf_loss", "Loss/ncc_loss",
		"Statistics/s_val", "Statistics/cdf", "Statistics/weight_max", "Statistics/psnr", "Statistics/lr",
	} {
		assert.Contains(t, tags, tag)
	}
	loss, ok := f.store.Series("Loss/loss")
	require.True(t, ok)
	require.Len(t, loss, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{loss[0].Step, loss[1].Step, loss[2].Step})
	assert.InDelta(t, float64(f.trainer.LastLoss().Total), loss[2].Value, 1e-6)

	// The first step runs at the warm-up-free base rate.
	lr, ok := f.store.Series("Statistics/lr")
	require.True(t, ok)
	assert.InDelta(t, 5e-4, lr[0].Value, 1e-9)
}

func TestTrainPushesProgress(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir, testConfig(dir, 2))
	require.NoError(t, f.trainer.Train(context.Background()))

	assert.Equal(t, float32(1), f.background.LastProgress())
	require.NotEmpty(t, f.sdf.Progress)
	assert.Equal(t, f.trainer.Schedule().Progress(2), f.sdf.LastProgress())
	assert.Equal(t, f.sdf.Progress, f.color.Progress)
}

func TestTrainUpdatesParameters(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir, testConfig(dir, 2))
	before := append([]float32(nil), f.sdf.Parameters()[0].Data...)
	require.NoError(t, f.trainer.Train(context.Background()))
	assert.NotEqual(t, before, f.sdf.Parameters()[0].Data)
}

func TestResumeIsDeterministic(t *testing.T) {
	straightDir := t.TempDir()
	straight := newFixture(t, straightDir, testConfig(straightDir, 4))
	require.NoError(t, straight.trainer.Train(context.Background()))

	// Stop half way, then resume in a fresh process from the checkpoint.
	resumedDir := t.TempDir()
	halfway := testConfig(resumedDir, 2)
	halfway.Schedule.EndIter = 4
	first := newFixture(t, resumedDir, halfway)
	require.NoError(t, first.trainer.Train(context.Background()))

	second := newFixture(t, resumedDir, testConfig(resumedDir, 4))
	require.NoError(t, second.trainer.Resume(""))
	assert.Equal(t, 2, second.trainer.IterStep())
	require.NoError(t, second.trainer.Train(context.Background()))

	for i, c := range []*scenetest.Component{straight.sdf, straight.color, straight.background} {
		resumed := []*scenetest.Component{second.sdf, second.color, second.background}[i]
		assert.Equal(t, c.Parameters()[0].Data, resumed.Parameters()[0].Data, c.Name())
	}
	assert.Equal(t, straight.trainer.LastLoss().Total, second.trainer.LastLoss().Total)
}

func TestResumeSelectsLatestWithinEndIter(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir, testConfig(dir, 3))
	require.NoError(t, f.trainer.Train(context.Background()))

	cfg := testConfig(dir, 2)
	limited := newFixture(t, dir, cfg)
	require.NoError(t, limited.trainer.Resume(""))
	assert.Equal(t, 2, limited.trainer.IterStep())

	named := newFixture(t, dir, testConfig(dir, 3))
	require.NoError(t, named.trainer.Resume("ckpt_000001.json"))
	assert.Equal(t, 1, named.trainer.IterStep())
}

func TestResumeWithoutCheckpoint(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir, testConfig(dir, 2))
	err := f.trainer.Resume("")
	assert.True(t, errors.Is(err, checkpoints.ErrNoCheckpoint))
	assert.Equal(t, 0, f.trainer.IterStep())
}

func TestTrainAbortsOnNonFiniteOutput(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir, testConfig(dir, 2))
	f.renderer.Color[0] = float32(math.NaN())

	err := f.trainer.Train(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, scene.ErrNonFinite))
	assert.Equal(t, 0, f.trainer.IterStep())
	assert.NoDirExists(t, filepath.Join(dir, "checkpoints"))
}

func TestTrainPropagatesRendererErrors(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir, testConfig(dir, 2))
	boom := errors.New("device lost")
	f.renderer.Fail = boom
	err := f.trainer.Train(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestTrainStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir, testConfig(dir, 5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.trainer.Train(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.trainer.IterStep())
}

func TestNewTrainerValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	provider := scenetest.NewProvider(1, 4, 4)
	c := scenetest.NewComponent("sdf_network", 1)
	deps := training.Dependencies{
		Provider:   provider,
		Renderer:   scenetest.NewRenderer(c),
		Components: []scene.Component{c},
	}

	tests := []struct {
		name   string
		mutate func(*training.Config)
	}{
		{"zero end iter", func(c *training.Config) { c.EndIter = 0 }},
		{"zero batch", func(c *training.Config) { c.BatchSize = 0 }},
		{"zero save freq", func(c *training.Config) { c.SaveFreq = 0 }},
		{"end before warm-up", func(c *training.Config) { c.Schedule.WarmUpEnd = 10; c.Schedule.EndIter = 10 }},
		{"negative anneal", func(c *training.Config) { c.Schedule.AnnealEnd = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(dir, 4)
			tt.mutate(&cfg)
			_, err := training.NewTrainer(cfg, deps)
			assert.Error(t, err)
		})
	}

	_, err := training.NewTrainer(testConfig(dir, 4), training.Dependencies{Provider: provider})
	assert.Error(t, err)
}
