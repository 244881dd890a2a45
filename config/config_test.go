package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-hfs/checkpoints"
)

const yamlConfig = `
general:
  base_exp_dir: ./exp/CASE_NAME/wmask
dataset:
  data_dir: ./public_data/CASE_NAME/
  camera_file: cameras_sphere.yaml
train:
  learning_rate: 5.0e-4
  learning_rate_alpha: 0.05
  end_iter: 300000
  batch_size: 256
  validate_resolution_level: 4
  warm_up_end: 5000
  anneal_end: 50000
  use_white_bkgd: false
  save_freq: 10000
  val_freq: 2500
  val_mesh_freq: 5000
  report_freq: 100
  igr_weight: 0.1
  mask_weight: 0.1
metrics:
  plotting:
    base_url: http://plots:9000
    timeout: 5s
`

const tomlConfig = `
[general]
base_exp_dir = "./exp/CASE_NAME/womask"

[dataset]
data_dir = "./data/CASE_NAME"

[train]
end_iter = 2000
batch_size = 64
warm_up_end = 100
save_freq = 500
val_freq = 500
val_mesh_freq = 1000
report_freq = 10
lr_schedule = "constant"

[checkpoint]
format = "pb"
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadYAMLSubstitutesCaseName(t *testing.T) {
	cfg, err := Load(writeConfig(t, "base.yaml", yamlConfig), "scan106", Overrides{})
	require.NoError(t, err)

	assert.Equal(t, "exp/scan106/wmask", filepath.ToSlash(filepath.Clean(cfg.General.BaseExpDir)))
	assert.Equal(t, "./public_data/scan106/", cfg.Dataset.DataDir)
	assert.Equal(t, "cameras_sphere.yaml", cfg.Dataset.CameraFile)
	assert.Equal(t, 256, cfg.Train.BatchSize)
	assert.Equal(t, 50000, cfg.Train.AnnealEnd)
	assert.InDelta(t, 0.1, cfg.Train.MaskWeight, 1e-7)
	assert.Equal(t, "yaml", cfg.Format)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 512, cfg.Train.MeshResolution)
	assert.Equal(t, "json", cfg.Checkpoint.Format)
	assert.InDelta(t, 0.9, cfg.Train.Adam.Beta1, 1e-7)

	assert.Equal(t, "http://plots:9000", cfg.Metrics.Plotting.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Metrics.Plotting.Timeout)
	assert.Equal(t, 3, cfg.Metrics.Plotting.RetryAttempts)
}

func TestLoadTOML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "womask.toml", tomlConfig), "dtu_scan24", Overrides{})
	require.NoError(t, err)

	assert.Equal(t, "./data/dtu_scan24", cfg.Dataset.DataDir)
	assert.Equal(t, 2000, cfg.Train.EndIter)
	assert.Equal(t, "constant", cfg.Train.LRSchedule)

	cc, err := cfg.CheckpointConfig("run")
	require.NoError(t, err)
	assert.Equal(t, checkpoints.FormatProto, cc.Format)
	assert.Equal(t, filepath.Join(cfg.General.BaseExpDir, "checkpoints"), cc.SaveDirectory)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeConfig(t, "base.yml", yamlConfig), "scan", Overrides{BaseExpDir: dir, EndIter: 6000})
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.General.BaseExpDir)
	assert.Equal(t, 6000, cfg.Train.EndIter)
	assert.Equal(t, 6000, cfg.TrainingConfig(0).Schedule.EndIter)
	assert.Equal(t, filepath.Join(dir, "logs"), cfg.LogDir())
}

func TestLoadExpandsHomeDirectory(t *testing.T) {
	body := strings.Replace(yamlConfig, "./exp/CASE_NAME/wmask", "~/exp/CASE_NAME", 1)
	cfg, err := Load(writeConfig(t, "base.yaml", body), "scan", Overrides{})
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(cfg.General.BaseExpDir, "~"))
	assert.True(t, strings.HasSuffix(filepath.ToSlash(cfg.General.BaseExpDir), "exp/scan"))
}

func TestValidateRejectsBadBounds(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"end before warm-up", func(c *Config) { c.Train.EndIter = 5000 }, "must exceed train.warm_up_end"},
		{"negative anneal", func(c *Config) { c.Train.AnnealEnd = -1 }, "anneal_end"},
		{"zero batch", func(c *Config) { c.Train.BatchSize = 0 }, "batch_size"},
		{"zero save freq", func(c *Config) { c.Train.SaveFreq = 0 }, "save_freq"},
		{"zero report freq", func(c *Config) { c.Train.ReportFreq = 0 }, "report_freq"},
		{"bad checkpoint format", func(c *Config) { c.Checkpoint.Format = "pth" }, "checkpoint format"},
		{"bad schedule", func(c *Config) { c.Train.LRSchedule = "step" }, "step"},
		{"missing data dir", func(c *Config) { c.Dataset.DataDir = "" }, "data_dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(yamlConfig), "yaml", "scan")
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestParseRejectsUnknownFormat(t *testing.T) {
	_, err := Parse([]byte("x"), "hocon", "scan")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(writeConfig(t, "base.conf", yamlConfig), "scan", Overrides{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(writeConfig(t, "broken.yaml", "train: [1, 2"), "scan", Overrides{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTrainingConfigIsValid(t *testing.T) {
	cfg, err := Parse([]byte(yamlConfig), "yaml", "scan")
	require.NoError(t, err)

	tc := cfg.TrainingConfig(0.25)
	require.NoError(t, tc.Validate())
	assert.Equal(t, 300000, tc.EndIter)
	assert.Equal(t, 5000, tc.Schedule.WarmUpEnd)
	assert.InDelta(t, 0.25, tc.MeshThreshold, 1e-7)
	assert.InDelta(t, 5e-4, tc.Adam.LearningRate, 1e-9)
	assert.InDelta(t, 0.1, tc.Weights.IGRWeight, 1e-7)

	vc := cfg.ValidationConfig()
	assert.Equal(t, 256, vc.BatchSize)
	assert.Equal(t, 4, vc.ResolutionLevel)

	m := cfg.NewModel()
	assert.Len(t, m.Components(), 5)
	assert.Equal(t, 32, cfg.FieldOptions().Samples)
}

func TestBackupRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeConfig(t, "base.yaml", yamlConfig), "scan", Overrides{BaseExpDir: dir})
	require.NoError(t, err)

	path, err := cfg.Backup()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "recording", "config.yaml"), path)

	again, err := Load(path, "other", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, cfg.Train, again.Train)
	assert.Equal(t, cfg.Dataset, again.Dataset)
	assert.Equal(t, cfg.Metrics.Plotting, again.Metrics.Plotting)
}

func TestBackupTOML(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeConfig(t, "womask.toml", tomlConfig), "scan", Overrides{BaseExpDir: dir})
	require.NoError(t, err)

	path, err := cfg.Backup()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "recording", "config.toml"), path)

	again, err := Load(path, "other", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, cfg.Train, again.Train)
	assert.Equal(t, cfg.Checkpoint, again.Checkpoint)
}
