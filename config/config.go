// Package config loads the run configuration for training and validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-hfs/checkpoints"
	"github.com/tsawler/go-hfs/dataset"
	"github.com/tsawler/go-hfs/field"
	"github.com/tsawler/go-hfs/metrics"
	"github.com/tsawler/go-hfs/optimizer"
	"github.com/tsawler/go-hfs/training"
	"github.com/tsawler/go-hfs/validation"
)

// ErrInvalidConfig is returned for configurations the trainer cannot run.
var ErrInvalidConfig = errors.New("invalid configuration")

// CasePlaceholder is replaced by the case name throughout the file.
const CasePlaceholder = "CASE_NAME"

// Config is the complete run configuration.
type Config struct {
	General    General        `yaml:"general" toml:"general"`
	Dataset    dataset.Config `yaml:"dataset" toml:"dataset"`
	Train      Train          `yaml:"train" toml:"train"`
	Model      Model          `yaml:"model" toml:"model"`
	Checkpoint Checkpoint     `yaml:"checkpoint" toml:"checkpoint"`
	Metrics    Metrics        `yaml:"metrics" toml:"metrics"`

	// Path and Format record where the configuration came from.
	Path   string `yaml:"-" toml:"-"`
	Format string `yaml:"-" toml:"-"`
}

type General struct {
	BaseExpDir string `yaml:"base_exp_dir" toml:"base_exp_dir"`
}

// Train holds the optimisation schedule, loss weights and output cadence.
type Train struct {
	LearningRate      float64 `yaml:"learning_rate" toml:"learning_rate"`
	LearningRateAlpha float64 `yaml:"learning_rate_alpha" toml:"learning_rate_alpha"`
	LRSchedule        string  `yaml:"lr_schedule" toml:"lr_schedule"`
	EndIter           int     `yaml:"end_iter" toml:"end_iter"`
	BatchSize         int     `yaml:"batch_size" toml:"batch_size"`
	WarmUpEnd         int     `yaml:"warm_up_end" toml:"warm_up_end"`
	AnnealEnd         int     `yaml:"anneal_end" toml:"anneal_end"`
	UseWhiteBkgd      bool    `yaml:"use_white_bkgd" toml:"use_white_bkgd"`
	Seed              int64   `yaml:"seed" toml:"seed"`

	SaveFreq    int `yaml:"save_freq" toml:"save_freq"`
	ValFreq     int `yaml:"val_freq" toml:"val_freq"`
	ValMeshFreq int `yaml:"val_mesh_freq" toml:"val_mesh_freq"`
	ReportFreq  int `yaml:"report_freq" toml:"report_freq"`

	ValidateResolutionLevel int `yaml:"validate_resolution_level" toml:"validate_resolution_level"`
	MeshResolution          int `yaml:"mesh_resolution" toml:"mesh_resolution"`

	IGRWeight  float32 `yaml:"igr_weight" toml:"igr_weight"`
	MaskWeight float32 `yaml:"mask_weight" toml:"mask_weight"`

	Adam Adam `yaml:"adam" toml:"adam"`
}

type Adam struct {
	Beta1       float32 `yaml:"beta1" toml:"beta1"`
	Beta2       float32 `yaml:"beta2" toml:"beta2"`
	Epsilon     float32 `yaml:"epsilon" toml:"epsilon"`
	WeightDecay float32 `yaml:"weight_decay" toml:"weight_decay"`
}

// Model configures the reference field and its renderer.
type Model struct {
	InitRadius float32  `yaml:"init_radius" toml:"init_radius"`
	InitVar    float32  `yaml:"init_variance" toml:"init_variance"`
	Renderer   Renderer `yaml:"neus_renderer" toml:"neus_renderer"`
}

type Renderer struct {
	NSamples    int     `yaml:"n_samples" toml:"n_samples"`
	Epsilon     float32 `yaml:"epsilon" toml:"epsilon"`
	PatchRadius int     `yaml:"patch_radius" toml:"patch_radius"`
}

type Checkpoint struct {
	Format string `yaml:"format" toml:"format"`
}

// Metrics configures the optional scalar sinks beyond the JSONL log.
type Metrics struct {
	PostgresDSN   string                        `yaml:"postgres_dsn" toml:"postgres_dsn"`
	PostgresTable string                        `yaml:"postgres_table" toml:"postgres_table"`
	StoreLimit    int                           `yaml:"store_limit" toml:"store_limit"`
	Plotting      metrics.PlottingServiceConfig `yaml:"plotting" toml:"plotting"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	adam := optimizer.DefaultAdamConfig()
	opts := field.DefaultOptions()
	return &Config{
		General: General{BaseExpDir: "./exp/" + CasePlaceholder},
		Dataset: dataset.DefaultConfig(),
		Train: Train{
			LearningRate:            5e-4,
			LearningRateAlpha:       0.05,
			EndIter:                 300000,
			BatchSize:               512,
			WarmUpEnd:               5000,
			AnnealEnd:               0,
			SaveFreq:                10000,
			ValFreq:                 2500,
			ValMeshFreq:             5000,
			ReportFreq:              100,
			ValidateResolutionLevel: 4,
			MeshResolution:          512,
			IGRWeight:               0.1,
			MaskWeight:              0,
			Adam: Adam{
				Beta1:       adam.Beta1,
				Beta2:       adam.Beta2,
				Epsilon:     adam.Epsilon,
				WeightDecay: adam.WeightDecay,
			},
		},
		Model: Model{
			InitRadius: 0.5,
			InitVar:    0.3,
			Renderer: Renderer{
				NSamples:    opts.Samples,
				Epsilon:     opts.Epsilon,
				PatchRadius: opts.PatchRadius,
			},
		},
		Checkpoint: Checkpoint{Format: "json"},
		Metrics: Metrics{
			PostgresTable: metrics.DefaultScalarTable,
			StoreLimit:    10000,
			Plotting:      metrics.DefaultPlottingServiceConfig(),
		},
	}
}

// Overrides are command-line values that replace file values when set.
type Overrides struct {
	BaseExpDir string
	EndIter    int
}

// Load reads path (YAML or TOML by extension), substitutes caseName for
// CASE_NAME, applies overrides, expands home-relative paths and validates
// the result.
func Load(path, caseName string, o Overrides) (*Config, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand %s: %w", path, err)
	}
	raw, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	format, err := formatOf(expanded)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(raw, format, caseName)
	if err != nil {
		return nil, err
	}
	cfg.Path = expanded
	if err := cfg.apply(o); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration text in format ("yaml" or "toml") over
// the defaults.
func Parse(raw []byte, format, caseName string) (*Config, error) {
	text := bytes.ReplaceAll(raw, []byte(CasePlaceholder), []byte(caseName))
	cfg := Default()
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(text, cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
		}
	case "toml":
		if err := toml.Unmarshal(text, cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse TOML: %v", ErrInvalidConfig, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidConfig, format)
	}
	cfg.Format = format
	cfg.General.BaseExpDir = strings.ReplaceAll(cfg.General.BaseExpDir, CasePlaceholder, caseName)
	cfg.Dataset.DataDir = strings.ReplaceAll(cfg.Dataset.DataDir, CasePlaceholder, caseName)
	return cfg, nil
}

func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".toml":
		return "toml", nil
	default:
		return "", fmt.Errorf("%w: unknown config extension %q", ErrInvalidConfig, filepath.Ext(path))
	}
}

func (c *Config) apply(o Overrides) error {
	if o.BaseExpDir != "" {
		c.General.BaseExpDir = o.BaseExpDir
	}
	if o.EndIter > 0 {
		c.Train.EndIter = o.EndIter
	}
	var err error
	if c.General.BaseExpDir, err = homedir.Expand(c.General.BaseExpDir); err != nil {
		return fmt.Errorf("failed to expand base_exp_dir: %w", err)
	}
	if c.Dataset.DataDir, err = homedir.Expand(c.Dataset.DataDir); err != nil {
		return fmt.Errorf("failed to expand data_dir: %w", err)
	}
	return nil
}

// Validate checks the bounds training relies on.
func (c *Config) Validate() error {
	t := c.Train
	var problems []string
	if c.General.BaseExpDir == "" {
		problems = append(problems, "general.base_exp_dir is required")
	}
	if c.Dataset.DataDir == "" {
		problems = append(problems, "dataset.data_dir is required")
	}
	if t.EndIter <= 0 {
		problems = append(problems, fmt.Sprintf("train.end_iter must be positive, got %d", t.EndIter))
	}
	if t.EndIter <= t.WarmUpEnd {
		problems = append(problems, fmt.Sprintf("train.end_iter (%d) must exceed train.warm_up_end (%d)", t.EndIter, t.WarmUpEnd))
	}
	if t.WarmUpEnd < 0 {
		problems = append(problems, "train.warm_up_end must be non-negative")
	}
	if t.AnnealEnd < 0 {
		problems = append(problems, "train.anneal_end must be non-negative")
	}
	if t.BatchSize <= 0 {
		problems = append(problems, "train.batch_size must be positive")
	}
	for name, v := range map[string]int{
		"save_freq":                 t.SaveFreq,
		"val_freq":                  t.ValFreq,
		"val_mesh_freq":             t.ValMeshFreq,
		"report_freq":               t.ReportFreq,
		"validate_resolution_level": t.ValidateResolutionLevel,
		"mesh_resolution":           t.MeshResolution,
	} {
		if v <= 0 {
			problems = append(problems, fmt.Sprintf("train.%s must be positive, got %d", name, v))
		}
	}
	if _, err := checkpoints.ParseFormat(c.Checkpoint.Format); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := training.NewLRScheduler(t.LRSchedule, c.ScheduleConfig()); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ScheduleConfig returns the learning-rate and annealing schedule.
func (c *Config) ScheduleConfig() training.ScheduleConfig {
	return training.ScheduleConfig{
		LearningRate:      c.Train.LearningRate,
		LearningRateAlpha: c.Train.LearningRateAlpha,
		WarmUpEnd:         c.Train.WarmUpEnd,
		EndIter:           c.Train.EndIter,
		AnnealEnd:         c.Train.AnnealEnd,
		LRSchedule:        c.Train.LRSchedule,
	}
}

// TrainingConfig converts the file sections into the trainer configuration.
// The mesh threshold is a command-line value.
func (c *Config) TrainingConfig(meshThreshold float32) training.Config {
	t := c.Train
	return training.Config{
		EndIter:                 t.EndIter,
		BatchSize:               t.BatchSize,
		SaveFreq:                t.SaveFreq,
		ReportFreq:              t.ReportFreq,
		ValFreq:                 t.ValFreq,
		ValMeshFreq:             t.ValMeshFreq,
		ValidateResolutionLevel: t.ValidateResolutionLevel,
		MeshResolution:          t.MeshResolution,
		MeshThreshold:           meshThreshold,
		UseWhiteBackground:      t.UseWhiteBkgd,
		Weights:                 training.LossWeights{IGRWeight: t.IGRWeight, MaskWeight: t.MaskWeight},
		Schedule:                c.ScheduleConfig(),
		Adam: optimizer.AdamConfig{
			LearningRate: float32(t.LearningRate),
			Beta1:        t.Adam.Beta1,
			Beta2:        t.Adam.Beta2,
			Epsilon:      t.Adam.Epsilon,
			WeightDecay:  t.Adam.WeightDecay,
		},
		Seed:   t.Seed,
		LogDir: c.LogDir(),
	}
}

// CheckpointConfig places checkpoints below the experiment directory.
func (c *Config) CheckpointConfig(runID string) (training.CheckpointConfig, error) {
	format, err := checkpoints.ParseFormat(c.Checkpoint.Format)
	if err != nil {
		return training.CheckpointConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return training.CheckpointConfig{
		SaveDirectory: filepath.Join(c.General.BaseExpDir, "checkpoints"),
		Format:        format,
		RunID:         runID,
	}, nil
}

// ValidationConfig returns the image and mesh export settings.
func (c *Config) ValidationConfig() validation.Config {
	return validation.Config{
		BaseDir:            c.General.BaseExpDir,
		BatchSize:          c.Train.BatchSize,
		ResolutionLevel:    c.Train.ValidateResolutionLevel,
		UseWhiteBackground: c.Train.UseWhiteBkgd,
		Seed:               c.Train.Seed,
	}
}

// FieldOptions returns the reference renderer options.
func (c *Config) FieldOptions() field.Options {
	return field.Options{
		Samples:     c.Model.Renderer.NSamples,
		Epsilon:     c.Model.Renderer.Epsilon,
		PatchRadius: c.Model.Renderer.PatchRadius,
	}
}

// NewModel builds the reference field from the model section.
func (c *Config) NewModel() *field.Model {
	return field.NewModelWith(c.Model.InitRadius, c.Model.InitVar)
}

// LogDir is where loss.txt, image_metric.txt and scalars.jsonl live.
func (c *Config) LogDir() string {
	return filepath.Join(c.General.BaseExpDir, "logs")
}

// Backup writes the effective configuration to recording/config.<format>
// below the experiment directory and returns the path.
func (c *Config) Backup() (string, error) {
	dir := filepath.Join(c.General.BaseExpDir, "recording")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create recording directory: %w", err)
	}
	var (
		data []byte
		err  error
	)
	if c.Format == "toml" {
		data, err = toml.Marshal(c)
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	ext := c.Format
	if ext == "" {
		ext = "yaml"
	}
	path := filepath.Join(dir, "config."+ext)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write config backup: %w", err)
	}
	return path, nil
}
