package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tsawler/go-hfs/config"
	"github.com/tsawler/go-hfs/dataset"
	"github.com/tsawler/go-hfs/field"
	"github.com/tsawler/go-hfs/metrics"
	"github.com/tsawler/go-hfs/training"
	"github.com/tsawler/go-hfs/validation"
)

// runner holds everything one invocation needs.
type runner struct {
	opts      options
	cfg       *config.Config
	logger    *slog.Logger
	data      *dataset.Dataset
	model     *field.Model
	validator *validation.Validator
	trainer   *training.Trainer
	sink      metrics.Sink
	monitor   *metrics.Monitor
}

func newRunner(ctx context.Context, opts options, logger *slog.Logger) (*runner, error) {
	cfg, err := config.Load(opts.conf, opts.caseName, config.Overrides{BaseExpDir: opts.baseExpDir, EndIter: opts.endIter})
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.General.BaseExpDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create experiment directory: %w", err)
	}
	if opts.gpu != 0 {
		logger.Warn("device selection is ignored by the reference renderer", "gpu", opts.gpu)
	}

	data, err := dataset.Load(cfg.Dataset, logger)
	if err != nil {
		return nil, err
	}
	model := cfg.NewModel()
	renderer := field.NewRenderer(model, cfg.FieldOptions())

	validator, err := validation.NewValidator(cfg.ValidationConfig(), data, renderer, nil, logger)
	if err != nil {
		return nil, err
	}

	runID := uuid.New()
	ckptConfig, err := cfg.CheckpointConfig(runID.String())
	if err != nil {
		return nil, err
	}

	r := &runner{opts: opts, cfg: cfg, logger: logger, data: data, model: model, validator: validator, sink: metrics.Discard}
	var bar *training.ProgressBar
	if opts.mode == "train" {
		if err := r.openSinks(ctx, runID); err != nil {
			return nil, err
		}
		bar = training.NewProgressBar("train", cfg.Train.EndIter)
	}

	r.trainer, err = training.NewTrainer(cfg.TrainingConfig(opts.mcubeThreshold), training.Dependencies{
		Provider:    data,
		Renderer:    renderer,
		Components:  model.Components(),
		Coupled:     model.Coupled(),
		Background:  model.Background,
		Checkpoints: training.NewCheckpointManager(ckptConfig, logger),
		Sink:        r.sink,
		Validator:   validator,
		Progress:    bar,
		Logger:      logger,
	})
	if err != nil {
		r.Close()
		return nil, err
	}

	if opts.isContinue || opts.ckptName != "" {
		if err := r.trainer.Resume(opts.ckptName); err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to resume: %w", err)
		}
		logger.Info("resumed", "iter", r.trainer.IterStep())
	}

	if opts.mode == "train" && !opts.isContinue {
		path, err := cfg.Backup()
		if err != nil {
			r.Close()
			return nil, err
		}
		logger.Debug("config backed up", "path", path)
	}
	return r, nil
}

// openSinks fans scalars out to the JSONL log, the HTTP monitor and
// PostgreSQL, each when configured.
func (r *runner) openSinks(ctx context.Context, runID uuid.UUID) error {
	jsonl, err := metrics.NewJSONLSink(filepath.Join(r.cfg.LogDir(), "scalars.jsonl"))
	if err != nil {
		return err
	}
	sinks := []metrics.Sink{jsonl}

	if r.opts.serve != "" {
		store := metrics.NewStore(runID.String(), r.cfg.Metrics.StoreLimit)
		r.monitor = metrics.NewMonitor(store, r.logger)
		r.monitor.Start(r.opts.serve)
		sinks = append(sinks, store)
	}

	if r.cfg.Metrics.PostgresDSN != "" {
		pg, err := metrics.OpenPostgresSink(ctx, r.cfg.Metrics.PostgresDSN, r.cfg.Metrics.PostgresTable, runID)
		if err != nil {
			jsonl.Close()
			return err
		}
		sinks = append(sinks, pg)
	}
	r.sink = metrics.NewMultiSink(sinks...)
	return nil
}

func (r *runner) validateMesh(ctx context.Context) error {
	return r.validator.ValidateMesh(ctx, r.trainer.IterStep(), true, r.opts.meshResolution, r.opts.mcubeThreshold)
}

func (r *runner) validateImage(ctx context.Context) error {
	return r.validator.ValidateImage(ctx, r.trainer.IterStep(), r.opts.imageIdx, r.opts.imageResolution, r.trainer.CosAnnealRatio())
}

// Close flushes the sinks and stops the monitor.
func (r *runner) Close() {
	if r.sink != nil {
		if err := r.sink.Close(); err != nil {
			r.logger.Warn("failed to close metrics sink", "error", err)
		}
	}
	if r.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.monitor.Shutdown(ctx); err != nil {
			r.logger.Warn("failed to stop monitor", "error", err)
		}
	}
}
