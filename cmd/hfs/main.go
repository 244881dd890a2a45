// Command hfs trains and validates implicit surface reconstructions.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

type options struct {
	mode            string
	conf            string
	caseName        string
	isContinue      bool
	ckptName        string
	gpu             int
	baseExpDir      string
	endIter         int
	mcubeThreshold  float32
	imageIdx        int
	imageResolution int
	meshResolution  int
	serve           string
	verbose         bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "hfs",
		Short:         "Train and validate neural implicit surfaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(opts.verbose)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, opts, logger); err != nil {
				logger.Error("hfs failed", "mode", opts.mode, "error", err)
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.mode, "mode", "train", "train, validate_mesh, validate_image or interpolate_<a>_<b>")
	f.StringVar(&opts.conf, "conf", "./confs/base.yaml", "configuration file (.yaml, .yml or .toml)")
	f.StringVar(&opts.caseName, "case", "", "case name substituted for CASE_NAME")
	f.BoolVar(&opts.isContinue, "is_continue", false, "resume from the latest checkpoint")
	f.StringVar(&opts.ckptName, "ckpt_name", "", "checkpoint file to resume from")
	f.IntVar(&opts.gpu, "gpu", 0, "device index (the reference renderer runs on the CPU)")
	f.StringVar(&opts.baseExpDir, "base_exp_dir", "", "override general.base_exp_dir")
	f.IntVar(&opts.endIter, "end_iter", 0, "override train.end_iter")
	f.Float32Var(&opts.mcubeThreshold, "mcube_threshold", 0, "iso-level for mesh extraction")
	f.IntVar(&opts.imageIdx, "image_idx", 0, "view rendered by validate_image")
	f.IntVar(&opts.imageResolution, "image_resolution", 4, "resolution level of validate_image")
	f.IntVar(&opts.meshResolution, "mesh_resolution", 512, "grid resolution of validate_mesh")
	f.StringVar(&opts.serve, "serve", "", "serve training scalars over HTTP on this address")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newPlotCommand())
	return cmd
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// parseInterpolateMode splits "interpolate_<a>_<b>" into view indices.
func parseInterpolateMode(mode string) (int, int, error) {
	parts := strings.Split(mode, "_")
	if len(parts) != 3 || parts[0] != "interpolate" {
		return 0, 0, fmt.Errorf("mode %q is not interpolate_<a>_<b>", mode)
	}
	a, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad first view in %q: %w", mode, err)
	}
	b, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, fmt.Errorf("bad second view in %q: %w", mode, err)
	}
	return a, b, nil
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	var a, b int
	switch {
	case opts.mode == "train", opts.mode == "validate_mesh", opts.mode == "validate_image":
	case strings.HasPrefix(opts.mode, "interpolate"):
		var err error
		if a, b, err = parseInterpolateMode(opts.mode); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown mode %q", opts.mode)
	}

	r, err := newRunner(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	switch opts.mode {
	case "train":
		if err := r.trainer.Train(ctx); err != nil {
			return err
		}
		if err := r.validateMesh(ctx); err != nil {
			return err
		}
		return r.validateImage(ctx)
	case "validate_mesh":
		return r.validateMesh(ctx)
	case "validate_image":
		return r.validateImage(ctx)
	default:
		path, err := r.validator.InterpolateView(ctx, r.trainer.IterStep(), a, b, r.trainer.CosAnnealRatio())
		if err != nil {
			return err
		}
		logger.Info("interpolation written", "path", path)
		return nil
	}
}
