package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-hfs/metrics"
	"github.com/tsawler/go-hfs/training"
)

func newPlotCommand() *cobra.Command {
	var (
		expDir  string
		name    string
		baseURL string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Send the recorded loss curves of an experiment to the plotting service",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(false)
			plots, err := buildPlots(expDir, name)
			if err != nil {
				return err
			}

			config := metrics.DefaultPlottingServiceConfig()
			if baseURL != "" {
				config.BaseURL = baseURL
			}
			config.Timeout = timeout
			service := metrics.NewPlottingService(config)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := service.CheckHealth(ctx); err != nil {
				return fmt.Errorf("plotting service unavailable: %w", err)
			}
			for _, plot := range plots {
				resp, err := service.SendPlotData(ctx, plot)
				if err != nil {
					return fmt.Errorf("failed to send %s plot: %w", plot.PlotType, err)
				}
				logger.Info("plot sent", "type", plot.PlotType, "id", resp.PlotID, "url", resp.PlotURL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&expDir, "exp_dir", ".", "experiment directory containing logs/")
	cmd.Flags().StringVar(&name, "name", "", "model name shown on the plots (defaults to the directory name)")
	cmd.Flags().StringVar(&baseURL, "url", "", "plotting service base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")
	return cmd
}

// buildPlots reads logs/loss.txt and, when present, logs/scalars.jsonl.
func buildPlots(expDir, name string) ([]metrics.PlotData, error) {
	if name == "" {
		abs, err := filepath.Abs(expDir)
		if err != nil {
			return nil, err
		}
		name = filepath.Base(abs)
	}
	logDir := filepath.Join(expDir, "logs")

	f, err := os.Open(filepath.Join(logDir, "loss.txt"))
	if err != nil {
		return nil, fmt.Errorf("failed to open loss log: %w", err)
	}
	records, err := training.ReadLossLog(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	points := make([]metrics.Point, len(records))
	for i, r := range records {
		points[i] = metrics.Point{Step: r.Iter, Value: r.Loss}
	}
	plots := []metrics.PlotData{metrics.LossCurvePlot(points, name)}

	sf, err := os.Open(filepath.Join(logDir, "scalars.jsonl"))
	if errors.Is(err, os.ErrNotExist) {
		return plots, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open scalar log: %w", err)
	}
	defer sf.Close()
	scalars, err := metrics.ReadJSONL(sf)
	if err != nil {
		return nil, err
	}
	store := metrics.NewStore(name, 0)
	for _, s := range scalars {
		store.AddScalar(s.Tag, s.Value, s.Step)
	}
	return append(plots, metrics.TrainingCurvesPlot(store, name), metrics.LearningRatePlot(store, name)), nil
}
