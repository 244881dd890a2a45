package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// PlotType names a chart understood by the plotting sidecar.
type PlotType string

const (
	TrainingCurves       PlotType = "training_curves"
	LearningRateSchedule PlotType = "learning_rate_schedule"
	LossCurve            PlotType = "loss_curve"
)

// PlotData is the payload accepted by the sidecar's /api/plot endpoint.
type PlotData struct {
	PlotType  PlotType               `json:"plot_type"`
	Title     string                 `json:"title"`
	Timestamp time.Time              `json:"timestamp"`
	ModelName string                 `json:"model_name"`
	Series    []SeriesData           `json:"series"`
	Config    PlotConfig             `json:"config"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
}

// SeriesData is one line of a chart.
type SeriesData struct {
	Name string  `json:"name"`
	Type string  `json:"type"`
	Data []Point `json:"data"`
}

// PlotConfig holds axis settings.
type PlotConfig struct {
	XAxisLabel string `json:"x_axis_label"`
	YAxisLabel string `json:"y_axis_label"`
	XAxisScale string `json:"x_axis_scale"`
	YAxisScale string `json:"y_axis_scale"`
}

// PlottingResponse is the sidecar reply.
type PlottingResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	PlotURL   string `json:"plot_url,omitempty"`
	PlotID    string `json:"plot_id,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// PlottingServiceConfig configures the sidecar client.
type PlottingServiceConfig struct {
	BaseURL       string        `json:"base_url" yaml:"base_url" toml:"base_url"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	RetryAttempts int           `json:"retry_attempts" yaml:"retry_attempts" toml:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay" yaml:"retry_delay" toml:"retry_delay"`
}

// DefaultPlottingServiceConfig returns default configuration for the plotting service
func DefaultPlottingServiceConfig() PlottingServiceConfig {
	return PlottingServiceConfig{
		BaseURL:       "http://localhost:8080",
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    1 * time.Second,
	}
}

// PlottingService sends charts of recorded scalars to a plotting sidecar.
type PlottingService struct {
	config     PlottingServiceConfig
	httpClient *http.Client
}

// NewPlottingService creates a new plotting service client
func NewPlottingService(config PlottingServiceConfig) *PlottingService {
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	return &PlottingService{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// CheckHealth checks if the plotting service is available
func (ps *PlottingService) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ps.config.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := ps.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send health check request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// SendPlotData posts one chart, retrying transport and server errors.
func (ps *PlottingService) SendPlotData(ctx context.Context, plot PlotData) (*PlottingResponse, error) {
	body, err := json.Marshal(plot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plot data: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < ps.config.RetryAttempts; attempt++ {
		resp, err := ps.post(ctx, "/api/plot", body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt < ps.config.RetryAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(ps.config.RetryDelay):
			}
		}
	}
	return nil, fmt.Errorf("failed to send plot data after %d attempts: %w", ps.config.RetryAttempts, lastErr)
}

func (ps *PlottingService) post(ctx context.Context, path string, body []byte) (*PlottingResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ps.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "go-hfs-training")

	resp, err := ps.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	var out PlottingResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &out, fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, out.Message)
	}
	return &out, nil
}

// TrainingCurvesPlot charts every Loss/ series of the store.
func TrainingCurvesPlot(store *Store, modelName string) PlotData {
	plot := PlotData{
		PlotType:  TrainingCurves,
		Title:     "Training Losses",
		Timestamp: time.Now(),
		ModelName: modelName,
		Config:    PlotConfig{XAxisLabel: "Iteration", YAxisLabel: "Loss", XAxisScale: "linear", YAxisScale: "log"},
	}
	for _, tag := range store.Tags() {
		if !strings.HasPrefix(tag, "Loss/") {
			continue
		}
		points, _ := store.Series(tag)
		plot.Series = append(plot.Series, SeriesData{Name: strings.TrimPrefix(tag, "Loss/"), Type: "line", Data: points})
	}
	return plot
}

// LearningRatePlot charts the Statistics/lr series of the store.
func LearningRatePlot(store *Store, modelName string) PlotData {
	plot := PlotData{
		PlotType:  LearningRateSchedule,
		Title:     "Learning Rate Schedule",
		Timestamp: time.Now(),
		ModelName: modelName,
		Config:    PlotConfig{XAxisLabel: "Iteration", YAxisLabel: "Learning Rate", XAxisScale: "linear", YAxisScale: "linear"},
	}
	if points, ok := store.Series("Statistics/lr"); ok {
		plot.Series = []SeriesData{{Name: "lr", Type: "line", Data: points}}
	}
	return plot
}

// LossCurvePlot charts the total loss parsed from a progress log, sorted
// by iteration.
func LossCurvePlot(points []Point, modelName string) PlotData {
	sorted := append([]Point(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Step < sorted[j].Step })
	return PlotData{
		PlotType:  LossCurve,
		Title:     "Loss",
		Timestamp: time.Now(),
		ModelName: modelName,
		Series:    []SeriesData{{Name: "loss", Type: "line", Data: sorted}},
		Config:    PlotConfig{XAxisLabel: "iter", YAxisLabel: "loss", XAxisScale: "linear", YAxisScale: "linear"},
	}
}
