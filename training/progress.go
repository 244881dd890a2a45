package training

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/muesli/termenv"
)

// ProgressBar provides tqdm-style training progress visualization
type ProgressBar struct {
	description string
	total       int
	start       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	metrics     map[string]float64
	out         *termenv.Output
}

// NewProgressBar creates a new progress bar writing to stdout
func NewProgressBar(description string, total int) *ProgressBar {
	return NewProgressBarTo(os.Stdout, description, total)
}

// NewProgressBarTo creates a progress bar writing to w. Colour is only used
// when w is a terminal.
func NewProgressBarTo(w io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40, // Character width of progress bar
		showRate:    true,
		showETA:     true,
		metrics:     make(map[string]float64),
		out:         termenv.NewOutput(w),
	}
}

// Start marks the step the bar resumes from, so rate and ETA only count
// work done in this process.
func (pb *ProgressBar) Start(step int) {
	pb.start = step
	pb.current = step
	pb.startTime = time.Now()
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.render()
	fmt.Fprintln(pb.out) // New line after completion
}

// render draws the progress bar
func (pb *ProgressBar) render() {
	// Calculate progress percentage
	percentage := 1.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	// Calculate filled width
	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)
	bar = pb.out.String(bar).Foreground(pb.out.Color("2")).String()

	// Calculate timing information
	elapsed := time.Since(pb.startTime)
	done := pb.current - pb.start
	var eta time.Duration
	var rate float64
	if done > 0 && elapsed > 0 {
		rate = float64(done) / elapsed.Seconds()
		remaining := pb.total - pb.current
		eta = time.Duration(float64(remaining) / rate * float64(time.Second))
	}

	// Format the progress line
	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d",
		pb.description,
		percentage*100,
		bar,
		pb.current,
		pb.total,
	)

	// Add timing information
	if pb.showETA && eta > 0 {
		line += fmt.Sprintf(" [%s<%s", formatDuration(elapsed), formatDuration(eta))
	} else {
		line += fmt.Sprintf(" [%s<00:00", formatDuration(elapsed))
	}

	// Add rate information
	if pb.showRate && rate > 0 {
		line += fmt.Sprintf(", %.2fit/s", rate)
	}

	// Add metrics in a stable order
	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		line += fmt.Sprintf(", %s=%.4g", key, pb.metrics[key])
	}

	line += "]"

	// Print the line (carriage return overwrites previous line)
	fmt.Fprint(pb.out, line)
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
