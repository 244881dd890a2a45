package training

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// LossLog is the append-only human-readable progress log (logs/loss.txt).
// Each line is "iter:<n> loss = <loss> lr=<lr>".
type LossLog struct {
	path string
}

// NewLossLog creates a log at path. The file is created on first write.
func NewLossLog(path string) *LossLog {
	return &LossLog{path: path}
}

// Path returns the log file path.
func (l *LossLog) Path() string { return l.path }

// Append writes one progress line and closes the file again so the line is
// on disk before training continues.
func (l *LossLog) Append(iter int, loss float32, lr float64) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open loss log: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%s\n", FormatProgressLine(iter, loss, lr)); err != nil {
		f.Close()
		return fmt.Errorf("failed to write loss log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close loss log: %w", err)
	}
	return nil
}

// FormatProgressLine renders one progress line without the newline.
func FormatProgressLine(iter int, loss float32, lr float64) string {
	return fmt.Sprintf("iter:%d loss = %s lr=%s", iter,
		strconv.FormatFloat(float64(loss), 'g', -1, 32),
		strconv.FormatFloat(lr, 'g', -1, 64))
}

// LossRecord is one parsed progress line.
type LossRecord struct {
	Iter         int     `json:"iter"`
	Loss         float64 `json:"loss"`
	LearningRate float64 `json:"lr"`
}

var progressLinePattern = regexp.MustCompile(`^iter:\s*(\d+) loss = (\S+) lr=(\S+)`)

// ReadLossLog parses a progress log. Lines that do not match are skipped.
func ReadLossLog(r io.Reader) ([]LossRecord, error) {
	var records []LossRecord
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m := progressLinePattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		iter, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		loss, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		lr, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}
		records = append(records, LossRecord{Iter: iter, Loss: loss, LearningRate: lr})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read loss log: %w", err)
	}
	return records, nil
}
