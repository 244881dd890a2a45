package checkpoints

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const filePrefix = "ckpt_"

// FileName returns the artifact name for a checkpoint taken at iter,
// e.g. ckpt_001000.json.
func FileName(iter int, format CheckpointFormat) string {
	return fmt.Sprintf("%s%06d.%s", filePrefix, iter, format.Extension())
}

// ParseIteration extracts the iteration from an artifact name. The second
// result is false for names that are not checkpoints in the given format.
func ParseIteration(name string, format CheckpointFormat) (int, bool) {
	ext := "." + format.Extension()
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ext) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), ext)
	if digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	iter, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return iter, true
}

// FindLatest scans dir and returns the path of the checkpoint with the
// greatest iteration not exceeding endIter. Names that do not parse are
// skipped. ErrNoCheckpoint is returned when nothing qualifies.
func FindLatest(dir string, format CheckpointFormat, endIter int) (string, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, fmt.Errorf("%w: directory %s does not exist", ErrNoCheckpoint, dir)
		}
		return "", 0, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	best := -1
	bestName := ""
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		iter, ok := ParseIteration(entry.Name(), format)
		if !ok || iter > endIter {
			continue
		}
		if iter > best {
			best = iter
			bestName = entry.Name()
		}
	}

	if best < 0 {
		return "", 0, fmt.Errorf("%w in %s (end_iter %d)", ErrNoCheckpoint, dir, endIter)
	}
	return filepath.Join(dir, bestName), best, nil
}
