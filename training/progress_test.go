package training

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressBarRender(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBarTo(&buf, "train", 10)
	pb.Start(0)
	pb.Update(5, map[string]float64{"loss": 0.25, "lr": 5e-4})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\rtrain:  50%|"))
	assert.Contains(t, out, "| 5/10 [")
	// Metrics are sorted by name.
	assert.Less(t, strings.Index(out, "loss=0.25"), strings.Index(out, "lr=0.0005"))

	pb.Finish()
	assert.True(t, strings.HasSuffix(buf.String(), "]\n"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00", formatDuration(0))
	assert.Equal(t, "01:05", formatDuration(65*time.Second))
	assert.Equal(t, "75:00", formatDuration(75*time.Minute))
}

func TestLossLogAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "loss.txt")
	log := NewLossLog(path)
	require.NoError(t, log.Append(1, 0.5, 1e-5))
	require.NoError(t, log.Append(2, 0.25, 2e-5))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "iter:1 loss = 0.5 lr=1e-05\niter:2 loss = 0.25 lr=2e-05\n", string(raw))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := ReadLossLog(f)
	require.NoError(t, err)
	assert.Equal(t, []LossRecord{
		{Iter: 1, Loss: 0.5, LearningRate: 1e-5},
		{Iter: 2, Loss: 0.25, LearningRate: 2e-5},
	}, records)
}

func TestReadLossLogSkipsForeignLines(t *testing.T) {
	in := "./exp/scan106\niter:10 loss = 1.5 lr=0.0005\nnot a line\niter:20 loss = nan? lr=1\n"
	records, err := ReadLossLog(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 10, records[0].Iter)
}
