package training

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tsawler/go-hfs/checkpoints"
	"github.com/tsawler/go-hfs/optimizer"
	"github.com/tsawler/go-hfs/scene"
)

// State is the complete mutable training state: the iteration counter, the
// optimizer and the components whose parameters it updates. It is owned by
// the Trainer and persisted only through the CheckpointManager.
type State struct {
	IterStep   int
	Optimizer  optimizer.Optimizer
	Components []scene.Component
}

// CheckpointConfig configures checkpoint saving behavior
type CheckpointConfig struct {
	SaveDirectory string                       // Directory to save checkpoints
	Format        checkpoints.CheckpointFormat // JSON or Protobuf
	RunID         string                       // Recorded in metadata
}

// DefaultCheckpointConfig returns a sensible default configuration
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		SaveDirectory: "./checkpoints",
		Format:        checkpoints.FormatJSON,
	}
}

// CheckpointManager saves and restores the training State. Saves are
// additive and synchronous.
type CheckpointManager struct {
	config CheckpointConfig
	saver  *checkpoints.CheckpointSaver
	logger *slog.Logger
}

// NewCheckpointManager creates a new checkpoint manager
func NewCheckpointManager(config CheckpointConfig, logger *slog.Logger) *CheckpointManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckpointManager{
		config: config,
		saver:  checkpoints.NewCheckpointSaver(config.Format),
		logger: logger,
	}
}

// Directory returns the checkpoint directory.
func (cm *CheckpointManager) Directory() string { return cm.config.SaveDirectory }

// Save writes the state to ckpt_<iter>.<ext> and returns the path.
func (cm *CheckpointManager) Save(state *State) (string, error) {
	checkpoint, err := cm.createCheckpoint(state)
	if err != nil {
		return "", fmt.Errorf("failed to create checkpoint: %w", err)
	}

	if err := cm.ensureDirectory(); err != nil {
		return "", fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	path := filepath.Join(cm.config.SaveDirectory, checkpoints.FileName(state.IterStep, cm.config.Format))
	if err := cm.saver.SaveCheckpoint(checkpoint, path); err != nil {
		return "", fmt.Errorf("failed to save checkpoint: %w", err)
	}

	cm.logger.Debug("checkpoint saved", "path", path, "iter", state.IterStep)
	return path, nil
}

// Resume restores the state from the named checkpoint, or from the latest
// checkpoint not beyond endIter when name is empty. It returns the path
// that was loaded.
func (cm *CheckpointManager) Resume(state *State, name string, endIter int) (string, error) {
	var path string
	if name != "" {
		path = filepath.Join(cm.config.SaveDirectory, name)
	} else {
		latest, _, err := checkpoints.FindLatest(cm.config.SaveDirectory, cm.config.Format, endIter)
		if err != nil {
			return "", err
		}
		path = latest
	}

	cm.logger.Info("found checkpoint", "path", path)
	if err := cm.Load(state, path); err != nil {
		return "", err
	}
	return path, nil
}

// Load restores component parameters, optimizer state and the iteration
// counter from path. The format follows the file extension.
func (cm *CheckpointManager) Load(state *State, path string) error {
	saver := cm.saver
	if strings.HasSuffix(path, "."+checkpoints.FormatProto.Extension()) {
		saver = checkpoints.NewCheckpointSaver(checkpoints.FormatProto)
	} else if strings.HasSuffix(path, "."+checkpoints.FormatJSON.Extension()) {
		saver = checkpoints.NewCheckpointSaver(checkpoints.FormatJSON)
	}

	checkpoint, err := saver.LoadCheckpoint(path)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if err := cm.restoreState(state, checkpoint); err != nil {
		return fmt.Errorf("failed to restore training state from %s: %w", path, err)
	}
	return nil
}

// createCheckpoint copies the current state into a checkpoint
func (cm *CheckpointManager) createCheckpoint(state *State) (*checkpoints.Checkpoint, error) {
	checkpoint := &checkpoints.Checkpoint{
		IterStep: state.IterStep,
		Metadata: checkpoints.CheckpointMetadata{
			Version:     "1.0.0",
			Framework:   "go-hfs",
			RunID:       cm.config.RunID,
			Description: fmt.Sprintf("iteration %d", state.IterStep),
		},
	}

	for _, c := range state.Components {
		cs := checkpoints.ComponentState{Name: c.Name()}
		for _, p := range c.Parameters() {
			cs.Weights = append(cs.Weights, checkpoints.WeightTensor{
				Name:  p.Name,
				Shape: append([]int(nil), p.Shape...),
				Data:  append([]float32(nil), p.Data...),
			})
		}
		checkpoint.Components = append(checkpoint.Components, cs)
	}

	if state.Optimizer != nil {
		optState, err := state.Optimizer.GetState()
		if err != nil {
			return nil, fmt.Errorf("failed to extract optimizer state: %w", err)
		}
		checkpoint.OptimizerState = &checkpoints.OptimizerState{
			Type:       optState.Type,
			Parameters: optState.Parameters,
			StateData:  optState.StateData,
		}
	}

	return checkpoint, nil
}

// restoreState validates the checkpoint against the live components and
// copies it in. Parameters are only written once every component matches.
func (cm *CheckpointManager) restoreState(state *State, checkpoint *checkpoints.Checkpoint) error {
	type copyJob struct {
		dst []float32
		src []float32
	}
	var jobs []copyJob

	for _, c := range state.Components {
		cs := checkpoint.Component(c.Name())
		if cs == nil {
			return fmt.Errorf("checkpoint has no state for component %s", c.Name())
		}
		params := c.Parameters()
		if len(cs.Weights) != len(params) {
			return fmt.Errorf("component %s: checkpoint has %d tensors, model has %d", c.Name(), len(cs.Weights), len(params))
		}
		for i, p := range params {
			w := cs.Weights[i]
			if w.Name != p.Name || !equalShapes(w.Shape, p.Shape) || len(w.Data) != len(p.Data) {
				return fmt.Errorf("component %s: tensor %s%v does not match %s%v", c.Name(), w.Name, w.Shape, p.Name, p.Shape)
			}
			jobs = append(jobs, copyJob{dst: p.Data, src: w.Data})
		}
	}

	if state.Optimizer != nil {
		if checkpoint.OptimizerState == nil {
			return fmt.Errorf("checkpoint has no optimizer state")
		}
		err := state.Optimizer.LoadState(&optimizer.OptimizerState{
			Type:       checkpoint.OptimizerState.Type,
			Parameters: checkpoint.OptimizerState.Parameters,
			StateData:  checkpoint.OptimizerState.StateData,
		})
		if err != nil {
			return fmt.Errorf("failed to restore optimizer state: %w", err)
		}
	}

	for _, j := range jobs {
		copy(j.dst, j.src)
	}
	state.IterStep = checkpoint.IterStep
	return nil
}

func (cm *CheckpointManager) ensureDirectory() error {
	return os.MkdirAll(cm.config.SaveDirectory, 0755)
}

func equalShapes(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
