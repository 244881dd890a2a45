package training

import (
	"github.com/tsawler/go-hfs/scene"
)

// ProgressBroadcaster writes one coarse-to-fine progress value to every
// registered component, so all of them see the same value in an iteration.
type ProgressBroadcaster struct {
	targets []scene.ProgressAware
	current float32
	set     bool
}

// NewProgressBroadcaster registers the given components.
func NewProgressBroadcaster(targets ...scene.ProgressAware) *ProgressBroadcaster {
	return &ProgressBroadcaster{targets: targets}
}

// Register adds a component. It immediately receives the current value if
// one has been broadcast.
func (pb *ProgressBroadcaster) Register(target scene.ProgressAware) {
	pb.targets = append(pb.targets, target)
	if pb.set {
		target.SetProgress(pb.current)
	}
}

// Broadcast sets progress on every registered component.
func (pb *ProgressBroadcaster) Broadcast(progress float32) {
	pb.current = progress
	pb.set = true
	for _, t := range pb.targets {
		t.SetProgress(progress)
	}
}

// Current returns the last broadcast value.
func (pb *ProgressBroadcaster) Current() float32 { return pb.current }

// Len returns the number of registered components.
func (pb *ProgressBroadcaster) Len() int { return len(pb.targets) }
