package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tsawler/go-hfs/scene/scenetest"
)

func TestProgressBroadcasterKeepsComponentsInStep(t *testing.T) {
	sdf := scenetest.NewComponent("sdf_network", 0)
	high := scenetest.NewComponent("sdf_network_high", 0)
	color := scenetest.NewComponent("color_network", 0)

	pb := NewProgressBroadcaster(sdf, high)
	pb.Broadcast(0.5)
	pb.Register(color)
	pb.Broadcast(0.75)

	assert.Equal(t, 3, pb.Len())
	assert.Equal(t, float32(0.75), pb.Current())
	assert.Equal(t, []float32{0.5, 0.75}, sdf.Progress)
	assert.Equal(t, []float32{0.5, 0.75}, high.Progress)
	assert.Equal(t, []float32{0.5, 0.75}, color.Progress)
}
