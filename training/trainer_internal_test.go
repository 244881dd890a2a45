package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldValidateImage(t *testing.T) {
	tr := &Trainer{config: Config{ValFreq: 2500}}
	tests := []struct {
		iter int
		want bool
	}{
		{1, true},
		{2, false},
		{2500, true},
		{10000, true},
		{12500, true},
		{15000, false},
		{17500, false},
		{25000, true},
		{37500, true},
		{40000, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tr.shouldValidateImage(tt.iter), "iter %d", tt.iter)
	}
}
