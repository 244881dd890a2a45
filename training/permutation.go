package training

import (
	"math/rand"
)

// ImagePermutation yields training image indices one epoch at a time. Each
// epoch is a fresh random ordering of [0, n), seeded from the run seed and
// the epoch number, so a resumed run visits the same images.
type ImagePermutation struct {
	n       int
	seed    int64
	epoch   int
	indices []int
}

// NewImagePermutation creates a permutation over n images.
func NewImagePermutation(n int, seed int64) *ImagePermutation {
	p := &ImagePermutation{n: n, seed: seed, indices: make([]int, n)}
	p.reset(0)
	return p
}

// Len returns the number of images per epoch.
func (p *ImagePermutation) Len() int { return p.n }

// Index returns the image to train on at iter: position iter mod n of the
// current epoch's ordering. After handing out the last position of an
// epoch the ordering is regenerated for the next one.
func (p *ImagePermutation) Index(iter int) int {
	if epoch := iter / p.n; epoch != p.epoch {
		p.reset(epoch)
	}
	pos := iter % p.n
	idx := p.indices[pos]
	if pos == p.n-1 {
		p.reset(p.epoch + 1)
	}
	return idx
}

// reset shuffles indices for the given epoch
func (p *ImagePermutation) reset(epoch int) {
	p.epoch = epoch
	for i := range p.indices {
		p.indices[i] = i
	}
	rng := rand.New(rand.NewSource(p.seed*1_000_003 + int64(epoch)))
	for i := len(p.indices) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		p.indices[i], p.indices[j] = p.indices[j], p.indices[i]
	}
}

// iterationRand returns the random source for one training iteration.
func iterationRand(seed int64, iter int) *rand.Rand {
	return rand.New(rand.NewSource(seed*7_919 + int64(iter)*104_729 + 1))
}
