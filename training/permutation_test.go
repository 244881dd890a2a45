package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermutationEpochCoversEveryIndex(t *testing.T) {
	for _, n := range []int{1, 2, 7, 49} {
		p := NewImagePermutation(n, 42)
		for epoch := 0; epoch < 5; epoch++ {
			seen := make(map[int]int)
			for i := 0; i < n; i++ {
				seen[p.Index(epoch*n+i)]++
			}
			assert.Len(t, seen, n, "n=%d epoch=%d", n, epoch)
			for idx, count := range seen {
				assert.Equal(t, 1, count, "index %d", idx)
				assert.True(t, idx >= 0 && idx < n)
			}
		}
	}
}

func TestPermutationRegeneratesEachEpoch(t *testing.T) {
	n := 20
	p := NewImagePermutation(n, 7)
	first := make([]int, n)
	second := make([]int, n)
	for i := 0; i < n; i++ {
		first[i] = p.Index(i)
	}
	for i := 0; i < n; i++ {
		second[i] = p.Index(n + i)
	}
	assert.NotEqual(t, first, second)
}

func TestPermutationResumesDeterministically(t *testing.T) {
	n := 6
	straight := NewImagePermutation(n, 3)
	var want []int
	for iter := 0; iter < 20; iter++ {
		want = append(want, straight.Index(iter))
	}

	resumed := NewImagePermutation(n, 3)
	got := want[:9:9]
	for iter := 9; iter < 20; iter++ {
		got = append(got, resumed.Index(iter))
	}
	assert.Equal(t, want, got)
}

func TestIterationRandIsDeterministic(t *testing.T) {
	a := iterationRand(5, 100).Int63()
	b := iterationRand(5, 100).Int63()
	c := iterationRand(5, 101).Int63()
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
