package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeanPool(t *testing.T) {
	hidden := []float32{
		1, 2,
		3, 4,
		100, 100, // masked out
	}
	got := meanPool(hidden, []int64{1, 1, 0}, 2)
	assert.Equal(t, []float32{2, 3}, got)
}

func TestMeanPool_noTokens(t *testing.T) {
	got := meanPool([]float32{1, 2, 3, 4}, []int64{0, 0}, 2)
	assert.Equal(t, []float32{0, 0}, got)
}

func TestMeanPool_shortHidden(t *testing.T) {
	got := meanPool([]float32{2, 4}, []int64{1, 1, 1}, 2)
	assert.Equal(t, []float32{2, 4}, got)
}
