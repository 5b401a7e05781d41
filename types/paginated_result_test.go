package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPaginationResult(t *testing.T) {
	res := NewPaginationResult([]int{1, 2}, 5, 1, 2)
	assert.Equal(t, 3, res.TotalPages)
	assert.True(t, res.HasNextPage)
	assert.False(t, res.HasPreviousPage)

	last := NewPaginationResult([]int{5}, 5, 3, 2)
	assert.False(t, last.HasNextPage)
	assert.True(t, last.HasPreviousPage)

	empty := NewPaginationResult[int](nil, 0, 1, 0)
	assert.Equal(t, 0, empty.TotalPages)
	assert.False(t, empty.HasNextPage)
}
