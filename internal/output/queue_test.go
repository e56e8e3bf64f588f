package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedQueueFIFO(t *testing.T) {
	q := newBoundedQueue[int](3)
	q.Push(1)
	q.Push(2)

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, q.Len())
}

func TestBoundedQueueDropsOldestAtCapacity(t *testing.T) {
	q := newBoundedQueue[int](2)
	q.Push(1)
	q.Push(2)
	q.Push(3) // drops 1

	assert.Equal(t, int64(1), q.Dropped())
	assert.Equal(t, 2, q.Len())

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestBoundedQueuePopEmpty(t *testing.T) {
	q := newBoundedQueue[string](1)
	_, ok := q.Pop()
	assert.False(t, ok)
}
