package output

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAnchorFirstSetWins(t *testing.T) {
	var a Anchor

	_, ok := a.Get()
	assert.False(t, ok)

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.Set(first)
	a.Set(first.Add(time.Hour))

	got, ok := a.Get()
	assert.True(t, ok)
	assert.True(t, got.Equal(first))
}
