package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventIDMonotonic(t *testing.T) {
	now := time.Now()
	prev := NewEventID(now)
	for i := 0; i < 100; i++ {
		next := NewEventID(now)
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestConflictIDOrderIndependent(t *testing.T) {
	a := ConflictID([]string{"e1", "e2", "e3"})
	b := ConflictID([]string{"e3", "e1", "e2"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, ConflictID([]string{"e1", "e2"}))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(New()))
	assert.True(t, Valid(ConflictID([]string{"e1"})))
	for _, s := range []string{"", "x", "d1", "123", NewEventID(time.Now()), "urn:uuid:" + New(), "{" + New() + "}", New() + " "} {
		assert.False(t, Valid(s), s)
	}
}
