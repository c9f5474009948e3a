package bluesky

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTID(t *testing.T) {
	tid := nextTID()
	require.Len(t, tid, 13)
	for _, r := range tid {
		assert.Contains(t, tidAlphabet, string(r))
	}
}

func TestNextTID_Monotonic(t *testing.T) {
	prev := nextTID()
	for range 1000 {
		tid := nextTID()
		assert.Greater(t, tid, prev, "lexicographic order follows issue order")
		prev = tid
	}
}
