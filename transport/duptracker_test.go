package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDupTrackerBumpCounts(t *testing.T) {
	d := newDupTracker()
	require.Equal(t, 1, d.Bump(100))
	require.Equal(t, 2, d.Bump(100))
	require.Equal(t, 1, d.Bump(200))
}

func TestDupTrackerResetAll(t *testing.T) {
	d := newDupTracker()
	d.Bump(100)
	d.Bump(100)
	d.ResetAll()
	require.Equal(t, 1, d.Bump(100))
}
