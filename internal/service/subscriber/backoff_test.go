package subscriber

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestBackoffDoublesToCap verifies the delay sequence doubles up to the cap.
func TestBackoffDoublesToCap(t *testing.T) {
	t.Parallel()

	bo := newBackoff(time.Second, 30*time.Second)

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}

	for i, w := range want {
		require.Equal(t, w, bo.Next(), "delay %d", i)
	}
}

// TestBackoffReset verifies a successful read returns the delay to the minimum.
func TestBackoffReset(t *testing.T) {
	t.Parallel()

	bo := newBackoff(time.Second, 30*time.Second)

	bo.Next()
	bo.Next()
	bo.Next()
	bo.Reset()

	require.Equal(t, time.Second, bo.Next())
	require.Equal(t, 2*time.Second, bo.Next())
}
