package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestFromContextFallsBackToGlobal verifies that a bare context yields the global logger.
func TestFromContextFallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))
}

// TestToContextRoundTrip verifies that a logger stored in a context is returned as-is.
func TestToContextRoundTrip(t *testing.T) {
	t.Parallel()

	l := zap.NewNop().Sugar()
	ctx := ToContext(context.Background(), l)

	require.Same(t, l, FromContext(ctx))
}

// TestWithKVAttachesField verifies that log lines through a WithKV-derived
// context carry the extra pair.
func TestWithKVAttachesField(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := ToContext(context.Background(), zap.New(core).Sugar())
	ctx = WithKV(ctx, "session", "abcd1234")

	Info(ctx, "connected")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "abcd1234", entries[0].ContextMap()["session"])
}

// TestWithNameDerivesNamedLogger verifies that WithName replaces the stored logger.
func TestWithNameDerivesNamedLogger(t *testing.T) {
	t.Parallel()

	base := context.Background()
	named := WithName(base, "subscriber")

	require.NotSame(t, FromContext(base), FromContext(named))
}
