package subscriber

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/opas200/zonewatch/internal/config"
	"github.com/opas200/zonewatch/internal/domain/telemetry"
	"github.com/opas200/zonewatch/internal/logger"
	"github.com/opas200/zonewatch/internal/metric"
)

// testEventConfig returns stream settings tuned for fast tests.
func testEventConfig() config.EventConfig {
	return config.EventConfig{
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		BackoffMin:     10 * time.Millisecond,
		BackoffMax:     50 * time.Millisecond,
	}
}

// testCamera builds a camera pointing at a local test server.
func testCamera(t *testing.T, ts *httptest.Server) config.Camera {
	t.Helper()

	host, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return config.Camera{
		Key:      "cam1",
		Name:     "Test camera",
		IP:       host,
		HTTPPort: port,
		Channel:  1,
	}
}

// TestSubscriberDeliversReadings verifies decoded readings reach the sink.
func TestSubscriberDeliversReadings(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "summary.AreaID=2\nsummary.InsideSubtotal.Total=8\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	readings := make(chan telemetry.Reading, 16)
	sink := func(r telemetry.Reading) { readings <- r }

	s := New(testCamera(t, ts), CountProtocol{}, testEventConfig(), sink, metric.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	defer s.Stop()

	select {
	case r := <-readings:
		snap, ok := r.(telemetry.CountSnapshot)
		require.True(t, ok)
		require.Equal(t, "cam1", snap.Device)
		require.Equal(t, 2, snap.Zone)
		require.Equal(t, 8, snap.Count)
	case <-time.After(5 * time.Second):
		t.Fatal("no reading delivered")
	}
}

// TestSubscriberStopIsPrompt verifies Stop unblocks a reader stuck on an
// idle connection and the run loop exits within the grace period.
func TestSubscriberStopIsPrompt(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	s := New(testCamera(t, ts), CountProtocol{}, testEventConfig(), func(telemetry.Reading) {}, metric.New())

	s.Start(context.Background())
	require.Eventually(t, s.IsRunning, time.Second, 10*time.Millisecond)

	s.Stop()
	require.True(t, s.Wait(2*time.Second))
	require.False(t, s.IsRunning())
}

// TestSubscriberStartIsIdempotent verifies a second Start on a running
// subscriber does not open a second connection.
func TestSubscriberStartIsIdempotent(t *testing.T) {
	t.Parallel()

	var conns atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	s := New(testCamera(t, ts), CountProtocol{}, testEventConfig(), func(telemetry.Reading) {}, metric.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx)

	require.Eventually(t, func() bool { return conns.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), conns.Load())

	s.Stop()
	require.True(t, s.Wait(2*time.Second))
}

// TestSubscriberReconnectsAfterRejection verifies the loop keeps retrying
// when the device rejects the subscription.
func TestSubscriberReconnectsAfterRejection(t *testing.T) {
	t.Parallel()

	var conns atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	s := New(testCamera(t, ts), AlarmProtocol{}, testEventConfig(), func(telemetry.Reading) {}, metric.New())

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return conns.Load() >= 3 }, 5*time.Second, 10*time.Millisecond)
	require.True(t, s.IsRunning())
}

// TestSubscriberReadTimeoutReconnects verifies a silent connection is torn
// down at the read timeout, counted as liveness, and reopened immediately.
func TestSubscriberReadTimeoutReconnects(t *testing.T) {
	t.Parallel()

	var conns atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	cfg := testEventConfig()
	cfg.ReadTimeout = 50 * time.Millisecond

	s := New(testCamera(t, ts), CountProtocol{}, cfg, func(telemetry.Reading) {}, metric.New())

	start := time.Now()

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return conns.Load() >= 3 }, 5*time.Second, 10*time.Millisecond)

	// Timeouts on an idle link count as liveness, not failure.
	require.True(t, s.LastReceivedAt().After(start))
	require.True(t, s.IsRunning())
}

// TestStreamLogsCarrySessionID verifies connection-scoped log lines are
// tagged with the per-connection session id.
func TestStreamLogsCarrySessionID(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core).Sugar())

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "summary.AreaID=abc\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	s := New(testCamera(t, ts), CountProtocol{}, testEventConfig(), func(telemetry.Reading) {}, metric.New())

	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("Frame dropped").Len() > 0
	}, 5*time.Second, 10*time.Millisecond)

	entry := logs.FilterMessage("Frame dropped").All()[0]
	session, ok := entry.ContextMap()["session"].(string)
	require.True(t, ok)
	require.Len(t, session, 8)
}

// TestSubscriberRestart verifies Restart yields a fresh running loop.
func TestSubscriberRestart(t *testing.T) {
	t.Parallel()

	var conns atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	s := New(testCamera(t, ts), CountProtocol{}, testEventConfig(), func(telemetry.Reading) {}, metric.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	require.Eventually(t, func() bool { return conns.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	s.Restart(ctx)

	require.Eventually(t, func() bool { return conns.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.True(t, s.IsRunning())

	s.Stop()
	require.True(t, s.Wait(2*time.Second))
}
