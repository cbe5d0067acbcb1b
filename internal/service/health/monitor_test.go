package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opas200/zonewatch/internal/config"
	"github.com/opas200/zonewatch/internal/metric"
)

// fakeStreamer is a controllable subscriber stand-in.
type fakeStreamer struct {
	device string
	feed   string

	mu       sync.Mutex
	running  bool
	restarts int
}

func (f *fakeStreamer) Device() string { return f.device }
func (f *fakeStreamer) Feed() string   { return f.feed }

func (f *fakeStreamer) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.running
}

func (f *fakeStreamer) Restart(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.restarts++
	f.running = true
}

func (f *fakeStreamer) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.restarts
}

// fakeProber answers probes from a fixed status map.
type fakeProber struct {
	mu     sync.Mutex
	status map[string]Status
}

func (f *fakeProber) Probe(_ context.Context, cam config.Camera) Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.status[cam.Key]
}

func (f *fakeProber) set(device string, status Status) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.status[device] = status
}

// testMonitor builds a monitor over one fake device with both feeds.
func testMonitor(status Status) (*Monitor, *fakeProber, *fakeStreamer, *fakeStreamer) {
	prober := &fakeProber{status: map[string]Status{"cam1": status}}

	m := New(&Options{
		Config: config.HealthConfig{
			SweepInterval:   10 * time.Second,
			RestartCooldown: time.Minute,
			ProbeTimeout:    time.Second,
		},
		Cameras: []config.Camera{{Key: "cam1", IP: "192.0.2.1", HTTPPort: 80}},
		Prober:  prober,
		Metrics: metric.New(),
	})

	people := &fakeStreamer{device: "cam1", feed: "people", running: true}
	stay := &fakeStreamer{device: "cam1", feed: "stay", running: true}
	m.Register(people)
	m.Register(stay)

	return m, prober, people, stay
}

// waitRestarts waits until the streamer has seen n restarts and the
// monitor's in-flight guard has been released.
func waitRestarts(t *testing.T, m *Monitor, s *fakeStreamer, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		inFlight := m.inFlight[s.device]
		m.mu.Unlock()

		return s.restartCount() == n && !inFlight
	}, time.Second, 5*time.Millisecond)
}

// TestSweepRestartsDeadSubscriber verifies a reachable device gets its
// dead feed restarted while the healthy feed is left alone.
func TestSweepRestartsDeadSubscriber(t *testing.T) {
	t.Parallel()

	m, _, people, stay := testMonitor(StatusReachable)
	ctx := context.Background()

	people.mu.Lock()
	people.running = false
	people.mu.Unlock()

	m.sweep(ctx)

	waitRestarts(t, m, people, 1)
	require.Zero(t, stay.restartCount())
	require.True(t, people.IsRunning())
}

// TestSweepSkipsUnreachableDevice verifies dead subscribers on an
// unreachable device are not restarted.
func TestSweepSkipsUnreachableDevice(t *testing.T) {
	t.Parallel()

	m, prober, people, _ := testMonitor(StatusUnreachable)
	ctx := context.Background()

	people.mu.Lock()
	people.running = false
	people.mu.Unlock()

	m.sweep(ctx)
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, people.restartCount())

	// Once the device answers, the next sweep restarts.
	prober.set("cam1", StatusReachable)
	m.sweep(ctx)

	waitRestarts(t, m, people, 1)
	require.Equal(t, StatusReachable, m.DeviceStatus("cam1"))
}

// TestSweepHonorsRestartCooldown verifies one device is restarted at
// most once per cooldown window.
func TestSweepHonorsRestartCooldown(t *testing.T) {
	t.Parallel()

	m, _, people, _ := testMonitor(StatusReachable)
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }

	people.mu.Lock()
	people.running = false
	people.mu.Unlock()

	m.sweep(ctx)
	waitRestarts(t, m, people, 1)

	// The restart brought it back; kill it again inside the cooldown.
	people.mu.Lock()
	people.running = false
	people.mu.Unlock()

	m.sweep(ctx)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, people.restartCount())

	// Past the cooldown the restart goes through.
	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	m.sweep(ctx)
	waitRestarts(t, m, people, 2)
}

// TestSweepLeavesRunningSubscribersAlone verifies a silent but running
// subscriber is never restarted.
func TestSweepLeavesRunningSubscribersAlone(t *testing.T) {
	t.Parallel()

	m, _, people, stay := testMonitor(StatusReachable)

	m.sweep(context.Background())
	time.Sleep(20 * time.Millisecond)

	require.Zero(t, people.restartCount())
	require.Zero(t, stay.restartCount())
}
