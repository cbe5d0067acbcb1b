package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opas200/zonewatch/internal/config"
	"github.com/opas200/zonewatch/internal/logger"
	"github.com/opas200/zonewatch/internal/metric"
	"github.com/opas200/zonewatch/internal/ratelimit"
)

// skipLogInterval rate-limits "restart skipped" lines per device. Devices
// can stay offline for days, so this is deliberately long.
const skipLogInterval = time.Hour

// recoveryLogInterval rate-limits "device reachable again" lines.
const recoveryLogInterval = 5 * time.Minute

// Streamer is the slice of the subscriber surface the monitor needs.
type Streamer interface {
	Device() string
	Feed() string
	IsRunning() bool
	Restart(ctx context.Context)
}

// Options wires the monitor to its collaborators.
type Options struct {
	// Config supplies sweep interval, restart cooldown and probe timeout.
	Config config.HealthConfig
	// Cameras supplies probe endpoints, keyed by camera key.
	Cameras []config.Camera
	// Prober checks device connectivity; nil selects a TCP prober.
	Prober Prober
	// Metrics receives the restart counter.
	Metrics *metric.Metrics
}

// Monitor periodically sweeps registered subscribers and restarts dead
// ones. A subscriber that is running but silent is left alone: long idle
// periods are valid on both feeds.
type Monitor struct {
	cfg     config.HealthConfig
	cameras map[string]config.Camera
	prober  Prober
	metrics *metric.Metrics

	mu sync.Mutex
	// subscribers groups registered streamers by device key.
	subscribers map[string][]Streamer
	lastRestart map[string]time.Time
	// inFlight guards against overlapping restart attempts per device.
	inFlight map[string]bool
	status   map[string]Status

	now func() time.Time
}

// New creates a monitor. Register subscribers before calling Run.
func New(opts *Options) *Monitor {
	cameras := make(map[string]config.Camera, len(opts.Cameras))
	for _, cam := range opts.Cameras {
		cameras[cam.Key] = cam
	}

	prober := opts.Prober
	if prober == nil {
		prober = &TCPProber{Timeout: opts.Config.ProbeTimeout}
	}

	return &Monitor{
		cfg:         opts.Config,
		cameras:     cameras,
		prober:      prober,
		metrics:     opts.Metrics,
		subscribers: make(map[string][]Streamer),
		lastRestart: make(map[string]time.Time),
		inFlight:    make(map[string]bool),
		status:      make(map[string]Status),
		now:         time.Now,
	}
}

// Register adds a subscriber to the sweep set.
func (m *Monitor) Register(s Streamer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribers[s.Device()] = append(m.subscribers[s.Device()], s)
}

// DeviceStatus returns the last probe result for a device.
func (m *Monitor) DeviceStatus(device string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status[device]
}

// Run sweeps on the configured interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "health")

	logger.InfoKV(ctx, "Health monitor started",
		"sweep_interval", m.cfg.SweepInterval.String(),
		"restart_cooldown", m.cfg.RestartCooldown.String())

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Health monitor stopped")

			return nil
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep probes every registered device and restarts its dead subscribers
// when the device is reachable and the restart cooldown has passed.
func (m *Monitor) sweep(ctx context.Context) {
	for device, cam := range m.cameras {
		status := m.prober.Probe(ctx, cam)
		m.noteStatus(ctx, device, status)

		dead := m.deadSubscribers(device)
		if len(dead) == 0 {
			continue
		}

		if status != StatusReachable {
			key := fmt.Sprintf("health_skip_%s", device)
			if allowed, suppressed := ratelimit.ShouldLog(key, skipLogInterval); allowed {
				logger.WarnKV(ctx, "Restart skipped, device not reachable",
					"device", device, "status", status.String(),
					"dead_feeds", len(dead), "suppressed", suppressed)
			}

			continue
		}

		if !m.beginRestart(device) {
			continue
		}

		go m.restart(ctx, device, dead)
	}
}

// noteStatus records a probe result and logs reachability transitions.
func (m *Monitor) noteStatus(ctx context.Context, device string, status Status) {
	m.mu.Lock()
	prev := m.status[device]
	m.status[device] = status
	m.mu.Unlock()

	if prev == StatusUnreachable && status == StatusReachable {
		key := fmt.Sprintf("health_recover_%s", device)
		if allowed, _ := ratelimit.ShouldLog(key, recoveryLogInterval); allowed {
			logger.InfoKV(ctx, "Device reachable again", "device", device)
		}
	}
}

// deadSubscribers returns the device's registered subscribers whose run
// loops have exited.
func (m *Monitor) deadSubscribers(device string) []Streamer {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dead []Streamer

	for _, s := range m.subscribers[device] {
		if !s.IsRunning() {
			dead = append(dead, s)
		}
	}

	return dead
}

// beginRestart claims the restart slot for a device, honoring the
// in-flight guard and the per-device cooldown.
func (m *Monitor) beginRestart(device string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight[device] {
		return false
	}

	now := m.now()
	if last, ok := m.lastRestart[device]; ok && now.Sub(last) < m.cfg.RestartCooldown {
		return false
	}

	m.inFlight[device] = true
	m.lastRestart[device] = now

	return true
}

// restart relaunches dead subscribers for one device and releases the
// in-flight guard.
func (m *Monitor) restart(ctx context.Context, device string, dead []Streamer) {
	defer func() {
		m.mu.Lock()
		m.inFlight[device] = false
		m.mu.Unlock()
	}()

	for _, s := range dead {
		logger.WarnKV(ctx, "Restarting dead subscriber", "device", device, "feed", s.Feed())

		s.Restart(ctx)
		m.metrics.Restarts.WithLabelValues(device, s.Feed()).Inc()
	}
}
