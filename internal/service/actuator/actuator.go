package actuator

import (
	"context"
	"sync"
	"time"

	"github.com/opas200/zonewatch/internal/config"
	"github.com/opas200/zonewatch/internal/logger"
	"github.com/opas200/zonewatch/internal/metric"
	"github.com/opas200/zonewatch/internal/ratelimit"
)

// watcherSlice bounds how long the watcher sleeps between deadline
// checks, so an extended deadline is honored promptly.
const watcherSlice = 50 * time.Millisecond

// ignoredLogInterval rate-limits retrigger-ignored log lines.
const ignoredLogInterval = 60 * time.Second

// Pulse outcome labels for the metrics counter.
const (
	outcomeStarted   = "started"
	outcomeExtended  = "extended"
	outcomeIgnored   = "ignored"
	outcomeRestarted = "watcher_restarted"
)

// Output is the physical line behind the controller. Implementations
// must tolerate repeated Set calls with the same value.
type Output interface {
	// Set drives the line HIGH (true) or LOW (false).
	Set(active bool) error
	// Close releases the line, leaving it LOW.
	Close() error
}

// Controller is the pulse state machine: LOW, then HIGH until the
// deadline, then LOW again. All zones share the one output, so there is
// a single global deadline.
type Controller struct {
	output   Output
	duration time.Duration
	policy   config.RetriggerPolicy
	metrics  *metric.Metrics

	// mu guards the deadline and watcher flag. Held only during state
	// transitions, never across sleeps.
	mu sync.Mutex
	// pulseEndAt is the deadline of the active pulse, zero when idle.
	pulseEndAt time.Time
	// watcherLive tracks whether the watcher goroutine is running.
	watcherLive bool
	closed      bool

	now func() time.Time
}

// NewController creates a controller over the given output.
func NewController(output Output, cfg config.PulseConfig, metrics *metric.Metrics) *Controller {
	return &Controller{
		output:   output,
		duration: cfg.Duration,
		policy:   cfg.Retrigger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// TriggerPulse starts a pulse, or applies the retrigger policy when one
// is already active. The zone is only used for logging; the output is
// shared by all zones.
func (c *Controller) TriggerPulse(zone int) {
	ctx := logger.WithName(context.Background(), "actuator")

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	now := c.now()

	switch {
	case !c.pulseEndAt.After(now):
		c.pulseEndAt = now.Add(c.duration)

		if err := c.output.Set(true); err != nil {
			logger.ErrorKV(ctx, "Output drive failed", "zone", zone, "error", err)
		}

		c.metrics.Pulses.WithLabelValues(outcomeStarted).Inc()
		logger.InfoKV(ctx, "Pulse started", "zone", zone, "duration", c.duration.String())
		c.ensureWatcherLocked(ctx)

	case c.policy == config.RetriggerExtend:
		// Retrigger restarts the window from now.
		c.pulseEndAt = now.Add(c.duration)

		c.metrics.Pulses.WithLabelValues(outcomeExtended).Inc()
		logger.DebugKV(ctx, "Pulse extended", "zone", zone)

		// The watcher should already be alive here; restarting it is
		// the safety net against a stuck-HIGH output.
		if c.ensureWatcherLocked(ctx) {
			c.metrics.Pulses.WithLabelValues(outcomeRestarted).Inc()
			logger.WarnKV(ctx, "Pulse watcher restarted while active", "zone", zone)
		}

	default:
		c.metrics.Pulses.WithLabelValues(outcomeIgnored).Inc()

		if allowed, suppressed := ratelimit.ShouldLog("pulse_ignored", ignoredLogInterval); allowed {
			logger.DebugKV(ctx, "Pulse retrigger ignored", "zone", zone, "suppressed", suppressed)
		}
	}
}

// Active reports whether a pulse is currently driving the output HIGH.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pulseEndAt.After(c.now())
}

// ensureWatcherLocked starts the watcher goroutine unless it is already
// running, reporting whether it had to start one. Caller holds c.mu.
func (c *Controller) ensureWatcherLocked(ctx context.Context) bool {
	if c.watcherLive {
		return false
	}

	c.watcherLive = true

	go c.watch(ctx)

	return true
}

// watch polls in short slices until the deadline passes, then drives the
// output LOW and clears the pulse state.
func (c *Controller) watch(ctx context.Context) {
	for {
		c.mu.Lock()

		if c.closed {
			c.watcherLive = false
			c.mu.Unlock()

			return
		}

		remaining := c.pulseEndAt.Sub(c.now())
		if remaining <= 0 {
			if err := c.output.Set(false); err != nil {
				logger.ErrorKV(ctx, "Output release failed", "error", err)
			}

			c.pulseEndAt = time.Time{}
			c.watcherLive = false
			c.mu.Unlock()

			logger.Debug(ctx, "Pulse finished")

			return
		}

		c.mu.Unlock()

		if remaining > watcherSlice {
			remaining = watcherSlice
		}

		time.Sleep(remaining)
	}
}

// Cleanup forces the output LOW and stops the watcher. Called on
// shutdown; the controller accepts no further triggers afterwards.
func (c *Controller) Cleanup() {
	ctx := logger.WithName(context.Background(), "actuator")

	c.mu.Lock()
	c.closed = true
	c.pulseEndAt = time.Time{}

	if err := c.output.Set(false); err != nil {
		logger.ErrorKV(ctx, "Output release failed", "error", err)
	}

	c.mu.Unlock()

	if err := c.output.Close(); err != nil {
		logger.ErrorKV(ctx, "Output close failed", "error", err)
	}
}
