package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/opas200/zonewatch/internal/config"
	"github.com/opas200/zonewatch/internal/domain/telemetry"
	"github.com/opas200/zonewatch/internal/logger"
	"github.com/opas200/zonewatch/internal/metric"
	"github.com/opas200/zonewatch/internal/ratelimit"
	"github.com/opas200/zonewatch/internal/repository/events"
)

// inboundCapacity bounds the reading queue between subscribers and the
// engine loop. Event rates are low, so this is generous headroom.
const inboundCapacity = 256

// dropLogInterval rate-limits the overflow warning.
const dropLogInterval = 60 * time.Second

// Cooldown and debounce channel names within one zone's state.
const (
	channelPeople = "people"
	channelStay   = "stay"
)

// Recorder accepts records for durable storage.
type Recorder interface {
	Enqueue(ctx context.Context, rec events.Record)
}

// Pulser fires the shared actuation output.
type Pulser interface {
	TriggerPulse(zone int)
}

// Options wires the engine to its collaborators.
type Options struct {
	// Cameras supplies per-zone trigger policies, keyed by camera key.
	Cameras []config.Camera
	// Events supplies cooldown, hold and debounce durations.
	Events config.EventConfig
	// Recorder receives delta and log records.
	Recorder Recorder
	// Pulser receives actuation triggers. May be nil when actuation is
	// disabled.
	Pulser Pulser
	// Metrics receives occupancy gauges and event counters.
	Metrics *metric.Metrics
}

// zoneKey addresses one detection region on one device.
type zoneKey struct {
	device string
	zone   int
}

// zoneState tracks what the engine remembers about one zone. Created
// lazily on the first reading, never discarded.
type zoneState struct {
	// baseline is the last observed count, nil until the first snapshot.
	baseline *int
	// lastEmit tracks logging cooldowns per channel.
	lastEmit map[string]time.Time
	// lastActuate tracks actuation debounce per channel.
	lastActuate map[string]time.Time
	// alarmActive is the dwell-alarm latch, cleared by clearTimer.
	alarmActive bool
	clearTimer  *time.Timer
}

// Engine consumes readings from all subscribers through one inbound
// channel and applies the delta and alarm rules.
type Engine struct {
	cameras  map[string]config.Camera
	cfg      config.EventConfig
	recorder Recorder
	pulser   Pulser
	metrics  *metric.Metrics

	in chan telemetry.Reading

	// mu guards zones. The run loop is the main writer; auto-clear
	// timers also flip alarmActive from their own goroutines.
	mu    sync.Mutex
	zones map[zoneKey]*zoneState

	now func() time.Time
}

// New creates an engine. Call Run to start consuming.
func New(opts *Options) *Engine {
	cameras := make(map[string]config.Camera, len(opts.Cameras))
	for _, cam := range opts.Cameras {
		cameras[cam.Key] = cam
	}

	return &Engine{
		cameras:  cameras,
		cfg:      opts.Events,
		recorder: opts.Recorder,
		pulser:   opts.Pulser,
		metrics:  opts.Metrics,
		in:       make(chan telemetry.Reading, inboundCapacity),
		zones:    make(map[zoneKey]*zoneState),
		now:      time.Now,
	}
}

// Submit hands a reading to the engine. It never blocks the subscriber:
// if the inbound queue is somehow full, the reading is dropped with a
// rate-limited warning.
func (e *Engine) Submit(r telemetry.Reading) {
	select {
	case e.in <- r:
	default:
		if allowed, suppressed := ratelimit.ShouldLog("engine_queue_full", dropLogInterval); allowed {
			logger.WarnKV(context.Background(), "Reading dropped, engine queue full",
				"reading", fmt.Sprintf("%v", r), "suppressed", suppressed)
		}
	}
}

// AlarmActive reports the dwell-alarm latch for a zone.
func (e *Engine) AlarmActive(device string, zone int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.zones[zoneKey{device: device, zone: zone}]

	return ok && st.alarmActive
}

// Run drains the inbound channel until the context is cancelled.
// Readings for one zone are processed strictly in order.
func (e *Engine) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "engine")

	logger.InfoKV(ctx, "Rule engine started", "cameras", len(e.cameras))

	for {
		select {
		case <-ctx.Done():
			e.stopTimers()
			logger.Info(ctx, "Rule engine stopped")

			return nil
		case r := <-e.in:
			e.handle(ctx, r)
		}
	}
}

// handle dispatches one reading to the matching rule set.
func (e *Engine) handle(ctx context.Context, r telemetry.Reading) {
	switch v := r.(type) {
	case telemetry.CountSnapshot:
		e.handleSnapshot(ctx, v)
	case telemetry.AlarmEdge:
		e.handleEdge(ctx, v)
	}
}

// handleSnapshot applies the occupancy delta rules. The first snapshot
// for a zone only establishes the baseline. Every later snapshot computes
// the delta and unconditionally moves the baseline to the new count.
func (e *Engine) handleSnapshot(ctx context.Context, snap telemetry.CountSnapshot) {
	if snap.Count < 0 {
		// Device glitch; discard before it can move the baseline.
		logger.DebugKV(ctx, "Negative count discarded",
			"device", snap.Device, "zone", snap.Zone, "count", snap.Count)

		return
	}

	cam := e.cameras[snap.Device]
	key := zoneKey{device: snap.Device, zone: snap.Zone}

	e.metrics.ZoneOccupancy.
		WithLabelValues(snap.Device, strconv.Itoa(snap.Zone)).
		Set(float64(snap.Count))

	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state(key)

	if st.baseline == nil {
		count := snap.Count
		st.baseline = &count

		logger.DebugKV(ctx, "Baseline established",
			"device", snap.Device, "zone", snap.Zone, "count", snap.Count)

		return
	}

	delta := snap.Count - *st.baseline
	count := snap.Count
	st.baseline = &count

	if delta == 0 {
		return
	}

	msg := fmt.Sprintf("[%s] Area %d People %+d (%d)", e.deviceName(snap.Device), snap.Zone, delta, snap.Count)
	zone := snap.Zone

	e.recorder.Enqueue(ctx, events.LogRecord{
		Device:    snap.Device,
		EventType: events.EventTypePeopleCount,
		Zone:      &zone,
		Message:   msg,
		Payload:   map[string]any{"count": snap.Count, "delta": delta},
		At:        snap.At,
	})

	if delta < 0 {
		// Decreases are logged but never aggregated or actuated.
		return
	}

	e.recorder.Enqueue(ctx, events.DeltaRecord{
		Device: snap.Device,
		Zone:   snap.Zone,
		Delta:  delta,
		Count:  snap.Count,
		At:     snap.At,
	})

	if e.cooldownOK(st, channelPeople, e.cfg.Cooldown) {
		logger.InfoKV(ctx, msg, "device", snap.Device, "zone", snap.Zone, "delta", delta, "count", snap.Count)
		e.metrics.EventsEmitted.WithLabelValues(snap.Device, events.EventTypePeopleCount).Inc()
	}

	// People-driven actuation is the fallback mode: zones with the
	// people_trigger routing flag set keep their increases off the output.
	if cam.Zone(snap.Zone).PeopleTrigger {
		return
	}

	if e.pulser != nil && e.debounceOK(st, channelPeople, e.cfg.Debounce) {
		e.pulser.TriggerPulse(snap.Zone)
	}
}

// handleEdge applies the dwell-alarm rules. Only Start edges matter:
// they refresh the alarm latch and may persist, log and actuate. Stop
// edges are accepted and discarded, the latch clears on its own timer.
func (e *Engine) handleEdge(ctx context.Context, edge telemetry.AlarmEdge) {
	if edge.Action != telemetry.ActionStart {
		return
	}

	cam := e.cameras[edge.Device]
	key := zoneKey{device: edge.Device, zone: edge.Zone}

	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state(key)

	if e.cooldownOK(st, channelStay, e.cfg.StayCooldown) {
		msg := fmt.Sprintf("[%s] Area %d Stay alarm", e.deviceName(edge.Device), edge.Zone)
		zone := edge.Zone

		e.recorder.Enqueue(ctx, events.LogRecord{
			Device:    edge.Device,
			EventType: events.EventTypeStayAlarm,
			Zone:      &zone,
			Message:   msg,
			Payload:   map[string]any{"action": string(edge.Action)},
			At:        edge.At,
		})

		logger.InfoKV(ctx, msg, "device", edge.Device, "zone", edge.Zone)
		e.metrics.EventsEmitted.WithLabelValues(edge.Device, events.EventTypeStayAlarm).Inc()
	}

	e.armClear(key, st)

	if !cam.Zone(edge.Zone).StayTrigger {
		return
	}

	if e.pulser != nil && e.debounceOK(st, channelStay, e.cfg.Debounce) {
		e.pulser.TriggerPulse(edge.Zone)
	}
}

// armClear latches the alarm and (re)arms the auto-clear timer. A pending
// clear for the same zone is cancelled and replaced; the clear itself
// persists nothing.
func (e *Engine) armClear(key zoneKey, st *zoneState) {
	st.alarmActive = true

	if st.clearTimer != nil {
		st.clearTimer.Stop()
	}

	st.clearTimer = time.AfterFunc(e.cfg.StayHold, func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		if cur, ok := e.zones[key]; ok {
			cur.alarmActive = false
		}
	})
}

// state returns the zone's state, creating it on first use.
// Caller holds e.mu.
func (e *Engine) state(key zoneKey) *zoneState {
	st, ok := e.zones[key]
	if !ok {
		st = &zoneState{
			lastEmit:    make(map[string]time.Time),
			lastActuate: make(map[string]time.Time),
		}
		e.zones[key] = st
	}

	return st
}

// cooldownOK reports whether the logging cooldown for a channel has
// elapsed, and marks the channel used when it has. Caller holds e.mu.
func (e *Engine) cooldownOK(st *zoneState, channel string, cooldown time.Duration) bool {
	now := e.now()
	if last, ok := st.lastEmit[channel]; ok && now.Sub(last) < cooldown {
		return false
	}

	st.lastEmit[channel] = now

	return true
}

// debounceOK is cooldownOK for the shorter actuation window.
// Caller holds e.mu.
func (e *Engine) debounceOK(st *zoneState, channel string, debounce time.Duration) bool {
	now := e.now()
	if last, ok := st.lastActuate[channel]; ok && now.Sub(last) < debounce {
		return false
	}

	st.lastActuate[channel] = now

	return true
}

// deviceName resolves a camera key to its display name for messages.
func (e *Engine) deviceName(device string) string {
	if cam, ok := e.cameras[device]; ok && cam.Name != "" {
		return cam.Name
	}

	return device
}

// stopTimers cancels pending auto-clear timers on shutdown.
func (e *Engine) stopTimers() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, st := range e.zones {
		if st.clearTimer != nil {
			st.clearTimer.Stop()
		}
	}
}
