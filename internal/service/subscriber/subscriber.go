package subscriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/icholy/digest"

	"github.com/opas200/zonewatch/internal/config"
	"github.com/opas200/zonewatch/internal/domain/telemetry"
	"github.com/opas200/zonewatch/internal/logger"
	"github.com/opas200/zonewatch/internal/metric"
	"github.com/opas200/zonewatch/internal/ratelimit"
)

// streamErrLogInterval rate-limits connection error log lines per feed.
const streamErrLogInterval = 60 * time.Second

// decodeErrLogInterval rate-limits malformed-frame log lines per feed.
const decodeErrLogInterval = 10 * time.Second

// readBufferSize is the chunk size for stream reads.
const readBufferSize = 4096

// restartWait bounds how long Restart waits for the old run loop to exit.
const restartWait = time.Second

// Subscriber maintains one persistent streaming connection for one device
// and one feed, reconnecting with exponential backoff.
type Subscriber struct {
	camera   config.Camera
	protocol Protocol
	sink     Sink
	cfg      config.EventConfig
	metrics  *metric.Metrics
	client   *http.Client

	// mu guards start/stop transitions.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	running atomic.Bool
	// lastRx is the liveness heartbeat in unix nanoseconds, updated on
	// every received chunk including keepalives and read timeouts.
	lastRx atomic.Int64
}

// New creates a subscriber for one (device, feed) pair.
// Readings are delivered to sink in receipt order from the run goroutine.
func New(
	cam config.Camera,
	protocol Protocol,
	cfg config.EventConfig,
	sink Sink,
	metrics *metric.Metrics,
) *Subscriber {
	transport := &digest.Transport{
		Username: cam.Username,
		Password: cam.Password,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: cfg.ConnectTimeout,
			}).DialContext,
			ResponseHeaderTimeout: cfg.ConnectTimeout,
		},
	}

	return &Subscriber{
		camera:   cam,
		protocol: protocol,
		sink:     sink,
		cfg:      cfg,
		metrics:  metrics,
		client:   &http.Client{Transport: transport},
	}
}

// Device returns the camera key this subscriber serves.
func (s *Subscriber) Device() string { return s.camera.Key }

// Feed returns the feed name this subscriber serves.
func (s *Subscriber) Feed() string { return s.protocol.Feed() }

// IsRunning reports whether the run loop is alive.
func (s *Subscriber) IsRunning() bool { return s.running.Load() }

// LastReceivedAt returns the liveness heartbeat: the time of the last
// received chunk (or read timeout, which also proves the link is alive).
func (s *Subscriber) LastReceivedAt() time.Time {
	return time.Unix(0, s.lastRx.Load())
}

// Start launches the run loop. Idempotent: a running subscriber is left
// alone. The provided context bounds the whole subscription lifetime.
func (s *Subscriber) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.touch()
	s.running.Store(true)

	go s.run(runCtx, s.done)
}

// Stop cancels the run loop. Cancellation force-closes the underlying
// connection, so a blocked read unblocks promptly; Stop itself returns
// immediately.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the run loop has exited or the timeout elapses,
// reporting whether it exited.
func (s *Subscriber) Wait(timeout time.Duration) bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return true
	}

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Restart stops the run loop, waits briefly for it to exit, and starts a
// fresh one. Used by the health monitor.
func (s *Subscriber) Restart(ctx context.Context) {
	s.Stop()
	s.Wait(restartWait)
	s.Start(ctx)
}

// touch records a liveness heartbeat.
func (s *Subscriber) touch() {
	s.lastRx.Store(time.Now().UnixNano())
}

// run is the reconnect loop: connect, stream, back off, repeat until the
// context is cancelled.
func (s *Subscriber) run(ctx context.Context, done chan struct{}) {
	defer func() {
		s.running.Store(false)
		close(done)
	}()

	ctx = logger.WithName(ctx, "subscriber")
	url := s.protocol.URL(s.camera)
	bo := newBackoff(s.cfg.BackoffMin, s.cfg.BackoffMax)

	logger.DebugKV(ctx, "Stream URL resolved", "device", s.camera.Key, "feed", s.Feed(), "url", url)

	for ctx.Err() == nil {
		if s.stream(ctx, url, bo) {
			// Read timeout: the device is idle but the link is fine,
			// reconnect without burning a backoff slot.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.Next()):
		}
	}
}

// stream opens one connection and consumes it until an error, EOF, read
// timeout or cancellation. It returns true when the caller should
// reconnect immediately (read-timeout path) and false when the backoff
// delay applies.
func (s *Subscriber) stream(ctx context.Context, url string, bo *backoff) bool {
	// Every log line for this connection carries the session id, so
	// interleaved reconnect attempts stay distinguishable.
	session := uuid.NewString()[:8]
	ctx = logger.WithKV(ctx, "session", session)

	s.metrics.Reconnects.WithLabelValues(s.camera.Key, s.Feed()).Inc()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		s.logStreamErr(ctx, fmt.Errorf("build request: %w", err))

		return false
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			s.logStreamErr(ctx, err)
		}

		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logStreamErr(ctx, fmt.Errorf("http status %d", resp.StatusCode))

		return false
	}

	logger.DebugKV(ctx, "Stream connected", "device", s.camera.Key, "feed", s.Feed())

	return s.consume(ctx, resp.Body, bo)
}

// consume reads the response body until it ends. The watchdog closes the
// body when no read completes within the read timeout; that path is not a
// failure, it proves the link is alive while the device has nothing to say.
func (s *Subscriber) consume(ctx context.Context, body io.ReadCloser, bo *backoff) bool {
	decoder := s.protocol.NewDecoder(s.camera.Key, s.decodeErrReporter(ctx))

	var timedOut atomic.Bool

	watchdog := time.AfterFunc(s.cfg.ReadTimeout, func() {
		timedOut.Store(true)
		body.Close()
	})
	defer watchdog.Stop()

	buf := make([]byte, readBufferSize)
	first := true

	for {
		watchdog.Reset(s.cfg.ReadTimeout)

		n, err := body.Read(buf)
		if n > 0 || err == nil {
			s.touch()
		}

		if n > 0 {
			if first {
				// HTTP 200 plus one accepted read counts as a
				// successful connection.
				bo.Reset()

				first = false
			}

			for _, r := range decoder.Decode(buf[:n], time.Now()) {
				s.metrics.ReadingsReceived.WithLabelValues(s.camera.Key, readingKind(r)).Inc()
				s.sink(r)
			}
		}

		if err == nil {
			continue
		}

		switch {
		case ctx.Err() != nil:
			// Explicit stop; the outer loop exits quietly.
			return false
		case timedOut.Load():
			s.touch()

			return true
		case errors.Is(err, io.EOF):
			s.logStreamErr(ctx, errors.New("stream ended"))

			return false
		default:
			s.logStreamErr(ctx, err)

			return false
		}
	}
}

// readingKind labels a reading for metrics.
func readingKind(r telemetry.Reading) string {
	switch r.(type) {
	case telemetry.CountSnapshot:
		return "count"
	case telemetry.AlarmEdge:
		return "alarm"
	default:
		return "unknown"
	}
}

// logStreamErr logs a connection-level failure with per-feed rate limiting.
func (s *Subscriber) logStreamErr(ctx context.Context, err error) {
	key := fmt.Sprintf("stream_err_%s_%s", s.camera.Key, s.Feed())
	if allowed, suppressed := ratelimit.ShouldLog(key, streamErrLogInterval); allowed {
		logger.WarnKV(ctx, "Stream failed",
			"device", s.camera.Key, "feed", s.Feed(), "error", err, "suppressed", suppressed)
	}
}

// decodeErrReporter returns the rate-limited reporter handed to decoders.
func (s *Subscriber) decodeErrReporter(ctx context.Context) DecodeErrorFunc {
	key := fmt.Sprintf("decode_err_%s_%s", s.camera.Key, s.Feed())

	return func(detail string) {
		s.metrics.DecodeErrors.WithLabelValues(s.camera.Key, s.Feed()).Inc()

		if allowed, suppressed := ratelimit.ShouldLog(key, decodeErrLogInterval); allowed {
			logger.WarnKV(ctx, "Frame dropped",
				"device", s.camera.Key, "feed", s.Feed(), "detail", detail, "suppressed", suppressed)
		}
	}
}
