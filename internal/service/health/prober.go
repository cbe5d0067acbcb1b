package health

import (
	"context"
	"net"
	"time"

	"github.com/opas200/zonewatch/internal/config"
)

// Status is the outcome of a connectivity probe.
type Status int

const (
	// StatusUnknown means no probe has completed for the device yet.
	StatusUnknown Status = iota
	// StatusReachable means the device answered the last probe.
	StatusReachable
	// StatusUnreachable means the last probe failed.
	StatusUnreachable
)

// String returns the probe status label for logs.
func (s Status) String() string {
	switch s {
	case StatusReachable:
		return "reachable"
	case StatusUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Prober checks whether a device is worth restarting subscribers for.
type Prober interface {
	Probe(ctx context.Context, cam config.Camera) Status
}

// TCPProber probes by opening and closing one TCP connection to the
// device's HTTP port.
type TCPProber struct {
	// Timeout bounds each probe attempt.
	Timeout time.Duration
}

// Probe implements Prober.
func (p *TCPProber) Probe(ctx context.Context, cam config.Camera) Status {
	dialer := net.Dialer{Timeout: p.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", cam.Address())
	if err != nil {
		return StatusUnreachable
	}

	_ = conn.Close()

	return StatusReachable
}
