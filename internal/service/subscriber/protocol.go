package subscriber

import (
	"time"

	"github.com/opas200/zonewatch/internal/config"
	"github.com/opas200/zonewatch/internal/domain/telemetry"
)

// Feed names used in logs, metrics and health reporting.
const (
	// FeedPeople is the periodic occupancy count stream.
	FeedPeople = "people"
	// FeedStay is the dwell-alarm event stream.
	FeedStay = "stay"
)

// Sink receives decoded readings in receipt order.
type Sink func(telemetry.Reading)

// DecodeErrorFunc reports a dropped malformed frame fragment.
// Implementations are expected to rate-limit their logging.
type DecodeErrorFunc func(detail string)

// Decoder turns raw stream chunks into readings. Decoders are stateful
// (partial lines, multipart buffers) and live for one connection.
type Decoder interface {
	// Decode consumes one chunk and returns any completed readings.
	// Malformed fragments are reported and skipped, never fatal.
	Decode(chunk []byte, at time.Time) []telemetry.Reading
}

// Protocol is the strategy that distinguishes the two feed variants.
// The shared Subscriber state machine handles everything else.
type Protocol interface {
	// Feed returns the feed name (FeedPeople or FeedStay).
	Feed() string
	// URL builds the streaming request URL for a device.
	URL(cam config.Camera) string
	// NewDecoder creates a fresh decoder for one connection.
	NewDecoder(device string, report DecodeErrorFunc) Decoder
}
