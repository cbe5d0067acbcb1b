package subscriber

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opas200/zonewatch/internal/config"
	"github.com/opas200/zonewatch/internal/domain/telemetry"
)

// Wire prefixes of the two count-feed lines that carry data. Everything
// else in the stream is ignored.
const (
	areaIDPrefix = "summary.AreaID="
	totalPrefix  = "summary.InsideSubtotal.Total="
)

// CountProtocol subscribes to the device's occupancy statistics stream.
type CountProtocol struct{}

// Feed implements Protocol.
func (CountProtocol) Feed() string { return FeedPeople }

// URL implements Protocol.
func (CountProtocol) URL(cam config.Camera) string {
	return fmt.Sprintf(
		"http://%s/cgi-bin/videoStatServer.cgi?action=attach&channel=%d&heartbeat=1",
		cam.Address(), cam.Channel,
	)
}

// NewDecoder implements Protocol.
func (CountProtocol) NewDecoder(device string, report DecodeErrorFunc) Decoder {
	return &countDecoder{device: device, report: report}
}

// countDecoder parses the key=value line stream. An AreaID line establishes
// the zone context; the next Total line for that context yields one
// CountSnapshot. Lines outside this two-line grammar are ignored.
type countDecoder struct {
	device string
	report DecodeErrorFunc

	// buf holds an incomplete trailing line between chunks.
	buf []byte
	// zone is the current AreaID context, nil until one is seen.
	zone *int
}

// Decode implements Decoder.
func (d *countDecoder) Decode(chunk []byte, at time.Time) []telemetry.Reading {
	d.buf = append(d.buf, chunk...)

	var readings []telemetry.Reading

	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}

		line := strings.TrimSpace(string(d.buf[:idx]))
		d.buf = d.buf[idx+1:]

		if line == "" {
			continue
		}

		if r := d.decodeLine(line, at); r != nil {
			readings = append(readings, r)
		}
	}

	return readings
}

// decodeLine handles one complete line, returning a reading when the
// two-line grammar completes.
func (d *countDecoder) decodeLine(line string, at time.Time) telemetry.Reading {
	switch {
	case strings.HasPrefix(line, areaIDPrefix):
		zone, err := strconv.Atoi(strings.TrimSpace(line[len(areaIDPrefix):]))
		if err != nil {
			d.zone = nil
			d.report(fmt.Sprintf("area id parse error in %q", truncate(line, 40)))

			return nil
		}

		d.zone = &zone

	case strings.HasPrefix(line, totalPrefix) && d.zone != nil:
		count, err := strconv.Atoi(strings.TrimSpace(line[len(totalPrefix):]))
		if err != nil {
			d.report(fmt.Sprintf("count parse error in %q", truncate(line, 40)))

			return nil
		}

		return telemetry.CountSnapshot{
			Device: d.device,
			Zone:   *d.zone,
			Count:  count,
			At:     at,
		}
	}

	return nil
}

// truncate shortens a line for error reporting.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n]
}
