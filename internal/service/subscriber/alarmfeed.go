package subscriber

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/opas200/zonewatch/internal/config"
	"github.com/opas200/zonewatch/internal/domain/telemetry"
)

// alarmBoundary delimits parts in the event stream. The device always uses
// this fixed token regardless of the Content-Type header.
var alarmBoundary = []byte("--myboundary")

// stayCode is the event code the alarm feed subscribes to and filters on.
const stayCode = "Code=StayDetection"

var (
	// actionPattern extracts the transition direction from a part.
	actionPattern = regexp.MustCompile(`action=(Start|Stop)`)
	// dataPattern extracts the JSON body from a part; (?s) lets it span lines.
	dataPattern = regexp.MustCompile(`(?s)data=(\{.*?\})`)
)

// AlarmProtocol subscribes to the device's dwell-alarm event stream.
type AlarmProtocol struct{}

// Feed implements Protocol.
func (AlarmProtocol) Feed() string { return FeedStay }

// URL implements Protocol.
func (AlarmProtocol) URL(cam config.Camera) string {
	return fmt.Sprintf(
		"http://%s/cgi-bin/eventManager.cgi?action=attach&codes=[StayDetection]",
		cam.Address(),
	)
}

// NewDecoder implements Protocol.
func (AlarmProtocol) NewDecoder(device string, report DecodeErrorFunc) Decoder {
	return &alarmDecoder{device: device, report: report}
}

// alarmDecoder scans the multipart stream for boundary-delimited parts and
// turns matching stay events into AlarmEdge readings. Parts missing either
// the action token or the zone identifier are silently dropped.
type alarmDecoder struct {
	device string
	report DecodeErrorFunc

	// buf accumulates bytes until a boundary completes a part.
	buf []byte
}

// alarmPayload is the JSON body carried by stay-event parts.
type alarmPayload struct {
	AreaID *int `json:"AreaID"`
}

// Decode implements Decoder.
func (d *alarmDecoder) Decode(chunk []byte, at time.Time) []telemetry.Reading {
	d.buf = append(d.buf, chunk...)

	var readings []telemetry.Reading

	for {
		idx := bytes.Index(d.buf, alarmBoundary)
		if idx < 0 {
			break
		}

		part := d.buf[:idx]
		d.buf = d.buf[idx+len(alarmBoundary):]

		if r := d.decodePart(part, at); r != nil {
			readings = append(readings, r)
		}
	}

	return readings
}

// decodePart extracts one AlarmEdge from a completed part, or nil.
func (d *alarmDecoder) decodePart(part []byte, at time.Time) telemetry.Reading {
	if !bytes.Contains(part, []byte(stayCode)) {
		return nil
	}

	action := actionPattern.FindSubmatch(part)
	data := dataPattern.FindSubmatch(part)

	if action == nil || data == nil {
		return nil
	}

	var payload alarmPayload
	if err := json.Unmarshal(data[1], &payload); err != nil {
		d.report(fmt.Sprintf("stay event parse error: %v", err))

		return nil
	}

	if payload.AreaID == nil {
		return nil
	}

	return telemetry.AlarmEdge{
		Device: d.device,
		Zone:   *payload.AreaID,
		Action: telemetry.AlarmAction(action[1]),
		At:     at,
	}
}
