package subscriber

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opas200/zonewatch/internal/config"
	"github.com/opas200/zonewatch/internal/domain/telemetry"
)

// noReport fails the test if a decoder reports an error.
func noReport(t *testing.T) DecodeErrorFunc {
	t.Helper()

	return func(detail string) {
		t.Fatalf("unexpected decode error: %s", detail)
	}
}

// collectReport captures reported decode errors.
func collectReport(dst *[]string) DecodeErrorFunc {
	return func(detail string) {
		*dst = append(*dst, detail)
	}
}

// TestCountDecoderTwoLineGrammar verifies that an AreaID line followed by a Total line yields one snapshot.
func TestCountDecoderTwoLineGrammar(t *testing.T) {
	t.Parallel()

	d := CountProtocol{}.NewDecoder("cam1", noReport(t))
	at := time.Now()

	readings := d.Decode([]byte("summary.AreaID=2\nsummary.InsideSubtotal.Total=8\n"), at)
	require.Len(t, readings, 1)

	snap, ok := readings[0].(telemetry.CountSnapshot)
	require.True(t, ok)
	require.Equal(t, "cam1", snap.Device)
	require.Equal(t, 2, snap.Zone)
	require.Equal(t, 8, snap.Count)
	require.Equal(t, at, snap.At)
}

// TestCountDecoderSpansChunks verifies that lines split across reads still decode.
func TestCountDecoderSpansChunks(t *testing.T) {
	t.Parallel()

	d := CountProtocol{}.NewDecoder("cam1", noReport(t))
	at := time.Now()

	require.Empty(t, d.Decode([]byte("summary.Area"), at))
	require.Empty(t, d.Decode([]byte("ID=3\nsummary.InsideSubtotal.Tot"), at))

	readings := d.Decode([]byte("al=5\n"), at)
	require.Len(t, readings, 1)
	require.Equal(t, 3, readings[0].(telemetry.CountSnapshot).Zone)
}

// TestCountDecoderContextReuse verifies one AreaID context serves consecutive Total lines.
func TestCountDecoderContextReuse(t *testing.T) {
	t.Parallel()

	d := CountProtocol{}.NewDecoder("cam1", noReport(t))
	at := time.Now()

	readings := d.Decode([]byte("summary.AreaID=1\nsummary.InsideSubtotal.Total=4\nsummary.InsideSubtotal.Total=6\n"), at)
	require.Len(t, readings, 2)
	require.Equal(t, 4, readings[0].(telemetry.CountSnapshot).Count)
	require.Equal(t, 6, readings[1].(telemetry.CountSnapshot).Count)
}

// TestCountDecoderIgnoresOtherLines verifies that lines outside the grammar are skipped.
func TestCountDecoderIgnoresOtherLines(t *testing.T) {
	t.Parallel()

	d := CountProtocol{}.NewDecoder("cam1", noReport(t))
	at := time.Now()

	// A Total line with no AreaID context is ignored, as is other chatter.
	readings := d.Decode([]byte("summary.InsideSubtotal.Total=7\nheartbeat\n\n"), at)
	require.Empty(t, readings)
}

// TestCountDecoderMalformedNumbers verifies malformed fields are reported and skipped.
func TestCountDecoderMalformedNumbers(t *testing.T) {
	t.Parallel()

	var reports []string

	d := CountProtocol{}.NewDecoder("cam1", collectReport(&reports))
	at := time.Now()

	// Bad AreaID drops the context, so the following Total is also ignored.
	readings := d.Decode([]byte("summary.AreaID=abc\nsummary.InsideSubtotal.Total=5\n"), at)
	require.Empty(t, readings)
	require.Len(t, reports, 1)

	// Bad count is skipped without killing the stream.
	readings = d.Decode([]byte("summary.AreaID=1\nsummary.InsideSubtotal.Total=x\nsummary.InsideSubtotal.Total=9\n"), at)
	require.Len(t, readings, 1)
	require.Equal(t, 9, readings[0].(telemetry.CountSnapshot).Count)
	require.Len(t, reports, 2)
}

// TestCountProtocolURL verifies URL construction from camera settings.
func TestCountProtocolURL(t *testing.T) {
	t.Parallel()

	cam := config.Camera{Key: "camera1", IP: "192.168.1.10", HTTPPort: 8080, Channel: 2}

	require.Equal(t,
		"http://192.168.1.10:8080/cgi-bin/videoStatServer.cgi?action=attach&channel=2&heartbeat=1",
		CountProtocol{}.URL(cam))
}
