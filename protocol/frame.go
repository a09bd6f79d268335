// Package protocol implements the text wire format carried over each
// client connection:
//
//	<type>:<timestamp>:<data>
//
// type is "video" or "audio", timestamp is the capture time in decimal UNIX
// seconds, and data is the base64-encoded payload. The base64 alphabet never
// contains ':', so splitting on the first two colons is unambiguous.
package protocol

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/buchio/rpi-camera-streamer/domain"
)

// Encode serializes a sample into its wire frame. A sample with an empty
// payload cannot be framed; the caller drops it and moves on.
func Encode(s domain.Sample) (string, error) {
	if len(s.Payload) == 0 {
		return "", fmt.Errorf("encode %s frame: empty payload", s.Kind)
	}
	tag := s.Kind.String()
	if s.Kind != domain.Video && s.Kind != domain.Audio {
		return "", fmt.Errorf("encode frame: unknown kind %d", s.Kind)
	}
	return tag + ":" + FormatTimestamp(s.CapturedAt) + ":" +
		base64.StdEncoding.EncodeToString(s.Payload), nil
}

// Decode parses a wire frame back into a sample, splitting on the first two
// colons only. The remainder after the second colon is the base64 data.
func Decode(frame string) (domain.Sample, error) {
	var s domain.Sample

	tag, rest, ok := strings.Cut(frame, ":")
	if !ok {
		return s, fmt.Errorf("decode frame: missing type delimiter")
	}
	ts, data, ok := strings.Cut(rest, ":")
	if !ok {
		return s, fmt.Errorf("decode frame: missing timestamp delimiter")
	}

	switch tag {
	case "video":
		s.Kind = domain.Video
	case "audio":
		s.Kind = domain.Audio
	default:
		return s, fmt.Errorf("decode frame: unknown type %q", tag)
	}

	capturedAt, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return s, fmt.Errorf("decode frame: bad timestamp %q: %w", ts, err)
	}
	s.CapturedAt = capturedAt

	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return s, fmt.Errorf("decode frame: bad payload: %w", err)
	}
	if len(payload) == 0 {
		return s, fmt.Errorf("decode frame: empty payload")
	}
	s.Payload = payload
	return s, nil
}

// FormatTimestamp renders capture time as the shortest decimal that
// round-trips, always with a fractional point (1000 becomes "1000.0") so
// clients parsing the field as a float see a consistent shape.
func FormatTimestamp(ts float64) string {
	text := strconv.FormatFloat(ts, 'f', -1, 64)
	if !strings.Contains(text, ".") {
		text += ".0"
	}
	return text
}
