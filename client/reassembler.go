// Package client implements the receiving peer's side of the wire protocol:
// decode each text frame, bucket it by kind, and drive presentation from the
// embedded capture timestamp. The server does not interleave kinds by
// timestamp, so alignment happens here.
package client

import (
	"log/slog"

	"github.com/buchio/rpi-camera-streamer/domain"
	"github.com/buchio/rpi-camera-streamer/mux"
	"github.com/buchio/rpi-camera-streamer/protocol"
)

// DefaultAudioLag is how far behind the newest audio timestamp a chunk may
// arrive before it is considered stale and dropped instead of played.
const DefaultAudioLag = 2.0

// Reassembler decodes frames and routes them for presentation. Video frames
// older than the one currently displayed are discarded; audio chunks staler
// than the lag window are dropped. Timestamps are informational: an
// out-of-order frame is handled, never an error.
type Reassembler struct {
	display func(jpeg []byte)

	audio    *mux.Queue
	audioLag float64

	videoAt float64
	audioAt float64
}

// New creates a reassembler delivering video frames to display and buffering
// audio for playback. audioBuffer sizes the playback buffer in chunks.
func New(display func(jpeg []byte), audioBuffer int) *Reassembler {
	return &Reassembler{
		display:  display,
		audio:    mux.New(audioBuffer),
		audioLag: DefaultAudioLag,
	}
}

// HandleFrame consumes one wire frame. Garbage frames are logged and
// skipped; the reassembler never fails on bad input.
func (r *Reassembler) HandleFrame(frame string) {
	s, err := protocol.Decode(frame)
	if err != nil {
		slog.Warn("bad frame skipped", "error", err)
		return
	}

	switch s.Kind {
	case domain.Video:
		if s.CapturedAt < r.videoAt {
			slog.Debug("stale video frame discarded",
				"capturedAt", s.CapturedAt, "displayed", r.videoAt)
			return
		}
		r.videoAt = s.CapturedAt
		if r.display != nil {
			r.display(s.Payload)
		}
	case domain.Audio:
		if s.CapturedAt > r.audioAt {
			r.audioAt = s.CapturedAt
		} else if r.audioAt-s.CapturedAt > r.audioLag {
			slog.Debug("stale audio chunk dropped",
				"capturedAt", s.CapturedAt, "newest", r.audioAt)
			return
		}
		r.audio.Push(s)
	}
}

// NextAudio returns the oldest buffered audio chunk for playback, or
// ok=false when the buffer is empty.
func (r *Reassembler) NextAudio() (domain.Sample, bool) {
	return r.audio.Pop()
}

// VideoAt reports the capture timestamp of the currently displayed frame.
func (r *Reassembler) VideoAt() float64 { return r.videoAt }
