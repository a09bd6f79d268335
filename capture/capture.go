// Package capture runs one pump per media source: it pulls raw payloads from
// the source at the source's own cadence, stamps the capture time, and hands
// samples to the multiplexing queue.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/buchio/rpi-camera-streamer/domain"
	"github.com/buchio/rpi-camera-streamer/mux"
)

// now is swapped in tests.
var now = func() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Tag wraps raw capture bytes into a sample stamped with the current
// wallclock time. The timestamp must reflect when the bytes became
// available, never when they are later queued or dispatched, so Tag is
// called immediately after the source read returns. Zero-length captures
// never become samples.
func Tag(kind domain.Kind, payload []byte) (domain.Sample, bool) {
	if len(payload) == 0 {
		return domain.Sample{}, false
	}
	return domain.Sample{
		Kind:       kind,
		CapturedAt: now(),
		Payload:    payload,
	}, true
}

// Pump drains a source into a queue until the context is cancelled or the
// source fails permanently. An ErrUnavailable cycle is skipped silently; any
// other source error is fatal and surfaced to the caller, which owns
// process-level reporting. Pump never retries a dead source.
func Pump(ctx context.Context, kind domain.Kind, src domain.Source, q *mux.Queue) error {
	log := slog.With("kind", kind.String())
	log.Info("capture started")

	for {
		if err := ctx.Err(); err != nil {
			log.Info("capture stopped")
			return err
		}

		payload, err := src.Next()
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrUnavailable):
			continue
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			log.Info("capture stopped")
			return err
		default:
			if ctx.Err() != nil {
				log.Info("capture stopped")
				return ctx.Err()
			}
			log.Error("capture failed", "error", err)
			return fmt.Errorf("%s capture: %w", kind, err)
		}

		s, ok := Tag(kind, payload)
		if !ok {
			log.Debug("empty capture dropped")
			continue
		}
		q.Push(s)
	}
}
