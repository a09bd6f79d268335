// Package dispatch drains the video and audio queues and fans each frame out
// to every attached client over a single ordered channel per client.
package dispatch

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/buchio/rpi-camera-streamer/domain"
	"github.com/buchio/rpi-camera-streamer/mux"
	"github.com/buchio/rpi-camera-streamer/protocol"
)

// Dispatcher owns sample-to-frame conversion and the fan-out decision. It is
// the only producer onto each connection's send queue; each connection's own
// transmit path is the only consumer.
type Dispatcher struct {
	video    *mux.Queue
	audio    *mux.Queue
	registry domain.Registry

	frames  atomic.Uint64
	dropped atomic.Uint64
}

func New(video, audio *mux.Queue, registry domain.Registry) *Dispatcher {
	return &Dispatcher{
		video:    video,
		audio:    audio,
		registry: registry,
	}
}

// Run dispatches until the context is cancelled. It sleeps on the queues'
// ready signals and drains both on each wake; samples go out in arrival
// order, not timestamp order — cross-kind alignment belongs to the client.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("dispatcher stopped")
			return ctx.Err()
		case <-d.video.Ready():
		case <-d.audio.Ready():
		}
		d.Cycle()
	}
}

// Cycle performs one dispatch pass: both queues are polled round-robin with
// no priority bias until empty, and every drained sample is framed once and
// fanned out.
func (d *Dispatcher) Cycle() {
	for {
		vs, vok := d.video.Pop()
		if vok {
			d.fanout(vs)
		}
		as, aok := d.audio.Pop()
		if aok {
			d.fanout(as)
		}
		if !vok && !aok {
			return
		}
	}
}

// fanout frames one sample and enqueues it onto every attached connection.
// An encode failure drops only this sample; a send failure closes only that
// connection. Neither ever halts the cycle.
func (d *Dispatcher) fanout(s domain.Sample) {
	frame, err := protocol.Encode(s)
	if err != nil {
		d.dropped.Add(1)
		slog.Warn("sample dropped", "kind", s.Kind.String(), "error", err)
		return
	}

	for _, conn := range d.registry.Snapshot() {
		if conn.State() != domain.Active {
			continue
		}
		if err := conn.Send(frame); err != nil {
			slog.Info("send failed, closing client", "clientId", conn.ID(), "error", err)
			d.registry.Detach(conn.ID())
			conn.Close()
		}
	}
	d.frames.Add(1)
}

// Stats reports frames dispatched and samples dropped at encode time.
func (d *Dispatcher) Stats() (frames, dropped uint64) {
	return d.frames.Load(), d.dropped.Load()
}
