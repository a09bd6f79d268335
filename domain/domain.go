package domain

import "errors"

// Kind identifies the media type of a captured sample.
type Kind int

const (
	Video Kind = iota
	Audio
)

func (k Kind) String() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	default:
		return "unknown"
	}
}

// Sample is one captured unit of media: JPEG bytes for Video, little-endian
// signed 16-bit PCM bytes for Audio. CapturedAt is wallclock seconds since the
// Unix epoch, read at the moment the bytes left the hardware, not when the
// sample was queued or dispatched. Payload is never empty; zero-length
// captures are rejected before a Sample exists.
type Sample struct {
	Kind       Kind
	CapturedAt float64
	Payload    []byte
}

// ConnState tracks a connection through its lifecycle. Closed is terminal.
type ConnState int32

const (
	Active ConnState = iota
	Closing
	Closed
)

// ErrUnavailable is returned by a Source when no sample was produced this
// cycle. The caller skips the cycle; it is not a failure.
var ErrUnavailable = errors.New("source: no sample available")

// Source produces raw capture payloads at its own cadence. Next blocks until
// the next payload is available, returns ErrUnavailable when the source
// produced nothing this cycle, and any other error when the source is
// permanently gone.
type Source interface {
	Next() ([]byte, error)
}

// Connection is one attached client delivery channel. Send enqueues a wire
// frame onto the connection's own send queue without blocking; it returns an
// error when the client is backlogged or the connection is no longer Active.
type Connection interface {
	ID() string
	Send(frame string) error
	Close() error
	State() ConnState
}

// Registry tracks attached connections. Snapshot must be safe to iterate
// while Attach and Detach run concurrently.
type Registry interface {
	Attach(conn Connection)
	Detach(id string)
	Snapshot() []Connection
	Stats() (clients int)
}
