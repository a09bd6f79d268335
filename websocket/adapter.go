// Package websocket adapts a gorilla websocket connection to the delivery
// channel the dispatcher writes to. Each connection owns a bounded send
// queue drained by its own write pump, so one slow client never stalls
// delivery to the others.
package websocket

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/buchio/rpi-camera-streamer/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendQueueSize  = 256
)

// ErrBacklogged is returned by Send when the client cannot keep up and its
// send queue is full.
var ErrBacklogged = errors.New("websocket: client send queue full")

// errClosing is returned by Send once the connection left the Active state.
var errClosing = errors.New("websocket: connection closing")

type Conn struct {
	id       string
	ws       *websocket.Conn
	send     chan string
	done     chan struct{}
	once     sync.Once
	state    atomic.Int32
	registry domain.Registry
}

func NewConn(id string, ws *websocket.Conn, registry domain.Registry) *Conn {
	return &Conn{
		id:       id,
		ws:       ws,
		send:     make(chan string, sendQueueSize),
		done:     make(chan struct{}),
		registry: registry,
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) State() domain.ConnState {
	return domain.ConnState(c.state.Load())
}

// Send enqueues a frame onto this connection's send queue without blocking.
// Frames are transmitted in enqueue order by the write pump.
func (c *Conn) Send(frame string) error {
	if c.State() != domain.Active {
		return errClosing
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBacklogged
	}
}

// Close moves the connection toward Closed. Any in-flight write fails fast
// against the closed socket; both pumps then exit.
func (c *Conn) Close() error {
	c.state.CompareAndSwap(int32(domain.Active), int32(domain.Closing))
	return c.ws.Close()
}

// Start attaches the connection to the registry and launches its pumps.
func (c *Conn) Start() {
	c.registry.Attach(c)
	go c.writePump()
	go c.readPump()
}

// teardown is the single exit path for both pumps: Closing, detach, close
// socket, Closed. Safe to run from either pump.
func (c *Conn) teardown() {
	c.once.Do(func() {
		c.state.CompareAndSwap(int32(domain.Active), int32(domain.Closing))
		c.registry.Detach(c.id)
		c.ws.Close()
		c.state.Store(int32(domain.Closed))
		close(c.done)
	})
}

// readPump discards inbound messages; clients only listen. Its job is to
// notice disconnects and answer pongs.
func (c *Conn) readPump() {
	defer c.teardown()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("read error", "clientId", c.id, "error", err)
			}
			return
		}
	}
}

// writePump drains the send queue onto the wire, in order, and keeps the
// connection alive with pings. A write failure ends the connection.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.teardown()
	}()

	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
