package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buchio/rpi-camera-streamer/domain"
	"github.com/buchio/rpi-camera-streamer/hub"
	"github.com/buchio/rpi-camera-streamer/mux"
)

type mockConn struct {
	id       string
	received []string
	closed   bool
	mu       sync.Mutex
	sendErr  error
}

func (m *mockConn) ID() string              { return m.id }
func (m *mockConn) State() domain.ConnState { return domain.Active }

func (m *mockConn) Send(frame string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, frame)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) getReceived() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.received...)
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func newDispatcher() (*Dispatcher, *mux.Queue, *mux.Queue, *hub.Hub) {
	video := mux.New(8)
	audio := mux.New(8)
	registry := hub.New()
	return New(video, audio, registry), video, audio, registry
}

func TestDispatcher_EndToEndVideoFrame(t *testing.T) {
	d, video, _, registry := newDispatcher()
	conn := &mockConn{id: "c1"}
	registry.Attach(conn)

	video.Push(domain.Sample{
		Kind:       domain.Video,
		CapturedAt: 1000.0,
		Payload:    []byte{0xff, 0xd8, 0xff},
	})
	d.Cycle()

	want := "video:1000.0:" + base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff})
	assert.Equal(t, []string{want}, conn.getReceived())

	frames, dropped := d.Stats()
	assert.Equal(t, uint64(1), frames)
	assert.Equal(t, uint64(0), dropped)
}

func TestDispatcher_InterleavesKindsInArrivalOrder(t *testing.T) {
	d, video, audio, registry := newDispatcher()
	conn := &mockConn{id: "c1"}
	registry.Attach(conn)

	video.Push(domain.Sample{Kind: domain.Video, CapturedAt: 3.0, Payload: []byte{0x01}})
	video.Push(domain.Sample{Kind: domain.Video, CapturedAt: 4.0, Payload: []byte{0x02}})
	audio.Push(domain.Sample{Kind: domain.Audio, CapturedAt: 1.0, Payload: []byte{0x03}})
	d.Cycle()

	// No timestamp reordering server-side: round-robin drain, video first
	// within each pass.
	got := conn.getReceived()
	require.Len(t, got, 3)
	assert.Equal(t, "video:3.0:AQ==", got[0])
	assert.Equal(t, "audio:1.0:Aw==", got[1])
	assert.Equal(t, "video:4.0:Ag==", got[2])
}

func TestDispatcher_FailingConnIsolated(t *testing.T) {
	d, video, _, registry := newDispatcher()
	broken := &mockConn{id: "broken", sendErr: errors.New("write: broken pipe")}
	healthy := &mockConn{id: "healthy"}
	registry.Attach(broken)
	registry.Attach(healthy)

	video.Push(domain.Sample{Kind: domain.Video, CapturedAt: 1.0, Payload: []byte{0x01}})
	d.Cycle()

	// The failing connection is closed and gone; the healthy one received
	// the frame and stays attached.
	assert.True(t, broken.isClosed())
	assert.Len(t, healthy.getReceived(), 1)
	require.Equal(t, 1, registry.Stats())
	assert.Equal(t, "healthy", registry.Snapshot()[0].ID())

	// Next cycle keeps flowing to the survivor.
	video.Push(domain.Sample{Kind: domain.Video, CapturedAt: 2.0, Payload: []byte{0x02}})
	d.Cycle()
	assert.Len(t, healthy.getReceived(), 2)
}

func TestDispatcher_EncodeFailureDropsSampleOnly(t *testing.T) {
	d, video, _, registry := newDispatcher()
	conn := &mockConn{id: "c1"}
	registry.Attach(conn)

	// A corrupt sample (no payload) must not halt the cycle.
	video.Push(domain.Sample{Kind: domain.Video, CapturedAt: 1.0})
	video.Push(domain.Sample{Kind: domain.Video, CapturedAt: 2.0, Payload: []byte{0x02}})
	d.Cycle()

	got := conn.getReceived()
	require.Len(t, got, 1)
	assert.Equal(t, "video:2.0:Ag==", got[0])

	frames, dropped := d.Stats()
	assert.Equal(t, uint64(1), frames)
	assert.Equal(t, uint64(1), dropped)
}

func TestDispatcher_ConcurrentAttachDetachDuringDispatch(t *testing.T) {
	const conns = 100
	const cycles = 1000

	d, video, _, registry := newDispatcher()

	var wg sync.WaitGroup
	for i := 0; i < conns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%03d", i)
			conn := &mockConn{id: id}
			registry.Attach(conn)
			if i%2 == 0 {
				registry.Detach(id)
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < cycles; i++ {
			video.Push(domain.Sample{Kind: domain.Video, CapturedAt: float64(i), Payload: []byte{0x01}})
			d.Cycle()
		}
	}()

	wg.Wait()

	// Exactly the connections that stayed attached remain.
	assert.Equal(t, conns/2, registry.Stats())
}

func TestDispatcher_RunWakesOnPush(t *testing.T) {
	d, video, audio, registry := newDispatcher()
	conn := &mockConn{id: "c1"}
	registry.Attach(conn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	video.Push(domain.Sample{Kind: domain.Video, CapturedAt: 1.0, Payload: []byte{0x01}})
	audio.Push(domain.Sample{Kind: domain.Audio, CapturedAt: 1.5, Payload: []byte{0x02}})

	assert.Eventually(t, func() bool {
		return len(conn.getReceived()) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}
