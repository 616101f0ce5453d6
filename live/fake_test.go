package live

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/livewire/frames"
)

type sentFrame struct {
	frame    frames.ClientFrame
	afterAck bool
}

// fakeTransport is an in-memory duplex channel driven by the test.
type fakeTransport struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	acked     atomic.Bool
	inFlight  atomic.Int32
	overlap   atomic.Bool

	mu      sync.Mutex
	sent    []sentFrame
	onSend  func(*fakeTransport, frames.ClientFrame)
	sendErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Send(ctx context.Context, data []byte) error {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inFlight.Add(-1)

	select {
	case <-f.closed:
		return errors.New("fake: send on closed transport")
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	fr, err := frames.DecodeClient(data)
	if err != nil {
		return err
	}

	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, sentFrame{frame: fr, afterAck: f.acked.Load()})
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(f, fr)
	}
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-f.closed:
		return nil, io.EOF
	default:
	}
	select {
	case d := <-f.in:
		return d, nil
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) push(fr frames.ServerFrame) {
	data, err := frames.EncodeServer(fr)
	if err != nil {
		panic(err)
	}
	f.in <- data
}

func (f *fakeTransport) pushRaw(data string) { f.in <- []byte(data) }

func (f *fakeTransport) ack() {
	f.acked.Store(true)
	f.push(&frames.SetupComplete{})
}

func (f *fakeTransport) frames() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.sent...)
}

func (f *fakeTransport) kinds() []string {
	var out []string
	for _, s := range f.frames() {
		out = append(out, s.frame.Kind())
	}
	return out
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

// fakeServer hands out fake transports and, when autoAck is set, answers
// every Setup with SetupComplete.
type fakeServer struct {
	autoAck atomic.Bool
	dials   atomic.Int32

	mu      sync.Mutex
	dialErr error
	conns   []*fakeTransport
	dialed  chan *fakeTransport
}

func newFakeServer(autoAck bool) *fakeServer {
	s := &fakeServer{dialed: make(chan *fakeTransport, 32)}
	s.autoAck.Store(autoAck)
	return s
}

func (s *fakeServer) factory(ctx context.Context) (Transport, error) {
	s.dials.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dialErr != nil {
		return nil, s.dialErr
	}
	t := newFakeTransport()
	t.onSend = func(t *fakeTransport, f frames.ClientFrame) {
		if _, ok := f.(*frames.Setup); ok && s.autoAck.Load() {
			t.ack()
		}
	}
	s.conns = append(s.conns, t)
	s.dialed <- t
	return t, nil
}

func (s *fakeServer) setDialErr(err error) {
	s.mu.Lock()
	s.dialErr = err
	s.mu.Unlock()
}

func (s *fakeServer) next(t *testing.T) *fakeTransport {
	t.Helper()
	select {
	case c := <-s.dialed:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

func newTestSession(t *testing.T, srv *fakeServer, mutate func(*Config)) *Session {
	t.Helper()
	log := zerolog.Nop()
	cfg := Config{
		HandshakeTimeout: 500 * time.Millisecond,
		Logger:           &log,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSession(srv.factory, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Disconnect(ctx)
	})
	return s
}

// connected returns an Active session and its transport.
func connected(t *testing.T, mutate func(*Config)) (*Session, *fakeServer, *fakeTransport) {
	t.Helper()
	srv := newFakeServer(true)
	s := newTestSession(t, srv, mutate)
	require.NoError(t, s.Connect(context.Background()))
	return s, srv, srv.next(t)
}

func recv[T any](t *testing.T, sub *Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func noEvent[T any](t *testing.T, sub *Subscription[T], wait time.Duration) {
	t.Helper()
	select {
	case v := <-sub.C:
		t.Fatalf("unexpected event: %+v", v)
	case <-time.After(wait):
	}
}

func subscribe[T any](t *testing.T, topic *Topic[T]) *Subscription[T] {
	sub := topic.Subscribe()
	t.Cleanup(sub.Close)
	return sub
}
