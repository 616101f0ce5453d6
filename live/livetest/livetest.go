// Package livetest provides an in-memory Live endpoint for tests of code
// built on live.Session.
package livetest

import (
	"context"
	"errors"
	"sync"

	"github.com/room4-2/livewire/frames"
	"github.com/room4-2/livewire/live"
)

// Server hands out Conns. By default every Setup is answered with
// SetupComplete.
type Server struct {
	mu      sync.Mutex
	conns   []*Conn
	dialErr error
	manual  bool

	// Dialed receives each new connection.
	Dialed chan *Conn
}

func NewServer() *Server {
	return &Server{Dialed: make(chan *Conn, 16)}
}

// Manual disables the automatic SetupComplete.
func (s *Server) Manual() *Server {
	s.mu.Lock()
	s.manual = true
	s.mu.Unlock()
	return s
}

// FailDials makes subsequent dials return err. Nil restores dialing.
func (s *Server) FailDials(err error) {
	s.mu.Lock()
	s.dialErr = err
	s.mu.Unlock()
}

// Factory is a live.TransportFactory backed by this server.
func (s *Server) Factory() live.TransportFactory {
	return func(context.Context) (live.Transport, error) {
		s.mu.Lock()
		if s.dialErr != nil {
			err := s.dialErr
			s.mu.Unlock()
			return nil, err
		}
		c := &Conn{
			in:     make(chan []byte, 256),
			closed: make(chan struct{}),
			auto:   !s.manual,
			Frames: make(chan frames.ClientFrame, 256),
		}
		s.conns = append(s.conns, c)
		s.mu.Unlock()

		select {
		case s.Dialed <- c:
		default:
		}
		return c, nil
	}
}

// Conns returns every connection dialed so far.
func (s *Server) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Conn(nil), s.conns...)
}

// Last returns the most recent connection or nil.
func (s *Server) Last() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

var errClosed = errors.New("livetest: connection closed")

// Conn is the server side of one dialed channel.
type Conn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once
	auto   bool

	mu   sync.Mutex
	sent []frames.ClientFrame

	// Frames receives every decoded client frame.
	Frames chan frames.ClientFrame
}

func (c *Conn) Send(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errClosed
	default:
	}
	f, err := frames.DecodeClient(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, f)
	c.mu.Unlock()
	select {
	case c.Frames <- f:
	default:
	}
	if _, ok := f.(*frames.Setup); ok && c.auto {
		c.Push(&frames.SetupComplete{})
	}
	return nil
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Drop simulates the remote end going away.
func (c *Conn) Drop() { _ = c.Close() }

// Closed reports whether either side closed the connection.
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Push queues a server frame for the session to read.
func (c *Conn) Push(f frames.ServerFrame) {
	data, err := frames.EncodeServer(f)
	if err != nil {
		panic(err)
	}
	select {
	case c.in <- data:
	case <-c.closed:
	}
}

// Sent returns the client frames written so far.
func (c *Conn) Sent() []frames.ClientFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frames.ClientFrame(nil), c.sent...)
}
