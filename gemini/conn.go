package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var errConnClosed = errors.New("gemini: connection closed")

type inbound struct {
	data []byte
	err  error
}

// Conn is one Live API websocket. Writes are serialized; reads are pumped
// into a channel so Receive can honor its context.
type Conn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	writeWait time.Duration

	in     chan inbound
	done   chan struct{}
	once   sync.Once
	closed error

	log zerolog.Logger
}

func newConn(ws *websocket.Conn, writeWait, keepAlive time.Duration, log zerolog.Logger) *Conn {
	c := &Conn{
		ws:        ws,
		writeWait: writeWait,
		in:        make(chan inbound),
		done:      make(chan struct{}),
		log:       log,
	}
	go c.readPump()
	if keepAlive > 0 {
		go c.pingLoop(keepAlive)
	}
	return c
}

func (c *Conn) readPump() {
	for {
		typ, data, err := c.ws.ReadMessage()
		if err == nil && typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		select {
		case c.in <- inbound{data: data, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Conn) pingLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.log.Debug().Err(err).Msg("keepalive ping failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

// Send writes one text frame.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	deadline := time.Now().Add(c.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive returns the next frame. A close from the server surfaces as an
// error carrying the close code and reason.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case m := <-c.in:
		if m.err != nil {
			var ce *websocket.CloseError
			if errors.As(m.err, &ce) {
				return nil, fmt.Errorf("gemini closed the connection (%d): %s: %w", ce.Code, ce.Text, m.err)
			}
			return nil, m.err
		}
		return m.data, nil
	case <-c.done:
		return nil, errConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close sends a normal close frame and tears the socket down. It is safe to
// call more than once.
func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closed = c.ws.Close()
	})
	return c.closed
}
