// Package gemini dials the Gemini Live websocket endpoint.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/room4-2/livewire/live"
	"github.com/room4-2/livewire/logx"
)

const (
	DefaultEndpoint     = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultWriteTimeout = 10 * time.Second
	DefaultReadLimit    = 16 << 20
	DefaultDialTimeout  = 15 * time.Second
	DefaultKeepAlive    = 30 * time.Second
)

// Dialer opens Live API connections. Either APIKey or Auth must be set.
type Dialer struct {
	Endpoint     string
	APIKey       string
	Auth         live.Authenticator
	Header       http.Header
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// KeepAlive is the ping interval. Negative disables pings.
	KeepAlive time.Duration
	ReadLimit int64
	Logger    *zerolog.Logger

	now func() time.Time
}

// Dial opens one connection. ctx bounds only the handshake.
func (d *Dialer) Dial(ctx context.Context) (live.Transport, error) {
	endpoint := d.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	now := time.Now
	if d.now != nil {
		now = d.now
	}

	h := http.Header{}
	for k, v := range d.Header {
		h[k] = append([]string(nil), v...)
	}
	if err := authHeader(ctx, h, d.APIKey, d.Auth, now()); err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: orDefault(d.DialTimeout, DefaultDialTimeout),
	}
	ws, resp, err := dialer.DialContext(ctx, endpoint, h)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	limit := d.ReadLimit
	if limit == 0 {
		limit = DefaultReadLimit
	}
	ws.SetReadLimit(limit)

	keepAlive := d.KeepAlive
	if keepAlive == 0 {
		keepAlive = DefaultKeepAlive
	}

	log := logx.With("gemini")
	if d.Logger != nil {
		log = *d.Logger
	}
	log.Debug().Str("endpoint", endpoint).Msg("connected")
	return newConn(ws, orDefault(d.WriteTimeout, DefaultWriteTimeout), keepAlive, log), nil
}

// Factory adapts the dialer for live.NewSession.
func (d *Dialer) Factory() live.TransportFactory {
	return d.Dial
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
