package live

import (
	"context"
	"time"
)

// Transport is one open duplex channel carrying whole frames.
type Transport interface {
	// Send writes one frame. Calls are serialized by the session.
	Send(ctx context.Context, data []byte) error
	// Receive blocks for the next inbound frame. It returns an error once the
	// channel is closed or ctx is done.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// TransportFactory opens a fresh channel. It is invoked for the first
// connect and for every reconnect attempt.
type TransportFactory func(ctx context.Context) (Transport, error)

// Authenticator supplies connection credentials.
type Authenticator interface {
	GetAccessToken(ctx context.Context) (token string, expiry time.Time, err error)
}

// TokenStore persists resumption tokens across process restarts.
type TokenStore interface {
	Load(ctx context.Context, sessionID string) (string, error)
	Save(ctx context.Context, sessionID, token string) error
	Delete(ctx context.Context, sessionID string) error
}
