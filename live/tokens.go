package live

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// tokenWriter persists resumption tokens off the inbound loop. Only the
// latest queued write is kept; an empty token deletes the stored one.
type tokenWriter struct {
	store TokenStore
	id    string
	log   zerolog.Logger

	mu      sync.Mutex
	next    *string
	running bool
	idle    chan struct{} // closed while no write is queued or in flight
	lastErr error
}

func newTokenWriter(store TokenStore, id string, log zerolog.Logger) *tokenWriter {
	if store == nil {
		return nil
	}
	idle := make(chan struct{})
	close(idle)
	return &tokenWriter{store: store, id: id, log: log, idle: idle}
}

// put queues token, replacing any write that has not started yet.
func (w *tokenWriter) put(token string) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next = &token
	if !w.running {
		w.running = true
		w.idle = make(chan struct{})
		go w.run()
	}
}

func (w *tokenWriter) run() {
	for {
		w.mu.Lock()
		if w.next == nil {
			w.running = false
			close(w.idle)
			w.mu.Unlock()
			return
		}
		token := *w.next
		w.next = nil
		w.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), tokenStoreTimeout)
		var err error
		if token == "" {
			err = w.store.Delete(ctx, w.id)
		} else {
			err = w.store.Save(ctx, w.id, token)
		}
		cancel()
		if err != nil {
			w.log.Warn().Err(err).Bool("delete", token == "").Msg("failed to persist resumption token")
		}

		w.mu.Lock()
		w.lastErr = err
		w.mu.Unlock()
	}
}

// flush waits for queued writes and returns the error of the last one.
func (w *tokenWriter) flush(ctx context.Context) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	idle := w.idle
	w.mu.Unlock()
	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}
