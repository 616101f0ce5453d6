package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/room4-2/livewire/config"
	"github.com/room4-2/livewire/logx"
	"github.com/room4-2/livewire/messages"
	"github.com/room4-2/livewire/session"
)

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
	log            zerolog.Logger
}

// NewServerWebsocket builds the relay server. gatherer, when not nil, is
// exposed on /metrics.
func NewServerWebsocket(cfg *config.Config, sessionManager *session.Manager, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		log:            logx.With("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024, // 64KB for audio chunks
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				// Check allowed origins
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(gatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the routes without starting a listener.
func (s *Server) Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.log.Info().Int("port", s.config.Port).Msgf("websocket endpoint: ws://localhost:%d/ws", s.config.Port)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down server")
	s.sessionManager.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	// ?session=<id> resumes an earlier conversation
	clientSession, err := s.sessionManager.CreateSession(r.Context(), conn, r.URL.Query().Get("session"))
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to create session")
		errMsg := messages.NewErrorMessage("", messages.ErrCodeSessionFailed, err.Error())
		_ = conn.WriteJSON(errMsg)
		conn.Close()
		return
	}

	s.log.Info().Str("session", clientSession.ID).Msg("new session created")

	if err := clientSession.Start(r.Context()); err != nil {
		s.log.Error().Err(err).Str("session", clientSession.ID).Msg("failed to start session")
	} else {
		// Wait for session to close
		<-clientSession.CloseChan
	}

	// Clean up
	_ = s.sessionManager.RemoveSession(context.Background(), clientSession.ID)
	s.log.Info().Str("session", clientSession.ID).Msg("session closed")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, s.sessionManager.GetActiveSessionCount())
}
