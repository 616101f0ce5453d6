package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/room4-2/livewire/config"
	"github.com/room4-2/livewire/functions"
	"github.com/room4-2/livewire/live"
	"github.com/room4-2/livewire/logx"
	"github.com/room4-2/livewire/metrics"
	"github.com/room4-2/livewire/resumption"
)

const defaultSystemPrompt = `You are a friendly, patient voice assistant. Keep answers short and
conversational, since they are spoken aloud. When a caller asks about the
company, call GetCompanyInformationsDocs instead of guessing. Use
GetCurrentTime for questions about the date or time.`

const (
	sessionKeyPrefix = "session:"
	activeSessionKey = "active_sessions"
)

// ErrMaxSessions is returned when the manager is at capacity.
var ErrMaxSessions = errors.New("maximum sessions reached")

// Manager manages all client sessions
type Manager struct {
	sessions  map[string]*ClientSession
	mu        sync.RWMutex
	redis     *redis.Client
	config    *config.Config
	factory   live.TransportFactory
	tokens    live.TokenStore
	functions *functions.Registry
	metrics   *metrics.Collector
	log       zerolog.Logger
}

// NewManager creates a session manager. Redis backs the session registry
// and resumption tokens when reachable; otherwise tokens are kept in memory.
func NewManager(cfg *config.Config, factory live.TransportFactory, m *metrics.Collector) (*Manager, error) {
	if factory == nil {
		return nil, errors.New("session: transport factory is required")
	}
	log := logx.With("session")

	// Try to connect to Redis, but don't fail if unavailable
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var tokens live.TokenStore
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisURL).Msg("redis unavailable, keeping state in memory")
		_ = redisClient.Close()
		redisClient = nil
		tokens = resumption.NewMemory(cfg.ResumptionTTL)
	} else {
		tokens = resumption.NewRedisStore(redisClient, cfg.ResumptionTTL)
	}

	return &Manager{
		sessions:  make(map[string]*ClientSession),
		redis:     redisClient,
		config:    cfg,
		factory:   factory,
		tokens:    tokens,
		functions: functions.Default(),
		metrics:   m,
		log:       log,
	}, nil
}

// UseFunctions replaces the tool registry for sessions created afterwards.
func (sm *Manager) UseFunctions(r *functions.Registry) {
	sm.mu.Lock()
	sm.functions = r
	sm.mu.Unlock()
}

func (sm *Manager) sessionConfig(id string) live.Config {
	cfg := sm.config.SessionConfig()
	cfg.SessionID = id
	if cfg.SystemInstruction == nil {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: defaultSystemPrompt}}}
	}
	cfg.Tools = sm.functions.Tools()
	cfg.ToolScheduling = sm.functions.Scheduling()
	cfg.TokenStore = sm.tokens
	cfg.Metrics = sm.metrics
	l := sm.log
	cfg.Logger = &l
	return cfg
}

// CreateSession creates a new client session. A non-empty resumeID reuses
// that id so a stored resumption token continues the earlier conversation.
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn, resumeID string) (*ClientSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.config.MaxSessions {
		return nil, ErrMaxSessions
	}

	sessionID := resumeID
	if sessionID == "" {
		sessionID = uuid.New().String()
	} else if _, err := uuid.Parse(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session id: %w", err)
	} else if _, busy := sm.sessions[sessionID]; busy {
		return nil, fmt.Errorf("session %s is already active", sessionID)
	}

	ls, err := live.NewSession(sm.factory, sm.sessionConfig(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to create live session: %w", err)
	}

	session := NewClientSession(clientConn, ls, sm.functions, sm.log)
	sm.storeSession(ctx, sessionID, session)
	return session, nil
}

// storeSession saves a session to memory and Redis
func (sm *Manager) storeSession(ctx context.Context, sessionID string, session *ClientSession) {
	sm.sessions[sessionID] = session

	if sm.redis != nil {
		pipe := sm.redis.TxPipeline()
		pipe.HSet(ctx, sessionKeyPrefix+sessionID, map[string]interface{}{
			"created_at":    session.CreatedAt.Format(time.RFC3339),
			"last_activity": session.LastActivity().Format(time.RFC3339),
			"status":        "active",
			"model":         sm.config.Live.Model,
		})
		pipe.SAdd(ctx, activeSessionKey, sessionID)
		pipe.Expire(ctx, sessionKeyPrefix+sessionID, sm.config.SessionTimeout)
		if _, err := pipe.Exec(ctx); err != nil {
			sm.log.Warn().Err(err).Str("session", shortID(sessionID)).Msg("failed to record session in redis")
		}
	}
}

func (sm *Manager) forget(ctx context.Context, sessionID string) {
	delete(sm.sessions, sessionID)
	if sm.redis != nil {
		sm.redis.Del(ctx, sessionKeyPrefix+sessionID)
		sm.redis.SRem(ctx, activeSessionKey, sessionID)
	}
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession cleans up and removes a session
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	session, exists := sm.sessions[sessionID]
	if exists {
		sm.forget(ctx, sessionID)
	}
	sm.mu.Unlock()

	if !exists {
		return nil
	}
	return session.Close()
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// RegisteredSessions lists the ids recorded in Redis, across all instances.
func (sm *Manager) RegisteredSessions(ctx context.Context) ([]string, error) {
	if sm.redis == nil {
		return nil, nil
	}
	return sm.redis.SMembers(ctx, activeSessionKey).Result()
}

// CleanupInactiveSessions removes sessions that have been inactive
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	sm.mu.Lock()
	now := time.Now()
	var stale []*ClientSession
	for id, session := range sm.sessions {
		if now.Sub(session.LastActivity()) > sm.config.SessionTimeout {
			stale = append(stale, session)
			sm.forget(ctx, id)
		}
	}
	sm.mu.Unlock()

	for _, session := range stale {
		sm.log.Info().Str("session", shortID(session.ID)).Msg("closing inactive session")
		session.Close()
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	all := make([]*ClientSession, 0, len(sm.sessions))
	for id, session := range sm.sessions {
		all = append(all, session)
		sm.forget(context.Background(), id)
	}
	sm.mu.Unlock()

	var wg sync.WaitGroup
	for _, session := range all {
		wg.Add(1)
		go func(s *ClientSession) {
			defer wg.Done()
			s.Close()
		}(session)
	}
	wg.Wait()

	if sm.redis != nil {
		sm.redis.Close()
	}
}
