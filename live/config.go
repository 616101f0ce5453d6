package live

import (
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/room4-2/livewire/metrics"
)

const (
	DefaultModel                = "gemini-2.0-flash-exp"
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultMaxReconnectAttempts = 3

	// NoReconnect as MaxReconnectAttempts turns reconnection off, including
	// reconnects invited by GoAway.
	NoReconnect = -1
)

// Config describes one session.
type Config struct {
	// SessionID defaults to a random UUID. Reusing an id lets a TokenStore
	// hand back the previous resumption token.
	SessionID string

	Model             string
	GenerationConfig  *genai.GenerationConfig
	SystemInstruction *genai.Content
	Tools             []*genai.Tool
	// ToolScheduling sets a default scheduling hint per NON_BLOCKING function.
	ToolScheduling map[string]genai.FunctionResponseScheduling

	// EnableResumption asks the server for resumption tokens.
	EnableResumption         bool
	InputAudioTranscription  bool
	OutputAudioTranscription bool

	AutoReconnect bool
	// MaxReconnectAttempts bounds the attempts per disconnection. Zero means
	// DefaultMaxReconnectAttempts; any negative value means NoReconnect.
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	HandshakeTimeout     time.Duration

	// MaxAudioBufferBytes caps one reassembled turn. Zero means no cap.
	MaxAudioBufferBytes int

	TokenStore TokenStore
	Metrics    *metrics.Collector
	Logger     *zerolog.Logger
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if !strings.HasPrefix(c.Model, "models/") && !strings.HasPrefix(c.Model, "projects/") {
		c.Model = "models/" + c.Model
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
}

func (c *Config) validate() error {
	if c.ReconnectDelay < 0 {
		return errors.New("live: ReconnectDelay must not be negative")
	}
	if c.MaxAudioBufferBytes < 0 {
		return errors.New("live: MaxAudioBufferBytes must not be negative")
	}
	return nil
}

func (c *Config) policy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:     c.AutoReconnect,
		MaxAttempts: max(c.MaxReconnectAttempts, 0),
		Delay:       c.ReconnectDelay,
	}
}
