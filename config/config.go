package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/genai"
	"gopkg.in/yaml.v3"

	"github.com/room4-2/livewire/live"
)

// Config holds all server configuration
type Config struct {
	Port              int
	RedisURL          string
	RedisPassword     string
	MaxSessions       int
	SessionTimeout    time.Duration
	GeminiAPIKey      string
	GoogleAccessToken string
	AllowedOrigins    []string
	KeepAlivePeriod   time.Duration
	MaxBufferSize     int // Maximum reassembled audio turn in bytes
	LogLevel          string
	ResumptionTTL     time.Duration
	ConfigFile        string

	Live LiveConfig
}

// LiveConfig is the per-session block. It may be overridden from a YAML
// file named by CONFIG_FILE.
type LiveConfig struct {
	Model                string        `yaml:"model"`
	Endpoint             string        `yaml:"endpoint"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	AutoReconnect        bool          `yaml:"auto_reconnect"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	ResponseModality     string        `yaml:"response_modality"`
	VoiceName            string        `yaml:"voice_name"`
	SystemPrompt         string        `yaml:"system_prompt"`
	Transcription        bool          `yaml:"transcription"`
}

type fileConfig struct {
	Live *LiveConfig `yaml:"live"`
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:            8080,
		RedisURL:        "localhost:6379",
		MaxSessions:     100,
		SessionTimeout:  30 * time.Minute,
		AllowedOrigins:  []string{"*"},
		KeepAlivePeriod: 30 * time.Second,
		MaxBufferSize:   5 * 1024 * 1024, // 5MB default
		LogLevel:        "info",
		ResumptionTTL:   60 * time.Minute,
		Live: LiveConfig{
			Model:                live.DefaultModel,
			HandshakeTimeout:     live.DefaultHandshakeTimeout,
			AutoReconnect:        true,
			MaxReconnectAttempts: live.DefaultMaxReconnectAttempts,
			ReconnectDelay:       time.Second,
			ResponseModality:     string(genai.ModalityAudio),
			VoiceName:            "Zephyr",
		},
	}

	// Required: GEMINI_API_KEY unless a bearer token is supplied
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	config.GoogleAccessToken = os.Getenv("GOOGLE_ACCESS_TOKEN")
	if config.GeminiAPIKey == "" && config.GoogleAccessToken == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	var err error
	if config.Port, err = envInt("PORT", config.Port); err != nil {
		return nil, err
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}
	config.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if config.MaxSessions, err = envInt("MAX_SESSIONS", config.MaxSessions); err != nil {
		return nil, err
	}
	if config.SessionTimeout, err = envDuration("SESSION_TIMEOUT", time.Minute, config.SessionTimeout); err != nil {
		return nil, err
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = splitList(origins)
	}
	if config.KeepAlivePeriod, err = envDuration("KEEPALIVE_PERIOD", time.Second, config.KeepAlivePeriod); err != nil {
		return nil, err
	}
	if config.MaxBufferSize, err = envInt("MAX_BUFFER_SIZE", config.MaxBufferSize); err != nil {
		return nil, err
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		config.LogLevel = lvl
	}
	if config.ResumptionTTL, err = envDuration("RESUMPTION_TTL", time.Minute, config.ResumptionTTL); err != nil {
		return nil, err
	}

	l := &config.Live
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		l.Model = v
	}
	l.Endpoint = os.Getenv("LIVE_ENDPOINT")
	if l.HandshakeTimeout, err = envDuration("HANDSHAKE_TIMEOUT", time.Second, l.HandshakeTimeout); err != nil {
		return nil, err
	}
	if v := os.Getenv("AUTO_RECONNECT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTO_RECONNECT: %w", err)
		}
		l.AutoReconnect = b
	}
	if l.MaxReconnectAttempts, err = envInt("MAX_RECONNECT_ATTEMPTS", l.MaxReconnectAttempts); err != nil {
		return nil, err
	}
	if v := os.Getenv("RESPONSE_MODALITY"); v != "" {
		l.ResponseModality = strings.ToUpper(v)
	}
	if v := os.Getenv("VOICE_NAME"); v != "" {
		l.VoiceName = v
	}
	l.SystemPrompt = os.Getenv("SYSTEM_PROMPT")

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		config.ConfigFile = path
		if err := config.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFile overlays the live block from a YAML file. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	fc := fileConfig{Live: &c.Live}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Live.ResponseModality {
	case string(genai.ModalityAudio), string(genai.ModalityText):
	default:
		return fmt.Errorf("invalid RESPONSE_MODALITY %q: must be AUDIO or TEXT", c.Live.ResponseModality)
	}
	if c.Live.MaxReconnectAttempts < 0 {
		return fmt.Errorf("invalid MAX_RECONNECT_ATTEMPTS: must not be negative")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("invalid MAX_SESSIONS: must be positive")
	}
	return nil
}

// SessionConfig builds the live session settings for one client.
func (c *Config) SessionConfig() live.Config {
	gen := &genai.GenerationConfig{
		ResponseModalities: []genai.Modality{genai.Modality(c.Live.ResponseModality)},
	}
	if c.Live.ResponseModality == string(genai.ModalityAudio) && c.Live.VoiceName != "" {
		gen.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: c.Live.VoiceName},
			},
		}
	}

	cfg := live.Config{
		Model:                    c.Live.Model,
		GenerationConfig:         gen,
		EnableResumption:         true,
		InputAudioTranscription:  c.Live.Transcription,
		OutputAudioTranscription: c.Live.Transcription,
		AutoReconnect:            c.Live.AutoReconnect,
		MaxReconnectAttempts:     c.Live.MaxReconnectAttempts,
		ReconnectDelay:           c.Live.ReconnectDelay,
		HandshakeTimeout:         c.Live.HandshakeTimeout,
		MaxAudioBufferBytes:      c.MaxBufferSize,
	}
	// MAX_RECONNECT_ATTEMPTS=0 means never reconnect.
	if c.Live.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = live.NoReconnect
	}
	if c.Live.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: c.Live.SystemPrompt}}}
	}
	return cfg
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// envDuration reads an integer count of unit.
func envDuration(key string, unit, def time.Duration) (time.Duration, error) {
	n, err := envInt(key, -1)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return def, nil
	}
	return time.Duration(n) * unit, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
