package messages

import "github.com/room4-2/livewire/audio"

// Error codes
const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeGeminiError      = "GEMINI_ERROR"
	ErrCodeSessionFailed    = "SESSION_FAILED"
	ErrCodeConnectionClosed = "CONNECTION_CLOSED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeBufferFull       = "BUFFER_FULL"
	ErrCodeToolFailed       = "TOOL_FAILED"
)

// Message types
const (
	TypeAudio  = "audio"
	TypeText   = "text"
	TypeStatus = "status"
	TypeError  = "error"
)

// Statuses
const (
	StatusConnected    = "connected"
	StatusTurnComplete = "turn_complete"
	StatusInterrupted  = "interrupted"
	StatusReconnecting = "reconnecting"
	StatusDisconnected = "disconnected"
	StatusPong         = "pong"
)

// Text sources
const (
	SourceModel = "model"
	// SourceInput and SourceOutput are speech transcriptions.
	SourceInput  = "input_transcription"
	SourceOutput = "output_transcription"
)

// ServerMessage represents a message sent to frontend client
type ServerMessage struct {
	Type      string      `json:"type"` // "audio", "text", "status", "error"
	SessionID string      `json:"sessionId,omitempty"`
	Payload   interface{} `json:"payload"`
}

// AudioResponsePayload contains audio data for client
type AudioResponsePayload struct {
	Data     string `json:"data"`     // Base64-encoded PCM audio
	MimeType string `json:"mimeType"` // "audio/pcm;rate=24000"
}

// TextResponsePayload contains text response
type TextResponsePayload struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// StatusPayload contains status updates
type StatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAudioMessage creates an audio response message. An empty mimeType
// means the Live output default.
func NewAudioMessage(sessionID, data, mimeType string) *ServerMessage {
	if mimeType == "" {
		mimeType = audio.OutputFormat.MimeType()
	}
	return &ServerMessage{
		Type:      TypeAudio,
		SessionID: sessionID,
		Payload: AudioResponsePayload{
			Data:     data,
			MimeType: mimeType,
		},
	}
}

// NewTextMessage creates a text response message
func NewTextMessage(sessionID, source, text string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeText,
		SessionID: sessionID,
		Payload: TextResponsePayload{
			Text:   text,
			Source: source,
		},
	}
}

// NewStatusMessage creates a status message
func NewStatusMessage(sessionID, status, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStatus,
		SessionID: sessionID,
		Payload: StatusPayload{
			Status:  status,
			Message: message,
		},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		SessionID: sessionID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}
