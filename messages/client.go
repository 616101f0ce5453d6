package messages

import "encoding/json"

// Client message types
const (
	ClientAudio   = "audio"
	ClientText    = "text"
	ClientControl = "control"
)

// Control actions
const (
	ActionPing    = "ping"
	ActionEndTurn = "end_turn"
)

// ClientMessage represents a message from frontend client
type ClientMessage struct {
	Type    string          `json:"type"` // "audio", "text", "control"
	Payload json.RawMessage `json:"payload"`
}

// AudioPayload contains audio data from client
type AudioPayload struct {
	Data     string `json:"data"`               // Base64-encoded PCM audio
	MimeType string `json:"mimeType,omitempty"` // defaults to audio/pcm;rate=16000
}

// TextPayload is a typed user turn.
type TextPayload struct {
	Text         string `json:"text"`
	TurnComplete *bool  `json:"turnComplete,omitempty"` // defaults to true
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action string `json:"action"` // "ping", "end_turn"
}
