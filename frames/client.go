package frames

import "google.golang.org/genai"

// ClientFrame is one of Setup, ClientContent, RealtimeInput or ToolResponse.
type ClientFrame interface {
	clientFrame()
	// Kind is the wire tag of the frame.
	Kind() string
}

// Setup opens a session. It must be the first frame on a connection.
type Setup struct {
	Model             string                  `json:"model"`
	GenerationConfig  *genai.GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *genai.Content          `json:"systemInstruction,omitempty"`
	Tools             []*genai.Tool           `json:"tools,omitempty"`

	// SessionResumption enables resumption updates; a non-empty Handle asks
	// the server to restore a previous session.
	SessionResumption        *SessionResumptionConfig `json:"sessionResumption,omitempty"`
	InputAudioTranscription  *AudioTranscriptionConfig `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *AudioTranscriptionConfig `json:"outputAudioTranscription,omitempty"`
}

type SessionResumptionConfig struct {
	Handle string `json:"handle,omitempty"`
}

type AudioTranscriptionConfig struct{}

// ClientContent appends turns to the conversation.
type ClientContent struct {
	Turns        []*genai.Content `json:"turns"`
	TurnComplete bool             `json:"turnComplete"`
}

// RealtimeInput streams media without turn boundaries.
type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"mediaChunks"`
}

// MediaChunk is base64 encoded on the wire.
type MediaChunk struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// ToolResponse answers one or more tool calls by id.
type ToolResponse struct {
	FunctionResponses []*genai.FunctionResponse `json:"functionResponses"`
}

func (*Setup) clientFrame()         {}
func (*ClientContent) clientFrame() {}
func (*RealtimeInput) clientFrame() {}
func (*ToolResponse) clientFrame()  {}

func (*Setup) Kind() string         { return KindSetup }
func (*ClientContent) Kind() string { return KindClientContent }
func (*RealtimeInput) Kind() string { return KindRealtimeInput }
func (*ToolResponse) Kind() string  { return KindToolResponse }

// Wire tags.
const (
	KindSetup         = "setup"
	KindClientContent = "clientContent"
	KindRealtimeInput = "realtimeInput"
	KindToolResponse  = "toolResponse"

	KindSetupComplete           = "setupComplete"
	KindServerContent           = "serverContent"
	KindToolCall                = "toolCall"
	KindToolCallCancellation    = "toolCallCancellation"
	KindGoAway                  = "goAway"
	KindSessionResumptionUpdate = "sessionResumptionUpdate"
)

// UserText builds a single-part user turn.
func UserText(text string) *genai.Content {
	return genai.NewContentFromText(text, genai.RoleUser)
}
