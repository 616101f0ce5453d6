package frames

import (
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/room4-2/livewire/audio"
)

// ServerFrame is one of SetupComplete, ServerContent, ToolCall,
// ToolCallCancellation, GoAway or SessionResumptionUpdate.
type ServerFrame interface {
	serverFrame()
	Kind() string
}

type SetupComplete struct{}

// ServerContent carries one slice of a model turn. Parts may mix text and
// audio in any order.
type ServerContent struct {
	ModelTurn           *Candidate     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

// Candidate is a single generated alternative within a turn.
type Candidate struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is a media blob. Audio blobs may describe their sample layout
// explicitly or only through the mime type.
type InlineData struct {
	MimeType      string `json:"mimeType,omitempty"`
	Data          []byte `json:"data,omitempty"`
	SampleRate    int    `json:"sampleRate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	BitsPerSample int    `json:"bitsPerSample,omitempty"`
}

type Transcription struct {
	Text string `json:"text,omitempty"`
}

type ToolCall struct {
	FunctionCalls []*genai.FunctionCall `json:"functionCalls"`
}

type ToolCallCancellation struct {
	IDs []string `json:"ids"`
}

// GoAway announces that the server is ending the connection.
type GoAway struct {
	ErrorCode         string  `json:"errorCode,omitempty"`
	ErrorMessage      string  `json:"errorMessage,omitempty"`
	Reconnect         bool    `json:"reconnect,omitempty"`
	RetryAfterSeconds float64 `json:"retryAfterSeconds,omitempty"`
	TimeLeft          string  `json:"timeLeft,omitempty"`
}

// SessionResumptionUpdate hands out a token for a later reconnect. Both the
// resumptionToken and newHandle spellings are accepted.
type SessionResumptionUpdate struct {
	ResumptionToken string `json:"resumptionToken,omitempty"`
	NewHandle       string `json:"newHandle,omitempty"`
	Resumable       *bool  `json:"resumable,omitempty"`
	Status          string `json:"status,omitempty"`
}

func (*SetupComplete) serverFrame()           {}
func (*ServerContent) serverFrame()           {}
func (*ToolCall) serverFrame()                {}
func (*ToolCallCancellation) serverFrame()    {}
func (*GoAway) serverFrame()                  {}
func (*SessionResumptionUpdate) serverFrame() {}

func (*SetupComplete) Kind() string           { return KindSetupComplete }
func (*ServerContent) Kind() string           { return KindServerContent }
func (*ToolCall) Kind() string                { return KindToolCall }
func (*ToolCallCancellation) Kind() string    { return KindToolCallCancellation }
func (*GoAway) Kind() string                  { return KindGoAway }
func (*SessionResumptionUpdate) Kind() string { return KindSessionResumptionUpdate }

// Text joins the text parts of the frame.
func (c *ServerContent) Text() string {
	if c.ModelTurn == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range c.ModelTurn.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// IsAudio reports whether the blob carries audio samples.
func (d *InlineData) IsAudio() bool {
	return d != nil && audio.IsAudioMIME(d.MimeType)
}

// Format resolves the sample layout: explicit fields first, then mime
// parameters, then the Live API output defaults.
func (d *InlineData) Format() audio.Format {
	f := audio.Format{
		SampleRate:    d.SampleRate,
		Channels:      d.Channels,
		BitsPerSample: d.BitsPerSample,
	}
	if f.SampleRate == 0 || f.BitsPerSample == 0 || f.Channels == 0 {
		if fromMime, err := audio.ParseMIME(d.MimeType); err == nil {
			f = f.WithDefaults(fromMime)
		}
	}
	return f.WithDefaults(audio.OutputFormat)
}

// Token returns whichever handle field the server populated.
func (u *SessionResumptionUpdate) Token() string {
	if u.ResumptionToken != "" {
		return u.ResumptionToken
	}
	return u.NewHandle
}

// Usable reports whether the update carries a token the client may resume with.
func (u *SessionResumptionUpdate) Usable() bool {
	if u.Resumable != nil && !*u.Resumable {
		return false
	}
	return u.Token() != ""
}

// RetryAfter converts RetryAfterSeconds, which may be fractional.
func (g *GoAway) RetryAfter() time.Duration {
	if g.RetryAfterSeconds <= 0 {
		return 0
	}
	return time.Duration(g.RetryAfterSeconds * float64(time.Second))
}
