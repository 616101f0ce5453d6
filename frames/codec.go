package frames

import (
	"fmt"

	"github.com/bytedance/sonic"
	"google.golang.org/genai"
)

var api = sonic.ConfigStd

// Decode error codes.
const (
	CodeMalformed   = "malformed_frame"
	CodeUnknownKind = "unknown_frame"
	CodeAmbiguous   = "ambiguous_frame"
	CodeUnsupported = "unsupported_frame"
)

// DecodeError describes a frame the codec could not classify.
type DecodeError struct {
	Code    string
	Message string
	Field   string
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("frames: %s: %s (%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("frames: %s: %s", e.Code, e.Message)
}

type clientEnvelope struct {
	Setup         *Setup         `json:"setup,omitempty"`
	ClientContent *ClientContent `json:"clientContent,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *ToolResponse  `json:"toolResponse,omitempty"`
}

type serverEnvelope struct {
	SetupComplete           *SetupComplete           `json:"setupComplete,omitempty"`
	ServerContent           *ServerContent           `json:"serverContent,omitempty"`
	ToolCall                *ToolCall                `json:"toolCall,omitempty"`
	ToolCallCancellation    *ToolCallCancellation    `json:"toolCallCancellation,omitempty"`
	GoAway                  *GoAway                  `json:"goAway,omitempty"`
	SessionResumptionUpdate *SessionResumptionUpdate `json:"sessionResumptionUpdate,omitempty"`
}

// EncodeClient serializes an outbound frame under its tag.
func EncodeClient(f ClientFrame) ([]byte, error) {
	var env clientEnvelope
	switch f := f.(type) {
	case *Setup:
		env.Setup = f
	case *ClientContent:
		cc := *f
		if cc.Turns == nil {
			cc.Turns = []*genai.Content{}
		}
		env.ClientContent = &cc
	case *RealtimeInput:
		env.RealtimeInput = f
	case *ToolResponse:
		env.ToolResponse = f
	case nil:
		return nil, &DecodeError{Code: CodeUnsupported, Message: "nil client frame"}
	default:
		return nil, &DecodeError{Code: CodeUnsupported, Message: fmt.Sprintf("client frame %T", f)}
	}
	data, err := api.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f.Kind(), err)
	}
	return data, nil
}

// DecodeServer classifies an inbound frame. Exactly one tag must be present.
func DecodeServer(data []byte) (ServerFrame, error) {
	var env serverEnvelope
	if err := api.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Code: CodeMalformed, Message: err.Error()}
	}

	var (
		out   ServerFrame
		found []string
	)
	pick := func(ok bool, f ServerFrame) {
		if ok {
			out = f
			found = append(found, f.Kind())
		}
	}
	pick(env.SetupComplete != nil, env.SetupComplete)
	pick(env.ServerContent != nil, env.ServerContent)
	pick(env.ToolCall != nil, env.ToolCall)
	pick(env.ToolCallCancellation != nil, env.ToolCallCancellation)
	pick(env.GoAway != nil, env.GoAway)
	pick(env.SessionResumptionUpdate != nil, env.SessionResumptionUpdate)

	switch len(found) {
	case 0:
		return nil, &DecodeError{Code: CodeUnknownKind, Message: "no recognized frame tag"}
	case 1:
		return out, nil
	default:
		return nil, &DecodeError{Code: CodeAmbiguous, Message: "multiple frame tags", Field: fmt.Sprint(found)}
	}
}

// EncodeServer is the inverse of DecodeServer, used by fakes and relays.
func EncodeServer(f ServerFrame) ([]byte, error) {
	var env serverEnvelope
	switch f := f.(type) {
	case *SetupComplete:
		env.SetupComplete = f
	case *ServerContent:
		env.ServerContent = f
	case *ToolCall:
		env.ToolCall = f
	case *ToolCallCancellation:
		env.ToolCallCancellation = f
	case *GoAway:
		env.GoAway = f
	case *SessionResumptionUpdate:
		env.SessionResumptionUpdate = f
	default:
		return nil, &DecodeError{Code: CodeUnsupported, Message: fmt.Sprintf("server frame %T", f)}
	}
	return api.Marshal(&env)
}

// DecodeClient is the inverse of EncodeClient.
func DecodeClient(data []byte) (ClientFrame, error) {
	var env clientEnvelope
	if err := api.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Code: CodeMalformed, Message: err.Error()}
	}
	var out []ClientFrame
	if env.Setup != nil {
		out = append(out, env.Setup)
	}
	if env.ClientContent != nil {
		out = append(out, env.ClientContent)
	}
	if env.RealtimeInput != nil {
		out = append(out, env.RealtimeInput)
	}
	if env.ToolResponse != nil {
		out = append(out, env.ToolResponse)
	}
	switch len(out) {
	case 0:
		return nil, &DecodeError{Code: CodeUnknownKind, Message: "no recognized frame tag"}
	case 1:
		return out[0], nil
	default:
		return nil, &DecodeError{Code: CodeAmbiguous, Message: "multiple frame tags"}
	}
}
