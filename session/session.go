package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/room4-2/livewire/audio"
	"github.com/room4-2/livewire/frames"
	"github.com/room4-2/livewire/functions"
	"github.com/room4-2/livewire/live"
	"github.com/room4-2/livewire/messages"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	closeTimeout    = 5 * time.Second
	maxClientFrame  = 512 * 1024
)

// ClientSession relays one browser connection to one live session.
type ClientSession struct {
	ID         string
	ClientConn *websocket.Conn
	Live       *live.Session
	CreatedAt  time.Time

	functions *functions.Registry
	log       zerolog.Logger

	// Use channels for non-blocking writes
	writeChan chan any
	writeDone chan struct{}

	mu           sync.RWMutex
	lastActivity time.Time
	started      bool
	closed       bool
	// interrupted drops model audio until the interrupted turn completes.
	interrupted bool

	CloseChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	subs []interface{ Close() }
}

// NewClientSession wires a client connection to an unconnected live session.
func NewClientSession(clientConn *websocket.Conn, ls *live.Session, fns *functions.Registry, log zerolog.Logger) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())

	clientConn.SetReadLimit(maxClientFrame)

	now := time.Now()
	return &ClientSession{
		ID:           ls.ID(),
		ClientConn:   clientConn,
		Live:         ls,
		CreatedAt:    now,
		functions:    fns,
		log:          log.With().Str("session", shortID(ls.ID())).Logger(),
		writeChan:    make(chan any, writeBufferSize),
		writeDone:    make(chan struct{}),
		lastActivity: now,
		CloseChan:    make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start connects the live session and begins relaying in both directions.
// On error the session is closed.
func (cs *ClientSession) Start(ctx context.Context) error {
	cs.mu.Lock()
	if cs.closed || cs.started {
		cs.mu.Unlock()
		return errors.New("session already started or closed")
	}
	cs.started = true
	cs.mu.Unlock()

	go cs.writePump()
	cs.subscribe()

	if err := cs.Live.Connect(ctx); err != nil {
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeSessionFailed, err.Error()))
		cs.Close()
		return err
	}

	cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusConnected, "Session established"))
	go cs.handleClientMessages()
	return nil
}

func (cs *ClientSession) subscribe() {
	ev := cs.Live.Events
	content := ev.ContentReceived.Subscribe()
	toolCalls := ev.ToolCallReceived.Subscribe()
	cancelled := ev.ToolCallCancelled.Subscribe()
	states := ev.StateChanged.Subscribe()
	diag := ev.Diagnostics.Subscribe()
	disc := ev.Disconnected.Subscribe()
	cs.mu.Lock()
	cs.subs = []interface{ Close() }{content, toolCalls, cancelled, states, diag, disc}
	if cs.closed {
		for _, s := range cs.subs {
			s.Close()
		}
	}
	cs.mu.Unlock()

	// Content is handled on its own goroutine so model output keeps its order.
	go func() {
		for sc := range content.C {
			cs.relayContent(sc)
		}
	}()

	go func() {
		reconnecting := false
		for {
			select {
			case tc, ok := <-toolCalls.C:
				if !ok {
					return
				}
				for _, call := range tc.Calls {
					go cs.answerToolCall(call)
				}
			case ids, ok := <-cancelled.C:
				if !ok {
					return
				}
				cs.log.Info().Strs("ids", ids).Msg("tool calls cancelled by model")
			case sc, ok := <-states.C:
				if !ok {
					return
				}
				cs.handleStateChange(sc, &reconnecting)
			case err, ok := <-diag.C:
				if !ok {
					return
				}
				cs.log.Warn().Err(err).Msg("live session diagnostic")
			case d, ok := <-disc.C:
				if !ok {
					return
				}
				msg := string(d.Reason)
				if d.Err != nil {
					msg = d.Err.Error()
				}
				cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusDisconnected, msg))
				cs.Close()
				return
			}
		}
	}()
}

func (cs *ClientSession) relayContent(sc *frames.ServerContent) {
	cs.mu.Lock()
	if sc.Interrupted {
		cs.interrupted = true
	}
	dropAudio := cs.interrupted
	if sc.TurnComplete {
		cs.interrupted = false
	}
	cs.mu.Unlock()

	if sc.Interrupted {
		cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusInterrupted, ""))
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		cs.queueMessage(messages.NewTextMessage(cs.ID, messages.SourceInput, sc.InputTranscription.Text))
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			switch {
			case p.InlineData.IsAudio():
				if dropAudio {
					continue
				}
				cs.queueMessage(messages.NewAudioMessage(cs.ID,
					base64.StdEncoding.EncodeToString(p.InlineData.Data), p.InlineData.Format().MimeType()))
			case p.Text != "":
				cs.queueMessage(messages.NewTextMessage(cs.ID, messages.SourceModel, p.Text))
			}
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		cs.queueMessage(messages.NewTextMessage(cs.ID, messages.SourceOutput, sc.OutputTranscription.Text))
	}
	if sc.TurnComplete {
		cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusTurnComplete, ""))
	}
}

func (cs *ClientSession) handleStateChange(sc live.StateChange, reconnecting *bool) {
	switch sc.To {
	case live.StateReconnecting:
		if !*reconnecting {
			*reconnecting = true
			cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusReconnecting, ""))
		}
	case live.StateActive:
		if *reconnecting {
			*reconnecting = false
			cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusConnected, "Session resumed"))
		}
	}
}

// answerToolCall runs the registered function and returns its result to the
// model.
func (cs *ClientSession) answerToolCall(call live.PendingToolCall) {
	cs.log.Info().Str("function", call.Name).Str("id", call.ID).Msg("function call")
	resp := cs.functions.Dispatch(cs.ctx, call)
	if err := cs.Live.SendToolResponse(cs.ctx, resp); err != nil {
		if cs.ctx.Err() != nil {
			return
		}
		cs.log.Error().Err(err).Str("function", call.Name).Msg("failed to send tool response")
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeToolFailed, err.Error()))
	}
}

// writePump handles all outgoing messages in a single goroutine
func (cs *ClientSession) writePump() {
	defer close(cs.writeDone)
	defer func() {
		// Send close message before exiting
		cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		cs.ClientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	write := func(msg any) bool {
		cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return cs.ClientConn.WriteJSON(msg) == nil
	}

	for {
		select {
		case <-cs.CloseChan:
			// Flush what is already queued, such as the final status.
			for {
				select {
				case msg := <-cs.writeChan:
					if !write(msg) {
						return
					}
				default:
					return
				}
			}
		case msg := <-cs.writeChan:
			if !write(msg) {
				go cs.Close()
				return
			}
		}
	}
}

// queueMessage adds a message to the write queue (non-blocking)
func (cs *ClientSession) queueMessage(msg any) {
	cs.mu.RLock()
	closed := cs.closed
	cs.mu.RUnlock()
	if closed {
		return
	}
	select {
	case cs.writeChan <- msg:
	default:
		cs.log.Warn().Msg("client write queue full, dropping message")
	}
}

func (cs *ClientSession) touch() {
	cs.mu.Lock()
	cs.lastActivity = time.Now()
	cs.mu.Unlock()
}

// LastActivity is the time of the last client message.
func (cs *ClientSession) LastActivity() time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.lastActivity
}

// Close terminates the session and cleans up resources
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	started := cs.started
	subs := cs.subs
	cs.mu.Unlock()

	cs.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := cs.Live.Disconnect(ctx)

	for _, s := range subs {
		s.Close()
	}

	// Signal close (for other goroutines waiting on this)
	close(cs.CloseChan)

	if started {
		select {
		case <-cs.writeDone:
		case <-ctx.Done():
		}
	}
	cs.ClientConn.Close()
	return err
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}

func (cs *ClientSession) handleClientMessages() {
	defer cs.Close()

	for {
		messageType, message, err := cs.ClientConn.ReadMessage()
		if err != nil {
			if !cs.IsClosed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cs.log.Debug().Err(err).Msg("client read error")
			}
			return
		}
		cs.touch()

		// Binary messages are raw 16kHz PCM and stream straight through.
		if messageType == websocket.BinaryMessage {
			cs.sendAudio(message, "")
			continue
		}

		var clientMsg messages.ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid message format"))
			continue
		}
		cs.processClientMessage(&clientMsg)
	}
}

func (cs *ClientSession) processClientMessage(msg *messages.ClientMessage) {
	switch msg.Type {
	case messages.ClientAudio:
		var payload messages.AudioPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid audio payload"))
			return
		}
		audioBytes, err := base64.StdEncoding.DecodeString(payload.Data)
		if err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid base64 audio data"))
			return
		}
		cs.sendAudio(audioBytes, payload.MimeType)

	case messages.ClientText:
		var payload messages.TextPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Text == "" {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid text payload"))
			return
		}
		turnComplete := payload.TurnComplete == nil || *payload.TurnComplete
		if err := cs.Live.SendText(cs.ctx, payload.Text, turnComplete); err != nil {
			cs.reportSendError("text", err)
		}

	case messages.ClientControl:
		var payload messages.ControlPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid control payload"))
			return
		}
		cs.handleControlMessage(&payload)

	default:
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Unknown message type: "+msg.Type))
	}
}

func (cs *ClientSession) handleControlMessage(payload *messages.ControlPayload) {
	switch payload.Action {
	case messages.ActionPing:
		cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusPong, ""))
	case messages.ActionEndTurn:
		if err := cs.Live.EndTurn(cs.ctx); err != nil {
			cs.reportSendError("end_turn", err)
		}
	default:
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Unknown control action: "+payload.Action))
	}
}

func (cs *ClientSession) sendAudio(data []byte, mimeType string) {
	if len(data) == 0 {
		return
	}
	err := cs.Live.SendRealtimeAudio(cs.ctx, audio.Chunk{Data: data, MimeType: mimeType})
	var se *live.StateError
	if errors.As(err, &se) {
		// Microphone audio during a reconnect is dropped.
		cs.log.Debug().Stringer("state", se.State).Msg("audio dropped")
		return
	}
	if err != nil {
		cs.reportSendError("audio", err)
	}
}

func (cs *ClientSession) reportSendError(what string, err error) {
	if cs.ctx.Err() != nil {
		return
	}
	cs.log.Error().Err(err).Str("message", what).Msg("failed to forward to gemini")
	cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeGeminiError, err.Error()))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
