package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/room4-2/livewire/audio"
	"github.com/room4-2/livewire/frames"
	"github.com/room4-2/livewire/logx"
	"github.com/room4-2/livewire/metrics"
)

const tokenStoreTimeout = 2 * time.Second

var errOutOfSequence = errors.New("frame not allowed in this state")

// Session is one logical live conversation. It survives reconnects and may
// be connected again after it reaches StateDisconnected.
type Session struct {
	id      string
	cfg     Config
	factory TransportFactory
	log     zerolog.Logger
	metrics *metrics.Collector

	// Events may be subscribed to from any goroutine, before or after Connect.
	Events *Events

	reasm   *audio.Reassembler
	tools   *Correlator
	persist *tokenWriter

	// sendSem serializes outbound writes; a channel so waiting honors ctx.
	sendSem chan struct{}

	mu        sync.Mutex
	state     machine
	conn      *connection
	gen       uint64
	token     string
	up        bool
	recon     reconnector
	runCtx    context.Context
	runCancel context.CancelFunc
	stopped   chan struct{}
}

// connection is one transport plus the goroutine reading it.
type connection struct {
	gen     uint64
	attempt int
	resumed bool
	t       Transport
	ctx     context.Context
	cancel  context.CancelFunc
	ready   chan struct{} // closed on SetupComplete
	done    chan struct{} // closed when the read loop exits

	mu      sync.Mutex
	failErr error
}

func (c *connection) fail(err error) {
	c.mu.Lock()
	if c.failErr == nil {
		c.failErr = err
	}
	c.mu.Unlock()
	c.cancel()
}

func (c *connection) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failErr
}

func (c *connection) shutdown() {
	c.cancel()
	_ = c.t.Close()
}

// NewSession prepares a session. No I/O happens until Connect.
func NewSession(factory TransportFactory, cfg Config) (*Session, error) {
	if factory == nil {
		return nil, errors.New("live: transport factory is required")
	}
	cfg.SetDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	id := cfg.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	base := logx.With("live")
	if cfg.Logger != nil {
		base = *cfg.Logger
	}
	log := base.With().Str("session", shortID(id)).Logger()

	stopped := make(chan struct{})
	close(stopped)

	s := &Session{
		id:        id,
		cfg:       cfg,
		factory:   factory,
		log:       log,
		metrics:   cfg.Metrics,
		Events:    &Events{},
		reasm:     audio.NewReassembler(cfg.MaxAudioBufferBytes, log),
		tools:     NewCorrelator(cfg.Tools, cfg.ToolScheduling, log),
		persist:   newTokenWriter(cfg.TokenStore, id, log),
		sendSem:   make(chan struct{}, 1),
		runCtx:    context.Background(),
		runCancel: func() {},
		stopped:   stopped,
	}
	s.recon.policy = cfg.policy()
	s.state.observe = func(from, to State) {
		s.log.Debug().Stringer("from", from).Stringer("to", to).Msg("state change")
		s.Events.StateChanged.publish(StateChange{From: from, To: to})
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.current()
}

// ResumptionToken returns the token that the next Setup would carry.
func (s *Session) ResumptionToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// PendingToolCalls returns a snapshot of calls awaiting a response.
func (s *Session) PendingToolCalls() map[string]PendingToolCall {
	return s.tools.Pending()
}

// Connect opens a channel, sends Setup and waits for SetupComplete or the
// handshake timeout. A failed Connect leaves the session Disconnected and is
// not retried.
func (s *Session) Connect(ctx context.Context) error {
	s.loadToken(ctx)

	s.mu.Lock()
	if st := s.state.current(); st != StateDisconnected {
		s.mu.Unlock()
		return &StateError{Op: "connect", State: st}
	}
	s.state.to(StateConnecting)
	s.recon.reset()
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.stopped = make(chan struct{})
	s.mu.Unlock()

	if err := s.open(ctx, 0); err != nil {
		s.mu.Lock()
		if s.state.current() != StateClosing {
			s.endLocked(nil)
		}
		s.mu.Unlock()
		s.log.Error().Err(err).Msg("connect failed")
		return err
	}
	return nil
}

// Disconnect closes the session and waits for the channel to shut down. It
// is idempotent and cancels any scheduled reconnect.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state.current() {
	case StateDisconnected:
		s.mu.Unlock()
		return nil
	case StateClosing:
		stopped := s.stopped
		s.mu.Unlock()
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.state.to(StateClosing)
	s.recon.cancel()
	c := s.conn
	s.conn = nil
	s.runCancel()
	s.mu.Unlock()

	var err error
	if c != nil {
		c.cancel()
		err = c.t.Close()
		select {
		case <-c.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	s.mu.Lock()
	s.endLocked(&DisconnectedEvent{Reason: ReasonClientClosed})
	s.mu.Unlock()

	// Store failures are logged by the writer.
	_ = s.persist.flush(ctx)
	return err
}

// SendContent sends conversation turns. While a BLOCKING tool call is
// pending it waits for that call's response to be sent first.
func (s *Session) SendContent(ctx context.Context, turns []*genai.Content, turnComplete bool) error {
	const op = "send content"
	f := &frames.ClientContent{Turns: turns, TurnComplete: turnComplete}
	for {
		if st := s.State(); st != StateActive {
			return &StateError{Op: op, State: st}
		}
		if err := s.tools.WaitIdle(ctx); err != nil {
			return err
		}
		c, err := s.acquire(ctx, op)
		if err != nil {
			return err
		}
		if s.tools.BlockingPending() {
			s.release()
			continue
		}
		err = s.writeActive(ctx, c, f)
		s.release()
		return err
	}
}

// SendText is SendContent with a single user text turn.
func (s *Session) SendText(ctx context.Context, text string, turnComplete bool) error {
	return s.SendContent(ctx, []*genai.Content{frames.UserText(text)}, turnComplete)
}

// EndTurn marks the current user turn complete without adding content.
func (s *Session) EndTurn(ctx context.Context) error {
	return s.SendContent(ctx, nil, true)
}

// SendRealtimeAudio streams one microphone chunk. Chunks without a mime type
// are labelled from their format, defaulting to 16kHz mono PCM.
func (s *Session) SendRealtimeAudio(ctx context.Context, chunk audio.Chunk) error {
	mimeType := chunk.MimeType
	if mimeType == "" {
		mimeType = chunk.Format.WithDefaults(audio.InputFormat).MimeType()
	}
	return s.send(ctx, "send realtime audio", &frames.RealtimeInput{
		MediaChunks: []frames.MediaChunk{{MimeType: mimeType, Data: chunk.Data}},
	})
}

// SendToolResponse answers a pending tool call. Unknown or cancelled ids
// yield a *ToolCorrelationError and leave the pending set untouched.
func (s *Session) SendToolResponse(ctx context.Context, resp *genai.FunctionResponse) error {
	c, err := s.acquire(ctx, "send tool response")
	if err != nil {
		return err
	}
	defer s.release()

	removed, err := s.tools.submit(ctx, resp, func(ctx context.Context, r *genai.FunctionResponse) error {
		return s.writeActive(ctx, c, &frames.ToolResponse{FunctionResponses: []*genai.FunctionResponse{r}})
	})

	var tce *ToolCorrelationError
	switch {
	case errors.As(err, &tce):
		s.metrics.ToolResponse("rejected")
		s.log.Warn().Err(err).Msg("tool response rejected")
		s.Events.Diagnostics.publish(err)
	case err != nil:
		s.metrics.ToolResponse("failed")
	default:
		s.metrics.ToolResponse("sent")
		if removed {
			s.metrics.ToolCallsPending(-1)
		}
	}
	return err
}

// ResetResumption forgets the held resumption token so the next connect
// starts a fresh conversation.
func (s *Session) ResetResumption(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	s.persist.put("")
	return s.persist.flush(ctx)
}

func (s *Session) send(ctx context.Context, op string, f frames.ClientFrame) error {
	c, err := s.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer s.release()
	return s.writeActive(ctx, c, f)
}

// acquire takes the send slot and returns the active connection.
func (s *Session) acquire(ctx context.Context, op string) (*connection, error) {
	if st := s.State(); st != StateActive {
		return nil, &StateError{Op: op, State: st}
	}
	select {
	case s.sendSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	st, c := s.state.current(), s.conn
	s.mu.Unlock()
	if st != StateActive || c == nil {
		s.release()
		return nil, &StateError{Op: op, State: st}
	}
	return c, nil
}

func (s *Session) release() { <-s.sendSem }

func (s *Session) writeActive(ctx context.Context, c *connection, f frames.ClientFrame) error {
	if err := s.write(ctx, c, f); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.connectionLost(c, err)
		return &ConnectionError{Op: "send", Err: err}
	}
	return nil
}

func (s *Session) write(ctx context.Context, c *connection, f frames.ClientFrame) error {
	data, err := frames.EncodeClient(f)
	if err != nil {
		return err
	}
	if err := c.t.Send(ctx, data); err != nil {
		return err
	}
	s.metrics.FrameSent(f.Kind())
	s.log.Debug().Str("frame", f.Kind()).Int("bytes", len(data)).Msg("sent")
	return nil
}

// open dials, sends Setup and waits for the handshake on the new connection.
func (s *Session) open(ctx context.Context, attempt int) error {
	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	t, err := s.factory(dialCtx)
	if err != nil {
		return &ConnectionError{Op: "dial", Err: err}
	}

	s.mu.Lock()
	if s.state.current() != StateConnecting {
		s.mu.Unlock()
		_ = t.Close()
		return &ConnectionError{Op: "dial", Err: ErrClosed}
	}
	s.gen++
	cctx, ccancel := context.WithCancel(runCtx)
	c := &connection{
		gen:     s.gen,
		attempt: attempt,
		t:       t,
		ctx:     cctx,
		cancel:  ccancel,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	setup := s.setupFrameLocked()
	c.resumed = setup.SessionResumption != nil && setup.SessionResumption.Handle != ""
	s.conn = c
	s.state.to(StateAwaitingSetupComplete)
	s.mu.Unlock()

	go s.readLoop(c)

	if err := s.write(dialCtx, c, setup); err != nil {
		s.abandon(c)
		return &ConnectionError{Op: "setup", Err: err}
	}
	s.log.Debug().Uint64("gen", c.gen).Bool("resume", c.resumed).Int("attempt", attempt).Msg("setup sent")

	timer := time.NewTimer(s.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-c.ready:
		return nil
	case <-c.done:
		err = c.err()
		if err == nil {
			err = ErrTransportLost
		}
	case <-timer.C:
		err = ErrHandshakeTimeout
	case <-dialCtx.Done():
		err = dialCtx.Err()
		if runCtx.Err() != nil {
			err = ErrClosed
		}
	}
	if s.abandon(c) {
		return nil
	}
	return &ConnectionError{Op: "handshake", Err: err}
}

// abandon detaches c unless its handshake already completed, which it
// reports.
func (s *Session) abandon(c *connection) bool {
	s.mu.Lock()
	select {
	case <-c.ready:
		s.mu.Unlock()
		return true
	default:
	}
	if s.conn == c {
		s.conn = nil
	}
	s.mu.Unlock()
	c.shutdown()
	return false
}

func (s *Session) setupFrameLocked() *frames.Setup {
	setup := &frames.Setup{
		Model:             s.cfg.Model,
		GenerationConfig:  s.cfg.GenerationConfig,
		SystemInstruction: s.cfg.SystemInstruction,
		Tools:             s.cfg.Tools,
	}
	if s.token != "" || s.cfg.EnableResumption {
		setup.SessionResumption = &frames.SessionResumptionConfig{Handle: s.token}
	}
	if s.cfg.InputAudioTranscription {
		setup.InputAudioTranscription = &frames.AudioTranscriptionConfig{}
	}
	if s.cfg.OutputAudioTranscription {
		setup.OutputAudioTranscription = &frames.AudioTranscriptionConfig{}
	}
	return setup
}

func (s *Session) readLoop(c *connection) {
	defer close(c.done)
	for {
		data, err := c.t.Receive(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				s.log.Debug().Err(err).Uint64("gen", c.gen).Msg("receive failed")
			}
			s.connectionLost(c, err)
			return
		}
		s.dispatch(c, data)
	}
}

// dispatch routes one inbound frame. It runs on the read loop only.
func (s *Session) dispatch(c *connection, data []byte) {
	f, err := frames.DecodeServer(data)
	if err != nil {
		s.protocolError("", s.State(), err)
		return
	}
	kind := f.Kind()
	s.metrics.FrameReceived(kind)

	s.mu.Lock()
	current := s.conn == c
	st := s.state.current()
	accepted := s.state.accepts(kind)
	s.mu.Unlock()

	if !current {
		s.log.Debug().Str("frame", kind).Uint64("gen", c.gen).Msg("dropping frame from stale connection")
		return
	}
	if !accepted {
		s.protocolError(kind, st, errOutOfSequence)
		return
	}

	switch f := f.(type) {
	case *frames.SetupComplete:
		s.onSetupComplete(c)
	case *frames.ServerContent:
		s.onServerContent(f)
	case *frames.ToolCall:
		s.onToolCall(f)
	case *frames.ToolCallCancellation:
		s.onToolCallCancellation(f)
	case *frames.GoAway:
		s.onGoAway(c, f)
	case *frames.SessionResumptionUpdate:
		s.onResumptionUpdate(f)
	default:
		s.protocolError(kind, st, fmt.Errorf("unhandled frame %T", f))
	}
}

func (s *Session) protocolError(kind string, st State, err error) {
	pe := &ProtocolError{Frame: kind, State: st, Err: err}
	label := kind
	if label == "" {
		label = "undecodable"
	}
	s.metrics.ProtocolError(label)
	s.log.Warn().Err(pe).Msg("dropping inbound frame")
	s.Events.Diagnostics.publish(pe)
}

func (s *Session) onSetupComplete(c *connection) {
	s.mu.Lock()
	if s.conn != c || !s.state.to(StateActive) {
		st := s.state.current()
		s.mu.Unlock()
		s.protocolError(frames.KindSetupComplete, st, errOutOfSequence)
		return
	}
	s.recon.reset()
	dropped := 0
	if c.resumed {
		s.token = ""
		s.persist.put("")
	} else {
		// A fresh server session knows nothing of calls issued before.
		dropped = s.tools.Reset()
	}
	firstUp := !s.up
	s.up = true
	close(c.ready)
	s.mu.Unlock()

	if firstUp {
		s.metrics.SessionUp()
	}
	if dropped > 0 {
		s.metrics.ToolCallsPending(-dropped)
		s.log.Warn().Int("dropped", dropped).Msg("tool calls from the previous connection dropped")
	}
	s.log.Info().Str("model", s.cfg.Model).Bool("resumed", c.resumed).Int("attempt", c.attempt).Msg("live session ready")
	s.Events.SetupCompleted.publish(SetupCompletedEvent{SessionID: s.id, Resumed: c.resumed, Attempt: c.attempt})
}

func (s *Session) onServerContent(sc *frames.ServerContent) {
	// Interruption is handled before any parts carried by the same frame.
	if sc.Interrupted {
		n := s.reasm.OnInterrupted()
		s.metrics.AudioTurn("interrupted", n)
		s.log.Debug().Int("discarded", n).Msg("generation interrupted")
		s.Events.GenerationInterrupted.publish(InterruptedEvent{DiscardedBytes: n})
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if !p.InlineData.IsAudio() {
				continue
			}
			chunk := audio.Chunk{
				Data:       p.InlineData.Data,
				Format:     p.InlineData.Format(),
				MimeType:   p.InlineData.MimeType,
				Model:      s.cfg.Model,
				ReceivedAt: time.Now(),
			}
			if s.reasm.OnChunk(chunk) {
				s.Events.AudioChunkReceived.publish(chunk)
			}
		}
	}

	s.Events.ContentReceived.publish(sc)

	if sc.TurnComplete {
		if asset, ok := s.reasm.OnTurnComplete(); ok {
			s.metrics.AudioTurn("completed", len(asset.PCM))
			s.log.Debug().Int("bytes", len(asset.PCM)).Int("chunks", asset.Chunks).Dur("duration", asset.Duration()).Msg("audio turn complete")
			s.Events.AudioTurnCompleted.publish(asset)
		}
	}
}

func (s *Session) onToolCall(tc *frames.ToolCall) {
	calls := s.tools.OnToolCall(tc.FunctionCalls)
	if len(calls) == 0 {
		return
	}
	added := len(calls)
	for _, call := range calls {
		if call.Replaced {
			added--
		}
	}
	s.metrics.ToolCallsPending(added)
	for _, call := range calls {
		s.log.Debug().Str("id", call.ID).Str("function", call.Name).Bool("blocking", call.Blocking()).Msg("tool call")
		if call.Replaced {
			s.Events.Diagnostics.publish(&ToolCorrelationError{ID: call.ID, Reason: ToolDuplicateID})
		}
	}
	s.Events.ToolCallReceived.publish(ToolCallEvent{Calls: calls})
}

func (s *Session) onToolCallCancellation(tc *frames.ToolCallCancellation) {
	removed := s.tools.OnCancellation(tc.IDs)
	s.metrics.ToolCallsPending(-len(removed))
	s.log.Debug().Strs("ids", tc.IDs).Int("removed", len(removed)).Msg("tool calls cancelled")
	s.Events.ToolCallCancelled.publish(tc.IDs)
}

func (s *Session) onGoAway(c *connection, g *frames.GoAway) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != c {
		return
	}

	s.log.Warn().
		Str("code", g.ErrorCode).
		Str("message", g.ErrorMessage).
		Bool("reconnect", g.Reconnect).
		Float64("retry_after_seconds", g.RetryAfterSeconds).
		Msg("server sent goAway")

	fatal := &FatalError{Reason: ReasonGoAway, Code: g.ErrorCode, Message: g.ErrorMessage}
	retry := fmt.Errorf("server requested reconnect: %s", g.ErrorMessage)

	switch s.state.current() {
	case StateActive:
		s.conn = nil
		go c.shutdown()
		if g.Reconnect {
			s.beginReconnectLocked(g.RetryAfter(), retry)
		} else {
			s.endLocked(&DisconnectedEvent{Reason: ReasonGoAway, Err: fatal})
		}
	case StateAwaitingSetupComplete:
		// The opener is waiting on this connection and decides what follows.
		if g.Reconnect {
			c.fail(retry)
		} else {
			c.fail(fatal)
		}
	}
}

func (s *Session) onResumptionUpdate(u *frames.SessionResumptionUpdate) {
	s.Events.ResumptionUpdated.publish(u)
	if !u.Usable() {
		return
	}
	token := u.Token()

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.log.Debug().Str("status", u.Status).Msg("resumption token updated")
	s.persist.put(token)
}

// connectionLost handles a read or write failure on c.
func (s *Session) connectionLost(c *connection, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != c {
		return
	}

	lost := fmt.Errorf("%w: %v", ErrTransportLost, cause)
	switch s.state.current() {
	case StateActive:
		s.conn = nil
		go c.shutdown()
		if s.recon.policy.Enabled {
			s.beginReconnectLocked(s.recon.policy.Delay, lost)
			return
		}
		s.endLocked(&DisconnectedEvent{
			Reason: ReasonTransportLost,
			Err:    &FatalError{Reason: ReasonTransportLost, Err: lost},
		})
	default:
		c.fail(lost)
	}
}

// beginReconnectLocked enters Reconnecting and schedules the next attempt,
// or ends the session once the attempt budget is spent.
func (s *Session) beginReconnectLocked(delay time.Duration, cause error) {
	if !s.state.to(StateReconnecting) {
		s.log.Error().Stringer("state", s.state.current()).Msg("cannot enter reconnecting")
		return
	}
	if n := s.reasm.Reset(); n > 0 {
		s.log.Debug().Int("bytes", n).Msg("discarding partial audio turn")
	}

	attempt, ok := s.recon.next()
	if !ok {
		s.metrics.ReconnectAttempt("exhausted")
		s.log.Error().Err(cause).Int("max_attempts", s.recon.policy.MaxAttempts).Msg("reconnect attempts exhausted")
		s.endLocked(&DisconnectedEvent{
			Reason: ReasonReconnectExhausted,
			Err: &FatalError{
				Reason:  ReasonReconnectExhausted,
				Message: fmt.Sprintf("gave up after %d attempts", s.recon.policy.MaxAttempts),
				Err:     cause,
			},
		})
		return
	}

	s.metrics.ReconnectAttempt("scheduled")
	s.log.Warn().Err(cause).Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")
	s.Events.Diagnostics.publish(cause)
	s.recon.schedule(delay, func() { s.reconnect(attempt) })
}

func (s *Session) reconnect(attempt int) {
	s.mu.Lock()
	if s.state.current() != StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.state.to(StateConnecting)
	runCtx := s.runCtx
	s.mu.Unlock()

	err := s.open(runCtx, attempt)
	if err == nil {
		s.metrics.ReconnectAttempt("succeeded")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.state.current(); st != StateConnecting && st != StateAwaitingSetupComplete {
		return
	}
	s.metrics.ReconnectAttempt("failed")

	var fatal *FatalError
	if errors.As(err, &fatal) {
		s.endLocked(&DisconnectedEvent{Reason: fatal.Reason, Err: fatal})
		return
	}
	s.beginReconnectLocked(s.recon.policy.Delay, err)
}

// endLocked tears the run down and moves to Disconnected. ev, when not nil,
// is published as the single terminal event.
func (s *Session) endLocked(ev *DisconnectedEvent) {
	if s.state.current() == StateDisconnected {
		return
	}
	s.recon.cancel()
	if c := s.conn; c != nil {
		s.conn = nil
		go c.shutdown()
	}
	s.runCancel()

	if n := s.reasm.Reset(); n > 0 {
		s.log.Debug().Int("bytes", n).Msg("discarding partial audio turn")
	}
	if n := s.tools.Reset(); n > 0 {
		s.metrics.ToolCallsPending(-n)
	}

	s.state.to(StateDisconnected)
	close(s.stopped)

	if ev == nil {
		return
	}
	if s.up {
		s.metrics.SessionDown(string(ev.Reason))
		s.up = false
	}
	if ev.Err != nil {
		s.log.Error().Err(ev.Err).Str("reason", string(ev.Reason)).Msg("live session ended")
	} else {
		s.log.Info().Str("reason", string(ev.Reason)).Msg("live session closed")
	}
	s.Events.Disconnected.publish(*ev)
}

func (s *Session) loadToken(ctx context.Context) {
	if s.cfg.TokenStore == nil {
		return
	}
	s.mu.Lock()
	have := s.token != ""
	s.mu.Unlock()
	if have {
		return
	}
	// Writes queued by an earlier run land before the read.
	_ = s.persist.flush(ctx)

	token, err := s.cfg.TokenStore.Load(ctx, s.id)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to load resumption token")
		return
	}
	if token == "" {
		return
	}
	s.mu.Lock()
	if s.token == "" {
		s.token = token
	}
	s.mu.Unlock()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
