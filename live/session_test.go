package live

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/room4-2/livewire/audio"
	"github.com/room4-2/livewire/frames"
	"github.com/room4-2/livewire/resumption"
)

func audioPart(data []byte) frames.Part {
	return frames.Part{InlineData: &frames.InlineData{
		MimeType:      "audio/pcm;rate=24000",
		Data:          data,
		SampleRate:    24000,
		Channels:      1,
		BitsPerSample: 16,
	}}
}

func content(turnComplete bool, parts ...frames.Part) *frames.ServerContent {
	sc := &frames.ServerContent{TurnComplete: turnComplete}
	if len(parts) > 0 {
		sc.ModelTurn = &frames.Candidate{Role: "model", Parts: parts}
	}
	return sc
}

func TestConnectSendsSetupAndBecomesActive(t *testing.T) {
	srv := newFakeServer(true)
	s := newTestSession(t, srv, func(c *Config) {
		c.SystemInstruction = genai.NewContentFromText("be brief", genai.RoleUser)
	})
	ready := subscribe(t, &s.Events.SetupCompleted)

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateActive, s.State())

	ev := recv(t, ready)
	assert.Equal(t, s.ID(), ev.SessionID)
	assert.False(t, ev.Resumed)

	tr := srv.next(t)
	sent := tr.frames()
	require.Len(t, sent, 1)
	setup, ok := sent[0].frame.(*frames.Setup)
	require.True(t, ok)
	assert.Equal(t, "models/gemini-2.0-flash-exp", setup.Model)
	assert.Nil(t, setup.SessionResumption)
	require.NotNil(t, setup.SystemInstruction)

	err := s.Connect(context.Background())
	var se *StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StateActive, se.State)
}

func TestSendOutsideActiveFailsFast(t *testing.T) {
	s := newTestSession(t, newFakeServer(true), nil)

	var se *StateError
	require.ErrorAs(t, s.SendText(context.Background(), "hi", true), &se)
	assert.Equal(t, StateDisconnected, se.State)
	require.ErrorAs(t, s.SendRealtimeAudio(context.Background(), audio.Chunk{Data: []byte{1}}), &se)
	require.ErrorAs(t, s.SendToolResponse(context.Background(), &genai.FunctionResponse{ID: "x"}), &se)
}

func TestNoClientFramesBeforeSetupComplete(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 20; i++ {
		srv := newFakeServer(false)
		s := newTestSession(t, srv, func(c *Config) { c.HandshakeTimeout = 2 * time.Second })

		stop := make(chan struct{})
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			seed := rng.Int63()
			wg.Add(1)
			go func() {
				defer wg.Done()
				r := rand.New(rand.NewSource(seed))
				ctx := context.Background()
				for {
					select {
					case <-stop:
						return
					default:
					}
					switch r.Intn(3) {
					case 0:
						_ = s.SendText(ctx, "hi", true)
					case 1:
						_ = s.SendRealtimeAudio(ctx, audio.Chunk{Data: []byte{1, 2}})
					case 2:
						_ = s.SendToolResponse(ctx, &genai.FunctionResponse{ID: "nope", Name: "f"})
					}
					time.Sleep(time.Duration(r.Intn(300)) * time.Microsecond)
				}
			}()
		}

		connectErr := make(chan error, 1)
		go func() { connectErr <- s.Connect(context.Background()) }()

		tr := srv.next(t)
		require.Eventually(t, func() bool { return len(tr.frames()) > 0 }, time.Second, time.Millisecond)
		time.Sleep(time.Duration(rng.Intn(20)) * time.Millisecond)
		tr.ack()
		require.NoError(t, <-connectErr)
		time.Sleep(5 * time.Millisecond)
		close(stop)
		wg.Wait()

		sent := tr.frames()
		require.NotEmpty(t, sent)
		assert.Equal(t, frames.KindSetup, sent[0].frame.Kind())
		for _, f := range sent[1:] {
			assert.True(t, f.afterAck, "%s sent before setupComplete", f.frame.Kind())
			assert.NotEqual(t, frames.KindSetup, f.frame.Kind())
		}
		assert.False(t, tr.overlap.Load(), "concurrent writes on the transport")
		require.NoError(t, s.Disconnect(context.Background()))
	}
}

func TestHandshakeTimeoutDisconnectsWithoutRetry(t *testing.T) {
	srv := newFakeServer(false)
	s := newTestSession(t, srv, func(c *Config) {
		c.HandshakeTimeout = 100 * time.Millisecond
		c.AutoReconnect = true
	})
	gone := subscribe(t, &s.Events.Disconnected)

	err := s.Connect(context.Background())
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "handshake", ce.Op)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Equal(t, StateDisconnected, s.State())

	tr := srv.next(t)
	assert.Eventually(t, tr.isClosed, time.Second, 10*time.Millisecond)
	noEvent(t, gone, 150*time.Millisecond)
	assert.Equal(t, int32(1), srv.dials.Load())

	srv.autoAck.Store(true)
	require.NoError(t, s.Connect(context.Background()), "caller may connect again")
}

func TestConnectCancelTearsDownChannel(t *testing.T) {
	srv := newFakeServer(false)
	s := newTestSession(t, srv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Connect(ctx) }()

	tr := srv.next(t)
	cancel()

	err := <-errc
	assert.ErrorIs(t, err, context.Canceled)
	assert.Eventually(t, tr.isClosed, time.Second, 10*time.Millisecond)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestDialFailureIsConnectionError(t *testing.T) {
	srv := newFakeServer(true)
	srv.setDialErr(errors.New("refused"))
	s := newTestSession(t, srv, nil)

	var ce *ConnectionError
	require.ErrorAs(t, s.Connect(context.Background()), &ce)
	assert.Equal(t, "dial", ce.Op)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestAudioTurnReassembly(t *testing.T) {
	s, _, tr := connected(t, nil)
	chunks := subscribe(t, &s.Events.AudioChunkReceived)
	turns := subscribe(t, &s.Events.AudioTurnCompleted)
	contentSub := subscribe(t, &s.Events.ContentReceived)

	var want []byte
	for i := 0; i < 5; i++ {
		data := bytes.Repeat([]byte{byte(i + 1)}, 100+i)
		want = append(want, data...)
		tr.push(content(false, frames.Part{Text: "x"}, audioPart(data)))
	}
	tr.push(content(true))

	for i := 0; i < 5; i++ {
		c := recv(t, chunks)
		assert.Equal(t, audio.OutputFormat, c.Format)
	}
	asset := recv(t, turns)
	assert.Equal(t, want, asset.PCM)
	assert.Len(t, asset.WAV, audio.WAVHeaderSize+len(want))
	assert.Equal(t, audio.OutputFormat, asset.Format)

	var last *frames.ServerContent
	for i := 0; i < 6; i++ {
		last = recv(t, contentSub)
	}
	assert.True(t, last.TurnComplete)
	noEvent(t, turns, 50*time.Millisecond)
}

func TestInterruptionDiscardsTurn(t *testing.T) {
	s, _, tr := connected(t, nil)
	interrupted := subscribe(t, &s.Events.GenerationInterrupted)
	turns := subscribe(t, &s.Events.AudioTurnCompleted)

	tr.push(content(false, audioPart([]byte{1, 2, 3})))
	late := content(false, audioPart([]byte{4, 5}))
	late.Interrupted = true
	tr.push(late)
	tr.push(content(false, audioPart([]byte{6})))
	tr.push(content(true))

	ev := recv(t, interrupted)
	assert.Equal(t, 3, ev.DiscardedBytes)

	tr.push(content(false, audioPart([]byte{9, 9})))
	tr.push(content(true))

	asset := recv(t, turns)
	assert.Equal(t, []byte{9, 9}, asset.PCM, "interrupted turn must not produce an asset")
}

func toolSession(t *testing.T) (*Session, *fakeTransport) {
	s, _, tr := connected(t, func(c *Config) {
		c.Tools = []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{
			{Name: "lookup", Behavior: genai.BehaviorBlocking},
			{Name: "notify", Behavior: genai.BehaviorNonBlocking},
		}}}
		c.ToolScheduling = map[string]genai.FunctionResponseScheduling{
			"notify": genai.FunctionResponseSchedulingWhenIdle,
		}
	})
	return s, tr
}

func TestToolResponseCorrelation(t *testing.T) {
	s, tr := toolSession(t)
	calls := subscribe(t, &s.Events.ToolCallReceived)
	cancelled := subscribe(t, &s.Events.ToolCallCancelled)
	ctx := context.Background()

	tr.push(&frames.ToolCall{FunctionCalls: []*genai.FunctionCall{
		{ID: "c1", Name: "lookup", Args: map[string]any{"q": "menu"}},
		{ID: "c2", Name: "notify"},
	}})
	ev := recv(t, calls)
	require.Len(t, ev.Calls, 2)
	assert.True(t, ev.Calls[0].Blocking())
	assert.False(t, ev.Calls[1].Blocking())
	assert.Equal(t, "menu", ev.Calls[0].Args["q"])

	before := s.PendingToolCalls()
	require.Len(t, before, 2)

	var tce *ToolCorrelationError
	err := s.SendToolResponse(ctx, &genai.FunctionResponse{ID: "never-issued", Name: "lookup"})
	require.ErrorAs(t, err, &tce)
	assert.Equal(t, ToolUnknownID, tce.Reason)
	assert.Equal(t, before, s.PendingToolCalls())

	tr.push(&frames.ToolCallCancellation{IDs: []string{"c2"}})
	assert.Equal(t, []string{"c2"}, recv(t, cancelled))
	after := s.PendingToolCalls()
	require.Len(t, after, 1)

	err = s.SendToolResponse(ctx, &genai.FunctionResponse{ID: "c2", Name: "notify"})
	require.ErrorAs(t, err, &tce)
	assert.Equal(t, ToolCancelledID, tce.Reason)
	assert.Equal(t, after, s.PendingToolCalls())

	require.NoError(t, s.SendToolResponse(ctx, &genai.FunctionResponse{ID: "c1", Response: map[string]any{"output": "burgers"}}))
	assert.Empty(t, s.PendingToolCalls())

	sent := tr.frames()
	resp, ok := sent[len(sent)-1].frame.(*frames.ToolResponse)
	require.True(t, ok)
	require.Len(t, resp.FunctionResponses, 1)
	assert.Equal(t, "c1", resp.FunctionResponses[0].ID)
	assert.Equal(t, "lookup", resp.FunctionResponses[0].Name)
}

func TestDuplicateToolCallIDIsDiagnosed(t *testing.T) {
	s, tr := toolSession(t)
	calls := subscribe(t, &s.Events.ToolCallReceived)
	diags := subscribe(t, &s.Events.Diagnostics)

	tr.push(&frames.ToolCall{FunctionCalls: []*genai.FunctionCall{{ID: "c1", Name: "lookup"}}})
	recv(t, calls)
	tr.push(&frames.ToolCall{FunctionCalls: []*genai.FunctionCall{{ID: "c1", Name: "notify"}}})
	ev := recv(t, calls)
	require.Len(t, ev.Calls, 1)
	assert.True(t, ev.Calls[0].Replaced)

	var tce *ToolCorrelationError
	require.ErrorAs(t, recv(t, diags), &tce)
	assert.Equal(t, "c1", tce.ID)
	assert.Equal(t, ToolDuplicateID, tce.Reason)

	pending := s.PendingToolCalls()
	require.Len(t, pending, 1)
	assert.Equal(t, "notify", pending["c1"].Name)
}

func TestFreshReconnectDropsStaleToolCalls(t *testing.T) {
	s, srv, tr := connected(t, func(c *Config) {
		c.AutoReconnect = true
		c.Tools = []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{
			{Name: "lookup", Behavior: genai.BehaviorBlocking},
		}}}
	})
	calls := subscribe(t, &s.Events.ToolCallReceived)
	ready := subscribe(t, &s.Events.SetupCompleted)

	tr.push(&frames.ToolCall{FunctionCalls: []*genai.FunctionCall{{ID: "b1", Name: "lookup"}}})
	recv(t, calls)
	require.True(t, s.tools.BlockingPending())

	tr.Close()
	next := srv.next(t)
	ev := recv(t, ready)
	assert.False(t, ev.Resumed)
	assert.Empty(t, s.PendingToolCalls())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.SendText(ctx, "still there?", true))
	assert.Equal(t, []string{frames.KindSetup, frames.KindClientContent}, next.kinds())

	var tce *ToolCorrelationError
	err := s.SendToolResponse(ctx, &genai.FunctionResponse{ID: "b1"})
	require.ErrorAs(t, err, &tce)
	assert.Equal(t, ToolUnknownID, tce.Reason)
}

func TestResumedReconnectKeepsToolCalls(t *testing.T) {
	s, srv, tr := connected(t, func(c *Config) {
		c.AutoReconnect = true
		c.EnableResumption = true
		c.Tools = []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{
			{Name: "lookup", Behavior: genai.BehaviorBlocking},
		}}}
	})
	calls := subscribe(t, &s.Events.ToolCallReceived)
	updates := subscribe(t, &s.Events.ResumptionUpdated)
	ready := subscribe(t, &s.Events.SetupCompleted)

	tr.push(&frames.SessionResumptionUpdate{NewHandle: "tok-1"})
	recv(t, updates)
	tr.push(&frames.ToolCall{FunctionCalls: []*genai.FunctionCall{{ID: "b1", Name: "lookup"}}})
	recv(t, calls)

	tr.Close()
	next := srv.next(t)
	ev := recv(t, ready)
	assert.True(t, ev.Resumed)
	require.Contains(t, s.PendingToolCalls(), "b1")

	ctx := context.Background()
	require.NoError(t, s.SendToolResponse(ctx, &genai.FunctionResponse{ID: "b1", Response: map[string]any{"output": "ok"}}))
	require.NoError(t, s.SendText(ctx, "thanks", true))
	assert.Equal(t, []string{frames.KindSetup, frames.KindToolResponse, frames.KindClientContent}, next.kinds())
}

func TestBlockingToolCallGatesContent(t *testing.T) {
	s, tr := toolSession(t)
	calls := subscribe(t, &s.Events.ToolCallReceived)

	tr.push(&frames.ToolCall{FunctionCalls: []*genai.FunctionCall{{ID: "b1", Name: "lookup"}}})
	recv(t, calls)

	done := make(chan error, 1)
	go func() { done <- s.SendText(context.Background(), "are you there?", true) }()

	select {
	case err := <-done:
		t.Fatalf("content sent while blocking call pending: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, s.SendToolResponse(context.Background(), &genai.FunctionResponse{ID: "b1", Response: map[string]any{"ok": true}}))
	require.NoError(t, <-done)

	kinds := tr.kinds()
	assert.Equal(t, []string{frames.KindSetup, frames.KindToolResponse, frames.KindClientContent}, kinds)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	tr.push(&frames.ToolCall{FunctionCalls: []*genai.FunctionCall{{ID: "b2", Name: "lookup"}}})
	recv(t, calls)
	assert.ErrorIs(t, s.SendText(ctx, "still there?", true), context.DeadlineExceeded)
	assert.Equal(t, StateActive, s.State(), "cancelling a send leaves the session open")
}

func TestNonBlockingSchedulingPassThrough(t *testing.T) {
	s, tr := toolSession(t)
	calls := subscribe(t, &s.Events.ToolCallReceived)

	tr.push(&frames.ToolCall{FunctionCalls: []*genai.FunctionCall{{ID: "n1", Name: "notify"}, {ID: "n2", Name: "notify"}}})
	recv(t, calls)

	// Non-blocking calls never gate content.
	require.NoError(t, s.SendText(context.Background(), "go on", true))

	require.NoError(t, s.SendToolResponse(context.Background(), &genai.FunctionResponse{
		ID: "n1", Scheduling: genai.FunctionResponseSchedulingInterrupt,
	}))
	require.NoError(t, s.SendToolResponse(context.Background(), &genai.FunctionResponse{ID: "n2"}))

	sent := tr.frames()
	first := sent[len(sent)-2].frame.(*frames.ToolResponse).FunctionResponses[0]
	second := sent[len(sent)-1].frame.(*frames.ToolResponse).FunctionResponses[0]
	assert.Equal(t, genai.FunctionResponseSchedulingInterrupt, first.Scheduling)
	assert.Equal(t, genai.FunctionResponseSchedulingWhenIdle, second.Scheduling)
}

func TestGoAwayReconnectsWithResumptionToken(t *testing.T) {
	s, srv, tr := connected(t, func(c *Config) {
		c.AutoReconnect = false
		c.EnableResumption = true
	})
	updates := subscribe(t, &s.Events.ResumptionUpdated)
	ready := subscribe(t, &s.Events.SetupCompleted)
	gone := subscribe(t, &s.Events.Disconnected)

	tr.push(&frames.SessionResumptionUpdate{ResumptionToken: "tok-1", Status: "ok"})
	recv(t, updates)
	assert.Equal(t, "tok-1", s.ResumptionToken())

	start := time.Now()
	tr.push(&frames.GoAway{Reconnect: true, RetryAfterSeconds: 0.3})

	require.Eventually(t, func() bool { return s.State() != StateActive }, time.Second, 5*time.Millisecond)
	var se *StateError
	assert.ErrorAs(t, s.SendText(context.Background(), "hello?", true), &se)
	assert.Eventually(t, tr.isClosed, time.Second, 10*time.Millisecond)

	next := srv.next(t)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	ev := recv(t, ready)
	assert.True(t, ev.Resumed)
	assert.Equal(t, 1, ev.Attempt)

	sent := next.frames()
	require.NotEmpty(t, sent)
	setup, ok := sent[0].frame.(*frames.Setup)
	require.True(t, ok)
	require.NotNil(t, setup.SessionResumption)
	assert.Equal(t, "tok-1", setup.SessionResumption.Handle)

	require.NoError(t, s.SendText(context.Background(), "hello again", true))
	assert.Empty(t, s.ResumptionToken(), "a successful resume consumes the token")
	noEvent(t, gone, 50*time.Millisecond)
}

func TestTerminalGoAway(t *testing.T) {
	s, srv, tr := connected(t, func(c *Config) { c.AutoReconnect = true })
	gone := subscribe(t, &s.Events.Disconnected)

	tr.push(&frames.GoAway{ErrorCode: "ABORTED", ErrorMessage: "session expired"})

	ev := recv(t, gone)
	assert.Equal(t, ReasonGoAway, ev.Reason)
	var fe *FatalError
	require.ErrorAs(t, ev.Err, &fe)
	assert.Equal(t, "ABORTED", fe.Code)
	assert.Equal(t, "session expired", fe.Message)
	assert.Equal(t, StateDisconnected, s.State())

	noEvent(t, gone, 100*time.Millisecond)
	assert.Equal(t, int32(1), srv.dials.Load())
	require.NoError(t, s.Disconnect(context.Background()))
	noEvent(t, gone, 50*time.Millisecond)
}

func TestReconnectAttemptsAreBounded(t *testing.T) {
	s, srv, tr := connected(t, func(c *Config) {
		c.AutoReconnect = true
		c.MaxReconnectAttempts = 2
		c.ReconnectDelay = 10 * time.Millisecond
	})
	gone := subscribe(t, &s.Events.Disconnected)
	diags := subscribe(t, &s.Events.Diagnostics)

	srv.setDialErr(errors.New("connection refused"))
	tr.Close()

	ev := recv(t, gone)
	assert.Equal(t, ReasonReconnectExhausted, ev.Reason)
	assert.True(t, IsFatal(ev.Err))
	var ce *ConnectionError
	assert.ErrorAs(t, ev.Err, &ce, "wraps the last attempt's error")

	assert.Equal(t, int32(3), srv.dials.Load(), "initial dial plus two attempts")
	assert.ErrorIs(t, recv(t, diags), ErrTransportLost)

	noEvent(t, gone, 100*time.Millisecond)
	assert.Equal(t, int32(3), srv.dials.Load())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestNoReconnectDisablesGoAwayReconnect(t *testing.T) {
	s, srv, tr := connected(t, func(c *Config) {
		c.AutoReconnect = true
		c.MaxReconnectAttempts = NoReconnect
	})
	gone := subscribe(t, &s.Events.Disconnected)

	tr.push(&frames.GoAway{Reconnect: true})

	ev := recv(t, gone)
	assert.Equal(t, ReasonReconnectExhausted, ev.Reason)
	assert.Equal(t, StateDisconnected, s.State())
	noEvent(t, gone, 50*time.Millisecond)
	assert.Equal(t, int32(1), srv.dials.Load())
}

func TestZeroAttemptsMeansDefault(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()
	assert.Equal(t, DefaultMaxReconnectAttempts, cfg.MaxReconnectAttempts)

	cfg = Config{MaxReconnectAttempts: NoReconnect}
	cfg.SetDefaults()
	require.NoError(t, cfg.validate())
	assert.Equal(t, 0, cfg.policy().MaxAttempts)
}

func TestReconnectCounterResetsOnSetupComplete(t *testing.T) {
	s, srv, tr := connected(t, func(c *Config) {
		c.AutoReconnect = true
		c.MaxReconnectAttempts = 1
	})
	ready := subscribe(t, &s.Events.SetupCompleted)
	gone := subscribe(t, &s.Events.Disconnected)

	for i := 0; i < 3; i++ {
		tr.Close()
		tr = srv.next(t)
		ev := recv(t, ready)
		assert.Equal(t, 1, ev.Attempt)
	}
	assert.Equal(t, StateActive, s.State())
	noEvent(t, gone, 50*time.Millisecond)
}

func TestTransportLossWithoutAutoReconnect(t *testing.T) {
	s, srv, tr := connected(t, func(c *Config) { c.AutoReconnect = false })
	gone := subscribe(t, &s.Events.Disconnected)

	tr.Close()
	ev := recv(t, gone)
	assert.Equal(t, ReasonTransportLost, ev.Reason)
	assert.ErrorIs(t, ev.Err, ErrTransportLost)
	assert.Equal(t, int32(1), srv.dials.Load())
}

func TestSendFailureTriggersReconnect(t *testing.T) {
	s, srv, tr := connected(t, func(c *Config) { c.AutoReconnect = true })
	ready := subscribe(t, &s.Events.SetupCompleted)

	tr.setSendErr(errors.New("broken pipe"))
	var ce *ConnectionError
	require.ErrorAs(t, s.SendText(context.Background(), "hi", true), &ce)
	assert.Equal(t, "send", ce.Op)

	srv.next(t)
	recv(t, ready)
	require.NoError(t, s.SendText(context.Background(), "hi", true))
}

func TestDisconnectIsIdempotentAndCancelsReconnect(t *testing.T) {
	s, srv, tr := connected(t, nil)
	gone := subscribe(t, &s.Events.Disconnected)

	tr.push(&frames.GoAway{Reconnect: true, RetryAfterSeconds: 0.2})
	require.Eventually(t, func() bool { return s.State() == StateReconnecting }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Disconnect(context.Background()))
	require.NoError(t, s.Disconnect(context.Background()))

	ev := recv(t, gone)
	assert.Equal(t, ReasonClientClosed, ev.Reason)
	assert.NoError(t, ev.Err)

	noEvent(t, gone, 300*time.Millisecond)
	assert.Equal(t, int32(1), srv.dials.Load(), "scheduled reconnect must not fire")
	assert.Equal(t, StateDisconnected, s.State())
}

func TestDisconnectClosesTransport(t *testing.T) {
	s, _, tr := connected(t, nil)
	require.NoError(t, s.Disconnect(context.Background()))
	assert.True(t, tr.isClosed())

	var se *StateError
	assert.ErrorAs(t, s.SendText(context.Background(), "bye", true), &se)
}

func TestProtocolErrorsAreDropped(t *testing.T) {
	srv := newFakeServer(false)
	s := newTestSession(t, srv, nil)
	diags := subscribe(t, &s.Events.Diagnostics)
	contentSub := subscribe(t, &s.Events.ContentReceived)

	errc := make(chan error, 1)
	go func() { errc <- s.Connect(context.Background()) }()
	tr := srv.next(t)

	tr.push(content(false, frames.Part{Text: "too early"}))
	tr.pushRaw(`{"bogus":true}`)
	tr.pushRaw(`not json`)
	tr.ack()
	require.NoError(t, <-errc)

	var pe *ProtocolError
	require.ErrorAs(t, recv(t, diags), &pe)
	assert.Equal(t, frames.KindServerContent, pe.Frame)
	assert.Equal(t, StateAwaitingSetupComplete, pe.State)

	var de *frames.DecodeError
	require.ErrorAs(t, recv(t, diags), &de)
	assert.Equal(t, frames.CodeUnknownKind, de.Code)
	require.ErrorAs(t, recv(t, diags), &de)
	assert.Equal(t, frames.CodeMalformed, de.Code)

	tr.push(&frames.SetupComplete{})
	require.ErrorAs(t, recv(t, diags), &pe)
	assert.Equal(t, frames.KindSetupComplete, pe.Frame)

	tr.push(content(true, frames.Part{Text: "hello"}))
	assert.Equal(t, "hello", recv(t, contentSub).Text())
	assert.Equal(t, StateActive, s.State())
}

func TestConcurrentSendsAreSerialized(t *testing.T) {
	s, _, tr := connected(t, nil)

	const workers, each = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				assert.NoError(t, s.SendRealtimeAudio(context.Background(), audio.Chunk{Data: []byte{byte(i)}}))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, tr.frames(), 1+workers*each)
	assert.False(t, tr.overlap.Load())

	rt := tr.frames()[1].frame.(*frames.RealtimeInput)
	assert.Equal(t, "audio/pcm;rate=16000", rt.MediaChunks[0].MimeType)
}

func TestTokenStoreRoundTrip(t *testing.T) {
	store := resumption.NewMemory(0)
	require.NoError(t, store.Save(context.Background(), "sess-1", "tok-0"))

	s, _, tr := connected(t, func(c *Config) {
		c.SessionID = "sess-1"
		c.TokenStore = store
	})
	setup := tr.frames()[0].frame.(*frames.Setup)
	require.NotNil(t, setup.SessionResumption)
	assert.Equal(t, "tok-0", setup.SessionResumption.Handle)

	// The resume consumed tok-0, so a later Connect must not offer it again.
	assert.Eventually(t, func() bool {
		tok, _ := store.Load(context.Background(), "sess-1")
		return tok == ""
	}, time.Second, 10*time.Millisecond)

	tr.push(&frames.SessionResumptionUpdate{NewHandle: "tok-1"})
	assert.Eventually(t, func() bool {
		tok, _ := store.Load(context.Background(), "sess-1")
		return tok == "tok-1"
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.ResetResumption(context.Background()))
	tok, err := store.Load(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.Empty(t, s.ResumptionToken())
}

// slowStore blocks every Save until release is closed.
type slowStore struct {
	*resumption.Memory
	release chan struct{}
	saves   chan string
}

func (s *slowStore) Save(ctx context.Context, id, token string) error {
	s.saves <- token
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Memory.Save(ctx, id, token)
}

func TestTokenPersistenceDoesNotStallInbound(t *testing.T) {
	store := &slowStore{
		Memory:  resumption.NewMemory(0),
		release: make(chan struct{}),
		saves:   make(chan string, 8),
	}
	s, _, tr := connected(t, func(c *Config) {
		c.SessionID = "sess-2"
		c.TokenStore = store
	})
	received := subscribe(t, &s.Events.ContentReceived)

	tr.push(&frames.SessionResumptionUpdate{NewHandle: "tok-1"})
	select {
	case tok := <-store.saves:
		assert.Equal(t, "tok-1", tok)
	case <-time.After(time.Second):
		t.Fatal("token was not persisted")
	}

	// Frames keep flowing while the first save is stuck.
	tr.push(&frames.SessionResumptionUpdate{NewHandle: "tok-2"})
	tr.push(&frames.SessionResumptionUpdate{NewHandle: "tok-3"})
	tr.push(content(true, frames.Part{Text: "hi"}))
	assert.Equal(t, "hi", recv(t, received).Text())
	assert.Equal(t, "tok-3", s.ResumptionToken())

	close(store.release)
	select {
	case tok := <-store.saves:
		assert.Equal(t, "tok-3", tok, "only the latest queued token is written")
	case <-time.After(time.Second):
		t.Fatal("latest token was not persisted")
	}
	require.NoError(t, s.persist.flush(context.Background()))
	tok, err := store.Memory.Load(context.Background(), "sess-2")
	require.NoError(t, err)
	assert.Equal(t, "tok-3", tok)
	assert.Empty(t, store.saves)
}
