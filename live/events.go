package live

import (
	"sync"

	"github.com/room4-2/livewire/audio"
	"github.com/room4-2/livewire/frames"
)

// Topic fans one event stream out to any number of subscribers. Every
// subscriber gets its own unbounded mailbox so publishing never blocks the
// inbound loop.
type Topic[T any] struct {
	mu   sync.Mutex
	subs map[*Subscription[T]]struct{}
}

// Subscription is one consumer's view of a Topic.
type Subscription[T any] struct {
	C <-chan T

	topic *Topic[T]
	mu    sync.Mutex
	queue []T
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// Subscribe starts a new mailbox. Events published before the call are not
// delivered.
func (t *Topic[T]) Subscribe() *Subscription[T] {
	out := make(chan T)
	s := &Subscription[T]{
		C:     out,
		topic: t,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	t.mu.Lock()
	if t.subs == nil {
		t.subs = make(map[*Subscription[T]]struct{})
	}
	t.subs[s] = struct{}{}
	t.mu.Unlock()

	go s.pump(out)
	return s
}

// Close stops delivery and closes C. Undelivered events are discarded.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.topic.mu.Lock()
		delete(s.topic.subs, s)
		s.topic.mu.Unlock()
		close(s.done)
	})
}

// Pending is the number of events queued but not yet received.
func (s *Subscription[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) pump(out chan<- T) {
	defer close(out)

	var zero T
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case out <- v:
		case <-s.done:
			return
		}
	}
}

func (t *Topic[T]) publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for s := range t.subs {
		s.push(v)
	}
}

// Subscribers returns the number of open subscriptions.
func (t *Topic[T]) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// SetupCompletedEvent is published each time a connection finishes its
// handshake, including after a reconnect.
type SetupCompletedEvent struct {
	SessionID string
	Resumed   bool
	Attempt   int
}

// InterruptedEvent tells the caller to stop playback immediately.
type InterruptedEvent struct {
	DiscardedBytes int
}

// ToolCallEvent lists the calls registered from one ToolCall frame.
type ToolCallEvent struct {
	Calls []PendingToolCall
}

// DisconnectedEvent is published exactly once when a session ends. Err is
// a *FatalError unless the caller disconnected.
type DisconnectedEvent struct {
	Reason DisconnectReason
	Err    error
}

// StateChange is one accepted lifecycle transition.
type StateChange struct {
	From State
	To   State
}

// Events groups the streams a session publishes.
type Events struct {
	StateChanged          Topic[StateChange]
	SetupCompleted        Topic[SetupCompletedEvent]
	ContentReceived       Topic[*frames.ServerContent]
	AudioChunkReceived    Topic[audio.Chunk]
	AudioTurnCompleted    Topic[*audio.Asset]
	GenerationInterrupted Topic[InterruptedEvent]
	ToolCallReceived      Topic[ToolCallEvent]
	ToolCallCancelled     Topic[[]string]
	ResumptionUpdated     Topic[*frames.SessionResumptionUpdate]
	// Diagnostics carries recoverable errors: ProtocolError,
	// ToolCorrelationError and transient transport loss.
	Diagnostics  Topic[error]
	Disconnected Topic[DisconnectedEvent]
}
