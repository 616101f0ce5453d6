package live

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// PendingToolCall is a model-issued call awaiting a response.
type PendingToolCall struct {
	ID       string
	Name     string
	Args     map[string]any
	Behavior genai.Behavior
	// Scheduling is the default hint applied to NON_BLOCKING responses that
	// do not set one.
	Scheduling genai.FunctionResponseScheduling
	ReceivedAt time.Time
	// Replaced is set when the call took over the id of an earlier pending call.
	Replaced bool
}

// Blocking reports whether the call gates further client content.
func (p *PendingToolCall) Blocking() bool {
	return p.Behavior != genai.BehaviorNonBlocking
}

// Correlator matches tool responses to outstanding calls by id.
type Correlator struct {
	mu         sync.Mutex
	behavior   map[string]genai.Behavior
	scheduling map[string]genai.FunctionResponseScheduling
	pending    map[string]*PendingToolCall
	cancelled  map[string]struct{}

	blocking int
	idle     chan struct{} // closed while blocking == 0

	log zerolog.Logger
	now func() time.Time
}

// NewCorrelator indexes the declared behavior of every function in tools.
// scheduling optionally sets a per-function default hint.
func NewCorrelator(tools []*genai.Tool, scheduling map[string]genai.FunctionResponseScheduling, log zerolog.Logger) *Correlator {
	c := &Correlator{
		behavior:   make(map[string]genai.Behavior),
		scheduling: scheduling,
		pending:    make(map[string]*PendingToolCall),
		cancelled:  make(map[string]struct{}),
		idle:       make(chan struct{}),
		log:        log,
		now:        time.Now,
	}
	close(c.idle)
	for _, tool := range tools {
		if tool == nil {
			continue
		}
		for _, fd := range tool.FunctionDeclarations {
			if fd != nil {
				c.behavior[fd.Name] = fd.Behavior
			}
		}
	}
	return c
}

// OnToolCall registers each call. A repeated id replaces the earlier entry.
func (c *Correlator) OnToolCall(calls []*genai.FunctionCall) []PendingToolCall {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PendingToolCall, 0, len(calls))
	for _, fc := range calls {
		if fc == nil {
			continue
		}
		if fc.ID == "" {
			c.log.Warn().Str("function", fc.Name).Msg("tool call without id ignored")
			continue
		}
		prev, replaced := c.pending[fc.ID]
		if replaced {
			c.log.Warn().Str("id", fc.ID).Str("function", fc.Name).Msg("duplicate tool call id; replacing pending entry")
			c.removeLocked(prev)
		}
		delete(c.cancelled, fc.ID)

		p := &PendingToolCall{
			ID:         fc.ID,
			Name:       fc.Name,
			Args:       fc.Args,
			Behavior:   c.behavior[fc.Name],
			ReceivedAt: c.now(),
			Replaced:   replaced,
		}
		if !p.Blocking() {
			p.Scheduling = c.scheduling[fc.Name]
		}
		c.addLocked(p)
		out = append(out, *p)
	}
	return out
}

// OnCancellation drops the listed calls. It returns the ids that were
// actually pending.
func (c *Correlator) OnCancellation(ids []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	for _, id := range ids {
		c.cancelled[id] = struct{}{}
		if p, ok := c.pending[id]; ok {
			c.removeLocked(p)
			removed = append(removed, id)
		}
	}
	return removed
}

// SubmitResponse validates resp against the pending set and hands it to
// send. The entry is removed only once send succeeds; on any error the
// pending set is left as it was.
func (c *Correlator) SubmitResponse(ctx context.Context, resp *genai.FunctionResponse, send func(context.Context, *genai.FunctionResponse) error) error {
	_, err := c.submit(ctx, resp, send)
	return err
}

// submit is SubmitResponse that also reports whether the entry was still
// pending when send returned. A cancellation may remove it mid-send.
func (c *Correlator) submit(ctx context.Context, resp *genai.FunctionResponse, send func(context.Context, *genai.FunctionResponse) error) (bool, error) {
	if resp == nil || resp.ID == "" {
		return false, &ToolCorrelationError{Reason: ToolMissingID}
	}

	c.mu.Lock()
	p, ok := c.pending[resp.ID]
	if !ok {
		_, wasCancelled := c.cancelled[resp.ID]
		c.mu.Unlock()
		if wasCancelled {
			return false, &ToolCorrelationError{ID: resp.ID, Reason: ToolCancelledID}
		}
		return false, &ToolCorrelationError{ID: resp.ID, Reason: ToolUnknownID}
	}
	out := *resp
	if out.Name == "" {
		out.Name = p.Name
	}
	if !p.Blocking() && out.Scheduling == "" {
		out.Scheduling = p.Scheduling
	}
	c.mu.Unlock()

	if err := send(ctx, &out); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.pending[resp.ID]; ok && cur == p {
		c.removeLocked(p)
		return true, nil
	}
	return false, nil
}

// WaitIdle blocks until no BLOCKING call is pending.
func (c *Correlator) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BlockingPending reports whether any BLOCKING call awaits a response.
func (c *Correlator) BlockingPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocking > 0
}

// Pending returns a snapshot of outstanding calls.
func (c *Correlator) Pending() map[string]PendingToolCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]PendingToolCall, len(c.pending))
	for id, p := range c.pending {
		out[id] = *p
	}
	return out
}

// Len is the number of outstanding calls.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Reset forgets all calls and releases anyone waiting on WaitIdle. It
// returns how many calls were pending.
func (c *Correlator) Reset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.pending)
	for _, p := range c.pending {
		c.removeLocked(p)
	}
	c.cancelled = make(map[string]struct{})
	return n
}

func (c *Correlator) addLocked(p *PendingToolCall) {
	c.pending[p.ID] = p
	if p.Blocking() {
		if c.blocking == 0 {
			c.idle = make(chan struct{})
		}
		c.blocking++
	}
}

func (c *Correlator) removeLocked(p *PendingToolCall) {
	delete(c.pending, p.ID)
	if p.Blocking() {
		c.blocking--
		if c.blocking == 0 {
			close(c.idle)
		}
	}
}
