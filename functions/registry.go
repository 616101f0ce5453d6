// Package functions holds the tools the relay answers on the model's behalf.
package functions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"google.golang.org/genai"

	"github.com/room4-2/livewire/live"
)

// Handler runs one call. The returned map becomes the response "output".
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Function pairs a declaration with its implementation.
type Function struct {
	Declaration *genai.FunctionDeclaration
	Handler     Handler
	// Scheduling is the default hint for NON_BLOCKING responses.
	Scheduling genai.FunctionResponseScheduling
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Function
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Function)}
}

// Register adds fn. Names must be unique.
func (r *Registry) Register(fn Function) error {
	if fn.Declaration == nil || fn.Declaration.Name == "" {
		return fmt.Errorf("functions: declaration name is required")
	}
	if fn.Handler == nil {
		return fmt.Errorf("functions: %s has no handler", fn.Declaration.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[fn.Declaration.Name]; ok {
		return fmt.Errorf("functions: %s already registered", fn.Declaration.Name)
	}
	r.funcs[fn.Declaration.Name] = fn
	return nil
}

// MustRegister panics on a registration error.
func (r *Registry) MustRegister(fns ...Function) {
	for _, fn := range fns {
		if err := r.Register(fn); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tools returns all declarations as a single tool, sorted by name. It is nil
// when nothing is registered.
func (r *Registry) Tools() []*genai.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.funcs) == 0 {
		return nil
	}
	tool := &genai.Tool{}
	for _, name := range r.names() {
		tool.FunctionDeclarations = append(tool.FunctionDeclarations, r.funcs[name].Declaration)
	}
	return []*genai.Tool{tool}
}

// Scheduling returns the default hint of every function that sets one.
func (r *Registry) Scheduling() map[string]genai.FunctionResponseScheduling {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]genai.FunctionResponseScheduling)
	for name, fn := range r.funcs {
		if fn.Scheduling != "" {
			out[name] = fn.Scheduling
		}
	}
	return out
}

// Dispatch runs the handler for call and builds the response. Handler
// failures and unknown names are reported to the model under "error".
func (r *Registry) Dispatch(ctx context.Context, call live.PendingToolCall) *genai.FunctionResponse {
	resp := &genai.FunctionResponse{ID: call.ID, Name: call.Name}

	r.mu.RLock()
	fn, ok := r.funcs[call.Name]
	r.mu.RUnlock()
	if !ok {
		resp.Response = map[string]any{"error": fmt.Sprintf("unknown function %q", call.Name)}
		return resp
	}

	out, err := fn.Handler(ctx, call.Args)
	if err != nil {
		resp.Response = map[string]any{"error": err.Error()}
		return resp
	}
	if out == nil {
		out = map[string]any{}
	}
	resp.Response = map[string]any{"output": out}
	return resp
}
