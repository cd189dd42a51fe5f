// Package tools implements the external tool registry port spec.md §4.7
// ACT names: function_call actions route here, outside the orchestrator
// core, or fail with UnknownTool. Grounded on the teacher's
// internal/domain.Tool metadata shape (name/kind/timeout), narrowed to
// the dispatch surface CUAOC's orchestrator actually needs — the
// teacher's approval-workflow fields (ApprovalID, Status) belong to
// C6's PolicyGate in this core, not to the registry itself.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wadang/cua/internal/cuaerr"
)

// Handler executes one function_call's arguments and returns its
// result, JSON-encoded, or an error. Implementations are external
// collaborators: a shell-out, an HTTP call to a sidecar, a Go closure
// over process state — the registry itself doesn't know or care.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Tool is the registry's metadata record for one named handler.
type Tool struct {
	Name    string
	Timeout time.Duration
	Handler Handler
}

// Registry is an in-memory function_call dispatch table, guarded by a
// mutex held only across map access, never across a Handler's I/O —
// mirroring the pool/hub concurrency discipline used elsewhere in this
// core.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces the handler for name. A zero timeout means
// no per-call deadline beyond the caller's context.
func (r *Registry) Register(name string, timeout time.Duration, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = Tool{Name: name, Timeout: timeout, Handler: handler}
}

// Unregister removes name, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Dispatch invokes the handler registered for name with args, applying
// the tool's timeout (if any) to ctx. Returns *cuaerr.UnknownTool if no
// handler is registered — the orchestrator feeds this through on_error
// exactly like any other TargetError-class failure.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &cuaerr.UnknownTool{Name: name}
	}

	callCtx := ctx
	if tool.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, tool.Timeout)
		defer cancel()
	}

	result, err := tool.Handler(callCtx, args)
	if err != nil {
		return nil, fmt.Errorf("tools: dispatch %q: %w", name, err)
	}
	return result, nil
}

// Names returns the currently registered tool names, for diagnostics
// (e.g. a /health or introspection endpoint).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}
