package llm

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/wadang/cua/internal/schema"
)

// Responder returns the messages/usage a MockClient should emit for one
// CreateTurn call, given the request it received. Tests register one per
// scenario step; the Scripted* helpers in this package cover the common
// cases.
type Responder func(req Request) (Response, error)

// MockClient is an in-memory Client standing in for a real model
// backend, generalizing the teacher's internal/adapter/llm.MockClient
// (canned responses keyed off request content, no network calls) to an
// arbitrary sequence of scripted turns instead of a fixed canned-reply
// table, since CUAOC's orchestrator tests need precise multi-turn
// sequences (spec.md §8 scenarios S1-S6) rather than one-shot replies.
type MockClient struct {
	mu        sync.Mutex
	responses []Responder
	calls     []Request
	fallback  Responder
}

// NewMockClient returns a MockClient that plays responses in order, one
// per CreateTurn call. If responses run out, fallback is used for every
// subsequent call; the default fallback yields a terminal assistant
// "done".
func NewMockClient(responses ...Responder) *MockClient {
	return &MockClient{
		responses: responses,
		fallback: func(Request) (Response, error) {
			return Response{Messages: []schema.Message{schema.NewAssistantText("done")}}, nil
		},
	}
}

// SetFallback overrides the default post-script responder.
func (m *MockClient) SetFallback(fn Responder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = fn
}

func (m *MockClient) CreateTurn(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	idx := len(m.calls) - 1
	var fn Responder
	if idx < len(m.responses) {
		fn = m.responses[idx]
	} else {
		fn = m.fallback
	}
	m.mu.Unlock()

	return fn(req)
}

// Calls returns every Request received so far, in order.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// ScriptedComputerCall builds a Responder emitting a single computer_call
// with the given action, the common S1 "single click" shape.
func ScriptedComputerCall(callID string, action schema.Action, usage schema.Usage) Responder {
	return func(Request) (Response, error) {
		return Response{
			Messages: []schema.Message{schema.NewComputerCall(callID, action)},
			Usage:    usage,
		}, nil
	}
}

// ScriptedFunctionCall builds a Responder emitting a single function_call.
func ScriptedFunctionCall(callID, name string, args json.RawMessage, usage schema.Usage) Responder {
	return func(Request) (Response, error) {
		return Response{
			Messages: []schema.Message{schema.NewFunctionCall(callID, name, args)},
			Usage:    usage,
		}, nil
	}
}

// ScriptedAssistantText builds a Responder emitting a terminal assistant
// message, used to drive an ASK/DONE transition in tests.
func ScriptedAssistantText(text string, usage schema.Usage) Responder {
	return func(Request) (Response, error) {
		return Response{Messages: []schema.Message{schema.NewAssistantText(text)}, Usage: usage}, nil
	}
}

// ScriptedError builds a Responder always returning err, used to drive
// retry/backoff and on_error scenarios (spec.md §8 scenario S3).
func ScriptedError(err error) Responder {
	return func(Request) (Response, error) { return Response{}, err }
}
