// Package llm defines the LLM Port (spec.md §4.3): the model-string
// grammar, the client interface every adapter calls through, and the
// registry that resolves a model string to a concrete, cached client.
package llm

import (
	"context"
	"encoding/json"

	"github.com/wadang/cua/internal/schema"
)

// Request is one turn's worth of context handed to a model backend: the
// full running transcript plus whatever provider-specific knobs the
// caller supplied via agent_kwargs (spec.md §6).
type Request struct {
	Model       string
	Messages    []schema.Message
	AgentKwargs json.RawMessage
	Env         map[string]string
}

// Response is the model's reply for one turn, already in canonical
// message shape, plus the usage it consumed.
type Response struct {
	Messages []schema.Message
	Usage    schema.Usage
}

// Client is the port every adapter (internal/adapter) calls to reach a
// concrete model backend. A Client speaks one provider's wire protocol
// and returns the reply as canonical schema.Message values; interpreting
// those messages (e.g. parsing an action out of reply text) is the
// adapter's job, not the Client's, matching the split between the
// teacher's llmproxy.Client (transport) and its call sites (protocol
// shaping).
type Client interface {
	CreateTurn(ctx context.Context, req Request) (Response, error)
}
