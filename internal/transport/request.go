// Package transport implements the dual-transport Proxy Surface
// (spec.md §4.9/§6): HTTP and a WebRTC-data-channel equivalent share one
// JSON request/response contract and one Dispatcher, grounded on the
// teacher's two-echo-instance server split
// (internal/transport/http/server.go) and the ingress WebSocket hub's
// handleMessage dispatch (ingress/internal/ws/server.go).
package transport

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/wadang/cua/internal/schema"
)

var requestValidate = validator.New()

// ValidateRequest enforces Request's `validate:"..."` struct tags
// (model, input required) — the one check both transports share at
// the trust boundary (spec.md §4.9 "two transports, same dispatch").
// internal/transport/http additionally wires this through echo's
// c.Validate; internal/transport/ws calls it directly since gorilla's
// websocket has no equivalent middleware hook.
func ValidateRequest(r Request) error {
	return requestValidate.Struct(r)
}

// AgentKwargs mirrors spec.md §6's agent_kwargs object.
type AgentKwargs struct {
	SaveTrajectory      bool    `json:"save_trajectory,omitempty"`
	MaxTrajectoryBudget float64 `json:"max_trajectory_budget,omitempty"`
	MaxSteps            int     `json:"max_steps,omitempty"`
	ImageRetentionWindow int    `json:"image_retention_window,omitempty"`
	SessionID           string  `json:"session_id,omitempty"`

	// CloseSession explicitly destroys the session (spec.md §3: "destroyed
	// on explicit close, on idle-timeout, or on shutdown") after this run
	// finishes, releasing its computer handle back to the pool instead of
	// leaving it open for a follow-up request with the same session_id.
	CloseSession bool `json:"close_session,omitempty"`
}

// ComputerKwargs mirrors spec.md §6's computer_kwargs object.
type ComputerKwargs struct {
	OSType       string `json:"os_type,omitempty"`
	ProviderType string `json:"provider_type,omitempty"`
	Name         string `json:"name,omitempty"`
	Image        string `json:"image,omitempty"`
}

// Spec resolves the provisioner spec string this request's
// computer_kwargs should acquire (spec.md §4.8 acquire(spec) →
// handle), falling back to def — the deployment's default target —
// when the request didn't override image.
func (k ComputerKwargs) Spec(def string) string {
	if k.Image != "" {
		return k.Image
	}
	return def
}

// Request is the canonical wire request shared by HTTP and WS (spec.md
// §6). Input may be a bare string or a list of canonical messages, so
// it is captured as json.RawMessage and resolved by DecodeInput.
type Request struct {
	Model          string            `json:"model" validate:"required"`
	Input          json.RawMessage   `json:"input" validate:"required"`
	AgentKwargs    AgentKwargs       `json:"agent_kwargs,omitempty"`
	ComputerKwargs ComputerKwargs    `json:"computer_kwargs,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
}

// DecodeInput resolves Input into a seed transcript: either a single
// user-text message (bare string) or the list of canonical messages
// supplied verbatim. A caller-supplied message list crosses the HTTP
// trust boundary, so every message is run through schema.Validate
// (spec.md §4.1: "reject unknown variants at the trust boundary
// (HTTP)") before it ever reaches the Orchestrator.
func (r Request) DecodeInput() ([]schema.Message, error) {
	var asString string
	if err := json.Unmarshal(r.Input, &asString); err == nil {
		return []schema.Message{schema.NewUserText(asString)}, nil
	}

	var asMessages []schema.Message
	if err := json.Unmarshal(r.Input, &asMessages); err != nil {
		return nil, err
	}
	for _, m := range asMessages {
		if err := schema.Validate(m); err != nil {
			return nil, err
		}
	}
	return asMessages, nil
}

// Status is the terminal run status reported on the wire (spec.md §6).
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Response is the canonical wire response shared by HTTP and WS.
type Response struct {
	Output []schema.Message `json:"output"`
	Usage  schema.Usage     `json:"usage"`
	Status Status           `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// HealthResponse backs GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
