// Package schema defines the canonical, adapter-agnostic wire shapes for
// messages, content parts, actions, and usage exchanged between the
// orchestrator and every LLM/Computer adapter. No adapter-specific shape
// is allowed to escape this package's boundary.
package schema

import "encoding/json"

// Role identifies who produced a Message.
type Role string

const (
	RoleUser                Role = "user"
	RoleAssistant            Role = "assistant"
	RoleReasoning            Role = "reasoning"
	RoleComputerCall         Role = "computer_call"
	RoleComputerCallOutput   Role = "computer_call_output"
	RoleFunctionCall         Role = "function_call"
	RoleFunctionCallOutput   Role = "function_call_output"
)

// ContentType discriminates a ContentPart.
type ContentType string

const (
	ContentInputText         ContentType = "input_text"
	ContentInputImage        ContentType = "input_image"
	ContentOutputText        ContentType = "output_text"
	ContentSummaryText       ContentType = "summary_text"
	ContentComputerScreenshot ContentType = "computer_screenshot"
)

// ContentPart is one element of a Message's ordered content list.
type ContentPart struct {
	Type     ContentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL string      `json:"image_url,omitempty"`
}

// CallStatus is the lifecycle status carried on computer_call and
// function_call messages.
type CallStatus string

const (
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
)

// Message is the canonical tagged-union record described in spec.md §3.
// Exactly one of the role-specific field groups is populated, selected by
// Role. Messages are immutable once emitted; every hook in the callback
// pipeline returns a new slice rather than editing a Message in place.
type Message struct {
	Role Role `json:"role"`

	// user / assistant / reasoning: either Text or Content is set.
	Text    string        `json:"text,omitempty"`
	Content []ContentPart `json:"content,omitempty"`

	// computer_call / function_call
	CallID    string          `json:"call_id,omitempty"`
	Status    CallStatus      `json:"status,omitempty"`
	Action    *Action         `json:"action,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Pending safety checks echoed verbatim from the OpenAI computer-use
	// adapter (spec.md §4.4) — policy belongs to callbacks, not the
	// adapter, so this field is never interpreted here.
	PendingSafetyChecks json.RawMessage `json:"pending_safety_checks,omitempty"`

	// computer_call_output / function_call_output
	Output string `json:"output,omitempty"`
}

// NewUserText builds a plain-text user message.
func NewUserText(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// NewUserContent builds a user message from ordered content parts.
func NewUserContent(parts ...ContentPart) Message {
	return Message{Role: RoleUser, Content: parts}
}

// NewAssistantText builds a terminal assistant message.
func NewAssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentPart{{Type: ContentOutputText, Text: text}}}
}

// NewReasoning builds a reasoning (model-visible thinking) message.
func NewReasoning(summary string) Message {
	return Message{Role: RoleReasoning, Content: []ContentPart{{Type: ContentSummaryText, Text: summary}}}
}

// NewComputerCall builds a pending computer_call message.
func NewComputerCall(callID string, action Action) Message {
	return Message{Role: RoleComputerCall, CallID: callID, Status: CallStatusInProgress, Action: &action}
}

// NewComputerCallOutput builds the computer_call_output bound to callID,
// carrying a base64 PNG screenshot as a data-URL content part.
func NewComputerCallOutput(callID, imageDataURL string) Message {
	return Message{
		Role:    RoleComputerCallOutput,
		CallID:  callID,
		Content: []ContentPart{{Type: ContentComputerScreenshot, ImageURL: imageDataURL}},
	}
}

// NewFunctionCall builds a non-computer tool invocation request.
func NewFunctionCall(callID, name string, arguments json.RawMessage) Message {
	return Message{Role: RoleFunctionCall, CallID: callID, Status: CallStatusInProgress, Name: name, Arguments: arguments}
}

// NewFunctionCallOutput builds the stringified result of a function_call.
func NewFunctionCallOutput(callID, output string) Message {
	return Message{Role: RoleFunctionCallOutput, CallID: callID, Output: output}
}

// IsTerminalAssistant reports whether m is an assistant message with no
// trailing computer_call — i.e. a candidate for the orchestrator's DONE
// transition (spec.md §4.7).
func (m Message) IsTerminalAssistant() bool {
	return m.Role == RoleAssistant
}
