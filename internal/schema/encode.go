package schema

import (
	"encoding/json"
	"fmt"
)

// Encode renders m into the stable canonical JSON shape. Encoding is the
// single source of truth: adapters convert to/from this shape, and no
// adapter-specific shape ever escapes the core (spec.md §4.1).
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses data into a Message, tolerating and ignoring unknown
// fields (encoding/json already does this for unrecognized keys; Decode
// additionally tolerates a missing/empty role by leaving it zero rather
// than erroring, since within a trusted adapter boundary malformed shapes
// are recoverable — the HTTP trust boundary instead calls Validate).
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("schema: decode message: %w", err)
	}
	return m, nil
}

// ValidationError reports a single Validate failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema: %s: %s", e.Field, e.Reason)
}

// Validate enforces the required-fields-per-variant, integer-coordinate,
// and cardinality invariants from spec.md §4.1. It is the trust-boundary
// check applied at the HTTP surface (C9); adapters, being trusted, accept
// and skip unknown shapes instead of calling Validate on every message.
func Validate(m Message) error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleReasoning:
		if m.Text == "" && len(m.Content) == 0 {
			return &ValidationError{Field: "content", Reason: "must be plain text or a non-empty content list"}
		}
	case RoleComputerCall:
		if m.CallID == "" {
			return &ValidationError{Field: "call_id", Reason: "required"}
		}
		if m.Action == nil {
			return &ValidationError{Field: "action", Reason: "required"}
		}
		if err := ValidateAction(*m.Action); err != nil {
			return err
		}
	case RoleComputerCallOutput:
		if m.CallID == "" {
			return &ValidationError{Field: "call_id", Reason: "required"}
		}
		if len(m.Content) == 0 {
			return &ValidationError{Field: "content", Reason: "computer_call_output requires a computer_screenshot content part"}
		}
	case RoleFunctionCall:
		if m.CallID == "" {
			return &ValidationError{Field: "call_id", Reason: "required"}
		}
		if m.Name == "" {
			return &ValidationError{Field: "name", Reason: "required"}
		}
	case RoleFunctionCallOutput:
		if m.CallID == "" {
			return &ValidationError{Field: "call_id", Reason: "required"}
		}
	default:
		return &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown variant %q", m.Role)}
	}
	return nil
}

// ValidateAction enforces per-type Action invariants: drag needs at least
// two path points, keypress needs at least one key, coordinates are
// integers (guaranteed by the Go type system once decoded).
func ValidateAction(a Action) error {
	switch a.Type {
	case ActionClick, ActionDoubleClick, ActionMove, ActionLeftMouseDown, ActionLeftMouseUp:
		// x, y required; zero is a legal coordinate so there is nothing
		// further to check beyond the type itself.
	case ActionDrag:
		if len(a.Path) < 2 {
			return &ValidationError{Field: "path", Reason: "drag requires at least 2 points"}
		}
	case ActionScroll:
		// x, y, scroll_x, scroll_y are all legal at zero.
	case ActionKeypress:
		if len(a.Keys) == 0 {
			return &ValidationError{Field: "keys", Reason: "keypress requires at least 1 key"}
		}
	case ActionTypeText:
		if a.Text == "" {
			return &ValidationError{Field: "text", Reason: "type requires non-empty text"}
		}
	case ActionScreenshot, ActionWait:
		// no required fields
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown action type %q", a.Type)}
	}
	return nil
}
