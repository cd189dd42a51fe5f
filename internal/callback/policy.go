package callback

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/wadang/cua/internal/schema"
)

// DefaultToolPolicy blocks a conventional "dangerous" namespace outright
// and otherwise allows everything, adapted from the teacher's
// policy.DefaultPolicy. The require_approval rule the teacher's policy
// carries is dropped here: spec.md's C6 has no approval-pause state, so
// PolicyGate only ever returns allow or block (see DESIGN.md Open
// Questions).
const DefaultToolPolicy = `
package tool_policy

default decision = "allow"

decision = "block" {
	startswith(input.tool_name, "dangerous.")
}
`

// PolicyGate is the supplemental BeforeAction hook evaluating
// function_call actions against an OPA/Rego policy module, grounded
// directly on the teacher's policy/engine.go (rego.New / Module /
// PrepareForEval / Eval). computer_call actions are never routed
// through the policy — the policy module here only names function_call
// tool namespaces.
type PolicyGate struct {
	query rego.PreparedEvalQuery
}

// NewPolicyGate prepares policyModule (a tool_policy.rego-shaped Rego
// module defining `data.tool_policy.decision`) for repeated evaluation.
func NewPolicyGate(ctx context.Context, policyModule string) (*PolicyGate, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policyModule),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("callback: prepare policy: %w", err)
	}
	return &PolicyGate{query: query}, nil
}

func (g *PolicyGate) BeforeAction(ctx context.Context, call schema.Message) (Decision, schema.Message, error) {
	if call.Role != schema.RoleFunctionCall {
		return DecisionProceed, schema.Message{}, nil
	}

	var args any
	_ = json.Unmarshal(call.Arguments, &args)

	input := map[string]any{
		"tool_name": call.Name,
		"args":      args,
	}

	results, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return DecisionProceed, schema.Message{}, fmt.Errorf("callback: evaluate policy: %w", err)
	}
	decision := "allow"
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		if s, ok := results[0].Expressions[0].Value.(string); ok {
			decision = s
		}
	}

	if decision == "block" {
		output := schema.NewFunctionCallOutput(call.CallID, fmt.Sprintf("blocked by policy: tool %q is not permitted", call.Name))
		return DecisionSkip, output, nil
	}
	return DecisionProceed, schema.Message{}, nil
}
