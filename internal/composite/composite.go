// Package composite implements the planner+grounder composite agent
// protocol (spec.md §4.5): a planner adapter decides what to do in
// natural language, optionally delegating "where" to a grounder via a
// synthetic ground function_call, and the two usages are summed into
// one turn.
package composite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wadang/cua/internal/adapter"
	"github.com/wadang/cua/internal/schema"
)

// groundRequest is the synthetic function_call arguments shape a planner
// emits to hand off to the grounder (spec.md §4.5 step 2): a natural
// language instruction describing the target, e.g. "the Submit button".
type groundRequest struct {
	Instruction string `json:"instruction"`
}

const groundFunctionName = "ground"

// Agent composes a planner Adapter with a grounder Grounder into a
// single Adapter the orchestrator drives exactly like any single-model
// adapter (spec.md §4.5: "the composite looks like one adapter from the
// orchestrator's point of view").
type Agent struct {
	Planner  adapter.Adapter
	Grounder adapter.Grounder
}

func New(planner adapter.Adapter, grounder adapter.Grounder) *Agent {
	return &Agent{Planner: planner, Grounder: grounder}
}

// Step runs the 3-step protocol: call the planner; if its reply is a
// ground function_call, resolve it against the grounder and turn the
// result into a computer_call the orchestrator can dispatch directly;
// otherwise return the planner's reply unchanged. Usages are summed
// (spec.md §4.5 step 2; schema.Usage.Add).
func (a *Agent) Step(ctx context.Context, transcript []schema.Message) (adapter.Step, error) {
	plannerStep, err := a.Planner.Step(ctx, transcript)
	if err != nil {
		return adapter.Step{}, err
	}

	groundMsg, actionType, ok := findGroundCall(plannerStep.Messages)
	if !ok {
		return plannerStep, nil
	}

	var req groundRequest
	if err := json.Unmarshal(groundMsg.Arguments, &req); err != nil {
		return adapter.Step{}, fmt.Errorf("composite: decode ground arguments: %w", err)
	}

	screenshot := lastScreenshot(transcript)
	point, groundUsage, err := a.Grounder.Ground(ctx, req.Instruction, screenshot)
	if err != nil {
		return adapter.Step{}, err
	}

	action := schema.Action{Type: actionType, X: point.X, Y: point.Y, Button: schema.ButtonLeft}
	call := schema.NewComputerCall(groundMsg.CallID, action)

	return adapter.Step{
		Messages: []schema.Message{call},
		Usage:    plannerStep.Usage.Add(groundUsage),
	}, nil
}

// findGroundCall looks for a function_call named "ground" among msgs.
// The optional trailing action-type hint lets a planner specify click
// vs. double_click vs. move without the grounder needing to know it;
// it defaults to click when absent.
func findGroundCall(msgs []schema.Message) (schema.Message, schema.ActionType, bool) {
	for _, m := range msgs {
		if m.Role == schema.RoleFunctionCall && m.Name == groundFunctionName {
			actionType := schema.ActionClick
			var hint struct {
				Action string `json:"action"`
			}
			if json.Unmarshal(m.Arguments, &hint) == nil && hint.Action != "" {
				actionType = schema.ActionType(hint.Action)
			}
			return m, actionType, true
		}
	}
	return schema.Message{}, "", false
}

func lastScreenshot(transcript []schema.Message) string {
	for i := len(transcript) - 1; i >= 0; i-- {
		m := transcript[i]
		if m.Role != schema.RoleComputerCallOutput {
			continue
		}
		for _, part := range m.Content {
			if part.Type == schema.ContentComputerScreenshot {
				return part.ImageURL
			}
		}
	}
	return ""
}
