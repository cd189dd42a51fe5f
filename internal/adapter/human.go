package adapter

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/wadang/cua/internal/schema"
)

var humanCallCounter atomic.Int64

func nextHumanCallID() string {
	return strconv.FormatInt(humanCallCounter.Add(1), 10)
}

// Human routes a turn to an operator instead of a model, grounded on
// original_source/libs/python/agent/agent/human_tool/ui.py. Decisions
// channel is fed by whatever UI presents the latest screenshot to the
// operator and collects their next action; Step blocks until a decision
// arrives or ctx is cancelled, so it composes with the orchestrator's
// per_action_timeout the same way a slow model call would.
type Human struct {
	Decisions <-chan HumanDecision
}

// HumanDecision is what an operator supplies for one turn: either an
// Action to dispatch or, with Done set, a terminal assistant reply.
type HumanDecision struct {
	Action *schema.Action
	Done   bool
	Text   string
}

func NewHuman(decisions <-chan HumanDecision) *Human {
	return &Human{Decisions: decisions}
}

func (h *Human) Step(ctx context.Context, transcript []schema.Message) (Step, error) {
	select {
	case <-ctx.Done():
		return Step{}, ctx.Err()
	case d := <-h.Decisions:
		if d.Done {
			return Step{Messages: []schema.Message{schema.NewAssistantText(d.Text)}}, nil
		}
		callID := "human_" + nextHumanCallID()
		return Step{Messages: []schema.Message{schema.NewComputerCall(callID, *d.Action)}}, nil
	}
}
