// Package callback implements the Callback/middleware Pipeline (spec.md
// §4.6): symmetric before/after hooks around each phase of a turn, run
// in onion-layer order so the first-registered hook sees input first and
// output last.
package callback

import (
	"context"

	"github.com/wadang/cua/internal/schema"
)

// Decision is what a before_action hook returns: either let the action
// proceed, or skip it and substitute a synthetic output.
type Decision int

const (
	DecisionProceed Decision = iota
	DecisionSkip
)

// ErrorDecision is what an on_error hook returns.
type ErrorDecision int

const (
	ErrorPropagate ErrorDecision = iota
	ErrorRecover
)

// Hooks is the full set of extension points a callback may implement.
// Every method is optional: implement only the subset you need —
// Pipeline type-asserts each hook individually — to opt into
// only the phases a callback cares about, matching the teacher's
// event-recording call sites which each touch one phase at a time.
type Hooks interface{}

// OnRunStart/OnRunEnd bracket one full run.
type OnRunStart interface {
	OnRunStart(ctx context.Context, transcript []schema.Message) ([]schema.Message, error)
}

type OnRunEnd interface {
	OnRunEnd(ctx context.Context, transcript []schema.Message, outcome Outcome) error
}

// BeforeTurn/AfterTurn bracket one ASK state: BeforeTurn runs before
// BeforeLLM, AfterTurn once the adapter's new messages are appended.
type BeforeTurn interface {
	BeforeTurn(ctx context.Context, transcript []schema.Message) ([]schema.Message, error)
}

type AfterTurn interface {
	AfterTurn(ctx context.Context, transcript []schema.Message) ([]schema.Message, error)
}

// BeforeLLM/AfterLLM bracket the ASK state's adapter call.
type BeforeLLM interface {
	BeforeLLM(ctx context.Context, transcript []schema.Message) ([]schema.Message, error)
}

type AfterLLM interface {
	AfterLLM(ctx context.Context, transcript []schema.Message) ([]schema.Message, error)
}

// BeforeAction brackets ACT: a hook may veto a pending computer_call or
// function_call by returning DecisionSkip plus the output message to
// substitute for the one that would have come from actually running it.
type BeforeAction interface {
	BeforeAction(ctx context.Context, call schema.Message) (Decision, schema.Message, error)
}

type AfterAction interface {
	AfterAction(ctx context.Context, call, output schema.Message) (schema.Message, error)
}

// OnScreenshot fires whenever a new computer_call_output is produced,
// letting a hook rewrite or inspect the image before it joins the
// transcript (e.g. TrajectoryWriter, which persists the image).
type OnScreenshot interface {
	OnScreenshot(ctx context.Context, output schema.Message) (schema.Message, error)
}

// OnError brackets a failure raised anywhere in the turn. Returning
// ErrorRecover tells the orchestrator the run may continue (spec.md §9
// "unknown function_call names" resolution); ErrorPropagate fails the
// run. The messages returned alongside ErrorRecover resume the loop at
// the next turn (spec.md §4.6 "RECOVER(messages)") — the orchestrator
// appends them to the transcript in place of its own synthetic output.
type OnError interface {
	OnError(ctx context.Context, cause error) (ErrorDecision, []schema.Message, error)
}

// Outcome is what OnRunEnd observes: exactly one of the three is true,
// per spec.md §8 property "exactly one of completed/failed/cancelled".
type Outcome struct {
	Completed bool
	Failed    bool
	Cancelled bool
	Err       error
}
