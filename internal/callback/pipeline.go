package callback

import (
	"context"

	"github.com/wadang/cua/internal/schema"
)

// Pipeline holds an ordered list of callbacks and threads them through
// every hook phase in onion-layer order (spec.md §8 property "callback
// ordering symmetry"): the first-registered callback's before-hook runs
// first and its after-hook runs last, as if each callback wrapped the
// ones registered after it.
type Pipeline struct {
	callbacks []any
}

// New builds a Pipeline from callbacks in registration order.
func New(callbacks ...any) *Pipeline {
	return &Pipeline{callbacks: callbacks}
}

func (p *Pipeline) RunStart(ctx context.Context, transcript []schema.Message) ([]schema.Message, error) {
	var err error
	for _, cb := range p.callbacks {
		if h, ok := cb.(OnRunStart); ok {
			transcript, err = h.OnRunStart(ctx, transcript)
			if err != nil {
				return transcript, err
			}
		}
	}
	return transcript, nil
}

func (p *Pipeline) RunEnd(ctx context.Context, transcript []schema.Message, outcome Outcome) error {
	for i := len(p.callbacks) - 1; i >= 0; i-- {
		if h, ok := p.callbacks[i].(OnRunEnd); ok {
			if err := h.OnRunEnd(ctx, transcript, outcome); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline) BeforeTurn(ctx context.Context, transcript []schema.Message) ([]schema.Message, error) {
	var err error
	for _, cb := range p.callbacks {
		if h, ok := cb.(BeforeTurn); ok {
			transcript, err = h.BeforeTurn(ctx, transcript)
			if err != nil {
				return transcript, err
			}
		}
	}
	return transcript, nil
}

func (p *Pipeline) AfterTurn(ctx context.Context, transcript []schema.Message) ([]schema.Message, error) {
	var err error
	for i := len(p.callbacks) - 1; i >= 0; i-- {
		if h, ok := p.callbacks[i].(AfterTurn); ok {
			transcript, err = h.AfterTurn(ctx, transcript)
			if err != nil {
				return transcript, err
			}
		}
	}
	return transcript, nil
}

func (p *Pipeline) BeforeLLM(ctx context.Context, transcript []schema.Message) ([]schema.Message, error) {
	var err error
	for _, cb := range p.callbacks {
		if h, ok := cb.(BeforeLLM); ok {
			transcript, err = h.BeforeLLM(ctx, transcript)
			if err != nil {
				return transcript, err
			}
		}
	}
	return transcript, nil
}

func (p *Pipeline) AfterLLM(ctx context.Context, transcript []schema.Message) ([]schema.Message, error) {
	var err error
	for i := len(p.callbacks) - 1; i >= 0; i-- {
		if h, ok := p.callbacks[i].(AfterLLM); ok {
			transcript, err = h.AfterLLM(ctx, transcript)
			if err != nil {
				return transcript, err
			}
		}
	}
	return transcript, nil
}

// BeforeAction runs every registered BeforeAction hook in order; the
// first to return DecisionSkip short-circuits the rest, matching a veto
// semantics rather than a transform chain (only one hook gets to decide
// whether the action actually runs).
func (p *Pipeline) BeforeAction(ctx context.Context, call schema.Message) (Decision, schema.Message, error) {
	for _, cb := range p.callbacks {
		if h, ok := cb.(BeforeAction); ok {
			decision, output, err := h.BeforeAction(ctx, call)
			if err != nil {
				return DecisionProceed, schema.Message{}, err
			}
			if decision == DecisionSkip {
				return DecisionSkip, output, nil
			}
		}
	}
	return DecisionProceed, schema.Message{}, nil
}

func (p *Pipeline) AfterAction(ctx context.Context, call, output schema.Message) (schema.Message, error) {
	var err error
	for i := len(p.callbacks) - 1; i >= 0; i-- {
		if h, ok := p.callbacks[i].(AfterAction); ok {
			output, err = h.AfterAction(ctx, call, output)
			if err != nil {
				return output, err
			}
		}
	}
	return output, nil
}

func (p *Pipeline) OnScreenshot(ctx context.Context, output schema.Message) (schema.Message, error) {
	var err error
	for i := len(p.callbacks) - 1; i >= 0; i-- {
		if h, ok := p.callbacks[i].(OnScreenshot); ok {
			output, err = h.OnScreenshot(ctx, output)
			if err != nil {
				return output, err
			}
		}
	}
	return output, nil
}

// OnError runs every registered OnError hook; the first to return
// ErrorRecover stops the chain and tells the orchestrator the run may
// continue, carrying whatever replacement messages that hook supplied.
func (p *Pipeline) OnError(ctx context.Context, cause error) (ErrorDecision, []schema.Message, error) {
	for _, cb := range p.callbacks {
		if h, ok := cb.(OnError); ok {
			decision, messages, err := h.OnError(ctx, cause)
			if err != nil {
				return ErrorPropagate, nil, err
			}
			if decision == ErrorRecover {
				return ErrorRecover, messages, nil
			}
		}
	}
	return ErrorPropagate, nil, nil
}
