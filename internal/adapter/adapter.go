// Package adapter implements one Agent Loop Adapter per model family
// (spec.md §4.4): the translation between the canonical message schema
// and whatever loop protocol a given backend actually speaks. Every
// adapter funnels into the same Step contract so the orchestrator (C7)
// never branches on model family.
package adapter

import (
	"context"
	"strconv"

	"github.com/wadang/cua/internal/schema"
)

// Step is one turn's output: zero or more new canonical messages
// (an assistant message, a reasoning message, or one pending
// computer_call/function_call) plus the usage that turn consumed.
type Step struct {
	Messages []schema.Message
	Usage    schema.Usage
}

// Adapter turns the running transcript into the next turn's messages.
// transcript is never mutated; implementations read it and return new
// messages only (spec.md §9 pure-rewriting discipline).
type Adapter interface {
	Step(ctx context.Context, transcript []schema.Message) (Step, error)
}

// Grounder is the narrower contract an Omniparser-style grounding-only
// backend implements: given a target description and the most recent
// screenshot, resolve a concrete point to act on. Composite adapters
// (internal/composite) call this directly instead of routing a full
// transcript through Step (spec.md §4.5).
type Grounder interface {
	Ground(ctx context.Context, instruction string, screenshotDataURL string) (schema.Point, schema.Usage, error)
}

// lastScreenshot returns the image data URL of the most recent
// computer_call_output in transcript, or "" if none exists yet (true
// until the first OBSERVE: the CAPTURE frame rides on the user turn as
// an input_image, not as a computer_call_output).
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

// pendingCallID returns a fresh id for a newly emitted computer_call /
// function_call, scoped to the turn index so replays stay stable in
// tests.
func pendingCallID(prefix string, turn int) string {
	return prefix + "_" + strconv.Itoa(turn)
}
