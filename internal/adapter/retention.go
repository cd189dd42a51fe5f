package adapter

import "github.com/wadang/cua/internal/schema"

// Retention keeps at most N computer_call_output screenshots expanded as
// full images; older ones are collapsed to a short text placeholder so
// a long-running session's token/byte footprint stays bounded (spec.md
// §8 testable property: "image-retention windowing (<= N expanded
// screenshots)"). It never mutates transcript: when anything collapses it
// returns a new slice in which unchanged messages are copied as-is and
// collapsed ones are replaced (spec.md §9).
type Retention struct {
	KeepLast int
}

// NewRetention returns a Retention keeping the last n screenshots
// expanded. n <= 0 disables collapsing (every screenshot stays expanded).
func NewRetention(n int) Retention {
	return Retention{KeepLast: n}
}

const collapsedPlaceholder = "[screenshot omitted: outside retention window]"

// Apply returns transcript with every computer_call_output before the
// last KeepLast collapsed to collapsedPlaceholder text.
func (r Retention) Apply(transcript []schema.Message) []schema.Message {
	if r.KeepLast <= 0 {
		return transcript
	}

	screenshotIdx := make([]int, 0)
	for i, m := range transcript {
		if m.Role == schema.RoleComputerCallOutput {
			screenshotIdx = append(screenshotIdx, i)
		}
	}
	if len(screenshotIdx) <= r.KeepLast {
		return transcript
	}

	cutAt := screenshotIdx[len(screenshotIdx)-r.KeepLast]

	// Every message is copied into out; only the screenshots before cutAt
	// are rewritten to the placeholder.
	collapseSet := make(map[int]bool, len(screenshotIdx))
	for _, idx := range screenshotIdx[:len(screenshotIdx)-r.KeepLast] {
		collapseSet[idx] = true
	}

	out := make([]schema.Message, len(transcript))
	for i, m := range transcript {
		if i < cutAt && !collapseSet[i] {
			out[i] = m
			continue
		}
		if collapseSet[i] {
			out[i] = schema.Message{
				Role:   schema.RoleComputerCallOutput,
				CallID: m.CallID,
				Text:   collapsedPlaceholder,
			}
			continue
		}
		out[i] = m
	}
	return out
}
