package callback

import (
	"context"
	"log"

	"github.com/wadang/cua/internal/schema"
)

// PromptCacheHinter is the required built-in recording which messages
// are eligible for a provider's prompt cache. The actual cache_control
// breakpoints are set by the provider-specific adapter (C4) since the
// wire shape for "mark this block cacheable" differs per backend; this
// hook only logs the decision for observability, following the
// teacher's plain log.Printf style rather than introducing a structured
// logger the rest of the codebase doesn't otherwise use.
type PromptCacheHinter struct {
	LastN int
}

func NewPromptCacheHinter(lastN int) *PromptCacheHinter {
	return &PromptCacheHinter{LastN: lastN}
}

func (p *PromptCacheHinter) BeforeLLM(ctx context.Context, transcript []schema.Message) ([]schema.Message, error) {
	if len(transcript) == 0 {
		return transcript, nil
	}
	start := len(transcript) - p.LastN
	if start < 0 {
		start = 0
	}
	log.Printf("callback: prompt-cache hint on messages [%d:%d] of %d", start, len(transcript), len(transcript))
	return transcript, nil
}
