package callback

import (
	"context"

	"github.com/wadang/cua/internal/adapter"
	"github.com/wadang/cua/internal/schema"
)

// ImageRetention is the required built-in enforcing the bounded
// expanded-screenshot window (spec.md §8 testable property) as an
// AfterTurn hook, so it runs at the end of ASK, after the adapter's new
// messages and every earlier OBSERVE's computer_call_output have joined
// the transcript.
type ImageRetention struct {
	retention adapter.Retention
}

// NewImageRetention keeps the last keepLast screenshots expanded.
func NewImageRetention(keepLast int) *ImageRetention {
	return &ImageRetention{retention: adapter.NewRetention(keepLast)}
}

func (r *ImageRetention) AfterTurn(ctx context.Context, transcript []schema.Message) ([]schema.Message, error) {
	return r.retention.Apply(transcript), nil
}
