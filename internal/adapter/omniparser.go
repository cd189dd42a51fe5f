package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wadang/cua/internal/llm"
	"github.com/wadang/cua/internal/schema"
)

// Omniparser is grounder-only: it never plans, it only resolves a
// natural-language target description against a screenshot's detected
// UI elements (a "Set-of-Marks" list) into a single point. Composite
// agents (internal/composite) use it as the grounder half of a
// planner+grounder pair (spec.md §4.5). It has no planning loop of its
// own: its Step method exists only to satisfy Adapter and always errors.
type Omniparser struct {
	Client llm.Client
	Model  string
}

func NewOmniparser(client llm.Client, model string) *Omniparser {
	return &Omniparser{Client: client, Model: model}
}

// Step satisfies the Adapter interface so Omniparser can be resolved
// standalone (spec.md §4.3 registry lookup); it is never meant to be
// driven this way (spec.md §4.4: "used exclusively as the grounder side
// of a composite"), so it always errors.
func (o *Omniparser) Step(ctx context.Context, transcript []schema.Message) (Step, error) {
	return Step{}, fmt.Errorf("adapter: omniparser is grounder-only; use it as the grounder half of a composite model")
}

type somElement struct {
	ID     int    `json:"id"`
	Label  string `json:"label"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"w"`
	Height int    `json:"h"`
}

// Ground asks the parser for the Set-of-Marks elements on
// screenshotDataURL, then resolves instruction against their labels and
// returns the center point of the match bestMatch picks.
func (o *Omniparser) Ground(ctx context.Context, instruction, screenshotDataURL string) (schema.Point, schema.Usage, error) {
	prompt := fmt.Sprintf(
		`Detect interactive UI elements in the attached screenshot and return a JSON array `+
			`of {"id":N,"label":"...","x":N,"y":N,"w":N,"h":N}. Target instruction: %q`,
		instruction,
	)

	resp, err := o.Client.CreateTurn(ctx, llm.Request{
		Model: o.Model,
		Messages: []schema.Message{
			schema.NewUserContent(
				schema.ContentPart{Type: schema.ContentInputText, Text: prompt},
				schema.ContentPart{Type: schema.ContentComputerScreenshot, ImageURL: screenshotDataURL},
			),
		},
	})
	if err != nil {
		return schema.Point{}, schema.Usage{}, err
	}

	var text string
	for _, m := range resp.Messages {
		if m.Role == schema.RoleAssistant {
			text = flattenAssistantText(m)
			break
		}
	}

	elements := parseSetOfMarks(text)
	point, ok := bestMatch(elements, instruction)
	if !ok {
		return schema.Point{}, resp.Usage, fmt.Errorf("adapter: omniparser found no matching element for %q", instruction)
	}

	return point, resp.Usage, nil
}

func parseSetOfMarks(text string) []somElement {
	candidate := stripCodeFence(text)
	if !gjson.Valid(candidate) {
		if span, ok := extractJSONArray(candidate); ok {
			candidate = span
		}
	}

	var elements []somElement
	_ = json.Unmarshal([]byte(candidate), &elements)
	return elements
}

func extractJSONArray(s string) (string, bool) {
	start := indexByte(s, '[')
	end := lastIndexByte(s, ']')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// bestMatch picks the first element whose label contains instruction or
// is contained in it (case-insensitively), with no ranking among several
// matches, falling back to the first element when nothing matches textually —
// a coarse heuristic the grounder's own model quality is relied upon to
// make moot in practice.
func bestMatch(elements []somElement, instruction string) (schema.Point, bool) {
	if len(elements) == 0 {
		return schema.Point{}, false
	}
	for _, el := range elements {
		if containsFold(el.Label, instruction) || containsFold(instruction, el.Label) {
			return schema.Point{X: el.X + el.Width/2, Y: el.Y + el.Height/2}, true
		}
	}
	first := elements[0]
	return schema.Point{X: first.X + first.Width/2, Y: first.Y + first.Height/2}, true
}

func containsFold(haystack, needle string) bool {
	if needle == "" || haystack == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
