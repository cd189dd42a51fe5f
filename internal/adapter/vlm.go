package adapter

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/tidwall/gjson"

	"github.com/wadang/cua/internal/llm"
	"github.com/wadang/cua/internal/schema"
)

var vlmCallCounter atomic.Int64

// VLM is the generic vision-language-model adapter: it prompts a plain
// chat/completion-style backend to emit its next action as JSON and
// tolerantly parses whatever comes back, covering every provider prefix
// that has no dedicated computer-use tool API (spec.md §4.4's "many
// provider prefixes share one generic-VLM adapter" rule, grounded on
// original_source/libs/python/agent/agent/adapters/{huggingfacelocal,mlxvlm}_adapter.py).
// Real-world VLM output is rarely clean JSON: models wrap it in code
// fences or surround it with prose. Parsing strips a code fence, falls
// back to the outermost {...} span, and then reads the fields with
// tidwall/gjson; the span must be valid JSON (single-quoted or otherwise
// malformed objects are rejected and the turn becomes a noop).
type VLM struct {
	Client       llm.Client
	Model        string
	SystemPrompt string
}

// NewVLM builds a generic adapter around an already-resolved llm.Client.
func NewVLM(client llm.Client, model, systemPrompt string) *VLM {
	if systemPrompt == "" {
		systemPrompt = defaultVLMSystemPrompt
	}
	return &VLM{Client: client, Model: model, SystemPrompt: systemPrompt}
}

const defaultVLMSystemPrompt = `You control a computer by emitting exactly one JSON action per turn, ` +
	`shaped like {"type":"click","x":100,"y":200} or {"type":"done","text":"..."}. ` +
	`Emit nothing else.`

func (v *VLM) Step(ctx context.Context, transcript []schema.Message) (Step, error) {
	req := llm.Request{
		Model:    v.Model,
		Messages: append([]schema.Message{schema.NewUserText(v.SystemPrompt)}, transcript...),
	}

	resp, err := v.Client.CreateTurn(ctx, req)
	if err != nil {
		return Step{}, err
	}

	text := ""
	for _, m := range resp.Messages {
		if m.Role == schema.RoleAssistant {
			text = flattenAssistantText(m)
			break
		}
	}
	if text == "" {
		return Step{Messages: resp.Messages, Usage: resp.Usage}, nil
	}

	msg, ok := parseVLMAction(text)
	if !ok {
		// Parse failure: surface a noop function_call so the
		// orchestrator's ACT state has something well-formed to route,
		// rather than failing the whole run on one malformed turn
		// (spec.md §4.4 VLM adapter contract).
		msg = schema.NewFunctionCall("noop_1", "noop", json.RawMessage(`{}`))
	}

	return Step{Messages: []schema.Message{msg}, Usage: resp.Usage}, nil
}

func flattenAssistantText(m schema.Message) string {
	if m.Text != "" {
		return m.Text
	}
	for _, part := range m.Content {
		if part.Text != "" {
			return part.Text
		}
	}
	return ""
}

// parseVLMAction strips a surrounding code fence if present, trims any
// prose around the outermost {...} span when the text is not valid JSON
// as it stands, and pulls the action fields out with gjson.
func parseVLMAction(text string) (schema.Message, bool) {
	candidate := stripCodeFence(text)

	if !gjson.Valid(candidate) {
		// gjson.Valid is strict; try extracting the first {...} span as a
		// fallback for "JSON plus trailing commentary" replies.
		if span, ok := extractJSONObject(candidate); ok {
			candidate = span
		}
		if !gjson.Valid(candidate) {
			return schema.Message{}, false
		}
	}

	result := gjson.Parse(candidate)
	actionType := result.Get("type").String()
	if actionType == "" {
		return schema.Message{}, false
	}

	if actionType == "done" {
		return schema.NewAssistantText(result.Get("text").String()), true
	}

	action := schema.Action{
		Type:    schema.ActionType(actionType),
		X:       int(result.Get("x").Int()),
		Y:       int(result.Get("y").Int()),
		Text:    result.Get("text").String(),
		ScrollX: int(result.Get("scroll_x").Int()),
		ScrollY: int(result.Get("scroll_y").Int()),
	}
	if keys := result.Get("keys"); keys.IsArray() {
		for _, k := range keys.Array() {
			action.Keys = append(action.Keys, k.String())
		}
	}
	if button := result.Get("button").String(); button != "" {
		action.Button = schema.Button(button)
	}

	if err := schema.ValidateAction(action); err != nil {
		return schema.Message{}, false
	}

	callID := "vlm_" + strconv.FormatInt(vlmCallCounter.Add(1), 10)
	return schema.NewComputerCall(callID, action), true
}

func stripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if idx := strings.Index(t, "\n"); idx >= 0 {
		t = t[idx+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
