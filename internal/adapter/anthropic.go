package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wadang/cua/internal/cuaerr"
	"github.com/wadang/cua/internal/schema"
)

// AnthropicComputerUse speaks the Anthropic Messages API's tool-use
// shape for the computer-use tool, grounded on
// original_source/libs/python/agent/agent/loops (the Anthropic loop
// module's tool_use/tool_result block pairing) and spec.md §4.4. Unlike
// OpenAIComputerUse it is stateless across Step calls (the Anthropic API
// has no response-id chaining) and instead applies prompt-cache
// breakpoints: cache_control is set on the last content block of each of
// the last CacheLastN messages only, matching the "last-N messages,
// last block" rule spec.md's Supplemented Features section records from
// the original implementation.
type AnthropicComputerUse struct {
	BaseURL string
	APIKey  string
	Model   string
	Width   int
	Height  int

	CacheLastN int // default 2

	httpClient *http.Client
}

// NewAnthropicComputerUse builds an adapter for one run.
func NewAnthropicComputerUse(baseURL, apiKey, model string, width, height int) *AnthropicComputerUse {
	return &AnthropicComputerUse{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		Width:      width,
		Height:     height,
		CacheLastN: 2,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

type anthropicBlock struct {
	Type         string          `json:"type"`
	Text         string          `json:"text,omitempty"`
	Source       *anthropicImage `json:"source,omitempty"`
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	ToolUseID    string          `json:"tool_use_id,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`
	CacheControl json.RawMessage `json:"cache_control,omitempty"`
}

type anthropicImage struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools"`
}

type anthropicTool struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	DisplayWidthPx  int `json:"display_width_px,omitempty"`
	DisplayHeightPx int `json:"display_height_px,omitempty"`
}

type anthropicResponse struct {
	Content []anthropicBlock `json:"content"`
	Usage   struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

var cacheControlEphemeral = json.RawMessage(`{"type":"ephemeral"}`)

func (a *AnthropicComputerUse) Step(ctx context.Context, transcript []schema.Message) (Step, error) {
	messages := toAnthropicMessages(transcript)
	applyCacheBreakpoints(messages, a.CacheLastN)

	req := anthropicRequest{
		Model:     a.Model,
		MaxTokens: 4096,
		Messages:  messages,
		Tools: []anthropicTool{{
			Type:            "computer_20241022",
			Name:            "computer",
			DisplayWidthPx:  a.Width,
			DisplayHeightPx: a.Height,
		}},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Step{}, fmt.Errorf("adapter: encode anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return Step{}, fmt.Errorf("adapter: build anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return Step{}, &cuaerr.TransportError{Port: "llm", Op: "messages", Err: err}
	}
	defer resp.Body.Close()

	var wire anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Step{}, &cuaerr.TargetError{Port: "llm", Op: "messages", Err: err}
	}
	if resp.StatusCode >= 400 {
		return Step{}, &cuaerr.TargetError{Port: "llm", Op: "messages", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	msgs := fromAnthropicBlocks(wire.Content)
	usage := schema.Usage{
		PromptTokens:     wire.Usage.InputTokens + wire.Usage.CacheReadInputTokens,
		CompletionTokens: wire.Usage.OutputTokens,
		TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens + wire.Usage.CacheReadInputTokens,
	}
	return Step{Messages: msgs, Usage: usage}, nil
}

// applyCacheBreakpoints sets cache_control on the last content block of
// each of the last n messages, the rule spec.md's Supplemented Features
// section records from the original Python implementation's prompt
// caching helper.
func applyCacheBreakpoints(messages []anthropicMessage, n int) {
	if n <= 0 || len(messages) == 0 {
		return
	}
	start := len(messages) - n
	if start < 0 {
		start = 0
	}
	for i := start; i < len(messages); i++ {
		blocks := messages[i].Content
		if len(blocks) == 0 {
			continue
		}
		blocks[len(blocks)-1].CacheControl = cacheControlEphemeral
	}
}

func toAnthropicMessages(transcript []schema.Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(transcript))
	for _, m := range transcript {
		switch m.Role {
		case schema.RoleUser:
			out = append(out, anthropicMessage{Role: "user", Content: userContentBlocks(m)})
		case schema.RoleAssistant:
			out = append(out, anthropicMessage{Role: "assistant", Content: []anthropicBlock{{Type: "text", Text: flattenText(m)}}})
		case schema.RoleComputerCallOutput:
			out = append(out, anthropicMessage{Role: "user", Content: []anthropicBlock{{
				Type:      "tool_result",
				ToolUseID: m.CallID,
				Content:   encodeImageBlock(screenshotURL(m)),
			}}})
		case schema.RoleComputerCall:
			input, _ := json.Marshal(m.Action)
			out = append(out, anthropicMessage{Role: "assistant", Content: []anthropicBlock{{
				Type: "tool_use", ID: m.CallID, Name: "computer", Input: input,
			}}})
		}
	}
	return out
}

// userContentBlocks mirrors openai.go's encodeContent fallback: read
// m.Content when set (a CAPTURE-seeded user turn carries an input_image
// part alongside its input_text), and fall back to m.Text only when
// Content is empty, so content-part messages no longer lose everything
// but their first text block when routed through this adapter.
func userContentBlocks(m schema.Message) []anthropicBlock {
	if len(m.Content) == 0 {
		return []anthropicBlock{{Type: "text", Text: m.Text}}
	}
	blocks := make([]anthropicBlock, 0, len(m.Content))
	for _, part := range m.Content {
		switch part.Type {
		case schema.ContentInputImage, schema.ContentComputerScreenshot:
			blocks = append(blocks, anthropicBlock{Type: "image", Source: &anthropicImage{Type: "base64", MediaType: "image/png", Data: part.ImageURL}})
		default:
			blocks = append(blocks, anthropicBlock{Type: "text", Text: part.Text})
		}
	}
	return blocks
}

func flattenText(m schema.Message) string {
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

func encodeImageBlock(dataURL string) json.RawMessage {
	block := []anthropicBlock{{Type: "image", Source: &anthropicImage{Type: "base64", MediaType: "image/png", Data: dataURL}}}
	raw, _ := json.Marshal(block)
	return raw
}

func fromAnthropicBlocks(blocks []anthropicBlock) []schema.Message {
	out := make([]schema.Message, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			out = append(out, schema.NewAssistantText(b.Text))
		case "tool_use":
			var action schema.Action
			_ = json.Unmarshal(b.Input, &action)
			out = append(out, schema.NewComputerCall(b.ID, action))
		}
	}
	return out
}
