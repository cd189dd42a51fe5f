package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/wadang/cua/internal/cuaerr"
	"github.com/wadang/cua/internal/schema"
)

// OpenAIComputerUse speaks the OpenAI Responses API's computer-use tool
// shape directly (it diverges too far from chat-completions for
// internal/llm.HTTPClient to express), grounded on
// original_source/libs/python/agent/agent/loops/openai.py. It tracks
// previous_response_id across Step calls on the same instance so only
// the latest turn's delta needs to be sent, and echoes
// pending_safety_checks through to the canonical Message unexamined —
// interpreting them is a callback's job (internal/callback), not the
// adapter's.
type OpenAIComputerUse struct {
	BaseURL       string
	APIKey        string
	Model         string
	DisplayWidth  int
	DisplayHeight int
	Environment   string // "browser", "mac", "windows", "ubuntu"

	httpClient *http.Client

	mu                  sync.Mutex
	previousResponseID string
}

// NewOpenAIComputerUse builds an adapter for one run. display and
// environment describe the target surface the model is steering.
func NewOpenAIComputerUse(baseURL, apiKey, model string, width, height int, environment string) *OpenAIComputerUse {
	return &OpenAIComputerUse{
		BaseURL:       baseURL,
		APIKey:        apiKey,
		Model:         model,
		DisplayWidth:  width,
		DisplayHeight: height,
		Environment:   environment,
		httpClient:    &http.Client{Timeout: 90 * time.Second},
	}
}

type responsesRequest struct {
	Model              string           `json:"model"`
	Input              []responsesItem  `json:"input"`
	PreviousResponseID string           `json:"previous_response_id,omitempty"`
	Tools              []responsesTool  `json:"tools"`
	Truncation         string           `json:"truncation,omitempty"`
}

type responsesTool struct {
	Type          string `json:"type"`
	DisplayWidth  int    `json:"display_width,omitempty"`
	DisplayHeight int    `json:"display_height,omitempty"`
	Environment   string `json:"environment,omitempty"`
}

type responsesItem struct {
	Type                string          `json:"type"`
	Role                string          `json:"role,omitempty"`
	Content             json.RawMessage `json:"content,omitempty"`
	CallID              string          `json:"call_id,omitempty"`
	Action              *schema.Action  `json:"action,omitempty"`
	Name                string          `json:"name,omitempty"`
	Arguments           json.RawMessage `json:"arguments,omitempty"`
	Output              json.RawMessage `json:"output,omitempty"`
	PendingSafetyChecks json.RawMessage `json:"pending_safety_checks,omitempty"`
}

type responsesResponse struct {
	ID     string          `json:"id"`
	Output []responsesItem `json:"output"`
	Usage  struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Step sends only the messages appended since the last call (OpenAI's
// Responses API is itself stateful via previous_response_id); on the
// very first call the whole transcript is sent since there is no prior
// response to chain from.
func (a *OpenAIComputerUse) Step(ctx context.Context, transcript []schema.Message) (Step, error) {
	a.mu.Lock()
	prevID := a.previousResponseID
	a.mu.Unlock()

	delta := transcript
	if prevID != "" {
		delta = lastTurnDelta(transcript)
	}

	req := responsesRequest{
		Model:              a.Model,
		Input:              toResponsesItems(delta),
		PreviousResponseID: prevID,
		Tools: []responsesTool{{
			Type:          "computer_use_preview",
			DisplayWidth:  a.DisplayWidth,
			DisplayHeight: a.DisplayHeight,
			Environment:   a.Environment,
		}},
		Truncation: "auto",
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Step{}, fmt.Errorf("adapter: encode responses request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return Step{}, fmt.Errorf("adapter: build responses request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.APIKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return Step{}, &cuaerr.TransportError{Port: "llm", Op: "responses", Err: err}
	}
	defer resp.Body.Close()

	var wire responsesResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Step{}, &cuaerr.TargetError{Port: "llm", Op: "responses", Err: err}
	}
	if resp.StatusCode >= 400 {
		return Step{}, &cuaerr.TargetError{Port: "llm", Op: "responses", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	a.mu.Lock()
	a.previousResponseID = wire.ID
	a.mu.Unlock()

	msgs := fromResponsesItems(wire.Output)
	usage := schema.Usage{
		PromptTokens:     wire.Usage.InputTokens,
		CompletionTokens: wire.Usage.OutputTokens,
		TotalTokens:      wire.Usage.TotalTokens,
	}
	return Step{Messages: msgs, Usage: usage}, nil
}

// lastTurnDelta returns the suffix of transcript produced since the
// adapter's last Step call: the trailing computer_call_output plus any
// user messages appended after it. Orchestrator call sites only ever
// append one observation per turn, so this is always a short suffix.
func lastTurnDelta(transcript []schema.Message) []schema.Message {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == schema.RoleComputerCallOutput || transcript[i].Role == schema.RoleFunctionCallOutput {
			return transcript[i:]
		}
	}
	if len(transcript) == 0 {
		return nil
	}
	return transcript[len(transcript)-1:]
}

func toResponsesItems(msgs []schema.Message) []responsesItem {
	items := make([]responsesItem, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case schema.RoleUser:
			items = append(items, responsesItem{Type: "message", Role: "user", Content: encodeContent(m)})
		case schema.RoleComputerCallOutput:
			out, _ := json.Marshal(struct {
				Type     string `json:"type"`
				ImageURL string `json:"image_url"`
			}{Type: "computer_screenshot", ImageURL: screenshotURL(m)})
			items = append(items, responsesItem{Type: "computer_call_output", CallID: m.CallID, Output: out})
		case schema.RoleFunctionCallOutput:
			out, _ := json.Marshal(m.Output)
			items = append(items, responsesItem{Type: "function_call_output", CallID: m.CallID, Output: out})
		}
	}
	return items
}

func encodeContent(m schema.Message) json.RawMessage {
	raw, _ := json.Marshal(m.Content)
	if len(m.Content) == 0 && m.Text != "" {
		raw, _ = json.Marshal([]schema.ContentPart{{Type: schema.ContentInputText, Text: m.Text}})
	}
	return raw
}

func screenshotURL(m schema.Message) string {
	for _, part := range m.Content {
		if part.Type == schema.ContentComputerScreenshot {
			return part.ImageURL
		}
	}
	return ""
}

func fromResponsesItems(items []responsesItem) []schema.Message {
	out := make([]schema.Message, 0, len(items))
	for _, item := range items {
		switch item.Type {
		case "message":
			var parts []schema.ContentPart
			_ = json.Unmarshal(item.Content, &parts)
			out = append(out, schema.Message{Role: schema.RoleAssistant, Content: parts})
		case "reasoning":
			var parts []schema.ContentPart
			_ = json.Unmarshal(item.Content, &parts)
			out = append(out, schema.Message{Role: schema.RoleReasoning, Content: parts})
		case "computer_call":
			out = append(out, schema.Message{
				Role:                schema.RoleComputerCall,
				CallID:              item.CallID,
				Status:              schema.CallStatusInProgress,
				Action:              item.Action,
				PendingSafetyChecks: item.PendingSafetyChecks,
			})
		case "function_call":
			out = append(out, schema.Message{
				Role:      schema.RoleFunctionCall,
				CallID:    item.CallID,
				Status:    schema.CallStatusInProgress,
				Name:      item.Name,
				Arguments: item.Arguments,
			})
		}
	}
	return out
}
