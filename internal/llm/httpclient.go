package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wadang/cua/internal/cuaerr"
	"github.com/wadang/cua/internal/schema"
)

// HTTPClient speaks the OpenAI-compatible chat-completions wire protocol
// over plain net/http + encoding/json, generalizing the teacher's
// llmproxy.Client from "talk to one fixed LiteLLM gateway" to "talk to
// whatever base URL a registered provider factory supplies." It backs
// every provider whose API is chat-completions-shaped (most local and
// hosted OpenAI-compatible backends); the OpenAI/Anthropic
// computer-use-specific adapters in internal/adapter speak their own
// richer wire shapes with their own HTTP requests and do not go through
// doRequest. doRequest makes a single attempt; it classifies failures as
// TransportError or TargetError but does not retry.
type HTTPClient struct {
	BaseURL string
	APIKey  string
	Model   string

	httpClient *http.Client
}

// NewHTTPClient builds an HTTPClient with a sane request timeout,
// matching llmproxy.Client's constructor defaults.
func NewHTTPClient(baseURL, apiKey, model string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content,omitempty"`
	ToolCalls []chatToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type apiErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// CreateTurn translates req.Messages into chat-completions messages,
// posts them, and translates the single response choice back into
// canonical schema.Message values (an assistant text message, or one
// function_call per returned tool_call).
func (c *HTTPClient) CreateTurn(ctx context.Context, req Request) (Response, error) {
	wireReq := chatCompletionRequest{
		Model:    c.Model,
		Messages: toChatMessages(req.Messages),
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return Response{}, fmt.Errorf("llm: encode request: %w", err)
	}

	raw, err := c.doRequest(ctx, http.MethodPost, "/chat/completions", body)
	if err != nil {
		return Response{}, err
	}

	var wireResp chatCompletionResponse
	if err := json.Unmarshal(raw, &wireResp); err != nil {
		return Response{}, &cuaerr.TargetError{Port: "llm", Op: "decode response", Err: err}
	}
	if len(wireResp.Choices) == 0 {
		return Response{}, &cuaerr.TargetError{Port: "llm", Op: "chat/completions", Err: fmt.Errorf("no choices returned")}
	}

	msgs := fromChatMessage(wireResp.Choices[0].Message)
	usage := schema.Usage{
		PromptTokens:     wireResp.Usage.PromptTokens,
		CompletionTokens: wireResp.Usage.CompletionTokens,
		TotalTokens:      wireResp.Usage.TotalTokens,
	}
	return Response{Messages: msgs, Usage: usage}, nil
}

func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &cuaerr.TransportError{Port: "llm", Op: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &cuaerr.TransportError{Port: "llm", Op: path, Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &cuaerr.TransportError{Port: "llm", Op: path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, raw)}
	}
	if resp.StatusCode >= 400 {
		var envelope apiErrorEnvelope
		_ = json.Unmarshal(raw, &envelope)
		msg := envelope.Error.Message
		if msg == "" {
			msg = string(raw)
		}
		return nil, &cuaerr.TargetError{Port: "llm", Op: path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg)}
	}

	return raw, nil
}

func toChatMessages(msgs []schema.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case schema.RoleUser:
			out = append(out, chatMessage{Role: "user", Content: flattenText(m)})
		case schema.RoleAssistant:
			out = append(out, chatMessage{Role: "assistant", Content: flattenText(m)})
		case schema.RoleFunctionCall:
			tc := chatToolCall{ID: m.CallID, Type: "function"}
			tc.Function.Name = m.Name
			tc.Function.Arguments = string(m.Arguments)
			out = append(out, chatMessage{Role: "assistant", ToolCalls: []chatToolCall{tc}})
		case schema.RoleFunctionCallOutput:
			out = append(out, chatMessage{Role: "tool", ToolCallID: m.CallID, Content: m.Output})
		default:
			// computer_call / computer_call_output / reasoning have no
			// chat-completions equivalent and are dropped. User and
			// assistant content is flattened to its first text part, so
			// no screenshot (input_image or computer_call_output) is
			// sent over this transport.
		}
	}
	return out
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

func fromChatMessage(m chatMessage) []schema.Message {
	if len(m.ToolCalls) > 0 {
		out := make([]schema.Message, 0, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			out = append(out, schema.NewFunctionCall(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
		}
		return out
	}
	return []schema.Message{schema.NewAssistantText(m.Content)}
}
