package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadang/cua/internal/llm"
	"github.com/wadang/cua/internal/schema"
)

func TestRetentionCollapsesOlderScreenshots(t *testing.T) {
	transcript := []schema.Message{
		schema.NewUserText("go"),
		schema.NewComputerCallOutput("c1", "data:1"),
		schema.NewComputerCallOutput("c2", "data:2"),
		schema.NewComputerCallOutput("c3", "data:3"),
	}

	r := NewRetention(2)
	out := r.Apply(transcript)

	require.Len(t, out, 4)
	assert.Equal(t, collapsedPlaceholder, out[1].Text)
	assert.Empty(t, out[1].Content)
	assert.NotEmpty(t, out[2].Content)
	assert.NotEmpty(t, out[3].Content)
	// untouched prefix is carried over unchanged
	assert.Equal(t, transcript[0], out[0])
}

func TestRetentionNoopUnderLimit(t *testing.T) {
	transcript := []schema.Message{schema.NewComputerCallOutput("c1", "data:1")}
	out := NewRetention(5).Apply(transcript)
	assert.Equal(t, transcript, out)
}

func TestToAnthropicMessagesPreservesContentParts(t *testing.T) {
	user := schema.NewUserContent(
		schema.ContentPart{Type: schema.ContentInputText, Text: "click the button"},
		schema.ContentPart{Type: schema.ContentInputImage, ImageURL: "data:image/png;base64,aaaa"},
	)

	out := toAnthropicMessages([]schema.Message{user})
	require.Len(t, out, 1)
	require.Len(t, out[0].Content, 2)
	assert.Equal(t, "text", out[0].Content[0].Type)
	assert.Equal(t, "click the button", out[0].Content[0].Text)
	assert.Equal(t, "image", out[0].Content[1].Type)
	require.NotNil(t, out[0].Content[1].Source)
	assert.Equal(t, "data:image/png;base64,aaaa", out[0].Content[1].Source.Data)
}

func TestToAnthropicMessagesFallsBackToTextWhenContentEmpty(t *testing.T) {
	out := toAnthropicMessages([]schema.Message{schema.NewUserText("go")})
	require.Len(t, out, 1)
	require.Len(t, out[0].Content, 1)
	assert.Equal(t, "go", out[0].Content[0].Text)
}

func TestVLMParsesFencedJSON(t *testing.T) {
	mock := llm.NewMockClient(func(req llm.Request) (llm.Response, error) {
		return llm.Response{Messages: []schema.Message{
			schema.NewAssistantText("```json\n{\"type\":\"click\",\"x\":12,\"y\":34}\n```"),
		}}, nil
	})

	v := NewVLM(mock, "huggingface-local/qwen2-vl", "")
	step, err := v.Step(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, step.Messages, 1)
	assert.Equal(t, schema.RoleComputerCall, step.Messages[0].Role)
	assert.Equal(t, 12, step.Messages[0].Action.X)
	assert.Equal(t, 34, step.Messages[0].Action.Y)
}

func TestVLMFallsBackToNoopOnParseFailure(t *testing.T) {
	mock := llm.NewMockClient(func(req llm.Request) (llm.Response, error) {
		return llm.Response{Messages: []schema.Message{schema.NewAssistantText("I cannot comply with that")}}, nil
	})

	v := NewVLM(mock, "m", "")
	step, err := v.Step(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, step.Messages, 1)
	assert.Equal(t, schema.RoleFunctionCall, step.Messages[0].Role)
	assert.Equal(t, "noop", step.Messages[0].Name)
}

func TestParseBoxTokensScalesToScreen(t *testing.T) {
	point, ok := parseBoxTokens("click at <|loc500|><|loc250|>", 1000, 1000)
	require.True(t, ok)
	assert.Equal(t, 500, point.X)
	assert.Equal(t, 250, point.Y)
}

func TestOmniparserGroundMatchesLabel(t *testing.T) {
	mock := llm.NewMockClient(func(req llm.Request) (llm.Response, error) {
		return llm.Response{Messages: []schema.Message{
			schema.NewAssistantText(`[{"id":1,"label":"Submit button","x":100,"y":200,"w":40,"h":20}]`),
		}}, nil
	})

	o := NewOmniparser(mock, "omniparser/omniparser-v2")
	point, _, err := o.Ground(context.Background(), "submit", "data:image/png;base64,x")
	require.NoError(t, err)
	assert.Equal(t, 120, point.X)
	assert.Equal(t, 210, point.Y)
}
