package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []Message{
		NewUserText("open the calculator"),
		NewAssistantText("done"),
		NewReasoning("scanning the desktop for the calculator icon"),
		NewComputerCall("call_1", Action{Type: ActionClick, Button: ButtonLeft, X: 100, Y: 200}),
		NewComputerCall("call_2", Action{Type: ActionDrag, Path: []Point{{X: 0, Y: 0}, {X: 50, Y: 50}}}),
		NewComputerCall("call_3", Action{Type: ActionKeypress, Keys: []string{"ctrl", "c"}}),
		NewComputerCallOutput("call_1", "data:image/png;base64,abc123"),
		NewFunctionCall("call_4", "noop", json.RawMessage(`{}`)),
		NewFunctionCallOutput("call_4", "ok"),
	}

	for _, m := range cases {
		encoded, err := Encode(m)
		require.NoError(t, err)

		decoded, err := Decode(encoded)
		require.NoError(t, err)

		assert.Equal(t, m, decoded)
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	raw := []byte(`{"role":"user","text":"hi","unknown_field":"should be ignored"}`)

	m, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, m.Role)
	assert.Equal(t, "hi", m.Text)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		m       Message
		wantErr bool
	}{
		{"user text ok", NewUserText("hello"), false},
		{"user empty invalid", Message{Role: RoleUser}, true},
		{"computer_call ok", NewComputerCall("c1", Action{Type: ActionClick, X: 1, Y: 1}), false},
		{"computer_call missing call_id", Message{Role: RoleComputerCall, Action: &Action{Type: ActionClick}}, true},
		{"computer_call missing action", Message{Role: RoleComputerCall, CallID: "c1"}, true},
		{
			"drag with 1 point invalid",
			NewComputerCall("c2", Action{Type: ActionDrag, Path: []Point{{X: 0, Y: 0}}}),
			true,
		},
		{
			"drag with 2 points ok",
			NewComputerCall("c2", Action{Type: ActionDrag, Path: []Point{{X: 0, Y: 0}, {X: 1, Y: 1}}}),
			false,
		},
		{
			"keypress empty keys invalid",
			NewComputerCall("c3", Action{Type: ActionKeypress}),
			true,
		},
		{
			"computer_call_output missing content invalid",
			Message{Role: RoleComputerCallOutput, CallID: "c1"},
			true,
		},
		{"computer_call_output ok", NewComputerCallOutput("c1", "data:image/png;base64,x"), false},
		{
			"function_call missing name invalid",
			Message{Role: RoleFunctionCall, CallID: "c4"},
			true,
		},
		{"function_call ok", NewFunctionCall("c4", "noop", nil), false},
		{"unknown role invalid", Message{Role: "bogus"}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.m)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUsageAdd(t *testing.T) {
	a := Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, ResponseCost: 0.01}
	b := Usage{PromptTokens: 20, CompletionTokens: 8, TotalTokens: 28, ResponseCost: 0.02}

	got := a.Add(b)
	assert.Equal(t, Usage{PromptTokens: 30, CompletionTokens: 13, TotalTokens: 43, ResponseCost: 0.03}, got)
}
