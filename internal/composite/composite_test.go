package composite

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadang/cua/internal/adapter"
	"github.com/wadang/cua/internal/schema"
)

type fakePlanner struct {
	step adapter.Step
	err  error
}

func (f *fakePlanner) Step(ctx context.Context, transcript []schema.Message) (adapter.Step, error) {
	return f.step, f.err
}

type fakeGrounder struct {
	point schema.Point
	usage schema.Usage
	err   error
}

func (f *fakeGrounder) Ground(ctx context.Context, instruction, screenshotURL string) (schema.Point, schema.Usage, error) {
	return f.point, f.usage, f.err
}

func TestCompositeGroundsAndSumsUsage(t *testing.T) {
	args, _ := json.Marshal(map[string]string{"instruction": "the Submit button"})
	planner := &fakePlanner{step: adapter.Step{
		Messages: []schema.Message{schema.NewFunctionCall("call_1", "ground", args)},
		Usage:    schema.Usage{TotalTokens: 10},
	}}
	grounder := &fakeGrounder{point: schema.Point{X: 42, Y: 99}, usage: schema.Usage{TotalTokens: 5}}

	agent := New(planner, grounder)
	step, err := agent.Step(context.Background(), []schema.Message{schema.NewComputerCallOutput("c0", "data:img")})
	require.NoError(t, err)

	require.Len(t, step.Messages, 1)
	assert.Equal(t, schema.RoleComputerCall, step.Messages[0].Role)
	assert.Equal(t, 42, step.Messages[0].Action.X)
	assert.Equal(t, 99, step.Messages[0].Action.Y)
	assert.Equal(t, "call_1", step.Messages[0].CallID)
	assert.Equal(t, 15, step.Usage.TotalTokens)
}

func TestCompositePassesThroughNonGroundReply(t *testing.T) {
	planner := &fakePlanner{step: adapter.Step{
		Messages: []schema.Message{schema.NewAssistantText("done")},
	}}
	agent := New(planner, &fakeGrounder{})

	step, err := agent.Step(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "done", step.Messages[0].Content[0].Text)
}
