package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadang/cua/internal/adapter"
	"github.com/wadang/cua/internal/callback"
	"github.com/wadang/cua/internal/computerport"
	"github.com/wadang/cua/internal/cuaerr"
	"github.com/wadang/cua/internal/llm"
	"github.com/wadang/cua/internal/schema"
)

type mockAdapter struct {
	client *llm.MockClient
	model  string
}

func (m *mockAdapter) Step(ctx context.Context, transcript []schema.Message) (adapter.Step, error) {
	resp, err := m.client.CreateTurn(ctx, llm.Request{Model: m.model, Messages: transcript})
	if err != nil {
		return adapter.Step{}, err
	}
	return adapter.Step{Messages: resp.Messages, Usage: resp.Usage}, nil
}

func newDeterministicRun(a adapter.Adapter, c computerport.Computer, pipeline *callback.Pipeline) *Run {
	r := NewRun(a, c, pipeline)
	r.jitterFn = func() float64 { return 0.5 }
	r.LLMRetry.Base = time.Millisecond
	r.LLMRetry.Cap = 5 * time.Millisecond
	r.ComputerRetry.Base = time.Millisecond
	r.ComputerRetry.Cap = 5 * time.Millisecond
	r.Limits.PerActionTimeout = time.Second
	return r
}

// S1: single click then done.
func TestScenarioSingleClick(t *testing.T) {
	mock := llm.NewMockClient(
		llm.ScriptedComputerCall("call_1", schema.Action{Type: schema.ActionClick, X: 10, Y: 10}, schema.Usage{TotalTokens: 10}),
		llm.ScriptedAssistantText("clicked", schema.Usage{TotalTokens: 5}),
	)
	a := &mockAdapter{client: mock, model: "m"}
	fake := computerport.NewFake()
	pipeline := callback.New()

	run := newDeterministicRun(a, fake, pipeline)
	result := run.Execute(context.Background(), []schema.Message{schema.NewUserText("click the button")})

	require.True(t, result.Completed)
	assert.Equal(t, 1, fake.CallCount("click"))
	// balanced computer_call/computer_call_output counts
	calls, outputs := 0, 0
	for _, m := range result.Transcript {
		if m.Role == schema.RoleComputerCall {
			calls++
		}
		if m.Role == schema.RoleComputerCallOutput {
			outputs++
		}
	}
	assert.Equal(t, calls, outputs)

	// CAPTURE's initial screenshot lands as an input_image content part
	// on the user turn, not as a standalone computer_call_output.
	user := result.Transcript[0]
	require.Equal(t, schema.RoleUser, user.Role)
	var sawInputImage bool
	for _, part := range user.Content {
		if part.Type == schema.ContentInputImage {
			sawInputImage = true
		}
	}
	assert.True(t, sawInputImage, "expected the user turn to carry the CAPTURE screenshot")
}

// S3: transport error on the computer port is retried, then succeeds.
func TestScenarioRetryUnderTransportError(t *testing.T) {
	mock := llm.NewMockClient(
		llm.ScriptedComputerCall("call_1", schema.Action{Type: schema.ActionClick, X: 1, Y: 1}, schema.Usage{}),
		llm.ScriptedAssistantText("done", schema.Usage{}),
	)
	a := &mockAdapter{client: mock, model: "m"}
	fake := computerport.NewFake()
	fake.FailNext = &cuaerr.TransportError{Port: "computer", Op: "click", Err: errors.New("reset")}
	pipeline := callback.New()

	run := newDeterministicRun(a, fake, pipeline)
	// The user turn already carries its capture frame, so CAPTURE takes
	// no screenshot and FailNext lands on the click.
	seed := []schema.Message{
		schema.NewUserContent(
			schema.ContentPart{Type: schema.ContentInputText, Text: "go"},
			schema.ContentPart{Type: schema.ContentInputImage, ImageURL: "data:image/png;base64,x"},
		),
	}
	result := run.Execute(context.Background(), seed)

	require.True(t, result.Completed)
	assert.Equal(t, 2, fake.CallCount("click")) // first fails, retry succeeds
}

// S4: budget cap stops the run cleanly.
func TestScenarioBudgetCap(t *testing.T) {
	mock := llm.NewMockClient()
	mock.SetFallback(llm.ScriptedComputerCall("call_n", schema.Action{Type: schema.ActionClick, X: 1, Y: 1}, schema.Usage{TotalTokens: 1000}))
	a := &mockAdapter{client: mock, model: "m"}
	fake := computerport.NewFake()
	pipeline := callback.New()

	run := newDeterministicRun(a, fake, pipeline)
	run.Budget = callback.NewBudgetCap(0, 500)

	result := run.Execute(context.Background(), []schema.Message{schema.NewUserText("go")})

	require.True(t, result.Completed)
	require.False(t, result.Failed)
	last := result.Transcript[len(result.Transcript)-1]
	require.True(t, last.IsTerminalAssistant())
	assert.Contains(t, last.Content[0].Text, "budget")
}

// S5: cancellation is reported distinctly from failure.
func TestScenarioCancellation(t *testing.T) {
	mock := llm.NewMockClient()
	mock.SetFallback(func(req llm.Request) (llm.Response, error) {
		return llm.Response{}, context.Canceled
	})
	a := &mockAdapter{client: mock, model: "m"}
	fake := computerport.NewFake()
	pipeline := callback.New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := newDeterministicRun(a, fake, pipeline)
	result := run.Execute(ctx, []schema.Message{schema.NewUserText("go")})

	assert.True(t, result.Cancelled)
	assert.False(t, result.Failed)
}

// step limit reached terminates cleanly as DONE with a terminal assistant
// message naming the cause (spec.md §4.7/§7).
func TestStepLimitReached(t *testing.T) {
	mock := llm.NewMockClient()
	mock.SetFallback(llm.ScriptedComputerCall("call_n", schema.Action{Type: schema.ActionClick, X: 1, Y: 1}, schema.Usage{}))
	a := &mockAdapter{client: mock, model: "m"}
	fake := computerport.NewFake()
	pipeline := callback.New()

	run := newDeterministicRun(a, fake, pipeline)
	run.Limits.MaxSteps = 3

	result := run.Execute(context.Background(), []schema.Message{schema.NewUserText("go")})

	require.True(t, result.Completed)
	require.False(t, result.Failed)
	var stepErr *cuaerr.StepLimitReached
	assert.ErrorAs(t, result.Err, &stepErr)
	last := result.Transcript[len(result.Transcript)-1]
	require.True(t, last.IsTerminalAssistant())
	assert.Contains(t, last.Content[0].Text, "step limit")
}

// an unrecovered error (no on_error hook registered) drives the run to
// FAIL with a terminal assistant message naming the cause (spec.md §4.7
// FAIL state, §7 "all unrecovered errors yield a terminal assistant
// message with a human-readable summary").
func TestUnrecoveredErrorFails(t *testing.T) {
	mock := llm.NewMockClient()
	mock.SetFallback(func(req llm.Request) (llm.Response, error) {
		return llm.Response{}, errors.New("boom")
	})
	a := &mockAdapter{client: mock, model: "m"}
	fake := computerport.NewFake()
	pipeline := callback.New()

	run := newDeterministicRun(a, fake, pipeline)
	result := run.Execute(context.Background(), []schema.Message{schema.NewUserText("go")})

	require.True(t, result.Failed)
	require.False(t, result.Completed)
	require.False(t, result.Cancelled)
	last := result.Transcript[len(result.Transcript)-1]
	require.True(t, last.IsTerminalAssistant())
	assert.Contains(t, last.Content[0].Text, "boom")
}

// cancellation records the reason in the transcript too (spec.md §8 S5:
// "the trajectory contains the cancellation reason").
func TestScenarioCancellationRecordsReason(t *testing.T) {
	mock := llm.NewMockClient()
	mock.SetFallback(func(req llm.Request) (llm.Response, error) {
		return llm.Response{}, context.Canceled
	})
	a := &mockAdapter{client: mock, model: "m"}
	fake := computerport.NewFake()
	pipeline := callback.New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := newDeterministicRun(a, fake, pipeline)
	result := run.Execute(ctx, []schema.Message{schema.NewUserText("go")})

	require.True(t, result.Cancelled)
	last := result.Transcript[len(result.Transcript)-1]
	require.True(t, last.IsTerminalAssistant())
	assert.Contains(t, last.Content[0].Text, "cancel")
}

// unknown function_call with no policy/skip becomes a recoverable error
// via on_error RECOVER, keeping the run alive.
type recoverAlways struct{}

func (recoverAlways) OnError(ctx context.Context, cause error) (callback.ErrorDecision, []schema.Message, error) {
	return callback.ErrorRecover, nil, nil
}

func TestUnknownToolRecoversViaOnError(t *testing.T) {
	mock := llm.NewMockClient(
		llm.ScriptedFunctionCall("call_1", "unregistered.tool", []byte(`{}`), schema.Usage{}),
		llm.ScriptedAssistantText("done", schema.Usage{}),
	)
	a := &mockAdapter{client: mock, model: "m"}
	fake := computerport.NewFake()
	pipeline := callback.New(recoverAlways{})

	run := newDeterministicRun(a, fake, pipeline)
	result := run.Execute(context.Background(), []schema.Message{schema.NewUserText("go")})

	require.True(t, result.Completed)
}
