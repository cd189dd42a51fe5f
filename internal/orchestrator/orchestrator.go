// Package orchestrator drives one run of the agent loop through its
// state machine (spec.md §4.7): INIT -> CAPTURE -> ASK -> ACT -> OBSERVE
// -> (ASK | DONE | FAIL), applying retry/backoff, step/budget limits,
// and the callback pipeline at every phase.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/wadang/cua/internal/adapter"
	"github.com/wadang/cua/internal/callback"
	"github.com/wadang/cua/internal/computerport"
	"github.com/wadang/cua/internal/cuaerr"
	"github.com/wadang/cua/internal/schema"
)

// State names the orchestrator's current phase, exposed for logging and
// tests (spec.md §4.7 state diagram).
type State string

const (
	StateInit     State = "INIT"
	StateCapture  State = "CAPTURE"
	StateAsk      State = "ASK"
	StateAct      State = "ACT"
	StateObserve  State = "OBSERVE"
	StateDone     State = "DONE"
	StateFail     State = "FAIL"
)

// RetryPolicy configures the backoff applied to a retryable
// TransportError, per port, matching spec.md §4.7's defaults.
type RetryPolicy struct {
	Base       time.Duration
	Factor     float64
	Jitter     float64
	Cap        time.Duration
	MaxRetries int
}

// DefaultLLMRetryPolicy: base 500ms, factor 2, jitter 0.25, cap 8s, max 4 tries.
func DefaultLLMRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 500 * time.Millisecond, Factor: 2, Jitter: 0.25, Cap: 8 * time.Second, MaxRetries: 3}
}

// DefaultComputerRetryPolicy: same curve, max 2 tries.
func DefaultComputerRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 500 * time.Millisecond, Factor: 2, Jitter: 0.25, Cap: 8 * time.Second, MaxRetries: 1}
}

func (p RetryPolicy) delay(attempt int, jitterFn func() float64) time.Duration {
	d := float64(p.Base) * pow(p.Factor, attempt)
	capped := d
	if time.Duration(capped) > p.Cap {
		capped = float64(p.Cap)
	}
	jitterSpan := capped * p.Jitter
	j := jitterFn()
	return time.Duration(capped + (j*2-1)*jitterSpan)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Limits bounds one run's ASK-step count and per-action timeout. The
// cost/token ceiling is not part of Limits; Run.Budget enforces it.
type Limits struct {
	MaxSteps        int
	PerActionTimeout time.Duration
}

// DefaultLimits: 50 steps, 30s per-action timeout.
func DefaultLimits() Limits {
	return Limits{MaxSteps: 50, PerActionTimeout: 30 * time.Second}
}

// Run executes one full INIT..terminal cycle.
type Run struct {
	Adapter     adapter.Adapter
	Computer    computerport.Computer
	Pipeline    *callback.Pipeline
	Budget      *callback.BudgetCap
	Limits      Limits
	LLMRetry    RetryPolicy
	ComputerRetry RetryPolicy

	// jitterFn defaults to a fixed 0.5 (mid-span) so tests are
	// deterministic; real callers may leave it nil.
	jitterFn func() float64
}

// NewRun applies defaults for any zero-valued field that needs one.
func NewRun(a adapter.Adapter, c computerport.Computer, pipeline *callback.Pipeline) *Run {
	return &Run{
		Adapter:       a,
		Computer:      c,
		Pipeline:      pipeline,
		Budget:        callback.NewBudgetCap(0, 0),
		Limits:        DefaultLimits(),
		LLMRetry:      DefaultLLMRetryPolicy(),
		ComputerRetry: DefaultComputerRetryPolicy(),
	}
}

func (r *Run) jitter() float64 {
	if r.jitterFn != nil {
		return r.jitterFn()
	}
	return 0.5
}

// Result is the terminal outcome of Execute: exactly one of Completed,
// Failed, Cancelled is true (spec.md §8 property).
type Result struct {
	Transcript []schema.Message
	Completed  bool
	Failed     bool
	Cancelled  bool
	Err        error
	Steps      int
}

// Execute runs the state machine to completion starting from seed
// (the initial user message plus anything already in the transcript).
func (r *Run) Execute(ctx context.Context, seed []schema.Message) Result {
	transcript, err := r.Pipeline.RunStart(ctx, seed)
	if err != nil {
		return r.fail(ctx, transcript, err)
	}

	state := StateCapture
	steps := 0

	for {
		select {
		case <-ctx.Done():
			return r.cancel(ctx, transcript, ctx.Err())
		default:
		}

		switch state {
		case StateCapture:
			var captureErr error
			transcript, captureErr = r.capture(ctx, transcript)
			if captureErr != nil {
				result, recovered := r.handleError(ctx, transcript, captureErr, StateCapture)
				if !recovered {
					return result
				}
				transcript = result.Transcript
			}
			state = StateAsk

		case StateAsk:
			if steps >= r.Limits.MaxSteps {
				return r.stop(ctx, transcript, &cuaerr.StepLimitReached{Limit: r.Limits.MaxSteps}, steps)
			}
			var askErr error
			transcript, askErr = r.Pipeline.BeforeTurn(ctx, transcript)
			if askErr != nil {
				result, recovered := r.handleError(ctx, transcript, askErr, StateAsk)
				if !recovered {
					return result
				}
				transcript = result.Transcript
				state = StateAsk
				continue
			}

			transcript, askErr = r.Pipeline.BeforeLLM(ctx, transcript)
			if askErr != nil {
				result, recovered := r.handleError(ctx, transcript, askErr, StateAsk)
				if !recovered {
					return result
				}
				transcript = result.Transcript
				state = StateAsk
				continue
			}

			next, usage, askErr := r.ask(ctx, transcript)
			if askErr != nil {
				result, recovered := r.handleError(ctx, transcript, askErr, StateAsk)
				if !recovered {
					return result
				}
				transcript = result.Transcript
				continue
			}
			steps++

			if r.Budget != nil {
				if budgetErr := r.Budget.Track(usage); budgetErr != nil {
					return r.stop(ctx, transcript, budgetErr, steps)
				}
			}

			transcript = append(transcript, next...)
			transcript, askErr = r.Pipeline.AfterTurn(ctx, transcript)
			if askErr != nil {
				result, recovered := r.handleError(ctx, transcript, askErr, StateAsk)
				if !recovered {
					return result
				}
				transcript = result.Transcript
				continue
			}

			if isTerminalAssistant(next) {
				state = StateDone
				continue
			}
			state = StateAct

		case StateAct:
			call, ok := lastCall(transcript)
			if !ok {
				state = StateDone
				continue
			}
			if call.Role == schema.RoleFunctionCall {
				var actErr error
				transcript, actErr = r.act(ctx, transcript, call)
				if actErr != nil {
					result, recovered := r.handleError(ctx, transcript, actErr, StateAct)
					if !recovered {
						return result
					}
					transcript = result.Transcript
				}
				state = StateAsk
				continue
			}
			state = StateObserve

		case StateObserve:
			var obsErr error
			transcript, obsErr = r.observe(ctx, transcript)
			if obsErr != nil {
				result, recovered := r.handleError(ctx, transcript, obsErr, StateObserve)
				if !recovered {
					return result
				}
				transcript = result.Transcript
			}
			state = StateAsk

		case StateDone:
			outcome := callback.Outcome{Completed: true}
			_ = r.Pipeline.RunEnd(ctx, transcript, outcome)
			return Result{Transcript: transcript, Completed: true, Steps: steps}
		}
	}
}

func isTerminalAssistant(msgs []schema.Message) bool {
	for _, m := range msgs {
		if m.IsTerminalAssistant() {
			return true
		}
	}
	return false
}

func lastCall(transcript []schema.Message) (schema.Message, bool) {
	for i := len(transcript) - 1; i >= 0; i-- {
		m := transcript[i]
		if m.Role == schema.RoleComputerCall || m.Role == schema.RoleFunctionCall {
			return m, true
		}
		if m.Role == schema.RoleComputerCallOutput || m.Role == schema.RoleFunctionCallOutput {
			return schema.Message{}, false
		}
	}
	return schema.Message{}, false
}

// capture seeds the first observation of a run by appending an
// input_image content part onto the user turn, not a standalone
// computer_call_output (spec.md §4.7 CAPTURE: "append as input_image to
// the user turn") — there is no computer_call for it to answer, so
// emitting it as a call/output pair would break the balanced-calls
// invariant (spec.md §8 property 1).
func (r *Run) capture(ctx context.Context, transcript []schema.Message) ([]schema.Message, error) {
	idx := lastUserIndex(transcript)
	if idx < 0 || hasInputImage(transcript[idx]) {
		return transcript, nil
	}

	shot, err := r.withComputerRetry(ctx, func(ctx context.Context) ([]byte, error) {
		return r.Computer.Screenshot(ctx)
	})
	if err != nil {
		return transcript, err
	}

	// OnScreenshot is still run through a throwaway computer_call_output
	// envelope so the trajectory writer persists the capture frame to
	// screenshots/capture_0.png; the envelope itself never joins the
	// transcript, only the image URL it carries back.
	shotMsg, err := r.Pipeline.OnScreenshot(ctx, schema.NewComputerCallOutput("capture_0", dataURL(shot)))
	if err != nil {
		return transcript, err
	}

	out := make([]schema.Message, len(transcript))
	copy(out, transcript)
	out[idx] = withInputImage(out[idx], imageURLOf(shotMsg))
	return out, nil
}

// lastUserIndex returns the index of the most recent user message in
// transcript, or -1 if there is none to attach the capture frame to.
func lastUserIndex(transcript []schema.Message) int {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == schema.RoleUser {
			return i
		}
	}
	return -1
}

// hasInputImage reports whether m already carries an input_image
// content part, so a run resumed mid-transcript never captures twice.
func hasInputImage(m schema.Message) bool {
	for _, part := range m.Content {
		if part.Type == schema.ContentInputImage {
			return true
		}
	}
	return false
}

// withInputImage returns a copy of m with imageURL appended as an
// input_image content part, promoting a plain Text message to
// content-part form first.
func withInputImage(m schema.Message, imageURL string) schema.Message {
	content := m.Content
	if len(content) == 0 && m.Text != "" {
		content = []schema.ContentPart{{Type: schema.ContentInputText, Text: m.Text}}
	}
	m.Content = append(append([]schema.ContentPart{}, content...), schema.ContentPart{Type: schema.ContentInputImage, ImageURL: imageURL})
	m.Text = ""
	return m
}

// imageURLOf reads the screenshot data URL back out of a
// computer_call_output envelope built for OnScreenshot's benefit.
func imageURLOf(m schema.Message) string {
	for _, part := range m.Content {
		if part.Type == schema.ContentComputerScreenshot {
			return part.ImageURL
		}
	}
	return ""
}

func (r *Run) ask(ctx context.Context, transcript []schema.Message) ([]schema.Message, schema.Usage, error) {
	var step adapter.Step
	err := r.withLLMRetryVoid(ctx, func(ctx context.Context) error {
		s, err := r.Adapter.Step(ctx, transcript)
		if err != nil {
			return err
		}
		step = s
		return nil
	})
	if err != nil {
		return nil, schema.Usage{}, err
	}

	msgs, err := r.Pipeline.AfterLLM(ctx, step.Messages)
	if err != nil {
		return nil, schema.Usage{}, err
	}
	return msgs, step.Usage, nil
}

// act handles a function_call: run the callback veto chain, and if not
// skipped, the orchestrator itself has no tool registry of its own
// (spec.md §1: tool execution is an external, non-core collaborator) —
// an unrouted function_call becomes UnknownTool unless a BeforeAction
// hook supplies an output.
func (r *Run) act(ctx context.Context, transcript []schema.Message, call schema.Message) ([]schema.Message, error) {
	decision, output, err := r.Pipeline.BeforeAction(ctx, call)
	if err != nil {
		return transcript, err
	}
	if decision == callback.DecisionSkip {
		output, err = r.Pipeline.AfterAction(ctx, call, output)
		if err != nil {
			return transcript, err
		}
		return append(transcript, output), nil
	}

	return transcript, &cuaerr.UnknownTool{Name: call.Name}
}

// observe dispatches a pending computer_call against the Computer port
// and appends the resulting computer_call_output (spec.md §4.7 OBSERVE,
// §8 balanced-pairs property).
func (r *Run) observe(ctx context.Context, transcript []schema.Message) ([]schema.Message, error) {
	call, ok := lastCall(transcript)
	if !ok || call.Role != schema.RoleComputerCall {
		return transcript, nil
	}

	decision, output, err := r.Pipeline.BeforeAction(ctx, call)
	if err != nil {
		return transcript, err
	}
	if decision == callback.DecisionSkip {
		output, err = r.Pipeline.AfterAction(ctx, call, output)
		if err != nil {
			return transcript, err
		}
		return append(transcript, output), nil
	}

	shot, err := r.withComputerRetry(ctx, func(ctx context.Context) ([]byte, error) {
		return computerport.Dispatch(ctx, r.Computer, *call.Action)
	})
	if err != nil {
		return transcript, err
	}

	result := schema.NewComputerCallOutput(call.CallID, dataURL(shot))
	result, err = r.Pipeline.OnScreenshot(ctx, result)
	if err != nil {
		return transcript, err
	}
	result, err = r.Pipeline.AfterAction(ctx, call, result)
	if err != nil {
		return transcript, err
	}
	return append(transcript, result), nil
}

func (r *Run) withComputerRetry(ctx context.Context, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= r.ComputerRetry.MaxRetries; attempt++ {
		actionCtx, cancel := context.WithTimeout(ctx, r.Limits.PerActionTimeout)
		shot, err := fn(actionCtx)
		cancel()
		if err == nil {
			return shot, nil
		}
		lastErr = err
		var transportErr *cuaerr.TransportError
		if !errors.As(err, &transportErr) {
			return nil, err
		}
		if attempt == r.ComputerRetry.MaxRetries {
			break
		}
		select {
		case <-time.After(r.ComputerRetry.delay(attempt, r.jitter)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (r *Run) withLLMRetryVoid(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.LLMRetry.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		var transportErr *cuaerr.TransportError
		if !errors.As(err, &transportErr) {
			return err
		}
		if attempt == r.LLMRetry.MaxRetries {
			break
		}
		select {
		case <-time.After(r.LLMRetry.delay(attempt, r.jitter)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// handleError routes a phase failure to the on_error hook chain. The
// bool return reports whether the run may continue: true means the
// caller should keep looping with the (possibly appended-to) transcript
// in the returned Result; false means result is already the run's
// terminal outcome.
func (r *Run) handleError(ctx context.Context, transcript []schema.Message, err error, from State) (Result, bool) {
	var cancelled *cuaerr.Cancelled
	if errors.Is(err, context.Canceled) || errors.As(err, &cancelled) {
		return r.cancel(ctx, transcript, err), false
	}

	decision, recovery, hookErr := r.Pipeline.OnError(ctx, err)
	if hookErr != nil {
		return r.fail(ctx, transcript, hookErr), false
	}
	if decision == callback.ErrorRecover {
		if len(recovery) > 0 {
			transcript = append(transcript, recovery...)
		} else if from == StateAct || from == StateObserve {
			synthetic := schema.Message{Role: schema.RoleFunctionCallOutput, Output: "recovered: " + err.Error()}
			transcript = append(transcript, synthetic)
		}
		return Result{Transcript: transcript}, true
	}
	return r.fail(ctx, transcript, err), false
}

// stop handles a budget or step-limit cutoff: spec.md §4.7/§7 treat both
// as a clean DONE, not a failure — the run appends a terminal assistant
// message naming the reason and reports Completed (spec.md §8 S4).
func (r *Run) stop(ctx context.Context, transcript []schema.Message, cause error, steps int) Result {
	transcript = append(transcript, schema.NewAssistantText("stopping: "+cause.Error()))
	outcome := callback.Outcome{Completed: true}
	_ = r.Pipeline.RunEnd(ctx, transcript, outcome)
	return Result{Transcript: transcript, Completed: true, Steps: steps, Err: cause}
}

// fail is the FAIL state: spec.md §4.7 requires "a final assistant
// message containing the error text" and §7 restates that every
// unrecovered error yields a terminal assistant message, so the
// transcript always carries the reason even when nothing downstream
// inspects result.Err directly.
func (r *Run) fail(ctx context.Context, transcript []schema.Message, err error) Result {
	transcript = append(transcript, schema.NewAssistantText(err.Error()))
	outcome := callback.Outcome{Failed: true, Err: err}
	_ = r.Pipeline.RunEnd(ctx, transcript, outcome)
	return Result{Transcript: transcript, Failed: true, Err: err}
}

// cancel handles context cancellation: spec.md §8 scenario S5 requires
// the trajectory to contain the cancellation reason, and §4.7's
// termination guarantee names no exception for the cancelled case.
func (r *Run) cancel(ctx context.Context, transcript []schema.Message, err error) Result {
	transcript = append(transcript, schema.NewAssistantText("cancelled: "+err.Error()))
	outcome := callback.Outcome{Cancelled: true, Err: err}
	// RunEnd is still called with a fresh background context:
	// ctx itself may already be cancelled, and hooks like
	// TrajectoryWriter must still get to fsync and close their file.
	_ = r.Pipeline.RunEnd(context.Background(), transcript, outcome)
	return Result{Transcript: transcript, Cancelled: true, Err: err}
}

func dataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
