// Package cuaerr defines the error taxonomy shared by every port and by
// the run orchestrator (spec.md §4.7, §7): which failures are retryable,
// which are terminal, and which are clean (non-error) terminations.
package cuaerr

import "fmt"

// TransportError wraps a failure reaching or talking to a port (LLM
// backend or computer target): connection reset, timeout, 5xx, DNS
// failure. It is retryable under the orchestrator's backoff policy.
type TransportError struct {
	Port string // "llm" or "computer"
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cuaerr: %s transport error during %s: %v", e.Port, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TargetError wraps a failure the remote side itself reported (a
// rejected action, a model refusal, an invalid tool call). It is not
// retryable; the orchestrator routes it to on_error instead of backoff.
type TargetError struct {
	Port string
	Op   string
	Err  error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("cuaerr: %s target error during %s: %v", e.Port, e.Op, e.Err)
}

func (e *TargetError) Unwrap() error { return e.Err }

// Cancelled signals the run was cancelled by its caller. It is a
// terminal, non-error outcome: the orchestrator reports it distinctly
// from FAIL, never as a failure.
type Cancelled struct {
	Reason string
}

func (e *Cancelled) Error() string { return "cuaerr: cancelled: " + e.Reason }

// BudgetExceeded signals the run's configured budget (cost or token
// ceiling) was reached. Clean termination: the orchestrator reports
// this as a completed run with a terminal assistant message naming the
// cause, not a failure.
type BudgetExceeded struct {
	Limit float64
	Spent float64
}

func (e *BudgetExceeded) Error() string {
	return fmt.Sprintf("cuaerr: budget exceeded: spent %.4f of %.4f", e.Spent, e.Limit)
}

// StepLimitReached signals the run's configured max_turns/max_steps was
// reached. Clean termination: the orchestrator reports this as a
// completed run with a terminal assistant message naming the cause.
type StepLimitReached struct {
	Limit int
}

func (e *StepLimitReached) Error() string {
	return fmt.Sprintf("cuaerr: step limit reached: %d", e.Limit)
}

// PoolExhausted signals the ComputerPool had no free slot within the
// caller's acquire timeout.
type PoolExhausted struct {
	PoolSize int
}

func (e *PoolExhausted) Error() string {
	return fmt.Sprintf("cuaerr: computer pool exhausted: size %d", e.PoolSize)
}

// UnknownTool signals a function_call named a tool with no registered
// executor. Treated as a TargetError-class failure: retryable==false,
// but recoverable via on_error RECOVER.
type UnknownTool struct {
	Name string
}

func (e *UnknownTool) Error() string { return "cuaerr: unknown tool: " + e.Name }

// UnknownModel signals a model string's provider prefix matched no
// registered adapter factory.
type UnknownModel struct {
	Model string
}

func (e *UnknownModel) Error() string { return "cuaerr: unknown model: " + e.Model }

// ConfigurationError signals a run was misconfigured (missing API key,
// invalid model-string grammar, pool_size <= 0, and similar). Always
// terminal, never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return "cuaerr: configuration error: " + e.Reason }
