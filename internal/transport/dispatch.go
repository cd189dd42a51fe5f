package transport

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/wadang/cua/internal/adapter"
	"github.com/wadang/cua/internal/callback"
	"github.com/wadang/cua/internal/computerport"
	"github.com/wadang/cua/internal/cuaerr"
	"github.com/wadang/cua/internal/llm"
	"github.com/wadang/cua/internal/orchestrator"
	"github.com/wadang/cua/internal/schema"
	"github.com/wadang/cua/internal/session"
)

// AdapterBuilder resolves a parsed model string plus the bound
// computer into the Agent Loop Adapter that will drive the run — the
// INIT-phase "resolve model → adapter" step spec.md §4.7 names. Kept
// as an injected function rather than a hardwired type-switch so cmd/
// can register adapters per deployment without this package depending
// on every adapter's concrete constructor signature. env carries the
// request's agent_kwargs.env overrides (spec.md §4.9/§6: "applies as
// per-request environment overrides scoped to the adapter call");
// the builder is responsible for layering it over process config
// (see internal/agentbuild.Build's config.EnvSnapshot argument).
type AdapterBuilder func(model llm.ModelString, computer computerport.Computer, env map[string]string) (adapter.Adapter, error)

// Dispatcher is the shared request handler both the HTTP and WS
// transports call into — "two transports, same dispatch" (spec.md
// §4.9).
type Dispatcher struct {
	Sessions      *session.Manager
	BuildAdapter  AdapterBuilder
	TrajectoryDir string

	// DefaultSpec is the provisioner spec acquired when a request's
	// computer_kwargs.image is empty (spec.md §6).
	DefaultSpec string
}

// NewDispatcher wires a Dispatcher over an already-provisioned session
// manager and adapter builder.
func NewDispatcher(sessions *session.Manager, build AdapterBuilder, trajectoryDir, defaultSpec string) *Dispatcher {
	return &Dispatcher{Sessions: sessions, BuildAdapter: build, TrajectoryDir: trajectoryDir, DefaultSpec: defaultSpec}
}

// Dispatch resolves req into a bound Computer + Adapter + Pipeline,
// drives one Run to termination, and maps the result onto the wire
// Response shape. It never returns a transport error for a run that
// completed/failed/cancelled cleanly — only for requests that can't
// even be scheduled (bad model string, pool exhaustion).
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Response, error) {
	model, err := llm.ParseModelString(req.Model)
	if err != nil {
		return Response{}, err
	}

	seed, err := req.DecodeInput()
	if err != nil {
		return Response{}, &cuaerr.ConfigurationError{Reason: "invalid input: " + err.Error()}
	}

	sessionID := req.AgentKwargs.SessionID
	adHoc := sessionID == ""
	if adHoc {
		sessionID = newAdHocSessionID()
	}

	sess, err := d.Sessions.Ensure(ctx, sessionID, req.ComputerKwargs.Spec(d.DefaultSpec))
	if err != nil {
		return Response{}, err
	}
	d.Sessions.BeginTask(sessionID)
	// A request with no explicit session_id is a single ad-hoc run with
	// no way for a caller to come back and reuse it, so it's closed
	// immediately after; an explicit session_id persists across requests
	// until idle-swept, shutdown, or agent_kwargs.close_session (spec.md
	// §3 session lifecycle). defer order matters here: EndTask must run
	// before Close releases the handle back to the pool.
	if adHoc || req.AgentKwargs.CloseSession {
		defer d.Sessions.Close(sessionID)
	}
	defer d.Sessions.EndTask(sessionID)

	computer, ok := d.computerFor(sess)
	if !ok {
		return Response{}, &cuaerr.ConfigurationError{Reason: "session has no bound computer"}
	}

	agent, err := d.BuildAdapter(model, computer, req.Env)
	if err != nil {
		return Response{}, err
	}

	pipeline, err := d.buildPipeline(req.AgentKwargs, sessionID)
	if err != nil {
		return Response{}, err
	}

	run := orchestrator.NewRun(agent, computer, pipeline)
	if req.AgentKwargs.MaxSteps > 0 {
		run.Limits.MaxSteps = req.AgentKwargs.MaxSteps
	}
	if req.AgentKwargs.MaxTrajectoryBudget > 0 {
		run.Budget = callback.NewBudgetCap(req.AgentKwargs.MaxTrajectoryBudget, 0)
	}

	result := run.Execute(ctx, seed)
	return toResponse(result, run.Budget.Spent()), nil
}

// defaultPromptCacheWindow is the trailing message count PromptCacheHinter
// marks as cache-eligible when a request doesn't otherwise configure one.
const defaultPromptCacheWindow = 4

var adHocSessionCounter atomic.Int64

func newAdHocSessionID() string {
	return fmt.Sprintf("adhoc-%d", adHocSessionCounter.Add(1))
}

func (d *Dispatcher) computerFor(sess *session.Session) (computerport.Computer, bool) {
	// The Manager binds one Computer per session at Open time; this
	// accessor keeps Dispatch from reaching into session internals.
	c, ok := d.Sessions.Computer(sess.ID)
	return c, ok
}

func (d *Dispatcher) buildPipeline(kwargs AgentKwargs, sessionID string) (*callback.Pipeline, error) {
	var hooks []any

	if kwargs.ImageRetentionWindow > 0 {
		hooks = append(hooks, callback.NewImageRetention(kwargs.ImageRetentionWindow))
	}
	if kwargs.SaveTrajectory && d.TrajectoryDir != "" {
		tw, err := callback.NewTrajectoryWriter(RunTrajectoryDir(d.TrajectoryDir, sessionID))
		if err != nil {
			return nil, fmt.Errorf("transport: trajectory writer: %w", err)
		}
		hooks = append(hooks, tw)
	}
	hooks = append(hooks, callback.NewPIIScrubber())
	hooks = append(hooks, callback.NewPromptCacheHinter(defaultPromptCacheWindow))

	gate, err := callback.NewPolicyGate(context.Background(), callback.DefaultToolPolicy)
	if err != nil {
		return nil, err
	}
	hooks = append(hooks, gate)

	return callback.New(hooks...), nil
}

// RunTrajectoryDir builds the per-run trajectory directory under base:
// base/YYYYMMDD_HHMMSS_<session_id>/ (spec.md §6), so concurrent or
// sequential runs sharing a save_trajectory_dir never overwrite each
// other's messages.jsonl.
func RunTrajectoryDir(base, sessionID string) string {
	return filepath.Join(base, time.Now().UTC().Format("20060102_150405")+"_"+sessionID)
}

func toResponse(result orchestrator.Result, usage schema.Usage) Response {
	resp := Response{
		Output: result.Transcript,
		Usage:  usage,
	}
	switch {
	case result.Completed:
		resp.Status = StatusCompleted
	case result.Cancelled:
		resp.Status = StatusCancelled
	default:
		resp.Status = StatusFailed
		if result.Err != nil {
			resp.Error = result.Err.Error()
		}
	}
	return resp
}
