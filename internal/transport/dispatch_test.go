package transport

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadang/cua/internal/adapter"
	"github.com/wadang/cua/internal/computerport"
	"github.com/wadang/cua/internal/llm"
	"github.com/wadang/cua/internal/schema"
	"github.com/wadang/cua/internal/session"
)

type fakeProvisioner struct {
	opened *int
}

func (f fakeProvisioner) Open(ctx context.Context, spec string) (computerport.Computer, error) {
	if f.opened != nil {
		*f.opened++
	}
	return computerport.NewFake(), nil
}

func (fakeProvisioner) Close(ctx context.Context, c computerport.Computer) error { return nil }

type stubAdapter struct{}

func (s *stubAdapter) Step(ctx context.Context, transcript []schema.Message) (adapter.Step, error) {
	return adapter.Step{Messages: []schema.Message{schema.NewAssistantText("done")}}, nil
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	pool := session.NewComputerPool(fakeProvisioner{}, 2)
	mgr := session.NewManager(pool, 0)

	build := func(model llm.ModelString, computer computerport.Computer, env map[string]string) (adapter.Adapter, error) {
		return &stubAdapter{}, nil
	}
	return NewDispatcher(mgr, build, t.TempDir(), "spec")
}

func TestDispatchRunsCleanlyToCompletion(t *testing.T) {
	d := newTestDispatcher(t)

	req := Request{Model: "anthropic/claude-3-5-sonnet-20241022", Input: mustJSON(t, "click the button")}
	resp, err := d.Dispatch(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.NotEmpty(t, resp.Output)
}

func TestDispatchRejectsMalformedModel(t *testing.T) {
	d := newTestDispatcher(t)

	req := Request{Model: "not-a-valid-model", Input: mustJSON(t, "go")}
	_, err := d.Dispatch(context.Background(), req)
	require.Error(t, err)
}

// A session_id names a session that outlives one run (spec.md §3:
// "destroyed on explicit close, on idle-timeout, or on shutdown" — not
// after every request). A second Dispatch naming the same session_id
// must reuse the already-bound computer, not acquire a fresh one.
func TestDispatchReusesSessionAcrossRequestsWithSameSessionID(t *testing.T) {
	opened := 0
	pool := session.NewComputerPool(fakeProvisioner{opened: &opened}, 2)
	mgr := session.NewManager(pool, 0)
	build := func(model llm.ModelString, computer computerport.Computer, env map[string]string) (adapter.Adapter, error) {
		return &stubAdapter{}, nil
	}
	d := NewDispatcher(mgr, build, t.TempDir(), "spec")

	req := Request{
		Model:       "anthropic/claude-3-5-sonnet-20241022",
		Input:       mustJSON(t, "click the button"),
		AgentKwargs: AgentKwargs{SessionID: "s1"},
	}

	_, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, mgr.Count(), "session stays open after the run finishes")

	_, err = d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, opened, "second request with the same session_id reuses the bound computer")
	assert.Equal(t, 1, mgr.Count())
}

// agent_kwargs.close_session destroys the session explicitly once the
// run finishes, releasing its handle back to the pool.
func TestDispatchCloseSessionReleasesHandle(t *testing.T) {
	d := newTestDispatcher(t)

	req := Request{
		Model:       "anthropic/claude-3-5-sonnet-20241022",
		Input:       mustJSON(t, "click the button"),
		AgentKwargs: AgentKwargs{SessionID: "s1", CloseSession: true},
	}
	_, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Sessions.Count())
}

// An ad-hoc request (no session_id) is a one-shot run; its session
// never outlives the request.
func TestDispatchAdHocSessionIsClosedAfterRun(t *testing.T) {
	d := newTestDispatcher(t)

	req := Request{Model: "anthropic/claude-3-5-sonnet-20241022", Input: mustJSON(t, "click the button")}
	_, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Sessions.Count())
}

// agent_kwargs.env overrides reach the adapter builder per request.
func TestDispatchThreadsEnvOverridesToBuildAdapter(t *testing.T) {
	pool := session.NewComputerPool(fakeProvisioner{}, 2)
	mgr := session.NewManager(pool, 0)

	var gotEnv map[string]string
	build := func(model llm.ModelString, computer computerport.Computer, env map[string]string) (adapter.Adapter, error) {
		gotEnv = env
		return &stubAdapter{}, nil
	}
	d := NewDispatcher(mgr, build, t.TempDir(), "spec")

	req := Request{
		Model: "anthropic/claude-3-5-sonnet-20241022",
		Input: mustJSON(t, "go"),
		Env:   map[string]string{"ANTHROPIC_API_KEY": "sk-override"},
	}
	_, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "sk-override", gotEnv["ANTHROPIC_API_KEY"])
}

func TestDecodeInputAcceptsBareStringOrMessageList(t *testing.T) {
	reqString := Request{Input: mustJSON(t, "hello")}
	msgs, err := reqString.DecodeInput()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, schema.RoleUser, msgs[0].Role)

	reqList := Request{Input: mustJSON(t, []schema.Message{schema.NewUserText("hi")})}
	msgs, err = reqList.DecodeInput()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
