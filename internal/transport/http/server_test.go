package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadang/cua/internal/adapter"
	"github.com/wadang/cua/internal/computerport"
	"github.com/wadang/cua/internal/llm"
	"github.com/wadang/cua/internal/schema"
	"github.com/wadang/cua/internal/session"
	"github.com/wadang/cua/internal/transport"
)

type fakeProvisioner struct{}

func (fakeProvisioner) Open(ctx context.Context, spec string) (computerport.Computer, error) {
	return computerport.NewFake(), nil
}

func (fakeProvisioner) Close(ctx context.Context, c computerport.Computer) error { return nil }

type stubAdapter struct{}

func (s *stubAdapter) Step(ctx context.Context, transcript []schema.Message) (adapter.Step, error) {
	return adapter.Step{Messages: []schema.Message{schema.NewAssistantText("done")}}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	pool := session.NewComputerPool(fakeProvisioner{}, 2)
	mgr := session.NewManager(pool, 0)

	dispatch := transport.NewDispatcher(mgr, func(llm.ModelString, computerport.Computer, map[string]string) (adapter.Adapter, error) {
		return &stubAdapter{}, nil
	}, t.TempDir(), "spec")
	return NewServer(dispatch)
}

func TestHandleResponsesReturnsCompletedRun(t *testing.T) {
	s := newTestServer(t)

	body, err := json.Marshal(map[string]any{
		"model": "anthropic/claude-3-5-sonnet-20241022",
		"input": "do the thing",
	})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/responses", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	var resp transport.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, transport.StatusCompleted, resp.Status)
}

func TestHandleHealthReportsHealthy(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	var health transport.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
}

func TestHandleResponsesMissingModelReturnsFailedStatus(t *testing.T) {
	s := newTestServer(t)

	body, err := json.Marshal(map[string]any{"input": "do the thing"})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/responses", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
	var resp transport.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, transport.StatusFailed, resp.Status)
	assert.NotEmpty(t, resp.Error)
}

func TestHandleResponsesBadBodyReturnsFailedStatus(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/responses", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	var resp transport.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, transport.StatusFailed, resp.Status)
	assert.NotEmpty(t, resp.Error)
}
