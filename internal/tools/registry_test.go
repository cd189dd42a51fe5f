package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadang/cua/internal/cuaerr"
)

func TestDispatchUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), "nonexistent", nil)

	var unknown *cuaerr.UnknownTool
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nonexistent", unknown.Name)
}

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	r := NewRegistry()
	r.Register("echo", 0, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return args, nil
	})

	out, err := r.Dispatch(context.Background(), "echo", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(out))
}

func TestDispatchWrapsHandlerError(t *testing.T) {
	r := NewRegistry()
	r.Register("broken", 0, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})

	_, err := r.Dispatch(context.Background(), "broken", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestDispatchAppliesPerToolTimeout(t *testing.T) {
	r := NewRegistry()
	r.Register("slow", 5*time.Millisecond, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := r.Dispatch(context.Background(), "slow", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnregisterRemovesTool(t *testing.T) {
	r := NewRegistry()
	r.Register("tmp", 0, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	r.Unregister("tmp")

	_, err := r.Dispatch(context.Background(), "tmp", nil)
	var unknown *cuaerr.UnknownTool
	require.ErrorAs(t, err, &unknown)
}

func TestNamesListsRegisteredTools(t *testing.T) {
	r := NewRegistry()
	r.Register("a", 0, nil)
	r.Register("b", 0, nil)

	names := r.Names()
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}
