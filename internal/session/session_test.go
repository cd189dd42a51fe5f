package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadang/cua/internal/computerport"
	"github.com/wadang/cua/internal/cuaerr"
)

type fakeProvisioner struct {
	opened int
	closed int
}

func (f *fakeProvisioner) Open(ctx context.Context, spec string) (computerport.Computer, error) {
	f.opened++
	return computerport.NewFake().WithHandle("linux", "fake", spec, 1280, 720), nil
}

func (f *fakeProvisioner) Close(ctx context.Context, c computerport.Computer) error {
	f.closed++
	return nil
}

func TestPoolAcquireReleaseRoundTrip(t *testing.T) {
	prov := &fakeProvisioner{}
	pool := NewComputerPool(prov, 2)

	c1, h1, err := pool.Acquire(context.Background(), "spec-a")
	require.NoError(t, err)
	assert.NotNil(t, c1)

	_, _, err = pool.Acquire(context.Background(), "spec-b")
	require.NoError(t, err)
	assert.Equal(t, 2, prov.opened)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err = pool.Acquire(ctx, "spec-c")
	var exhausted *cuaerr.PoolExhausted
	require.ErrorAs(t, err, &exhausted)

	pool.Release(h1)
	_, _, err = pool.Acquire(context.Background(), "spec-c")
	require.NoError(t, err)
	assert.Equal(t, 3, prov.opened)
}

func TestPoolAcquireReusesIdleHandleMatchingSpec(t *testing.T) {
	prov := &fakeProvisioner{}
	pool := NewComputerPool(prov, 2)

	c1, h1, err := pool.Acquire(context.Background(), "spec-a")
	require.NoError(t, err)
	pool.Release(h1)

	c2, _, err := pool.Acquire(context.Background(), "spec-a")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, prov.opened, "a matching idle handle must be reused, not re-provisioned")
}

func TestPoolShutdownIsIdempotent(t *testing.T) {
	prov := &fakeProvisioner{}
	pool := NewComputerPool(prov, 3)

	_, h1, err := pool.Acquire(context.Background(), "spec-a")
	require.NoError(t, err)
	_, h2, err := pool.Acquire(context.Background(), "spec-b")
	require.NoError(t, err)
	_, h3, err := pool.Acquire(context.Background(), "spec-c")
	require.NoError(t, err)
	pool.Release(h1)
	pool.Release(h2)
	pool.Release(h3)

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, 3, prov.closed)

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, 3, prov.closed) // second call closes nothing new
}

func TestManagerOpenTouchClose(t *testing.T) {
	prov := &fakeProvisioner{}
	pool := NewComputerPool(prov, 1)

	mgr := NewManager(pool, time.Hour)
	_, err := mgr.Open(context.Background(), "s1", "spec-a")
	require.NoError(t, err)
	assert.Equal(t, 1, mgr.Count())

	mgr.Touch("s1")
	mgr.Close("s1")
	assert.Equal(t, 0, mgr.Count())

	// closing twice is a no-op
	mgr.Close("s1")
	assert.Equal(t, 0, mgr.Count())
}

func TestManagerEnsureReusesExistingSession(t *testing.T) {
	prov := &fakeProvisioner{}
	pool := NewComputerPool(prov, 2)
	mgr := NewManager(pool, time.Hour)

	s1, err := mgr.Ensure(context.Background(), "s1", "spec-a")
	require.NoError(t, err)
	s2, err := mgr.Ensure(context.Background(), "s1", "spec-a")
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, prov.opened, "a second Ensure for the same id must not acquire another computer")
	assert.Equal(t, 1, mgr.Count())
}

func TestManagerSweepSkipsSessionWithInFlightTask(t *testing.T) {
	prov := &fakeProvisioner{}
	pool := NewComputerPool(prov, 1)
	mgr := NewManager(pool, 5*time.Millisecond)

	_, err := mgr.Ensure(context.Background(), "s1", "spec-a")
	require.NoError(t, err)
	mgr.BeginTask("s1")

	mgr.StartSweep(2 * time.Millisecond)
	defer mgr.StopSweep()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, mgr.Count(), "a session with an in-flight task must survive the idle sweep")

	mgr.EndTask("s1")
	require.Eventually(t, func() bool {
		return mgr.Count() == 0
	}, 200*time.Millisecond, 5*time.Millisecond)
}

func TestManagerSweepsIdleSessions(t *testing.T) {
	prov := &fakeProvisioner{}
	pool := NewComputerPool(prov, 1)

	mgr := NewManager(pool, 5*time.Millisecond)
	_, err := mgr.Open(context.Background(), "s1", "spec-a")
	require.NoError(t, err)

	mgr.StartSweep(2 * time.Millisecond)
	defer mgr.StopSweep()

	require.Eventually(t, func() bool {
		return mgr.Count() == 0
	}, 200*time.Millisecond, 5*time.Millisecond)
}

func TestManagerStopSweepReleasesRemaining(t *testing.T) {
	prov := &fakeProvisioner{}
	pool := NewComputerPool(prov, 2)

	mgr := NewManager(pool, time.Hour)
	_, err := mgr.Open(context.Background(), "s1", "spec-a")
	require.NoError(t, err)
	_, err = mgr.Open(context.Background(), "s2", "spec-b")
	require.NoError(t, err)

	mgr.StartSweep(time.Hour)
	mgr.StopSweep()

	assert.Equal(t, 0, mgr.Count())
}

func TestManagerProbeReflectsPoolHealth(t *testing.T) {
	prov := &fakeProvisioner{}
	pool := NewComputerPool(prov, 1)
	mgr := NewManager(pool, time.Hour)

	assert.True(t, mgr.Probe(context.Background()))

	_, err := mgr.Open(context.Background(), "s1", "spec-a")
	require.NoError(t, err)
	assert.False(t, mgr.Probe(context.Background()))

	mgr.Close("s1")
	assert.True(t, mgr.Probe(context.Background()))
}
