package session

import (
	"context"
	"sync"
	"time"

	"github.com/wadang/cua/internal/computerport"
)

// Session tracks the lifetime of one orchestrator run's host resources:
// its computer handle lease and last-activity timestamp, so the manager
// can sweep sessions that have gone idle without anyone explicitly
// closing them (a client crash, a dropped websocket).
type Session struct {
	ID         string
	Handle     Handle
	Computer   computerport.Computer
	lastActive time.Time
	active     int // in-flight dispatches; sweepOnce skips a session while this is > 0
}

// Manager tracks live sessions in a flat map (arena+index, not
// back-pointers between sessions) and periodically sweeps ones that
// have been idle past IdleTimeout, releasing their pool slot.
//
// Grounded on the teacher's Service struct composition
// (internal/service/service.go) for the register/unregister-under-lock
// shape, and the ticker-driven sweep loop of
// internal/service/tool_timeout.go.
type Manager struct {
	pool        *ComputerPool
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager constructs a Manager over pool. idleTimeout <= 0 uses the
// spec default of 300s.
func NewManager(pool *ComputerPool, idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = idleSweepDefault
	}
	return &Manager{
		pool:        pool,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*Session),
		stop:        make(chan struct{}),
	}
}

// Open acquires a computer matching spec from the pool and registers a
// new session id (spec.md §4.8 acquire(spec) → handle). spec is
// typically derived from the request's computer_kwargs (spec.md §6);
// an empty spec matches the pool's default handles.
func (m *Manager) Open(ctx context.Context, id string, spec string) (*Session, error) {
	computer, handle, err := m.pool.Acquire(ctx, spec)
	if err != nil {
		return nil, err
	}
	s := &Session{ID: id, Handle: handle, Computer: computer, lastActive: time.Now()}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s, nil
}

// Ensure returns the session registered under id, acquiring and
// registering a new one from the pool on first use. Unlike Open, a
// second call with the same id reuses the already-bound Computer
// instead of acquiring another one from the pool — spec.md §3's session
// lifecycle is "destroyed on explicit close, on idle-timeout, or on
// shutdown", not after every request that names it.
func (m *Manager) Ensure(ctx context.Context, id string, spec string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		s.lastActive = time.Now()
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	return m.Open(ctx, id, spec)
}

// BeginTask marks id as having an in-flight dispatch, so sweepOnce
// leaves it alone even if the caller hasn't Touch'd it recently for the
// run's whole duration (e.g. a single long-running computer-use task).
func (m *Manager) BeginTask(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.active++
	}
}

// EndTask complements BeginTask and refreshes lastActive so the idle
// countdown starts from the moment the dispatch actually finished.
func (m *Manager) EndTask(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		if s.active > 0 {
			s.active--
		}
		s.lastActive = time.Now()
	}
}

// Computer returns the Computer bound to session id, if one is open.
func (m *Manager) Computer(id string) (computerport.Computer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Computer, true
}

// Probe reports whether the pool can currently satisfy an acquire
// (spec.md §4.9 GET /health: "Healthy iff the pool can satisfy a probe
// acquire").
func (m *Manager) Probe(ctx context.Context) bool {
	return m.pool.Healthy()
}

// Touch records activity on id, protecting it from the idle sweep.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.lastActive = time.Now()
	}
}

// Close releases id's computer handle and forgets the session. Safe to
// call on an id that is already closed or unknown.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if ok {
		m.pool.Release(s.Handle)
	}
}

// Count returns the number of currently registered sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartSweep launches the idle-session reaper on its own goroutine,
// checking every interval (interval <= 0 uses idleTimeout/2, floored at
// one second) until StopSweep is called.
func (m *Manager) StartSweep(interval time.Duration) {
	if interval <= 0 {
		interval = m.idleTimeout / 2
		if interval < time.Second {
			interval = time.Second
		}
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweepOnce()
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Manager) sweepOnce() {
	now := time.Now()
	var expired []string

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.active > 0 {
			continue
		}
		if now.Sub(s.lastActive) > m.idleTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.Close(id)
	}
}

// StopSweep halts the reaper goroutine started by StartSweep, then
// idempotently releases every remaining session's pool slot as part of
// a graceful shutdown.
func (m *Manager) StopSweep() {
	select {
	case <-m.stop:
		// already stopped
	default:
		close(m.stop)
	}
	m.wg.Wait()

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Close(id)
	}
}
