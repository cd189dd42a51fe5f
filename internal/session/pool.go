// Package session implements the Session & Pool Manager (spec.md §4.8):
// idle-session sweeping and a spec-matching computer pool, generalized
// from the teacher's Service composition and ingress hub's
// channel-driven map management (internal/service/service.go,
// ingress/internal/hub/hub.go).
package session

import (
	"context"
	"sync"
	"time"

	"github.com/wadang/cua/internal/computerport"
	"github.com/wadang/cua/internal/cuaerr"
)

// Provisioner opens and closes computer targets by spec (e.g. a
// container image or VM template name). It is an external
// collaborator — this package only calls through the interface, never
// embeds a concrete backend.
type Provisioner interface {
	Open(ctx context.Context, spec string) (computerport.Computer, error)
	Close(ctx context.Context, c computerport.Computer) error
}

// DefaultPoolSize is the default pool capacity (spec.md §4.8).
const DefaultPoolSize = 5

type slot struct {
	computer computerport.Computer
	spec     string
	inUse    bool
}

// ComputerPool hands out Computer handles matched by spec, provisioning
// lazily up to a fixed capacity (spec.md §4.8: "acquire(spec) →
// handle": "if an idle handle matching the spec exists, return it;
// else if under capacity, ask the Provisioner to open one; else wait,
// bounded, then PoolExhausted"). At capacity, an idle handle provisioned
// for a different spec is closed to make room before Acquire waits.
type ComputerPool struct {
	provisioner Provisioner
	capacity    int

	mu     sync.Mutex
	cond   *sync.Cond
	slots  map[int]*slot
	nextID int
}

// NewComputerPool constructs an empty pool over provisioner with room
// for up to capacity concurrently-open handles. capacity <= 0 uses
// DefaultPoolSize. Handles are provisioned lazily, on first Acquire for
// a given spec, rather than all up front — different sessions may ask
// for different specs (os_type/provider_type/image), so there is no
// single spec to pre-provision.
func NewComputerPool(provisioner Provisioner, capacity int) *ComputerPool {
	if capacity <= 0 {
		capacity = DefaultPoolSize
	}
	p := &ComputerPool{
		provisioner: provisioner,
		capacity:    capacity,
		slots:       make(map[int]*slot),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Handle identifies an acquired slot so Release can return it.
type Handle struct {
	id int
}

// Acquire returns a Computer matching spec: an idle handle already
// provisioned for spec if one exists, otherwise a freshly provisioned
// one if the pool is under capacity. At capacity it closes an idle handle
// provisioned for another spec and provisions in its place; only when
// every slot is in use does it wait for a slot to free until ctx is
// done, at which point it gives up with *cuaerr.PoolExhausted.
func (p *ComputerPool) Acquire(ctx context.Context, spec string) (computerport.Computer, Handle, error) {
	if done := ctx.Done(); done != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-done:
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-stop:
			}
		}()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		for id, s := range p.slots {
			if !s.inUse && s.spec == spec {
				s.inUse = true
				return s.computer, Handle{id: id}, nil
			}
		}

		if len(p.slots) < p.capacity {
			id := p.nextID
			p.nextID++
			p.slots[id] = &slot{spec: spec, inUse: true}

			p.mu.Unlock()
			computer, err := p.provisioner.Open(ctx, spec)
			p.mu.Lock()

			if err != nil {
				delete(p.slots, id)
				p.cond.Broadcast()
				return nil, Handle{}, err
			}
			p.slots[id].computer = computer
			return computer, Handle{id: id}, nil
		}

		// At capacity with an idle handle for another spec: close it to make room.
		var idle *slot
		for id, s := range p.slots {
			if !s.inUse && s.computer != nil {
				idle = s
				delete(p.slots, id)
				break
			}
		}
		if idle != nil {
			p.mu.Unlock()
			_ = p.provisioner.Close(ctx, idle.computer)
			p.mu.Lock()
			continue
		}

		select {
		case <-ctx.Done():
			return nil, Handle{}, &cuaerr.PoolExhausted{PoolSize: p.capacity}
		default:
		}
		p.cond.Wait()
	}
}

// Release returns h's slot to the pool, waking any Acquire waiting on
// capacity or a spec match.
func (p *ComputerPool) Release(h Handle) {
	p.mu.Lock()
	if s, ok := p.slots[h.id]; ok {
		s.inUse = false
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Healthy reports whether an Acquire would currently succeed without
// blocking: either an idle slot exists or the pool is under capacity.
// Used by GET /health (spec.md §4.9) instead of a real probe acquire,
// since acquiring now may provision a brand new handle for whatever
// spec the probe happened to pass.
func (p *ComputerPool) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.slots) < p.capacity {
		return true
	}
	for _, s := range p.slots {
		if !s.inUse {
			return true
		}
	}
	return false
}

// Shutdown closes every provisioned Computer. Idempotent: a second call
// is a no-op (spec.md §5 graceful-shutdown guarantee).
func (p *ComputerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for id, s := range p.slots {
		if s.computer == nil {
			continue
		}
		if err := p.provisioner.Close(ctx, s.computer); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.slots, id)
	}
	return firstErr
}

// idleSweepDefault is the default idle timeout after which the manager
// sweeps a session (spec.md §4.8).
const idleSweepDefault = 300 * time.Second
