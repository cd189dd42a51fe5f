package session

import (
	"context"

	"github.com/wadang/cua/internal/computerport"
)

// DefaultProvisioner opens Computers via computerport.New, the simplest
// real Provisioner this core ships — CLI and transport wiring use it
// unless a deployment supplies its own (sandbox/VM provisioning is an
// out-of-scope external collaborator per spec.md §1).
type DefaultProvisioner struct {
	Mode computerport.Mode
	Dial computerport.RemoteDialer
}

// Open ignores spec for ModeFake and passes it through as the dial
// target address for ModeRemote.
func (p DefaultProvisioner) Open(ctx context.Context, spec string) (computerport.Computer, error) {
	return computerport.New(p.Mode, spec, p.Dial)
}

// Close shuts down c. Idempotent: Computer.Shutdown is itself
// idempotent (internal/computerport).
func (p DefaultProvisioner) Close(ctx context.Context, c computerport.Computer) error {
	return c.Shutdown(ctx)
}
