package computerport

import "github.com/wadang/cua/internal/cuaerr"

// TransportError and TargetError alias the shared taxonomy in cuaerr so
// the orchestrator's retry policy can type-switch on one pair of types
// regardless of which port raised them.
type TransportError = cuaerr.TransportError

type TargetError = cuaerr.TargetError

// wrapTransport and wrapTarget tag an error as coming from this port.
func wrapTransport(op string, err error) error {
	return &TransportError{Port: "computer", Op: op, Err: err}
}

func wrapTarget(op string, err error) error {
	return &TargetError{Port: "computer", Op: op, Err: err}
}
