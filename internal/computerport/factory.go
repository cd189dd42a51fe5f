package computerport

import "os"

// Mode selects which Computer implementation New returns.
type Mode string

const (
	// ModeFake never touches a real target; used in tests and when
	// CUAOC_COMPUTER_MODE=fake is set, mirroring the teacher's
	// GOGO_MODE=MOCK switch in internal/adapter/llm/factory.go.
	ModeFake Mode = "fake"

	// ModeRemote drives a real target over the pool's provisioned
	// connection (spec.md §4.2 / §5 Provisioner).
	ModeRemote Mode = "remote"
)

// ModeFromEnv resolves the Mode from CUAOC_COMPUTER_MODE, defaulting to
// ModeRemote when unset or unrecognized.
func ModeFromEnv() Mode {
	switch Mode(os.Getenv("CUAOC_COMPUTER_MODE")) {
	case ModeFake:
		return ModeFake
	default:
		return ModeRemote
	}
}

// RemoteDialer opens a Computer against a live target identified by
// addr. Supplied by the Provisioner-backed pool (internal/session); kept
// as a function type here so this package stays free of any concrete
// transport dependency.
type RemoteDialer func(addr string) (Computer, error)

// New returns a Computer for mode. For ModeFake it always succeeds; for
// ModeRemote it defers to dial, matching the teacher's
// NewLLMClient(baseURL, apiKey, timeout)-style real/mock branch.
func New(mode Mode, addr string, dial RemoteDialer) (Computer, error) {
	if mode == ModeFake {
		return NewFake(), nil
	}
	return dial(addr)
}
