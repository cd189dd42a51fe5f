package computerport

import (
	"context"
	"fmt"
	"sync"

	"github.com/wadang/cua/internal/schema"
)

// Call records one invocation against a Fake, in order, for assertions in
// orchestrator tests (spec.md §8 scenarios S1-S6).
type Call struct {
	Method string
	X, Y   int
	Button schema.Button
	Path   []schema.Point
	Keys   []string
	Text   string
}

// Fake is an in-memory Computer recording every call it receives. It
// never touches a real target — it stands in for a VM/container the way
// the teacher's llm.MockClient stands in for a real LLM backend.
type Fake struct {
	mu sync.Mutex

	Calls []Call

	// Screenshots are returned by Screenshot in order; the last one
	// repeats once exhausted. Defaults to a single 4-byte placeholder
	// (the start of the PNG signature, not a decodable image) if never set.
	Screenshots [][]byte
	shotIndex   int

	// FailNext, if non-nil, is returned by the next call to any method
	// below and then cleared — used to exercise the orchestrator's retry
	// and on_error paths (spec.md §8 property 3, scenario S3).
	FailNext error

	shutdownCalled bool

	// Observable handle attributes (spec.md §3); fixed at construction,
	// a Fake never resizes or re-targets itself mid-run.
	osType       string
	providerType string
	name         string
	width        int
	height       int
}

// NewFake returns a Fake preloaded with one placeholder screenshot and a
// 1280x720 linux/fake handle, matching the defaults real deployments fall
// back to when a request doesn't override computer_kwargs.
func NewFake() *Fake {
	return &Fake{
		Screenshots:  [][]byte{placeholderPNG},
		osType:       "linux",
		providerType: "fake",
		name:         "fake",
		width:        1280,
		height:       720,
	}
}

// WithHandle overrides the handle attributes NewFake defaults to,
// letting tests exercise per-spec acquisition (os_type/provider_type/
// name/dimensions) without a real Provisioner.
func (f *Fake) WithHandle(osType, providerType, name string, width, height int) *Fake {
	f.osType, f.providerType, f.name, f.width, f.height = osType, providerType, name, width, height
	return f
}

func (f *Fake) OSType() string         { return f.osType }
func (f *Fake) ProviderType() string   { return f.providerType }
func (f *Fake) Name() string           { return f.name }
func (f *Fake) Dimensions() (int, int) { return f.width, f.height }

func (f *Fake) MouseDown(ctx context.Context, x, y int, button schema.Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "mouse_down", X: x, Y: y, Button: button})
	return f.takeErr()
}

func (f *Fake) MouseUp(ctx context.Context, x, y int, button schema.Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "mouse_up", X: x, Y: y, Button: button})
	return f.takeErr()
}

var placeholderPNG = []byte{0x89, 'P', 'N', 'G'}

func (f *Fake) takeErr() error {
	err := f.FailNext
	f.FailNext = nil
	return err
}

func (f *Fake) record(c Call) {
	f.Calls = append(f.Calls, c)
}

func (f *Fake) Screenshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "screenshot"})
	if err := f.takeErr(); err != nil {
		return nil, err
	}
	if len(f.Screenshots) == 0 {
		return placeholderPNG, nil
	}
	idx := f.shotIndex
	if idx >= len(f.Screenshots) {
		idx = len(f.Screenshots) - 1
	} else {
		f.shotIndex++
	}
	return f.Screenshots[idx], nil
}

func (f *Fake) Click(ctx context.Context, x, y int, button schema.Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "click", X: x, Y: y, Button: button})
	return f.takeErr()
}

func (f *Fake) DoubleClick(ctx context.Context, x, y int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "double_click", X: x, Y: y})
	return f.takeErr()
}

func (f *Fake) Drag(ctx context.Context, path []schema.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "drag", Path: path})
	return f.takeErr()
}

func (f *Fake) Move(ctx context.Context, x, y int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "move", X: x, Y: y})
	return f.takeErr()
}

func (f *Fake) Scroll(ctx context.Context, x, y, scrollX, scrollY int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "scroll", X: x, Y: y})
	return f.takeErr()
}

func (f *Fake) Keypress(ctx context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "keypress", Keys: keys})
	return f.takeErr()
}

func (f *Fake) TypeText(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "type", Text: text})
	return f.takeErr()
}

func (f *Fake) Wait(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "wait"})
	return f.takeErr()
}

func (f *Fake) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shutdownCalled {
		return nil
	}
	f.shutdownCalled = true
	f.record(Call{Method: "shutdown"})
	return f.takeErr()
}

// CallCount returns how many recorded calls match method.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (f *Fake) String() string {
	return fmt.Sprintf("computerport.Fake{calls=%d}", len(f.Calls))
}
