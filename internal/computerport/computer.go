// Package computerport defines the Computer port (spec.md §4.2): the
// abstraction the orchestrator's ACT/OBSERVE states dispatch actions
// through, independent of whatever actually backs the target (a VM, a
// container, a remote desktop session).
package computerport

import (
	"context"

	"github.com/wadang/cua/internal/schema"
)

// Computer is the target-control surface every action-runner implements.
// Screenshot is also used outside of action dispatch, at CAPTURE, to seed
// the first observation of a run.
type Computer interface {
	Screenshot(ctx context.Context) ([]byte, error)

	Click(ctx context.Context, x, y int, button schema.Button) error
	DoubleClick(ctx context.Context, x, y int) error
	Drag(ctx context.Context, path []schema.Point) error
	Move(ctx context.Context, x, y int) error
	Scroll(ctx context.Context, x, y, scrollX, scrollY int) error
	Keypress(ctx context.Context, keys []string) error
	TypeText(ctx context.Context, text string) error
	Wait(ctx context.Context) error
	MouseDown(ctx context.Context, x, y int, button schema.Button) error
	MouseUp(ctx context.Context, x, y int, button schema.Button) error

	// Shutdown releases any resources held by the target. Implementations
	// must make Shutdown idempotent (spec.md §5 graceful-shutdown
	// guarantee) — a second call is a no-op, not an error.
	Shutdown(ctx context.Context) error

	// Observable attributes of the bound handle (spec.md §3 Computer
	// handle: "os_type∈{linux,macos,windows}", "display_size=(w,h)",
	// "provider_type", "name"). Adapters that must match their request
	// shape to the bound target (OpenAI's display_width/height and
	// environment, in particular) read these rather than taking
	// dimensions/environment as separately threaded parameters.
	OSType() string
	ProviderType() string
	Name() string
	Dimensions() (width, height int)
}

// Dispatch routes a into the Computer method matching its Type and
// returns a screenshot taken immediately after the action settles,
// matching the computer_call -> computer_call_output pairing the
// orchestrator's OBSERVE state expects (spec.md §8 property 1).
func Dispatch(ctx context.Context, c Computer, a schema.Action) ([]byte, error) {
	var err error
	switch a.Type {
	case schema.ActionClick:
		err = c.Click(ctx, a.X, a.Y, a.Button)
	case schema.ActionDoubleClick:
		err = c.DoubleClick(ctx, a.X, a.Y)
	case schema.ActionDrag:
		err = c.Drag(ctx, a.Path)
	case schema.ActionMove:
		err = c.Move(ctx, a.X, a.Y)
	case schema.ActionScroll:
		err = c.Scroll(ctx, a.X, a.Y, a.ScrollX, a.ScrollY)
	case schema.ActionKeypress:
		err = c.Keypress(ctx, a.Keys)
	case schema.ActionTypeText:
		err = c.TypeText(ctx, a.Text)
	case schema.ActionWait:
		err = c.Wait(ctx)
	case schema.ActionScreenshot:
		// no-op action: the screenshot below satisfies it directly.
	case schema.ActionLeftMouseDown:
		err = c.MouseDown(ctx, a.X, a.Y, schema.ButtonLeft)
	case schema.ActionLeftMouseUp:
		err = c.MouseUp(ctx, a.X, a.Y, schema.ButtonLeft)
	default:
		return nil, wrapTarget(string(a.Type), errUnsupportedAction(a.Type))
	}
	if err != nil {
		return nil, err
	}
	return c.Screenshot(ctx)
}

type unsupportedActionError string

func (e unsupportedActionError) Error() string { return "unsupported action type: " + string(e) }

func errUnsupportedAction(t schema.ActionType) error { return unsupportedActionError(t) }
