package adapter

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/wadang/cua/internal/llm"
	"github.com/wadang/cua/internal/schema"
)

// UITARS speaks the box-token grounding shape used by UI-TARS-style
// models: instead of JSON, coordinates come embedded in the completion
// text as `<|loc{x}|><|loc{y}|>` tokens on a 0-999 normalized grid,
// grounded on original_source/libs/python/agent/agent/loops/qwen.py
// (the pack's UI-TARS-family loop). ScreenWidth/ScreenHeight scale the
// normalized tokens back to real pixel coordinates.
type UITARS struct {
	Client       llm.Client
	Model        string
	ScreenWidth  int
	ScreenHeight int
}

func NewUITARS(client llm.Client, model string, width, height int) *UITARS {
	return &UITARS{Client: client, Model: model, ScreenWidth: width, ScreenHeight: height}
}

var boxTokenPattern = regexp.MustCompile(`<\|loc(\d{1,3})\|>`)

const normalizedGrid = 1000

func (u *UITARS) Step(ctx context.Context, transcript []schema.Message) (Step, error) {
	resp, err := u.Client.CreateTurn(ctx, llm.Request{Model: u.Model, Messages: transcript})
	if err != nil {
		return Step{}, err
	}

	var text string
	for _, m := range resp.Messages {
		if m.Role == schema.RoleAssistant {
			text = flattenAssistantText(m)
			break
		}
	}

	point, ok := parseBoxTokens(text, u.ScreenWidth, u.ScreenHeight)
	if !ok {
		return Step{Messages: resp.Messages, Usage: resp.Usage}, nil
	}

	actionType := schema.ActionClick
	if strings.Contains(text, "double_click") {
		actionType = schema.ActionDoubleClick
	}

	call := schema.NewComputerCall("uitars_1", schema.Action{Type: actionType, Button: schema.ButtonLeft, X: point.X, Y: point.Y})
	return Step{Messages: []schema.Message{call}, Usage: resp.Usage}, nil
}

// parseBoxTokens extracts the first two <|locN|> tokens from text and
// scales them from the model's 0-999 normalized grid to pixel
// coordinates.
func parseBoxTokens(text string, width, height int) (schema.Point, bool) {
	matches := boxTokenPattern.FindAllStringSubmatch(text, -1)
	if len(matches) < 2 {
		return schema.Point{}, false
	}

	nx, errX := strconv.Atoi(matches[0][1])
	ny, errY := strconv.Atoi(matches[1][1])
	if errX != nil || errY != nil {
		return schema.Point{}, false
	}

	x := nx * width / normalizedGrid
	y := ny * height / normalizedGrid
	return schema.Point{X: x, Y: y}, true
}
