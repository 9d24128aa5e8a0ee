package tools

import (
	"context"
	"fmt"
	"strconv"
)

// GamePackage is the registry package of the built-in game actions.
const GamePackage = "game"

// TargetArgs names the object an action applies to. Every game action
// uses "id" so the model sees one convention.
type TargetArgs struct {
	ID string `json:"id" jsonschema:"The unique ID of the location or object, e.g. 'CheeseBox' or 'Stove'."`
}

// InteractArgs selects an interaction with an object.
type InteractArgs struct {
	ID              string `json:"id" jsonschema:"The unique ID of the object to interact with."`
	InteractionType string `json:"interaction_type,omitempty" jsonschema:"Type of interaction: use, open or close. Defaults to use."`
}

// SayArgs is a line of speech.
type SayArgs struct {
	Text string `json:"text" jsonschema:"The sentence to speak out loud."`
}

// ActionResult is what a game action reports when called outside the
// engine, e.g. from the CLI.
type ActionResult struct {
	Status string `json:"status"`
	Target string `json:"target,omitempty"`
	Text   string `json:"text,omitempty"`
}

func targetTool(name, description, status string) Builder {
	return Func(name, func(Context) (*Tool, error) {
		return New(name, description, func(_ context.Context, a TargetArgs) (any, error) {
			if a.ID == "" {
				return nil, fmt.Errorf("%s: empty id", name)
			}
			return ActionResult{Status: status, Target: a.ID}, nil
		})
	})
}

// MoveTo walks to a location or object.
var MoveTo = targetTool("move_to", "Walk to a specific location or object.", "moving")

// Pickup picks up an item.
var Pickup = targetTool("pickup", "Pick up an item.", "picking_up")

// PutDown puts the held item down on a surface.
var PutDown = targetTool("put_down", "Put down the held item on a surface.", "placed")

// Interact uses, opens or closes an object.
var Interact = Func("interact", func(Context) (*Tool, error) {
	return New("interact", "Use, open or close an object.", func(_ context.Context, a InteractArgs) (any, error) {
		switch a.InteractionType {
		case "":
			a.InteractionType = "use"
		case "use", "open", "close":
		default:
			return nil, fmt.Errorf("interact: unknown interaction %q", a.InteractionType)
		}
		return ActionResult{Status: a.InteractionType, Target: a.ID}, nil
	})
})

// Say speaks a sentence. The "max_chars" tool option truncates long lines.
var Say = Func("say", func(c Context) (*Tool, error) {
	limit := 0
	if ts, ok := c.Config.Tool("say"); ok {
		if v := ts.Options["max_chars"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("say: max_chars: %w", err)
			}
			limit = n
		}
	}
	return New("say", "Say a sentence out loud to the player.", func(_ context.Context, a SayArgs) (any, error) {
		text := []rune(a.Text)
		if limit > 0 && len(text) > limit {
			text = text[:limit]
		}
		return ActionResult{Status: "speaking", Text: string(text)}, nil
	})
})

// AddGame registers the built-in game actions.
func AddGame(r *Registry) {
	for _, b := range []Builder{MoveTo, Pickup, PutDown, Interact, Say} {
		r.Add(GamePackage, b)
	}
}
