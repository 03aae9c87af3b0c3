// File: internal/agent/actions.go

// Package agent implements the screenshot -> decide -> act loop that drives
// a browser toward a scenario goal, together with the action vocabulary the
// model chooses from and the conversation bookkeeping the loop depends on.
package agent

import (
	"fmt"

	json "github.com/json-iterator/go"
)

// ActionKind discriminates the closed set of actions the model may request.
type ActionKind string

const (
	ActionClick       ActionKind = "click"
	ActionDoubleClick ActionKind = "double_click"
	ActionType        ActionKind = "type"
	ActionPressKey    ActionKind = "press_key"
	ActionScroll      ActionKind = "scroll"
	ActionDrag        ActionKind = "drag"
	ActionWait        ActionKind = "wait"
	ActionDone        ActionKind = "done"
	ActionFail        ActionKind = "fail"
)

// Action is a tagged union: Kind selects the variant and only that
// variant's fields are meaningful. Marshalling emits only the active
// variant's fields; unmarshalling rejects unknown tags and missing
// required fields.
type Action struct {
	Kind ActionKind

	// click / double_click / scroll
	X int
	Y int

	// type
	Text string

	// press_key
	Key string

	// scroll
	DeltaX int
	DeltaY int

	// drag
	FromX int
	FromY int
	ToX   int
	ToY   int

	// wait
	MS int

	// done
	Summary string

	// fail
	Reason string
}

// IsTerminal reports whether the action ends the session.
func (a Action) IsTerminal() bool {
	return a.Kind == ActionDone || a.Kind == ActionFail
}

// String renders a compact human-readable form for logs and summaries.
func (a Action) String() string {
	switch a.Kind {
	case ActionClick, ActionDoubleClick:
		return fmt.Sprintf("%s(%d, %d)", a.Kind, a.X, a.Y)
	case ActionType:
		return fmt.Sprintf("type(%q)", a.Text)
	case ActionPressKey:
		return fmt.Sprintf("press_key(%s)", a.Key)
	case ActionScroll:
		return fmt.Sprintf("scroll(%d, %d, dx=%d, dy=%d)", a.X, a.Y, a.DeltaX, a.DeltaY)
	case ActionDrag:
		return fmt.Sprintf("drag(%d, %d -> %d, %d)", a.FromX, a.FromY, a.ToX, a.ToY)
	case ActionWait:
		return fmt.Sprintf("wait(%dms)", a.MS)
	case ActionDone:
		return fmt.Sprintf("done(%s)", truncate(a.Summary, 80))
	case ActionFail:
		return fmt.Sprintf("fail(%s)", truncate(a.Reason, 80))
	default:
		return string(a.Kind)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// MarshalJSON emits the discriminator plus only the active variant's fields.
func (a Action) MarshalJSON() ([]byte, error) {
	out := map[string]any{"action": string(a.Kind)}
	switch a.Kind {
	case ActionClick, ActionDoubleClick:
		out["x"], out["y"] = a.X, a.Y
	case ActionType:
		out["text"] = a.Text
	case ActionPressKey:
		out["key"] = a.Key
	case ActionScroll:
		out["x"], out["y"] = a.X, a.Y
		out["delta_x"], out["delta_y"] = a.DeltaX, a.DeltaY
	case ActionDrag:
		out["from_x"], out["from_y"] = a.FromX, a.FromY
		out["to_x"], out["to_y"] = a.ToX, a.ToY
	case ActionWait:
		out["ms"] = a.MS
	case ActionDone:
		out["summary"] = a.Summary
	case ActionFail:
		out["reason"] = a.Reason
	default:
		return nil, fmt.Errorf("cannot marshal action with unknown kind %q", a.Kind)
	}
	return json.Marshal(out)
}

// actionWire uses pointers so missing fields are distinguishable from
// zero values.
type actionWire struct {
	Action *string `json:"action"`
	X      *int    `json:"x"`
	Y      *int    `json:"y"`
	Text   *string `json:"text"`
	Key    *string `json:"key"`
	DeltaX *int    `json:"delta_x"`
	DeltaY *int    `json:"delta_y"`
	FromX  *int    `json:"from_x"`
	FromY  *int    `json:"from_y"`
	ToX    *int    `json:"to_x"`
	ToY    *int    `json:"to_y"`
	MS     *int    `json:"ms"`

	Summary *string `json:"summary"`
	Reason  *string `json:"reason"`
}

// UnmarshalJSON decodes an action, validating the tag and each variant's
// required fields. delta_x is the one optional field and defaults to 0.
func (a *Action) UnmarshalJSON(data []byte) error {
	var wire actionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Action == nil {
		return fmt.Errorf("action is missing the %q discriminator field", "action")
	}

	kind := ActionKind(*wire.Action)
	decoded := Action{Kind: kind}

	requireInt := func(name string, v *int) (int, error) {
		if v == nil {
			return 0, fmt.Errorf("%s action requires field %q", kind, name)
		}
		return *v, nil
	}
	requireString := func(name string, v *string) (string, error) {
		if v == nil {
			return "", fmt.Errorf("%s action requires field %q", kind, name)
		}
		return *v, nil
	}

	var err error
	switch kind {
	case ActionClick, ActionDoubleClick:
		if decoded.X, err = requireInt("x", wire.X); err != nil {
			return err
		}
		if decoded.Y, err = requireInt("y", wire.Y); err != nil {
			return err
		}
	case ActionType:
		if decoded.Text, err = requireString("text", wire.Text); err != nil {
			return err
		}
	case ActionPressKey:
		if decoded.Key, err = requireString("key", wire.Key); err != nil {
			return err
		}
	case ActionScroll:
		if decoded.X, err = requireInt("x", wire.X); err != nil {
			return err
		}
		if decoded.Y, err = requireInt("y", wire.Y); err != nil {
			return err
		}
		if decoded.DeltaY, err = requireInt("delta_y", wire.DeltaY); err != nil {
			return err
		}
		if wire.DeltaX != nil {
			decoded.DeltaX = *wire.DeltaX
		}
	case ActionDrag:
		if decoded.FromX, err = requireInt("from_x", wire.FromX); err != nil {
			return err
		}
		if decoded.FromY, err = requireInt("from_y", wire.FromY); err != nil {
			return err
		}
		if decoded.ToX, err = requireInt("to_x", wire.ToX); err != nil {
			return err
		}
		if decoded.ToY, err = requireInt("to_y", wire.ToY); err != nil {
			return err
		}
	case ActionWait:
		if decoded.MS, err = requireInt("ms", wire.MS); err != nil {
			return err
		}
	case ActionDone:
		if decoded.Summary, err = requireString("summary", wire.Summary); err != nil {
			return err
		}
	case ActionFail:
		if decoded.Reason, err = requireString("reason", wire.Reason); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown action kind %q", kind)
	}

	*a = decoded
	return nil
}

// Response is the structured envelope the model produces each step.
// EstimatedStepsRemaining is nil when the model cannot estimate.
type Response struct {
	Observation             string `json:"observation"`
	Reasoning               string `json:"reasoning"`
	NextStep                string `json:"next_step"`
	EstimatedStepsRemaining *int   `json:"estimated_steps_remaining"`
	RequestSmartModel       bool   `json:"request_smart_model"`
	Action                  Action `json:"action"`
}

func intSchema(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func stringSchema(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func tagSchema(kind ActionKind) map[string]any {
	return map[string]any{"type": "string", "enum": []any{string(kind)}}
}

func actionDef(kind ActionKind, fields map[string]any, required ...string) map[string]any {
	props := map[string]any{"action": tagSchema(kind)}
	for name, schema := range fields {
		props[name] = schema
	}
	req := []any{"action"}
	for _, name := range required {
		req = append(req, name)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             req,
		"additionalProperties": false,
	}
}

// ResponseSchema builds the JSON schema for Response. It is written in the
// generic dialect (with $defs, oneOf, and a discriminator); each provider
// adapter translates it into its own dialect before use.
func ResponseSchema() map[string]any {
	refs := make([]any, 0, 9)
	for _, name := range []string{
		"ClickAction", "DoubleClickAction", "TypeAction", "PressKeyAction",
		"ScrollAction", "DragAction", "WaitAction", "DoneAction", "FailAction",
	} {
		refs = append(refs, map[string]any{"$ref": "#/$defs/" + name})
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"observation": stringSchema("What you see on the current screenshot"),
			"reasoning":   stringSchema("Why you chose this action"),
			"next_step":   stringSchema("Short human-readable description of what you are about to do"),
			"estimated_steps_remaining": map[string]any{
				"anyOf": []any{
					map[string]any{"type": "integer", "minimum": 0},
					map[string]any{"type": "null"},
				},
				"description": "Estimated steps left to finish the scenario, or null if unknown",
			},
			"request_smart_model": map[string]any{
				"type":        "boolean",
				"default":     false,
				"description": "Request a permanent switch to the smarter fallback model",
			},
			"action": map[string]any{
				"oneOf":         refs,
				"discriminator": map[string]any{"propertyName": "action"},
				"description":   "The action to execute",
			},
		},
		"required": []any{"observation", "reasoning", "next_step", "action"},
		"$defs": map[string]any{
			"ClickAction": actionDef(ActionClick, map[string]any{
				"x": intSchema("X coordinate to click"),
				"y": intSchema("Y coordinate to click"),
			}, "x", "y"),
			"DoubleClickAction": actionDef(ActionDoubleClick, map[string]any{
				"x": intSchema("X coordinate to double-click"),
				"y": intSchema("Y coordinate to double-click"),
			}, "x", "y"),
			"TypeAction": actionDef(ActionType, map[string]any{
				"text": stringSchema("Text to type into the focused element"),
			}, "text"),
			"PressKeyAction": actionDef(ActionPressKey, map[string]any{
				"key": stringSchema("Key to press (e.g. Enter, Tab, Escape, Backspace)"),
			}, "key"),
			"ScrollAction": actionDef(ActionScroll, map[string]any{
				"x":       intSchema("X coordinate to scroll at"),
				"y":       intSchema("Y coordinate to scroll at"),
				"delta_x": map[string]any{"type": "integer", "default": 0, "description": "Horizontal scroll amount in pixels"},
				"delta_y": intSchema("Vertical scroll amount in pixels, positive scrolls down"),
			}, "x", "y", "delta_y"),
			"DragAction": actionDef(ActionDrag, map[string]any{
				"from_x": intSchema("X coordinate to start dragging from"),
				"from_y": intSchema("Y coordinate to start dragging from"),
				"to_x":   intSchema("X coordinate to drop at"),
				"to_y":   intSchema("Y coordinate to drop at"),
			}, "from_x", "from_y", "to_x", "to_y"),
			"WaitAction": actionDef(ActionWait, map[string]any{
				"ms": intSchema("Duration to wait in milliseconds"),
			}, "ms"),
			"DoneAction": actionDef(ActionDone, map[string]any{
				"summary": stringSchema("Summary of what was accomplished"),
			}, "summary"),
			"FailAction": actionDef(ActionFail, map[string]any{
				"reason": stringSchema("Reason the scenario cannot be completed"),
			}, "reason"),
		},
	}
}
