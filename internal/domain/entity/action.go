package entity

import "fmt"

type ActionName string

const (
	ActionNavigate    ActionName = "navigate"
	ActionClick       ActionName = "click"
	ActionType        ActionName = "type"
	ActionPressEnter  ActionName = "press_enter"
	ActionScroll      ActionName = "scroll"
	ActionExtractText ActionName = "extract_text"
	ActionWait        ActionName = "wait"
	ActionScreenshot  ActionName = "screenshot"
	ActionFinish      ActionName = "finish"
)

// ActionArgs is the union of arguments across the action set. Which fields
// are meaningful depends on the action name; Validate enforces the
// per-action required set.
type ActionArgs struct {
	URL       string  `json:"url,omitempty"`
	Selector  string  `json:"selector,omitempty"`
	Text      string  `json:"text,omitempty"`
	Direction string  `json:"direction,omitempty"`
	Amount    int     `json:"amount,omitempty"`
	Seconds   float64 `json:"seconds,omitempty"`
	Result    string  `json:"result,omitempty"`
}

// Action is one structured instruction emitted by the model. Raw keeps the
// argument JSON exactly as the model produced it, for logging and replay.
type Action struct {
	Name ActionName
	Args ActionArgs
	Raw  string
}

// ActionDefinition describes one permitted action to the model, in
// JSON-schema form as chat-completion APIs expect.
type ActionDefinition struct {
	Name        ActionName
	Description string
	Parameters  map[string]any
}

// ActionSchema is the closed, versioned set of actions offered to the model.
type ActionSchema []ActionDefinition

func (s ActionSchema) Contains(name ActionName) bool {
	for _, def := range s {
		if def.Name == name {
			return true
		}
	}
	return false
}

// Validate checks that the action belongs to the schema and carries the
// arguments its name requires.
func (s ActionSchema) Validate(a *Action) error {
	if !s.Contains(a.Name) {
		return &UnsupportedActionError{Name: string(a.Name)}
	}
	switch a.Name {
	case ActionNavigate:
		if a.Args.URL == "" {
			return fmt.Errorf("action %s: missing url", a.Name)
		}
	case ActionClick, ActionExtractText:
		if a.Args.Selector == "" {
			return fmt.Errorf("action %s: missing selector", a.Name)
		}
	case ActionType:
		if a.Args.Selector == "" || a.Args.Text == "" {
			return fmt.Errorf("action %s: missing selector or text", a.Name)
		}
	case ActionScroll:
		if a.Args.Direction == "" {
			return fmt.Errorf("action %s: missing direction", a.Name)
		}
	case ActionWait:
		if a.Args.Selector == "" && a.Args.Seconds <= 0 {
			return fmt.Errorf("action %s: needs a selector or seconds", a.Name)
		}
	}
	return nil
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// DefaultSchema returns the v1 action set.
func DefaultSchema() ActionSchema {
	return ActionSchema{
		{
			Name:        ActionNavigate,
			Description: "Navigate the browser to a URL",
			Parameters: objectSchema(map[string]any{
				"url": stringProp("Absolute URL to open"),
			}, "url"),
		},
		{
			Name:        ActionClick,
			Description: "Click the element matching a CSS or XPath selector",
			Parameters: objectSchema(map[string]any{
				"selector": stringProp("CSS or XPath selector of the element to click"),
			}, "selector"),
		},
		{
			Name:        ActionType,
			Description: "Clear an input field and type text into it",
			Parameters: objectSchema(map[string]any{
				"selector": stringProp("CSS selector of the input field"),
				"text":     stringProp("Text to type"),
			}, "selector", "text"),
		},
		{
			Name:        ActionPressEnter,
			Description: "Press the Enter key on the focused element",
			Parameters:  objectSchema(map[string]any{}),
		},
		{
			Name:        ActionScroll,
			Description: "Scroll the page",
			Parameters: objectSchema(map[string]any{
				"direction": map[string]any{
					"type":        "string",
					"enum":        []string{"up", "down", "top", "bottom"},
					"description": "Scroll direction",
				},
				"amount": map[string]any{
					"type":        "integer",
					"description": "Number of viewport heights to scroll (default 1)",
				},
			}, "direction"),
		},
		{
			Name:        ActionExtractText,
			Description: "Extract the visible text of the element matching a selector",
			Parameters: objectSchema(map[string]any{
				"selector": stringProp("CSS selector of the element to read"),
			}, "selector"),
		},
		{
			Name:        ActionWait,
			Description: "Wait for an element to become visible, or for a fixed number of seconds",
			Parameters: objectSchema(map[string]any{
				"selector": stringProp("CSS selector to wait for (optional)"),
				"seconds": map[string]any{
					"type":        "number",
					"description": "Seconds to wait when no selector is given",
				},
			}),
		},
		{
			Name:        ActionScreenshot,
			Description: "Capture a screenshot of the current page",
			Parameters:  objectSchema(map[string]any{}),
		},
		{
			Name:        ActionFinish,
			Description: "Finish the task and report the final result to the caller",
			Parameters: objectSchema(map[string]any{
				"result": stringProp("Final answer or outcome of the task"),
			}, "result"),
		},
	}
}
