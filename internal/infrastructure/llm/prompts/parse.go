package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"browser-bridge/internal/domain/entity"
)

// ParseAction turns a model tool call into a validated schema action.
// Malformed argument JSON is repaired once before giving up; an unknown
// action name is an *entity.UnsupportedActionError.
func ParseAction(name, rawArgs string, schema entity.ActionSchema) (*entity.Action, error) {
	actionName := entity.ActionName(strings.TrimSpace(name))
	if !schema.Contains(actionName) {
		return nil, &entity.UnsupportedActionError{Name: name}
	}

	args, err := decodeArgs(rawArgs)
	if err != nil {
		return nil, fmt.Errorf("arguments for %s do not parse: %w", name, err)
	}

	action := &entity.Action{Name: actionName, Args: args, Raw: rawArgs}
	if err := schema.Validate(action); err != nil {
		return nil, err
	}
	return action, nil
}

func decodeArgs(rawArgs string) (entity.ActionArgs, error) {
	var args entity.ActionArgs
	trimmed := strings.TrimSpace(rawArgs)
	if trimmed == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(trimmed), &args); err == nil {
		return args, nil
	}

	// Models occasionally emit almost-JSON (single quotes, trailing
	// commas, unquoted keys); repair before rejecting.
	repaired, repairErr := jsonrepair.JSONRepair(trimmed)
	if repairErr != nil {
		return args, fmt.Errorf("invalid JSON: %s", trimmed)
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return args, fmt.Errorf("invalid JSON after repair: %s", trimmed)
	}
	return args, nil
}
