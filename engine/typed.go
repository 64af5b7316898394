package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var typedValidate = validator.New()

// Typed wraps a function taking a typed input struct as a Task. Step
// arguments are decoded into the input with weak typing (string to number
// and bool coercion, duration strings), validated against `validate` tags,
// and the typed output is converted back to a map via its json tags.
func Typed[I any, O any](fn func(c *Context, input I) (O, error)) Task {
	return TaskFunc(func(c *Context, args map[string]any) (map[string]any, error) {
		var input I
		if err := DecodeArgs(args, &input); err != nil {
			return nil, fmt.Errorf("decoding task input: %w", err)
		}
		if err := typedValidate.Struct(&input); err != nil {
			return nil, fmt.Errorf("invalid task input: %w", err)
		}

		output, err := fn(c, input)
		if err != nil {
			return nil, err
		}
		return structToMap(output)
	})
}

// DecodeArgs decodes an argument map into a struct using json tags, weak
// typing, and time.Duration / time.Time hooks.
func DecodeArgs(args map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "json",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}
	return decoder.Decode(args)
}

// structToMap converts a struct to a map via a JSON round trip, which
// respects json tags and nested structs.
func structToMap(s any) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshalling task output: %w", err)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshalling task output: %w", err)
	}
	return result, nil
}
