package runtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Struct tags used to match map keys to struct fields. Task inputs and
// contexts use json names, configuration uses yaml names.
const (
	argsTag   = "json"
	configTag = "yaml"
)

// decodeMap decodes m into the struct pointed to by target. Strings convert
// to durations and RFC 3339 times and scalars are coerced weakly, so "5"
// fills an int and 1 fills a string.
func decodeMap(m map[string]any, target any, tag string) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: tag,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(m); err != nil {
		return fmt.Errorf("failed to decode %T: %w", target, err)
	}
	return nil
}

// encodeMap converts a task result to a map through encoding/json so json
// tags and omitempty apply. Numbers come back as float64, like JSON input
// received over HTTP.
func encodeMap(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("%T does not encode to an object: %w", v, err)
	}
	return result, nil
}
