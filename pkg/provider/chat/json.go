package chat

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
)

// NormalizeArgs returns tool-call arguments as valid JSON. Models
// occasionally emit almost-JSON (single quotes, trailing commas, unquoted
// keys); such strings are repaired before being handed to a tool handler.
// An empty string normalizes to "{}".
func NormalizeArgs(raw string) (string, error) {
	if raw == "" {
		return "{}", nil
	}
	if json.Valid([]byte(raw)) {
		return raw, nil
	}
	fixed, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return "", fmt.Errorf("chat: repair tool arguments: %w", err)
	}
	return fixed, nil
}
