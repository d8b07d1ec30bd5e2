package kv

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// serialize turns a value into its stored form. Strings are stored as-is,
// nil becomes "null" and everything else is JSON-encoded.
func serialize(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "null", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to serialize value: %w", err)
	}
	return string(encoded), nil
}

// deserialize decodes a stored value into dest. Values that are not valid JSON
// (plain strings written by serialize) are copied verbatim when dest is *string.
func deserialize(raw string, dest any) error {
	if dest == nil {
		return nil
	}

	if s, ok := dest.(*string); ok {
		var decoded string
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			*s = decoded
		} else {
			*s = raw
		}
		return nil
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("failed to deserialize value: %w", err)
	}
	return nil
}

func serializeFields(values map[string]any) ([]any, error) {
	args := make([]any, 0, len(values)*2)
	for field, value := range values {
		encoded, err := serialize(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		args = append(args, field, encoded)
	}
	return args, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := int64(ttl / time.Second)
	if seconds < 1 && ttl > 0 {
		seconds = 1
	}
	return seconds
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
