package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PrettyPrint returns a pretty-printed JSON string
func PrettyPrint(data interface{}) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}

	// Indent after marshalling so custom MarshalJSON output is kept as is
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return "", fmt.Errorf("failed to indent JSON: %w", err)
	}
	return out.String(), nil
}
