package httpapi

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// encodeValue marshals an arbitrary JSON value (string, number, object,
// array, null) into the bytes the engine stores, so Get/range can hand back
// exactly what was put.
func encodeValue(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("invalid value: %w", err)
	}
	return b, nil
}

// decodeValue reverses encodeValue for responses. A value that fails to
// parse as JSON (should not happen for data written through this façade) is
// returned as its raw string form rather than failing the request.
func decodeValue(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// parseLimit rejects a negative or explicitly-zero limit query parameter;
// omitting the parameter entirely (handled by the caller) means unlimited.
func parseLimit(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return n, nil
}
