package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyBody is returned by Unwrap when there is nothing to decode.
var ErrEmptyBody = errors.New("empty response body")

// Envelope is the optional {"data": ...} wrapper the Siraat backend puts
// around most payloads. Some endpoints reply with the bare payload instead;
// Unwrap accepts both.
type Envelope[T any] struct {
	Data T `json:"data"`
}

// Unwrap decodes body as either Envelope[T] or a bare T.
//
// A top-level object with a non-null "data" member is treated as an
// envelope. Anything else is decoded as T directly, so a payload type that
// has its own "data" field must always be sent wrapped.
func Unwrap[T any](body []byte) (T, error) {
	var zero T

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return zero, ErrEmptyBody
	}

	if trimmed[0] == '{' {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err == nil {
			if raw, ok := fields["data"]; ok && !isNull(raw) {
				var v T
				if err := json.Unmarshal(raw, &v); err != nil {
					return zero, fmt.Errorf("decode envelope data: %w", err)
				}
				return v, nil
			}
		}
	}

	var v T
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return zero, fmt.Errorf("decode response body: %w", err)
	}
	return v, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
