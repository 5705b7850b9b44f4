package stage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"mediaforge/internal/services"
)

// DecodePayload parses a job payload into T. The payload must be a JSON
// object; unknown fields are rejected so typos surface at enqueue time.
// On failure it returns a services.ErrValidation.
func DecodePayload[T any](raw json.RawMessage) (T, error) {
	var out T
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		trimmed = []byte("{}")
	}
	if trimmed[0] != '{' {
		return out, services.Wrap(services.ErrValidation, "stage", "decode payload", "payload must be a JSON object", nil)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, services.Wrap(services.ErrValidation, "stage", "decode payload", fmt.Sprintf("invalid payload: %v", err), nil)
	}
	if dec.More() {
		return out, services.Wrap(services.ErrValidation, "stage", "decode payload", "trailing data after payload object", nil)
	}
	return out, nil
}

// EncodeJSON marshals v for ledger payloads and job results.
func EncodeJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
