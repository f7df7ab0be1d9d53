package core

import (
	"encoding/json"
	"fmt"
)

// Envelope versions accepted by ParseEnvelope. Version 1 predates tool
// correlation IDs; version 2 adds ToolID.
const (
	EnvelopeV1 = 1
	EnvelopeV2 = 2
)

// FunctionCallEnvelope is the serialized content of a function message.
// It identifies a function invocation; the invocation's results are stored
// separately, keyed by UUID.
type FunctionCallEnvelope struct {
	UUID       string         `json:"uuid"`
	Version    int            `json:"v"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
	ToolID     string         `json:"toolId,omitempty"`
}

// Encode serializes the envelope for storage as message content.
func (e *FunctionCallEnvelope) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEnvelope, err)
	}
	return string(data), nil
}

// ParseEnvelope deserializes a function message's content. Errors wrap
// ErrEnvelope so callers can degrade gracefully via DegradedEnvelopeText
// instead of propagating the failure.
func ParseEnvelope(content string) (*FunctionCallEnvelope, error) {
	var e FunctionCallEnvelope
	if err := json.Unmarshal([]byte(content), &e); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnvelope, err)
	}
	if e.Version != EnvelopeV1 && e.Version != EnvelopeV2 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrEnvelope, e.Version)
	}
	if e.UUID == "" {
		return nil, fmt.Errorf("%w: missing uuid", ErrEnvelope)
	}
	if e.Name == "" {
		return nil, fmt.Errorf("%w: missing function name", ErrEnvelope)
	}
	return &e, nil
}

// DegradedEnvelopeText produces the visible substitute text for a function
// message whose envelope failed to parse. The failure stays visible in the
// conversation rather than being thrown.
func DegradedEnvelopeText(err error) string {
	return fmt.Sprintf("A function call could not be read back from history: %v", err)
}
