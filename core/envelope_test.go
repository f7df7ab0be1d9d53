package core

import (
	"errors"
	"strings"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	e := &FunctionCallEnvelope{
		UUID:       "u-1",
		Version:    EnvelopeV2,
		Name:       "search_messages",
		Parameters: map[string]any{"query": "gardens", "limit": float64(5)},
		ToolID:     "call_abc",
	}

	content, err := e.Encode()
	if err != nil {
		t.Fatalf("Failed to encode envelope: %v", err)
	}

	parsed, err := ParseEnvelope(content)
	if err != nil {
		t.Fatalf("Failed to parse envelope: %v", err)
	}
	if parsed.UUID != "u-1" || parsed.Name != "search_messages" || parsed.ToolID != "call_abc" {
		t.Fatalf("Round trip mismatch: %+v", parsed)
	}
	if parsed.Parameters["query"] != "gardens" {
		t.Fatalf("Expected parameters to survive, got %+v", parsed.Parameters)
	}
}

func TestParseEnvelopeRejectsMalformed(t *testing.T) {
	cases := []string{
		"not json",
		`{"uuid":"u","v":3,"name":"f"}`,
		`{"v":1,"name":"f"}`,
		`{"uuid":"u","v":1}`,
	}
	for _, content := range cases {
		_, err := ParseEnvelope(content)
		if !errors.Is(err, ErrEnvelope) {
			t.Fatalf("Expected ErrEnvelope for %q, got %v", content, err)
		}
	}
}

func TestParseEnvelopeV1(t *testing.T) {
	parsed, err := ParseEnvelope(`{"uuid":"u","v":1,"name":"f","parameters":{}}`)
	if err != nil {
		t.Fatalf("Expected v1 envelope to parse: %v", err)
	}
	if parsed.ToolID != "" {
		t.Fatal("Expected no tool ID on v1 envelope")
	}
}

func TestDegradedEnvelopeText(t *testing.T) {
	_, err := ParseEnvelope("garbage")
	text := DegradedEnvelopeText(err)
	if !strings.Contains(text, "could not be read back") {
		t.Fatalf("Expected explanatory text, got %q", text)
	}
}
