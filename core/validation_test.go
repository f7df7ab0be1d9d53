package core

import (
	"errors"
	"testing"
)

func TestValidateCandidate(t *testing.T) {
	tests := []struct {
		name      string
		candidate *Candidate
		wantErr   error
	}{
		{
			name:      "valid user message",
			candidate: &Candidate{Role: RoleUser, Content: "hello"},
			wantErr:   nil,
		},
		{
			name:      "valid function message",
			candidate: &Candidate{Role: RoleFunction, Content: `{"uuid":"u","v":2,"name":"f"}`},
			wantErr:   nil,
		},
		{
			name:      "nil candidate",
			candidate: nil,
			wantErr:   ErrInvalidCandidate,
		},
		{
			name:      "empty content",
			candidate: &Candidate{Role: RoleUser, Content: ""},
			wantErr:   ErrEmptyContent,
		},
		{
			name:      "invalid role",
			candidate: &Candidate{Role: Role(99), Content: "hello"},
			wantErr:   ErrInvalidRole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCandidate(tt.candidate)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRoleString(t *testing.T) {
	if RoleUser.String() != "user" || RoleAssistant.String() != "assistant" ||
		RoleSystem.String() != "system" || RoleFunction.String() != "function" {
		t.Fatal("Unexpected role names")
	}
	if Role(0).String() != "unknown" {
		t.Fatal("Expected unknown for zero role")
	}
}
