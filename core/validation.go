// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import "fmt"

// ValidateCandidate validates a message candidate according to domain rules.
//
// Validation rules:
//   - Content must not be empty
//   - Role must be valid
//
// NOT validated:
//   - Parent (RootHash is a legal parent; existence is checked at save time)
//   - Hash (derived at save time when absent)
func ValidateCandidate(c *Candidate) error {
	if c == nil {
		return fmt.Errorf("%w: candidate is nil", ErrInvalidCandidate)
	}

	if c.Content == "" {
		return fmt.Errorf("%w: %w", ErrInvalidCandidate, ErrEmptyContent)
	}

	if err := ValidateRole(c.Role); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCandidate, err)
	}

	return nil
}

// ValidateRole validates that a Role has a valid value.
func ValidateRole(role Role) error {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem, RoleFunction:
		return nil
	default:
		return fmt.Errorf("%w: value %d", ErrInvalidRole, role)
	}
}
