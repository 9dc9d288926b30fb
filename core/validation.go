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

import (
	"fmt"
	"strings"
)

// ValidateTalker checks that a talker identifier is usable.
func ValidateTalker(talker string) error {
	if strings.TrimSpace(talker) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, ErrEmptyTalker)
	}
	return nil
}

// ValidateCheckpoint validates a Checkpoint according to domain rules.
//
// Validation rules:
//   - Talker must not be empty
//   - LastSeq must not be negative
func ValidateCheckpoint(cp *Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("%w: checkpoint is nil", ErrInvalidCheckpoint)
	}
	if err := ValidateTalker(cp.Talker); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCheckpoint, err)
	}
	if cp.LastSeq < 0 {
		return fmt.Errorf("%w: negative seq %d", ErrInvalidCheckpoint, cp.LastSeq)
	}
	return nil
}

// IsEligible reports whether a record should be embedded.
// Plain text and quote replies are eligible; everything else, including
// other app-message subtypes, is dropped. Empty content is never eligible.
func IsEligible(r *ChatRecord) bool {
	if r == nil || strings.TrimSpace(r.Content) == "" {
		return false
	}
	if r.Type == TextMessageType {
		return true
	}
	return r.Type == AppMessageType && r.SubType == QuoteReplySubType
}

// IsQuotable reports whether a quoted message carries text worth keeping.
func IsQuotable(ref *QuotedReference) bool {
	if ref == nil {
		return false
	}
	return ref.Type == TextMessageType || ref.Type == AppMessageType
}
