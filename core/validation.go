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

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - Name and Type must not be empty
//   - Path must be absolute and equal ParentPath joined with Name
//   - At most MaxProperties properties
//
// NOT validated (populated by the sink):
//   - ID (derived from Path when written)
//   - InsertedAt / UpdatedAt
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}

	if doc.Name == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyName)
	}

	if doc.Type == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyType)
	}

	if !strings.HasPrefix(doc.Path, "/") {
		return fmt.Errorf("%w: %w: %q", ErrInvalidDocument, ErrRelativePath, doc.Path)
	}

	if JoinPath(doc.ParentPath, doc.Name) != doc.Path {
		return fmt.Errorf("%w: %w: %q", ErrInvalidDocument, ErrPathMismatch, doc.Path)
	}

	if len(doc.Properties) > MaxProperties {
		return fmt.Errorf("%w: %w: %d", ErrInvalidDocument, ErrTooManyProperties, len(doc.Properties))
	}

	return nil
}

// ValidateMessage checks that a message is exactly one of normal,
// force-batch or poison pill, and that payload-carrying kinds have an id.
func ValidateMessage(msg Message) error {
	switch msg.Kind {
	case MessageNormal, MessageForceBatch:
		if msg.ID == "" {
			return fmt.Errorf("%w: %w", ErrInvalidMessage, ErrEmptyMessageID)
		}
	case MessagePoisonPill:
		if msg.ID != "" || msg.Payload != nil {
			return fmt.Errorf("%w: %w", ErrInvalidMessage, ErrPoisonPillPayload)
		}
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidMessage, msg.Kind)
	}
	return nil
}
