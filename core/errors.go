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

import "errors"

// Domain validation errors
var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidMessage indicates a Message failed validation.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrEmptyMessageID indicates a payload-carrying message has no id.
	ErrEmptyMessageID = errors.New("message ID is empty")

	// ErrEmptyName indicates the document Name field is empty.
	ErrEmptyName = errors.New("document name cannot be empty")

	// ErrEmptyType indicates the document Type field is empty.
	ErrEmptyType = errors.New("document type cannot be empty")

	// ErrRelativePath indicates a document path is not absolute.
	ErrRelativePath = errors.New("document path must be absolute")

	// ErrPathMismatch indicates Path is not ParentPath joined with Name.
	ErrPathMismatch = errors.New("document path does not match parent and name")

	// ErrTooManyProperties indicates a document exceeds MaxProperties.
	ErrTooManyProperties = errors.New("too many document properties")

	// ErrTooManyIssues indicates an encoded issue log exceeds MaxIssues.
	ErrTooManyIssues = errors.New("too many import issues")

	// ErrPoisonPillPayload indicates a poison pill carrying an id or payload.
	ErrPoisonPillPayload = errors.New("poison pill cannot carry a payload")
)
