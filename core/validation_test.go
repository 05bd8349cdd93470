package core

import (
	"errors"
	"strconv"
	"testing"
)

func manyProperties(n int) Properties {
	props := make(Properties, n)
	for i := range n {
		props["p"+strconv.Itoa(i)] = "v"
	}
	return props
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     *Document
		wantErr error
	}{
		{
			name: "valid file",
			doc: &Document{
				Path:       "/imports/a.txt",
				ParentPath: "/imports",
				Name:       "a.txt",
				Type:       DocumentTypeFile,
			},
			wantErr: nil,
		},
		{
			name: "valid top level folder",
			doc: &Document{
				Path:       "/imports",
				ParentPath: "/",
				Name:       "imports",
				Type:       DocumentTypeFolder,
			},
			wantErr: nil,
		},
		{
			name:    "nil document",
			doc:     nil,
			wantErr: ErrInvalidDocument,
		},
		{
			name: "empty name",
			doc: &Document{
				Path:       "/imports/",
				ParentPath: "/imports",
				Type:       DocumentTypeFile,
			},
			wantErr: ErrEmptyName,
		},
		{
			name: "empty type",
			doc: &Document{
				Path:       "/imports/a.txt",
				ParentPath: "/imports",
				Name:       "a.txt",
			},
			wantErr: ErrEmptyType,
		},
		{
			name: "relative path",
			doc: &Document{
				Path:       "imports/a.txt",
				ParentPath: "imports",
				Name:       "a.txt",
				Type:       DocumentTypeFile,
			},
			wantErr: ErrRelativePath,
		},
		{
			name: "path does not match parent",
			doc: &Document{
				Path:       "/elsewhere/a.txt",
				ParentPath: "/imports",
				Name:       "a.txt",
				Type:       DocumentTypeFile,
			},
			wantErr: ErrPathMismatch,
		},
		{
			name: "too many properties",
			doc: &Document{
				Path:       "/imports/a.txt",
				ParentPath: "/imports",
				Name:       "a.txt",
				Type:       DocumentTypeFile,
				Properties: manyProperties(MaxProperties + 1),
			},
			wantErr: ErrTooManyProperties,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.doc)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDocument() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDocument() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("ValidateDocument() error = %v, should wrap ErrInvalidDocument", err)
			}
		})
	}
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{name: "normal", msg: Message{ID: "a", Kind: MessageNormal}},
		{name: "force batch", msg: Message{ID: "a", Kind: MessageForceBatch}},
		{name: "poison pill", msg: NewPoisonPill()},
		{name: "normal without id", msg: Message{Kind: MessageNormal}, wantErr: ErrEmptyMessageID},
		{name: "force batch without id", msg: Message{Kind: MessageForceBatch}, wantErr: ErrEmptyMessageID},
		{name: "poison pill with payload", msg: Message{Kind: MessagePoisonPill, Payload: 1}, wantErr: ErrPoisonPillPayload},
		{name: "poison pill with id", msg: Message{ID: "a", Kind: MessagePoisonPill}, wantErr: ErrPoisonPillPayload},
		{name: "unknown kind", msg: Message{ID: "a", Kind: MessageKind(7)}, wantErr: ErrInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.msg)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateMessage() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateMessage() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
