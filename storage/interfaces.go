package storage

import (
	"context"

	"github.com/poiesic/bulkimport/core"
)

// WriteResult reports how many documents a write created, updated or left
// alone.
type WriteResult struct {
	Created int
	Updated int
	Skipped int
	Issues  []core.ImportIssue // One skipped issue per document left alone
}

// Add accumulates another result into r.
func (r *WriteResult) Add(other WriteResult) {
	r.Created += other.Created
	r.Updated += other.Updated
	r.Skipped += other.Skipped
	r.Issues = append(r.Issues, other.Issues...)
}

// Total returns the number of documents written.
func (r WriteResult) Total() int {
	return r.Created + r.Updated
}

// WriteOptions controls how WriteDocuments treats documents that already
// exist.
type WriteOptions struct {
	SkipExisting bool
}

// WriteOption configures a single WriteDocuments call.
type WriteOption func(*WriteOptions)

// WithUpdateExisting selects whether documents whose path already exists are
// updated (the default) or skipped.
func WithUpdateExisting(update bool) WriteOption {
	return func(o *WriteOptions) {
		o.SkipExisting = !update
	}
}

// ApplyWriteOptions folds opts into a WriteOptions value.
func ApplyWriteOptions(opts ...WriteOption) WriteOptions {
	var o WriteOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SkippedExisting is the issue recorded for a document left alone because
// its path already exists.
func SkippedExisting(doc *core.Document) core.ImportIssue {
	return core.ImportIssue{
		Source:  doc.SourceID,
		Path:    doc.Path,
		Status:  core.IssueSkipped,
		Message: "document already exists",
	}
}

// DocumentWriter is the atomic multi-item write primitive used by consumers
// when they commit a batch.
type DocumentWriter interface {
	// WriteDocuments writes all documents in a single transaction.
	// Either every document lands or none of them does.
	// A document whose path already exists is updated (InsertedAt is kept)
	// unless the options skip existing documents, in which case it is left
	// untouched and reported in WriteResult.Skipped. Any other document is
	// created. IDs and timestamps are populated.
	WriteDocuments(ctx context.Context, docs []*core.Document, opts ...WriteOption) (WriteResult, error)
}

// DocumentRepository provides operations for managing imported documents.
// Implementations must be thread-safe and support concurrent access.
type DocumentRepository interface {
	DocumentWriter

	// GetDocument retrieves a document by its target path.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, path string) (*core.Document, error)

	// ListChildren retrieves the direct children of a container path,
	// ordered by path.
	ListChildren(ctx context.Context, parentPath string) ([]*core.Document, error)

	// CountDocuments returns the number of stored documents.
	CountDocuments(ctx context.Context) (int, error)

	// Close releases resources held by the repository.
	Close() error
}

// JobRepository persists import job history.
type JobRepository interface {
	// SaveJob inserts or replaces the record for job.Id.
	SaveJob(ctx context.Context, job *core.JobRecord) error

	// GetJob retrieves a job record.
	// Returns ErrNotFound if the job doesn't exist.
	GetJob(ctx context.Context, id string) (*core.JobRecord, error)

	// ListJobs returns all job records, most recently started first.
	ListJobs(ctx context.Context) ([]*core.JobRecord, error)
}
