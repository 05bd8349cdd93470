package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/bulkimport/core"
	"github.com/poiesic/bulkimport/storage"
)

const (
	defaultConflictAttempts = 3
	defaultConflictDelay    = 10 * time.Millisecond
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend          *Backend
	conflictAttempts int
	conflictDelay    time.Duration
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// DocumentOption configures a DocumentRepository.
type DocumentOption func(*DocumentRepository)

// WithConflictRetry sets how often a conflicting write transaction is retried
// and the base delay of the exponential backoff between attempts.
func WithConflictRetry(attempts int, delay time.Duration) DocumentOption {
	return func(r *DocumentRepository) {
		if attempts < 1 {
			attempts = 1
		}
		r.conflictAttempts = attempts
		r.conflictDelay = delay
	}
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend, opts ...DocumentOption) *DocumentRepository {
	r := &DocumentRepository{
		backend:          backend,
		conflictAttempts: defaultConflictAttempts,
		conflictDelay:    defaultConflictDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Close is a no-op; the backend is owned by the caller.
func (r *DocumentRepository) Close() error {
	return nil
}

// WriteDocuments creates or updates all documents in one transaction.
func (r *DocumentRepository) WriteDocuments(ctx context.Context, docs []*core.Document, opts ...storage.WriteOption) (storage.WriteResult, error) {
	if len(docs) == 0 {
		return storage.WriteResult{}, nil
	}
	for _, doc := range docs {
		if err := core.ValidateDocument(doc); err != nil {
			return storage.WriteResult{}, err
		}
	}
	if r.backend.IsClosed() {
		return storage.WriteResult{}, storage.ErrStorageClosed
	}

	options := storage.ApplyWriteOptions(opts...)
	var result storage.WriteResult
	err := storage.RetryWithBackoff(ctx, func() error {
		result = storage.WriteResult{}
		err := r.backend.WithTx(func(tx *badger.Txn) error {
			now := time.Now().UTC()
			for _, doc := range docs {
				doc.Id = core.IDFromContent(doc.Path)
				key := makeDocumentKey(doc.Id)

				old, err := readDocument(tx, key)
				if err != nil {
					return err
				}
				if old != nil && options.SkipExisting {
					result.Skipped++
					result.Issues = append(result.Issues, storage.SkippedExisting(doc))
					continue
				}
				if old != nil {
					doc.InsertedAt = old.InsertedAt
					result.Updated++
				} else {
					doc.InsertedAt = now
					result.Created++
				}
				doc.UpdatedAt = now

				if err := tx.Set(key, storage.MarshalDocument(doc)); err != nil {
					return err
				}

				// Update parent/child index
				childKey := makeChildKey(core.IDFromContent(doc.ParentPath), doc.Id)
				if err := tx.Set(childKey, storage.MarshalID(doc.Id)); err != nil {
					return err
				}
			}
			return tx.Commit()
		}, true)
		if errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("%w: %w", storage.ErrConflict, err)
		}
		return storage.Permanent(err)
	}, r.conflictAttempts, r.conflictDelay)
	if err != nil {
		return storage.WriteResult{}, fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}

	return result, nil
}

// GetDocument retrieves a document by path.
func (r *DocumentRepository) GetDocument(ctx context.Context, path string) (*core.Document, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: path %q", storage.ErrInvalidQuery, path)
	}

	var doc *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		doc, err = readDocument(tx, makeDocumentKey(core.IDFromContent(path)))
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, storage.ErrNotFound
	}
	return doc, nil
}

// ListChildren retrieves the direct children of a container path.
func (r *DocumentRepository) ListChildren(ctx context.Context, parentPath string) ([]*core.Document, error) {
	var children []*core.Document

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		prefix := makePartialChildKey(core.IDFromContent(parentPath))
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var childID core.ID
			err := iter.Item().Value(func(val []byte) error {
				var err error
				childID, err = storage.UnmarshalID(val)
				return err
			})
			if err != nil {
				return err
			}

			doc, err := readDocument(tx, makeDocumentKey(childID))
			if err != nil {
				return err
			}
			if doc != nil {
				children = append(children, doc)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(children, func(a, b *core.Document) int {
		return strings.Compare(a.Path, b.Path)
	})
	return children, nil
}

// CountDocuments returns the number of stored documents.
func (r *DocumentRepository) CountDocuments(ctx context.Context) (int, error) {
	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(documentPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// readDocument reads a document within a transaction.
// Returns nil, nil if the document does not exist.
func readDocument(tx *badger.Txn, key []byte) (*core.Document, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var doc *core.Document
	err = item.Value(func(val []byte) error {
		var err error
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}
