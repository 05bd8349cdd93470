package pebble

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/poiesic/bulkimport/core"
	"github.com/poiesic/bulkimport/storage"
)

// DocumentRepository implements storage.DocumentRepository on Pebble.
// A write is one indexed batch committed with pebble.Sync.
type DocumentRepository struct {
	store *Store
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

func NewDocumentRepository(store *Store) *DocumentRepository {
	return &DocumentRepository{store: store}
}

// Close is a no-op; the Store is owned by the caller.
func (r *DocumentRepository) Close() error {
	return nil
}

func (r *DocumentRepository) WriteDocuments(ctx context.Context, docs []*core.Document, opts ...storage.WriteOption) (storage.WriteResult, error) {
	if len(docs) == 0 {
		return storage.WriteResult{}, nil
	}
	for _, doc := range docs {
		if err := core.ValidateDocument(doc); err != nil {
			return storage.WriteResult{}, err
		}
	}
	if err := r.store.checkOpen(); err != nil {
		return storage.WriteResult{}, err
	}

	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()

	batch := r.store.db.NewIndexedBatch()
	defer batch.Close()

	options := storage.ApplyWriteOptions(opts...)
	var result storage.WriteResult
	now := time.Now().UTC()
	for _, doc := range docs {
		doc.Id = core.IDFromContent(doc.Path)
		key := makeDocumentKey(doc.Id)

		old, err := readDocument(batch, key)
		if err != nil {
			return storage.WriteResult{}, fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
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

		if err := batch.Set(key, storage.MarshalDocument(doc), nil); err != nil {
			return storage.WriteResult{}, fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
		}
		childKey := makeChildKey(core.IDFromContent(doc.ParentPath), doc.Id)
		if err := batch.Set(childKey, storage.MarshalID(doc.Id), nil); err != nil {
			return storage.WriteResult{}, fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return storage.WriteResult{}, fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}
	return result, nil
}

func (r *DocumentRepository) GetDocument(ctx context.Context, path string) (*core.Document, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: path %q", storage.ErrInvalidQuery, path)
	}
	if err := r.store.checkOpen(); err != nil {
		return nil, err
	}

	doc, err := readDocument(r.store.db, makeDocumentKey(core.IDFromContent(path)))
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, storage.ErrNotFound
	}
	return doc, nil
}

func (r *DocumentRepository) ListChildren(ctx context.Context, parentPath string) ([]*core.Document, error) {
	if err := r.store.checkOpen(); err != nil {
		return nil, err
	}

	var children []*core.Document
	prefix := makePartialChildKey(core.IDFromContent(parentPath))
	err := scan(r.store.db, prefix, func(_, val []byte) error {
		childID, err := storage.UnmarshalID(val)
		if err != nil {
			return err
		}
		doc, err := readDocument(r.store.db, makeDocumentKey(childID))
		if err != nil {
			return err
		}
		if doc != nil {
			children = append(children, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(children, func(a, b *core.Document) int {
		return strings.Compare(a.Path, b.Path)
	})
	return children, nil
}

func (r *DocumentRepository) CountDocuments(ctx context.Context) (int, error) {
	if err := r.store.checkOpen(); err != nil {
		return 0, err
	}
	count := 0
	err := scan(r.store.db, []byte(documentPrefix), func(_, _ []byte) error {
		count++
		return nil
	})
	return count, err
}

func readDocument(r pebble.Reader, key []byte) (*core.Document, error) {
	val, err := get(r, key)
	if err != nil || val == nil {
		return nil, err
	}
	return storage.UnmarshalDocument(val)
}
