package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/poiesic/bulkimport/core"
	"github.com/poiesic/bulkimport/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDocumentRepository(t *testing.T) *DocumentRepository {
	docs, _, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return docs
}

func newDoc(parent, name, docType string) *core.Document {
	return &core.Document{
		Path:       core.JoinPath(parent, name),
		ParentPath: parent,
		Name:       name,
		Type:       docType,
	}
}

func TestWriteDocuments_CreateThenUpdate(t *testing.T) {
	repo := setupDocumentRepository(t)
	ctx := context.Background()

	folder := newDoc("/", "imports", core.DocumentTypeFolder)
	file := newDoc("/imports", "a.txt", core.DocumentTypeFile)
	file.Properties = map[string]string{"dc:title": "A"}

	result, err := repo.WriteDocuments(ctx, []*core.Document{folder, file})
	require.NoError(t, err)
	assert.Equal(t, storage.WriteResult{Created: 2}, result)
	assert.Equal(t, core.IDFromContent("/imports/a.txt"), file.Id)
	assert.False(t, file.InsertedAt.IsZero())

	stored, err := repo.GetDocument(ctx, "/imports/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "A", stored.Properties["dc:title"])
	insertedAt := stored.InsertedAt

	update := newDoc("/imports", "a.txt", core.DocumentTypeFile)
	update.Properties = map[string]string{"dc:title": "A2"}
	result, err = repo.WriteDocuments(ctx, []*core.Document{update})
	require.NoError(t, err)
	assert.Equal(t, storage.WriteResult{Updated: 1}, result)

	stored, err = repo.GetDocument(ctx, "/imports/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "A2", stored.Properties["dc:title"])
	assert.True(t, insertedAt.Equal(stored.InsertedAt), "InsertedAt survives updates")
	assert.False(t, stored.UpdatedAt.Before(insertedAt))
}

func TestWriteDocuments_SkipExisting(t *testing.T) {
	repo := setupDocumentRepository(t)
	ctx := context.Background()

	original := newDoc("/", "a.txt", core.DocumentTypeFile)
	original.Properties = map[string]string{"dc:title": "first"}
	_, err := repo.WriteDocuments(ctx, []*core.Document{original})
	require.NoError(t, err)

	again := newDoc("/", "a.txt", core.DocumentTypeFile)
	again.Properties = map[string]string{"dc:title": "second"}
	again.SourceID = "feed.csv:4"
	fresh := newDoc("/", "b.txt", core.DocumentTypeFile)

	result, err := repo.WriteDocuments(ctx, []*core.Document{again, fresh}, storage.WithUpdateExisting(false))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Zero(t, result.Updated)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, core.ImportIssue{
		Source:  "feed.csv:4",
		Path:    "/a.txt",
		Status:  core.IssueSkipped,
		Message: "document already exists",
	}, result.Issues[0])

	stored, err := repo.GetDocument(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Properties["dc:title"])
	_, err = repo.GetDocument(ctx, "/b.txt")
	assert.NoError(t, err)

	result, err = repo.WriteDocuments(ctx, []*core.Document{again}, storage.WithUpdateExisting(true))
	require.NoError(t, err)
	assert.Equal(t, storage.WriteResult{Updated: 1}, result)
}

func TestWriteDocuments_InvalidDocumentWritesNothing(t *testing.T) {
	repo := setupDocumentRepository(t)
	ctx := context.Background()

	good := newDoc("/", "good", core.DocumentTypeFolder)
	bad := &core.Document{Path: "/bad", ParentPath: "/", Name: "bad"} // no type

	_, err := repo.WriteDocuments(ctx, []*core.Document{good, bad})
	require.ErrorIs(t, err, core.ErrEmptyType)

	_, err = repo.GetDocument(ctx, "/good")
	assert.ErrorIs(t, err, storage.ErrNotFound, "no partial batch may be visible")

	count, err := repo.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestWriteDocuments_Empty(t *testing.T) {
	repo := setupDocumentRepository(t)
	result, err := repo.WriteDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, result.Total())
}

func TestWriteDocuments_ClosedBackend(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	repo := NewDocumentRepository(backend)
	require.NoError(t, backend.Close())

	_, err = repo.WriteDocuments(context.Background(), []*core.Document{newDoc("/", "a", core.DocumentTypeFolder)})
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestGetDocument_NotFoundAndInvalid(t *testing.T) {
	repo := setupDocumentRepository(t)
	ctx := context.Background()

	_, err := repo.GetDocument(ctx, "/missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = repo.GetDocument(ctx, "relative")
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestListChildren(t *testing.T) {
	repo := setupDocumentRepository(t)
	ctx := context.Background()

	_, err := repo.WriteDocuments(ctx, []*core.Document{
		newDoc("/", "imports", core.DocumentTypeFolder),
		newDoc("/imports", "b.txt", core.DocumentTypeFile),
		newDoc("/imports", "a.txt", core.DocumentTypeFile),
		newDoc("/imports", "sub", core.DocumentTypeFolder),
		newDoc("/imports/sub", "deep.txt", core.DocumentTypeFile),
	})
	require.NoError(t, err)

	children, err := repo.ListChildren(ctx, "/imports")
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.Equal(t, "/imports/a.txt", children[0].Path)
	assert.Equal(t, "/imports/b.txt", children[1].Path)
	assert.Equal(t, "/imports/sub", children[2].Path)

	top, err := repo.ListChildren(ctx, "/")
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.True(t, top[0].IsFolder())

	none, err := repo.ListChildren(ctx, "/nothing")
	require.NoError(t, err)
	assert.Empty(t, none)

	count, err := repo.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestWriteDocuments_ConcurrentWriters(t *testing.T) {
	repo := setupDocumentRepository(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			parent := fmt.Sprintf("/w%d", w)
			for i := 0; i < 10; i++ {
				_, err := repo.WriteDocuments(ctx, []*core.Document{newDoc(parent, fmt.Sprintf("f%d", i), core.DocumentTypeFile)})
				if err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := repo.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, count)
}
