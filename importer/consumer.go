package importer

import (
	"context"
	"fmt"
	"maps"
	"sync/atomic"

	"github.com/poiesic/bulkimport/core"
	"github.com/poiesic/bulkimport/source"
	"github.com/poiesic/bulkimport/storage"
)

// Consumer is a batch-transactional sink driven by exactly one worker.
//
// Within a batch the worker calls Begin, then Accept for each message, then
// either Commit or Rollback. Nothing may reach the sink before Commit, and
// Commit must apply the whole batch or nothing of it.
type Consumer interface {
	// Begin opens a new batch.
	Begin(ctx context.Context) error

	// Accept buffers msg in the open batch.
	Accept(ctx context.Context, msg core.Message) error

	// Commit writes the buffered batch atomically and reports what was written.
	Commit(ctx context.Context) (storage.WriteResult, error)

	// Rollback discards the buffered batch without touching the sink.
	Rollback(ctx context.Context) error
}

// ConsumerFactory creates the consumer owned by a new worker.
type ConsumerFactory func(workerID string) (Consumer, error)

// DocumentConsumer converts source nodes into documents and writes each batch
// in a single storage transaction.
type DocumentConsumer struct {
	writer  storage.DocumentWriter
	opts    []storage.WriteOption
	pending []*core.Document
}

var _ Consumer = (*DocumentConsumer)(nil)

// NewDocumentConsumer creates a consumer writing through writer. opts are
// passed to every WriteDocuments call.
func NewDocumentConsumer(writer storage.DocumentWriter, opts ...storage.WriteOption) (*DocumentConsumer, error) {
	if writer == nil {
		return nil, ErrDocumentWriterRequired
	}
	return &DocumentConsumer{writer: writer, opts: opts}, nil
}

// DocumentConsumers returns a factory giving every worker its own
// DocumentConsumer over the shared writer.
func DocumentConsumers(writer storage.DocumentWriter, opts ...storage.WriteOption) ConsumerFactory {
	return func(string) (Consumer, error) {
		return NewDocumentConsumer(writer, opts...)
	}
}

func (c *DocumentConsumer) Begin(ctx context.Context) error {
	c.pending = c.pending[:0]
	return nil
}

func (c *DocumentConsumer) Accept(ctx context.Context, msg core.Message) error {
	node, ok := msg.Payload.(*source.Node)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedPayload, msg.Payload)
	}

	doc := &core.Document{
		Path:       node.Path,
		ParentPath: node.ParentPath,
		Name:       node.Name,
		Type:       node.Type,
		Properties: maps.Clone(node.Properties),
		Size:       node.Size,
		SourceID:   node.ID,
	}
	if err := core.ValidateDocument(doc); err != nil {
		return err
	}
	c.pending = append(c.pending, doc)
	return nil
}

func (c *DocumentConsumer) Commit(ctx context.Context) (storage.WriteResult, error) {
	if len(c.pending) == 0 {
		return storage.WriteResult{}, nil
	}
	result, err := c.writer.WriteDocuments(ctx, c.pending, c.opts...)
	if err != nil {
		return storage.WriteResult{}, err
	}
	c.pending = nil
	return result, nil
}

func (c *DocumentConsumer) Rollback(ctx context.Context) error {
	c.pending = nil
	return nil
}

// CountingConsumer accepts every message and writes nothing. It backs dry runs.
type CountingConsumer struct {
	pending   int
	accepted  atomic.Int64
	committed atomic.Int64
}

var _ Consumer = (*CountingConsumer)(nil)

// CountingConsumers returns a factory of CountingConsumers. Every consumer it
// creates is also appended to *created when created is not nil; the slice is
// only safe to read after the job finished.
func CountingConsumers(created *[]*CountingConsumer) ConsumerFactory {
	return func(string) (Consumer, error) {
		c := &CountingConsumer{}
		if created != nil {
			*created = append(*created, c)
		}
		return c, nil
	}
}

func (c *CountingConsumer) Begin(ctx context.Context) error {
	c.pending = 0
	return nil
}

func (c *CountingConsumer) Accept(ctx context.Context, msg core.Message) error {
	c.pending++
	c.accepted.Add(1)
	return nil
}

func (c *CountingConsumer) Commit(ctx context.Context) (storage.WriteResult, error) {
	c.committed.Add(int64(c.pending))
	c.pending = 0
	return storage.WriteResult{}, nil
}

func (c *CountingConsumer) Rollback(ctx context.Context) error {
	c.pending = 0
	return nil
}

// Accepted returns how many messages were accepted.
func (c *CountingConsumer) Accepted() int64 { return c.accepted.Load() }

// Committed returns how many messages were committed.
func (c *CountingConsumer) Committed() int64 { return c.committed.Load() }
