package importer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/bulkimport/core"
	"github.com/poiesic/bulkimport/storage"
	"github.com/stretchr/testify/require"
)

var errSinkDown = errors.New("sink unavailable")

// recordingConsumer records every call the worker makes.
type recordingConsumer struct {
	mu        sync.Mutex
	begins    int
	commits   int
	rollbacks int
	pending   []string
	committed [][]string

	// failCommit, if set, decides whether commit number n (from 1) fails.
	failCommit func(n int) bool
	// failAccept, if set, rejects matching messages.
	failAccept func(msg core.Message) bool
	// block, if set, makes Commit wait until it is closed.
	block chan struct{}
	// panicCommit, if set, decides whether commit number n (from 1) panics.
	panicCommit func(n int) bool
	// panicAccept, if set, panics on matching messages.
	panicAccept func(msg core.Message) bool
}

func (c *recordingConsumer) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.begins++
	c.pending = nil
	return nil
}

func (c *recordingConsumer) Accept(ctx context.Context, msg core.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panicAccept != nil && c.panicAccept(msg) {
		panic("malformed node " + msg.ID)
	}
	if c.failAccept != nil && c.failAccept(msg) {
		return errors.New("cannot convert " + msg.ID)
	}
	c.pending = append(c.pending, msg.ID)
	return nil
}

func (c *recordingConsumer) Commit(ctx context.Context) (storage.WriteResult, error) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits++
	if c.panicCommit != nil && c.panicCommit(c.commits) {
		panic("sink driver crashed")
	}
	if c.failCommit != nil && c.failCommit(c.commits) {
		return storage.WriteResult{}, errSinkDown
	}
	c.committed = append(c.committed, c.pending)
	n := len(c.pending)
	c.pending = nil
	return storage.WriteResult{Created: n}, nil
}

func (c *recordingConsumer) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbacks++
	c.pending = nil
	return nil
}

func (c *recordingConsumer) snapshot() (begins, commits, rollbacks int, committed [][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.begins, c.commits, c.rollbacks, append([][]string(nil), c.committed...)
}

// testWorker runs a single worker over consumer and exposes its channels.
type testWorker struct {
	*worker
	results chan batchResult
	quit    chan struct{}
}

func startWorker(t *testing.T, consumer Consumer, cfg *Config) *testWorker {
	t.Helper()
	results := make(chan batchResult, 16)
	quit := make(chan struct{})
	w := newWorker("worker-test", consumer, cfg, results, quit, slog.Default())
	go w.run(context.Background())
	t.Cleanup(func() { close(quit) })
	return &testWorker{worker: w, results: results, quit: quit}
}

func (tw *testWorker) send(t *testing.T, msgs ...core.Message) {
	t.Helper()
	for _, msg := range msgs {
		select {
		case tw.mailbox <- msg:
		case <-time.After(time.Second):
			t.Fatalf("mailbox blocked sending %q", msg.ID)
		}
	}
}

func (tw *testWorker) nextResult(t *testing.T) batchResult {
	t.Helper()
	select {
	case r := <-tw.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no batch result")
		return batchResult{}
	}
}

func (tw *testWorker) noResult(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case r := <-tw.results:
		t.Fatalf("unexpected batch result: %+v", r)
	case <-time.After(wait):
	}
}

func (tw *testWorker) stop(t *testing.T) {
	t.Helper()
	tw.send(t, core.NewPoisonPill())
	select {
	case <-tw.done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func msg(t *testing.T, id string) core.Message {
	m, err := core.NewMessage(id, "/", nil)
	require.NoError(t, err)
	return m
}

func forceMsg(t *testing.T, id string) core.Message {
	m, err := core.NewForceBatchMessage(id, "/", nil)
	require.NoError(t, err)
	return m
}

func workerConfig(batchSize int) *Config {
	return NewConfig(
		WithBatchSize(batchSize),
		WithBatchTimeout(0),
		WithMailboxSize(16),
	)
}

// eventHistory records lifecycle calls in order.
type eventHistory struct {
	mu     sync.Mutex
	events []string
	report core.JobReport
	reason error
}

func (h *eventHistory) OnJobStarted(ctx context.Context, job JobInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, "started")
	return nil
}

func (h *eventHistory) OnJobEnded(ctx context.Context, job JobInfo, report core.JobReport) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, "ended")
	h.report = report
	return nil
}

func (h *eventHistory) OnJobFailed(ctx context.Context, job JobInfo, report core.JobReport, reason error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, "failed")
	h.report = report
	h.reason = reason
	return nil
}
