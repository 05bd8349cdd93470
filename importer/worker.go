package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/poiesic/bulkimport/core"
	"github.com/poiesic/bulkimport/storage"
)

// WorkerState is the batch state of a worker.
type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateBatching
	StateCommitting
	StateRollingBack
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBatching:
		return "batching"
	case StateCommitting:
		return "committing"
	case StateRollingBack:
		return "rolling_back"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// batchResult is what a worker reports for every finished batch.
type batchResult struct {
	workerID string
	size     int
	written  storage.WriteResult
	duration time.Duration
	err      *BatchError
}

// worker owns one Consumer and the mailbox feeding it. Only the worker
// goroutine touches the consumer and the pending count.
type worker struct {
	id           string
	consumer     Consumer
	mailbox      chan core.Message
	batchSize    int
	batchTimeout time.Duration
	results      chan<- batchResult
	quit         <-chan struct{}
	logger       *slog.Logger

	state   atomic.Int32
	pending int
	timer   *time.Timer
	expire  <-chan time.Time
	done    chan struct{}
}

func newWorker(id string, consumer Consumer, cfg *Config, results chan<- batchResult, quit <-chan struct{}, logger *slog.Logger) *worker {
	return &worker{
		id:           id,
		consumer:     consumer,
		mailbox:      make(chan core.Message, cfg.MailboxSize),
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		results:      results,
		quit:         quit,
		logger:       logger.With("worker", id),
		done:         make(chan struct{}),
	}
}

func (w *worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *worker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

// run consumes the mailbox until a poison pill arrives. ctx is passed to the
// consumer and is expected to outlive cancellation of the job.
//
// Consumer panics are turned into failed batches and the worker keeps going.
// Should the loop itself panic, the pending batch is reported as failed and
// the worker stops; messages left in its mailbox are accounted for by
// Pool.Shutdown.
func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if v := recover(); v != nil {
			w.logger.Error("worker panicked", "panic", v, "pending", w.pending)
			if w.pending > 0 {
				w.report(batchResult{workerID: w.id, size: w.pending, err: &BatchError{
					WorkerID: w.id,
					Kind:     WorkerFailure,
					Size:     w.pending,
					Err:      fmt.Errorf("%v", v),
				}})
			}
			w.pending = 0
			w.stopTimer()
			w.setState(StateStopped)
		}
	}()
	w.logger.Debug("worker started")

	for {
		select {
		case msg := <-w.mailbox:
			if msg.PoisonPill() {
				if w.pending > 0 {
					w.commit(ctx)
				}
				w.stopTimer()
				w.setState(StateStopped)
				w.logger.Debug("worker stopped")
				return
			}
			w.handle(ctx, msg)

		case <-w.expire:
			w.expire = nil
			if w.pending > 0 {
				w.logger.Debug("batch timeout elapsed", "pending", w.pending)
				w.commit(ctx)
			}
		}
	}
}

func (w *worker) handle(ctx context.Context, msg core.Message) {
	if w.State() == StateIdle {
		if err := w.guard("begin", func() error { return w.consumer.Begin(ctx) }); err != nil {
			w.pending++
			w.rollback(ctx, &BatchError{Kind: SinkCommitFailure, MessageID: msg.ID, Err: err})
			return
		}
		w.setState(StateBatching)
		w.startTimer()
	}

	w.pending++
	if err := w.guard("accept", func() error { return w.consumer.Accept(ctx, msg) }); err != nil {
		w.rollback(ctx, &BatchError{Kind: PayloadFailure, MessageID: msg.ID, Err: err})
		return
	}

	if msg.ForceBatch() || w.pending >= w.batchSize {
		w.commit(ctx)
	}
}

func (w *worker) commit(ctx context.Context) {
	w.setState(StateCommitting)
	start := time.Now()

	var written storage.WriteResult
	err := w.guard("commit", func() (err error) {
		written, err = w.consumer.Commit(ctx)
		return err
	})
	if err != nil {
		w.rollback(ctx, &BatchError{Kind: SinkCommitFailure, Err: err})
		return
	}

	r := batchResult{
		workerID: w.id,
		size:     w.pending,
		written:  written,
		duration: time.Since(start),
	}
	w.reset()
	w.report(r)
}

func (w *worker) rollback(ctx context.Context, batchErr *BatchError) {
	w.setState(StateRollingBack)
	if err := w.guard("rollback", func() error { return w.consumer.Rollback(ctx) }); err != nil {
		batchErr.Err = errors.Join(batchErr.Err, err)
	}
	batchErr.WorkerID = w.id
	batchErr.Size = w.pending

	w.logger.Warn("batch rolled back", "kind", batchErr.Kind, "size", w.pending, "err", batchErr.Err)
	r := batchResult{workerID: w.id, size: w.pending, err: batchErr}
	w.reset()
	w.report(r)
}

// guard runs a consumer call, converting a panic into ErrConsumerPanic.
func (w *worker) guard(call string, fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			w.logger.Error("consumer panicked", "call", call, "panic", v)
			err = fmt.Errorf("%w in %s: %v", ErrConsumerPanic, call, v)
		}
	}()
	return fn()
}

func (w *worker) reset() {
	w.pending = 0
	w.stopTimer()
	w.setState(StateIdle)
}

func (w *worker) report(r batchResult) {
	select {
	case w.results <- r:
	case <-w.quit:
	}
}

func (w *worker) startTimer() {
	if w.batchTimeout <= 0 {
		return
	}
	if w.timer == nil {
		w.timer = time.NewTimer(w.batchTimeout)
	} else {
		w.timer.Reset(w.batchTimeout)
	}
	w.expire = w.timer.C
}

func (w *worker) stopTimer() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.expire = nil
}
