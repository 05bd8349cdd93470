package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/bulkimport/core"
)

// Pool owns the workers of one import job. It grows monotonically up to
// MaxWorkers and is retired as a whole by Shutdown.
//
// Routing pins a partition key to a worker the first time the key is seen.
// Pins never move, so every message sharing a key is delivered to the same
// mailbox no matter how much the pool grows afterwards.
type Pool struct {
	cfg      *Config
	factory  ConsumerFactory
	runner   *ants.Pool
	results  chan batchResult
	quit     chan struct{}
	sinkCtx  context.Context
	logger   *slog.Logger
	metrics  *Metrics

	mu       sync.RWMutex
	workers  []*worker
	routes   map[string]int
	quitOnce sync.Once
}

func newPool(sinkCtx context.Context, cfg *Config, factory ConsumerFactory, logger *slog.Logger, metrics *Metrics) (*Pool, error) {
	runner, err := ants.NewPool(cfg.MaxWorkers, ants.WithPanicHandler(func(v any) {
		logger.Error("worker panicked", "panic", v)
	}))
	if err != nil {
		return nil, err
	}

	return &Pool{
		cfg:      cfg,
		factory:  factory,
		runner:   runner,
		results:  make(chan batchResult, cfg.MaxWorkers),
		quit:     make(chan struct{}),
		sinkCtx:  sinkCtx,
		logger:   logger,
		metrics:  metrics,
		routes:   make(map[string]int),
	}, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// Grow adds one worker and returns its index.
func (p *Pool) Grow() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.workers)
	if n >= p.cfg.MaxWorkers {
		return -1, fmt.Errorf("%w: %d workers", ErrPolicyViolation, n)
	}

	id := fmt.Sprintf("worker-%d", n)
	consumer, err := p.factory(id)
	if err != nil {
		return -1, fmt.Errorf("creating consumer for %s: %w", id, err)
	}

	w := newWorker(id, consumer, p.cfg, p.results, p.quit, p.logger)
	if err := p.runner.Submit(func() { w.run(p.sinkCtx) }); err != nil {
		return -1, fmt.Errorf("starting %s: %w", id, err)
	}
	p.workers = append(p.workers, w)
	p.metrics.recordWorkers(len(p.workers), n > 0)
	p.logger.Debug("worker added", "worker", id, "workers", len(p.workers))
	return n, nil
}

// Route returns the worker a partition key is pinned to, pinning it by hash
// if the key is new.
func (p *Pool) Route(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.routes[key]; ok {
		return idx
	}
	idx := int(uint64(core.IDFromContent(key)) % uint64(len(p.workers)))
	p.routes[key] = idx
	return idx
}

// Pin assigns a partition key to a worker unless the key is already pinned.
// It reports whether the pin took effect.
func (p *Pool) Pin(key string, idx int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.routes[key]; ok {
		return false
	}
	p.routes[key] = idx
	return true
}

// Send enqueues msg on the worker's mailbox, blocking while it is full. It
// fails with ErrWorkerStopped once the worker has died.
func (p *Pool) Send(ctx context.Context, idx int, msg core.Message) error {
	p.mu.RLock()
	w := p.workers[idx]
	p.mu.RUnlock()

	select {
	case <-w.done:
		return fmt.Errorf("%w: %s", ErrWorkerStopped, w.id)
	default:
	}

	select {
	case w.mailbox <- msg:
		return nil
	case <-w.done:
		return fmt.Errorf("%w: %s", ErrWorkerStopped, w.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown sends a poison pill to every worker and waits for all of them to
// stop. With a positive timeout it gives up after that long and returns
// ErrShutdownTimeout naming the workers still running.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.RLock()
	workers := append([]*worker(nil), p.workers...)
	p.mu.RUnlock()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for _, w := range workers {
		select {
		case w.mailbox <- core.NewPoisonPill():
		case <-w.done:
		case <-deadline:
			return p.timedOut(workers)
		}
	}
	for _, w := range workers {
		select {
		case <-w.done:
		case <-deadline:
			return p.timedOut(workers)
		}
	}

	for _, w := range workers {
		p.reportStranded(w)
	}
	p.stopReporting()
	p.runner.Release()
	return nil
}

func (p *Pool) timedOut(workers []*worker) error {
	p.stopReporting()

	var running []string
	for _, w := range workers {
		select {
		case <-w.done:
		default:
			running = append(running, fmt.Sprintf("%s (%s)", w.id, w.State()))
		}
	}
	p.logger.Error("shutdown timed out", "running", running)
	return fmt.Errorf("%w: %s", ErrShutdownTimeout, strings.Join(running, ", "))
}

// reportStranded fails every message still queued for a stopped worker. A
// worker that stopped on its poison pill leaves nothing behind; one that died
// may have been sent more.
func (p *Pool) reportStranded(w *worker) {
	n := 0
drain:
	for {
		select {
		case msg := <-w.mailbox:
			if !msg.PoisonPill() {
				n++
			}
		default:
			break drain
		}
	}
	if n == 0 {
		return
	}
	p.logger.Error("messages stranded in stopped worker", "worker", w.id, "messages", n)
	p.results <- batchResult{workerID: w.id, size: n, err: &BatchError{
		WorkerID: w.id,
		Kind:     WorkerFailure,
		Size:     n,
		Err:      fmt.Errorf("%d queued messages never consumed", n),
	}}
}

// stopReporting releases workers blocked on the results channel.
func (p *Pool) stopReporting() {
	p.quitOnce.Do(func() { close(p.quit) })
}

