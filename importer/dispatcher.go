package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poiesic/bulkimport/core"
	"github.com/poiesic/bulkimport/source"
	"golang.org/x/time/rate"
)

// DispatcherState is where a dispatcher is in its single run.
type DispatcherState int32

const (
	NotStarted DispatcherState = iota
	Running
	Draining
	Done
)

func (s DispatcherState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Result is the outcome of a dispatcher run.
type Result struct {
	JobID     string
	Report    core.JobReport
	Failures  []*BatchError
	StartedAt time.Time
	EndedAt   time.Time
}

// Dispatcher walks a source, routes every node to a worker of its pool and
// grows the pool as the threading policy allows. A Dispatcher runs one job.
type Dispatcher struct {
	source   source.Source
	factory  ConsumerFactory
	config   *Config
	policy   ThreadingPolicy
	history  JobHistory
	extra    []JobHistory
	logger   *slog.Logger
	metrics  *Metrics
	progress *ProgressTracker
	limiter  *rate.Limiter
	jobID    string

	state      atomic.Int32
	pool       *Pool
	dispatched atomic.Int64
	uploaded   int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// WithConfig sets the job configuration. Default is DefaultConfig().
func WithConfig(cfg *Config) Option {
	return func(d *Dispatcher) error {
		if cfg == nil {
			return fmt.Errorf("%w: nil config", ErrInvalidConfig)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		d.config = cfg
		return nil
	}
}

// WithPolicy sets the threading policy. Default is DefaultThreadingPolicy.
func WithPolicy(policy ThreadingPolicy) Option {
	return func(d *Dispatcher) error {
		if policy == nil {
			policy = DefaultThreadingPolicy{}
		}
		d.policy = policy
		return nil
	}
}

// WithHistory adds a job history. It may be given several times; every
// history sees every event. Events are always logged through the dispatcher
// logger as well.
func WithHistory(history JobHistory) Option {
	return func(d *Dispatcher) error {
		if history != nil {
			d.extra = append(d.extra, history)
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		d.logger = logger
		return nil
	}
}

// WithMetrics sets the Prometheus collectors to record into.
func WithMetrics(metrics *Metrics) Option {
	return func(d *Dispatcher) error {
		d.metrics = metrics
		return nil
	}
}

// WithProgress reports every dispatched message to tracker.
func WithProgress(tracker *ProgressTracker) Option {
	return func(d *Dispatcher) error {
		d.progress = tracker
		return nil
	}
}

// WithJobID sets the job id. Default is a random UUID.
func WithJobID(id string) Option {
	return func(d *Dispatcher) error {
		if id != "" {
			d.jobID = id
		}
		return nil
	}
}

// NewDispatcher creates a dispatcher importing src through consumers built by factory.
func NewDispatcher(src source.Source, factory ConsumerFactory, opts ...Option) (*Dispatcher, error) {
	if src == nil {
		return nil, ErrSourceRequired
	}
	if factory == nil {
		return nil, ErrConsumerFactoryRequired
	}

	d := &Dispatcher{
		source:  src,
		factory: factory,
		config:  DefaultConfig(),
		policy:  DefaultThreadingPolicy{},
		logger:  slog.Default(),
		jobID:   core.NewJobID(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	// LogHistory names the job itself
	d.history = NewLogHistory(d.logger)
	d.logger = d.logger.With("job", d.jobID)
	if len(d.extra) > 0 {
		d.history = MultiHistory(append([]JobHistory{d.history}, d.extra...))
	}
	if d.metrics == nil {
		d.metrics = NewMetrics(nil)
	}
	if d.config.MaxRate > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(d.config.MaxRate), 1)
	}
	return d, nil
}

// JobID returns the id of the job this dispatcher runs.
func (d *Dispatcher) JobID() string {
	return d.jobID
}

// Config returns the job configuration. It must not be modified.
func (d *Dispatcher) Config() *Config {
	return d.config
}

// State returns the current dispatcher state.
func (d *Dispatcher) State() DispatcherState {
	return DispatcherState(d.state.Load())
}

// Workers returns the current pool size.
func (d *Dispatcher) Workers() int {
	if d.pool == nil {
		return 0
	}
	return d.pool.Size()
}

// Run executes the import job and blocks until every worker stopped or the
// shutdown timeout expired.
//
// Cancelling ctx stops the walk; batches already routed are still committed
// because workers see a context detached from ctx. Per-batch failures do not
// fail the job. The job fails, and the returned error is non-nil, when the
// walk fails, when shutdown times out, or when no batch at all could be
// committed. The Result is returned in every case once the job started.
func (d *Dispatcher) Run(ctx context.Context) (*Result, error) {
	if !d.state.CompareAndSwap(int32(NotStarted), int32(Running)) {
		return nil, ErrAlreadyRun
	}

	// History and sink calls must survive cancellation of the walk.
	detached := context.WithoutCancel(ctx)

	job := JobInfo{ID: d.jobID, Source: d.source.Name(), StartedAt: time.Now().UTC()}
	if err := d.history.OnJobStarted(detached, job); err != nil {
		d.logger.Warn("job history failed", "event", "started", "err", err)
	}

	pool, err := newPool(detached, d.config, d.factory, d.logger, d.metrics)
	if err != nil {
		return d.finish(detached, job, &collector{}, err)
	}
	d.pool = pool

	col := &collector{}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		col.run(pool.results, pool.quit, d.metrics)
	}()

	if d.progress != nil {
		d.progress.Start()
	}

	var walkErr error
	if _, err := pool.Grow(); err != nil {
		walkErr = err
	} else {
		walkErr = d.source.Walk(ctx, func(parent, node *source.Node) error {
			return d.dispatch(ctx, parent, node)
		})
	}
	if walkErr != nil {
		d.logger.Warn("source walk stopped", "err", walkErr)
	}

	d.state.Store(int32(Draining))
	shutdownErr := pool.Shutdown(d.config.ShutdownTimeout)
	wg.Wait()

	if d.progress != nil {
		d.progress.Finish()
	}

	var reasons []error
	if walkErr != nil {
		reasons = append(reasons, fmt.Errorf("source walk: %w", walkErr))
	}
	if shutdownErr != nil {
		reasons = append(reasons, shutdownErr)
	}
	return d.finish(detached, job, col, errors.Join(reasons...))
}

func (d *Dispatcher) finish(ctx context.Context, job JobInfo, col *collector, failure error) (*Result, error) {
	report := col.report
	report.Dispatched = d.dispatched.Load()
	report.Workers = d.Workers()
	if reporter, ok := d.source.(source.IssueReporter); ok {
		skipped, rejected := reporter.IssueCounts()
		report.Skipped += skipped
		report.Errors += rejected
		for _, issue := range reporter.Issues() {
			report.KeepIssue(issue)
		}
	}

	if failure == nil && report.CommittedBatches == 0 && report.FailedBatches > 0 {
		failure = ErrNoProgress
	}

	result := &Result{
		JobID:     job.ID,
		Report:    report,
		Failures:  col.failures,
		StartedAt: job.StartedAt,
		EndedAt:   time.Now().UTC(),
	}
	d.state.Store(int32(Done))

	if failure != nil {
		if err := d.history.OnJobFailed(ctx, job, report, failure); err != nil {
			d.logger.Warn("job history failed", "event", "failed", "err", err)
		}
		return result, failure
	}
	if err := d.history.OnJobEnded(ctx, job, report); err != nil {
		d.logger.Warn("job history failed", "event", "ended", "err", err)
	}
	return result, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, parent, node *source.Node) error {
	if node.Container {
		d.maybeGrow(parent, node)
	}

	key := node.ParentPath
	var msg core.Message
	var err error
	if node.Container && d.config.FlushContainers {
		msg, err = core.NewForceBatchMessage(node.ID, key, node)
	} else {
		msg, err = core.NewMessage(node.ID, key, node)
	}
	if err != nil {
		return err
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if err := d.pool.Send(ctx, d.pool.Route(key), msg); err != nil {
		return err
	}
	d.dispatched.Add(1)
	if !node.Container {
		d.uploaded++
	}
	d.metrics.recordDispatched()
	if d.progress != nil {
		d.progress.Increment(1)
	}
	return nil
}

// maybeGrow consults the policy before the walk descends into node. A new
// worker takes over the container's own partition, so its children are
// routed there.
func (d *Dispatcher) maybeGrow(parent, node *source.Node) {
	scheduled := d.pool.Size()
	if scheduled >= d.config.MaxWorkers {
		return
	}
	if !d.policy.ShouldGrowPool(parent, node, d.uploaded, d.config.BatchSize, scheduled) {
		return
	}

	idx, err := d.pool.Grow()
	if err != nil {
		d.logger.Warn("could not grow pool", "err", err)
		return
	}
	d.pool.Pin(node.Path, idx)
	d.logger.Debug("pool grown", "container", node.Path, "workers", d.pool.Size(), "uploaded", d.uploaded)
}

// collector is the single reader of worker results.
type collector struct {
	report   core.JobReport
	failures []*BatchError
}

func (c *collector) run(results <-chan batchResult, quit <-chan struct{}, metrics *Metrics) {
	for {
		select {
		case r := <-results:
			c.add(r, metrics)
		case <-quit:
			for {
				select {
				case r := <-results:
					c.add(r, metrics)
				default:
					return
				}
			}
		}
	}
}

func (c *collector) add(r batchResult, metrics *Metrics) {
	metrics.recordResult(r)
	if r.err != nil {
		c.report.FailedBatches++
		c.report.Failed += int64(r.size)
		c.failures = append(c.failures, r.err)
		return
	}
	c.report.CommittedBatches++
	c.report.Committed += int64(r.size)
	c.report.Created += int64(r.written.Created)
	c.report.Updated += int64(r.written.Updated)
	for _, issue := range r.written.Issues {
		c.report.AddIssue(issue)
	}
}
