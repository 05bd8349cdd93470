package importer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/bulkimport/core"
	"github.com/poiesic/bulkimport/source"
	"github.com/poiesic/bulkimport/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// consumerSet hands out one recordingConsumer per worker and remembers them.
type consumerSet struct {
	mu          sync.Mutex
	byWorker    map[string]*recordingConsumer
	failCommit  func(n int) bool
	panicCommit func(n int) bool
	block       chan struct{}
}

func newConsumerSet() *consumerSet {
	return &consumerSet{byWorker: make(map[string]*recordingConsumer)}
}

func (s *consumerSet) factory(id string) (Consumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &recordingConsumer{failCommit: s.failCommit, panicCommit: s.panicCommit, block: s.block}
	s.byWorker[id] = c
	return c, nil
}

// committedBy maps every committed message id to the worker that committed it.
func (s *consumerSet) committedBy() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner := make(map[string]string)
	for id, c := range s.byWorker {
		_, _, _, committed := c.snapshot()
		for _, batch := range committed {
			for _, m := range batch {
				owner[m] = id
			}
		}
	}
	return owner
}

// countNodes returns how many nodes a walk over entries visits.
func countNodes(entries []source.Entry) int {
	n := 0
	for _, e := range entries {
		n += 1 + countNodes(e.Children)
	}
	return n
}

// brokenSource emits the nodes of its tree, then fails.
type brokenSource struct {
	*source.MemorySource
	err error
}

func (s *brokenSource) Walk(ctx context.Context, fn source.WalkFunc) error {
	if err := s.MemorySource.Walk(ctx, fn); err != nil {
		return err
	}
	return s.err
}

func newTestDispatcher(t *testing.T, src source.Source, factory ConsumerFactory, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(src, factory, opts...)
	require.NoError(t, err)
	return d
}

func TestNewDispatcher_Validation(t *testing.T) {
	src := source.NewMemorySource("empty")

	_, err := NewDispatcher(nil, recordingFactory())
	assert.ErrorIs(t, err, ErrSourceRequired)

	_, err = NewDispatcher(src, nil)
	assert.ErrorIs(t, err, ErrConsumerFactoryRequired)

	_, err = NewDispatcher(src, recordingFactory(), WithConfig(NewConfig(WithBatchSize(0))))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	d, err := NewDispatcher(src, recordingFactory(), WithJobID("job-1"))
	require.NoError(t, err)
	assert.Equal(t, "job-1", d.JobID())
	assert.Equal(t, NotStarted, d.State())
	assert.Zero(t, d.Workers())
}

func TestDispatcher_ImportsEveryNode(t *testing.T) {
	tree := source.GenerateTree(2, 7, 2)
	total := countNodes(tree)
	set := newConsumerSet()
	history := &eventHistory{}

	d := newTestDispatcher(t, source.NewMemorySource("tree", tree...), set.factory,
		WithConfig(NewConfig(WithBatchSize(5), WithBatchTimeout(0))),
		WithHistory(history))

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Done, d.State())

	assert.Equal(t, int64(total), result.Report.Dispatched)
	assert.Equal(t, int64(total), result.Report.Committed)
	assert.Zero(t, result.Report.Failed)
	assert.Empty(t, result.Failures)
	assert.Len(t, set.committedBy(), total)
	assert.Equal(t, []string{"started", "ended"}, history.events)
	assert.Equal(t, result.Report, history.report)
	assert.False(t, result.EndedAt.Before(result.StartedAt))
}

func TestDispatcher_PoolGrowthIsCapped(t *testing.T) {
	set := newConsumerSet()
	d := newTestDispatcher(t, source.NewMemorySource("big", source.GenerateTree(3, 10, 3)...), set.factory,
		WithConfig(NewConfig(WithBatchSize(30), WithMaxWorkers(10), WithBatchTimeout(0))))

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MaxScheduledWorkers, d.Workers())
	assert.Equal(t, MaxScheduledWorkers, result.Report.Workers)
	assert.Len(t, set.byWorker, MaxScheduledWorkers)
}

func TestDispatcher_NoGrowthBelowThreshold(t *testing.T) {
	// nine files then a folder: 9 < 30/3, so the folder does not add a worker
	tree := source.GenerateTree(0, 9, 0)
	tree = append(tree, source.Folder("late", source.File("x.txt", 1)))

	d := newTestDispatcher(t, source.NewMemorySource("small", tree...), recordingFactory(),
		WithConfig(NewConfig(WithBatchSize(30), WithBatchTimeout(0))))
	_, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, d.Workers())
}

func TestDispatcher_FixedPolicy(t *testing.T) {
	d := newTestDispatcher(t, source.NewMemorySource("big", source.GenerateTree(3, 10, 2)...), recordingFactory(),
		WithPolicy(FixedThreadingPolicy{}))
	_, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, d.Workers())
}

func TestDispatcher_SiblingsShareAWorker(t *testing.T) {
	set := newConsumerSet()
	d := newTestDispatcher(t, source.NewMemorySource("big", source.GenerateTree(3, 10, 3)...), set.factory,
		WithConfig(NewConfig(WithBatchSize(7), WithBatchTimeout(0))))

	_, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Greater(t, d.Workers(), 1)

	workerOf := make(map[string]string)
	for path, worker := range set.committedBy() {
		parent := core.ParentOf(path)
		if prev, ok := workerOf[parent]; ok {
			assert.Equal(t, prev, worker, "children of %s split across workers", parent)
		}
		workerOf[parent] = worker
	}
}

func TestDispatcher_RunOnce(t *testing.T) {
	d := newTestDispatcher(t, source.NewMemorySource("one", source.File("a", 1)), recordingFactory())
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	result, err := d.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
	assert.Nil(t, result)
}

func TestDispatcher_EmptySource(t *testing.T) {
	history := &eventHistory{}
	d := newTestDispatcher(t, source.NewMemorySource("empty"), recordingFactory(), WithHistory(history))

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Report.Dispatched)
	assert.Equal(t, 1, result.Report.Workers)
	assert.Equal(t, []string{"started", "ended"}, history.events)
}

func TestDispatcher_WalkErrorFailsJob(t *testing.T) {
	boom := errors.New("listing failed")
	tree := source.GenerateTree(1, 4, 1)
	set := newConsumerSet()
	history := &eventHistory{}

	d := newTestDispatcher(t, &brokenSource{MemorySource: source.NewMemorySource("broken", tree...), err: boom},
		set.factory, WithHistory(history))

	result, err := d.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, result)

	// what was routed before the failure is still committed
	assert.Equal(t, int64(countNodes(tree)), result.Report.Dispatched)
	assert.Equal(t, result.Report.Dispatched, result.Report.Committed)
	assert.Equal(t, []string{"started", "failed"}, history.events)
	assert.ErrorIs(t, history.reason, boom)
}

func TestDispatcher_CancelDrainsRoutedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := 0
	policy := ThreadingPolicyFunc(func(parent, node *source.Node, uploaded, batchSize, scheduled int) bool {
		seen++
		if seen == 3 {
			cancel()
		}
		return DefaultThreadingPolicy{}.ShouldGrowPool(parent, node, uploaded, batchSize, scheduled)
	})
	history := &eventHistory{}
	d := newTestDispatcher(t, source.NewMemorySource("big", source.GenerateTree(3, 10, 3)...), recordingFactory(),
		WithPolicy(policy), WithHistory(history),
		WithConfig(NewConfig(WithBatchSize(30), WithBatchTimeout(0))))

	result, err := d.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Greater(t, result.Report.Dispatched, int64(0))
	assert.Equal(t, result.Report.Dispatched, result.Report.Committed, "routed messages survive cancellation")
	assert.Equal(t, []string{"started", "failed"}, history.events)
}

func TestDispatcher_AllBatchesFailing(t *testing.T) {
	set := newConsumerSet()
	set.failCommit = func(int) bool { return true }
	history := &eventHistory{}

	d := newTestDispatcher(t, source.NewMemorySource("doomed", source.GenerateTree(0, 12, 0)...), set.factory,
		WithConfig(NewConfig(WithBatchSize(5), WithBatchTimeout(0))), WithHistory(history))

	result, err := d.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoProgress)
	assert.Equal(t, int64(12), result.Report.Failed)
	assert.Equal(t, int64(3), result.Report.FailedBatches)
	assert.Zero(t, result.Report.Committed)
	require.Len(t, result.Failures, 3)
	assert.ErrorIs(t, result.Failures[0], ErrSinkCommit)
	assert.Equal(t, []string{"started", "failed"}, history.events)
}

func TestDispatcher_SomeBatchesFailing(t *testing.T) {
	set := newConsumerSet()
	set.failCommit = func(n int) bool { return n == 1 }

	d := newTestDispatcher(t, source.NewMemorySource("flaky", source.GenerateTree(0, 12, 0)...), set.factory,
		WithConfig(NewConfig(WithBatchSize(5), WithBatchTimeout(0))))

	result, err := d.Run(context.Background())
	require.NoError(t, err, "partial failures do not fail the job")
	assert.Equal(t, int64(5), result.Report.Failed)
	assert.Equal(t, int64(7), result.Report.Committed)
	assert.Equal(t, result.Report.Dispatched, result.Report.Committed+result.Report.Failed)
}

func TestDispatcher_PanickingConsumerFailsBatches(t *testing.T) {
	set := newConsumerSet()
	set.panicCommit = func(int) bool { return true }
	history := &eventHistory{}

	d := newTestDispatcher(t, source.NewMemorySource("crashing", source.GenerateTree(0, 6, 0)...), set.factory,
		WithConfig(NewConfig(WithBatchSize(3), WithBatchTimeout(0))), WithHistory(history))

	result, err := d.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoProgress)
	assert.Equal(t, int64(6), result.Report.Dispatched)
	assert.Equal(t, int64(6), result.Report.Failed)
	assert.Equal(t, int64(2), result.Report.FailedBatches)
	require.NotEmpty(t, result.Failures)
	assert.ErrorIs(t, result.Failures[0], ErrConsumerPanic)
	assert.Equal(t, []string{"started", "failed"}, history.events)
}

func TestDispatcher_PanickingConsumerDoesNotStallTheWalk(t *testing.T) {
	set := newConsumerSet()
	set.panicCommit = func(int) bool { return true }

	d := newTestDispatcher(t, source.NewMemorySource("crashing", source.GenerateTree(0, 200, 0)...), set.factory,
		WithConfig(NewConfig(WithBatchSize(3), WithMailboxSize(1), WithBatchTimeout(0),
			WithShutdownTimeout(time.Second))))

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := d.Run(context.Background())
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		assert.ErrorIs(t, o.err, ErrNoProgress)
		assert.Equal(t, int64(200), o.result.Report.Dispatched)
		assert.Equal(t, o.result.Report.Dispatched, o.result.Report.Failed, "every message is accounted for")
	case <-time.After(5 * time.Second):
		t.Fatalf("run still blocked, state %s", d.State())
	}
}

func TestDispatcher_LifecycleLogNamesJobOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	d := newTestDispatcher(t, source.NewMemorySource("logged", source.File("a.txt", 1)), recordingFactory(),
		WithLogger(logger), WithJobID("job-7"))
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(line, "import started") || strings.Contains(line, "import ended") {
			assert.Equal(t, 1, strings.Count(line, "job=job-7"), line)
		}
	}
	assert.Contains(t, buf.String(), "import ended")
}

func TestDispatcher_ShutdownTimeout(t *testing.T) {
	set := newConsumerSet()
	set.block = make(chan struct{})
	defer close(set.block)
	history := &eventHistory{}

	d := newTestDispatcher(t, source.NewMemorySource("stuck", source.Folder("a")), set.factory,
		WithConfig(NewConfig(WithShutdownTimeout(50*time.Millisecond))), WithHistory(history))

	start := time.Now()
	result, err := d.Run(context.Background())
	assert.ErrorIs(t, err, ErrShutdownTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.NotNil(t, result)
	assert.Equal(t, Done, d.State())
	assert.Equal(t, []string{"started", "failed"}, history.events)
}

func TestDispatcher_RateLimit(t *testing.T) {
	d := newTestDispatcher(t, source.NewMemorySource("slow", source.GenerateTree(0, 6, 0)...), recordingFactory(),
		WithConfig(NewConfig(WithMaxRate(100))))

	start := time.Now()
	_, err := d.Run(context.Background())
	require.NoError(t, err)
	// burst of one, then 10ms per message
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestDispatcher_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	set := newConsumerSet()
	set.failCommit = func(n int) bool { return n == 2 }

	d := newTestDispatcher(t, source.NewMemorySource("m", source.GenerateTree(0, 10, 0)...), set.factory,
		WithConfig(NewConfig(WithBatchSize(4), WithBatchTimeout(0))), WithMetrics(metrics))

	result, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, float64(10), testutil.ToFloat64(metrics.messagesDispatched))
	assert.Equal(t, float64(result.Report.Committed), testutil.ToFloat64(metrics.messagesCommitted))
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.messagesFailed))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.batchesFailed.WithLabelValues("sink_commit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.workers))
	assert.Equal(t, 10, testutil.CollectAndCount(reg))
}

func TestDispatcher_EndToEndWithBadger(t *testing.T) {
	ctx := context.Background()
	docs, jobs := newTestRepo(t)
	history, err := NewRepositoryHistory(jobs)
	require.NoError(t, err)

	tree := source.GenerateTree(2, 5, 2)
	total := int64(countNodes(tree))
	src := source.NewMemorySource("tree", tree...).WithTarget("/imports")

	run := func() *Result {
		d := newTestDispatcher(t, src, DocumentConsumers(docs),
			WithConfig(NewConfig(WithBatchSize(4), WithBatchTimeout(0))),
			WithHistory(history))
		result, err := d.Run(ctx)
		require.NoError(t, err)
		return result
	}

	first := run()
	assert.Equal(t, total, first.Report.Created)
	assert.Zero(t, first.Report.Updated)

	n, err := docs.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, int(total), n)

	children, err := docs.ListChildren(ctx, "/imports")
	require.NoError(t, err)
	assert.Len(t, children, 7)

	second := run()
	assert.Zero(t, second.Report.Created)
	assert.Equal(t, total, second.Report.Updated)

	rec, err := jobs.GetJob(ctx, second.JobID)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusEnded, rec.Status)
	assert.Equal(t, second.Report, rec.Report)

	all, err := jobs.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDispatcher_ReportCollectsSourceAndSinkIssues(t *testing.T) {
	ctx := context.Background()
	docs, _ := newTestRepo(t)
	_, err := docs.WriteDocuments(ctx, []*core.Document{
		{Path: "/a.txt", ParentPath: "/", Name: "a.txt", Type: core.DocumentTypeFile},
	})
	require.NoError(t, err)

	feed := "name,type\na.txt,File\nb.txt,File\n,,\nc.txt,\n"
	cfg := NewConfig(WithBatchTimeout(0), WithUpdateExisting(false))
	d := newTestDispatcher(t, source.NewCSVSource("feed", strings.NewReader(feed)),
		DocumentConsumers(docs, storage.WithUpdateExisting(cfg.UpdateExisting)),
		WithConfig(cfg))
	assert.Same(t, cfg, d.Config())

	result, err := d.Run(ctx)
	require.NoError(t, err)
	report := result.Report
	assert.Equal(t, int64(2), report.Dispatched)
	assert.Equal(t, int64(1), report.Created)
	assert.Equal(t, int64(2), report.Skipped, "existing a.txt and the empty line")
	assert.Equal(t, int64(1), report.Errors, "c.txt has no type")

	require.Len(t, report.Issues, 3)
	assert.Equal(t, core.ImportIssue{
		Source: "feed:2", Path: "/a.txt", Status: core.IssueSkipped, Message: "document already exists",
	}, report.Issues[0])
	assert.Equal(t, "feed:4", report.Issues[1].Source)
	assert.Equal(t, core.IssueError, report.Issues[2].Status)
}
