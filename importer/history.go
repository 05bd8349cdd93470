package importer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/poiesic/bulkimport/core"
	"github.com/poiesic/bulkimport/storage"
)

// JobInfo identifies a running import job.
type JobInfo struct {
	ID        string
	Source    string
	StartedAt time.Time
}

// JobHistory observes the lifecycle of import jobs. For every job
// OnJobStarted is called once, followed by exactly one of OnJobEnded or
// OnJobFailed. A failed job is never reported as ended.
type JobHistory interface {
	OnJobStarted(ctx context.Context, job JobInfo) error
	OnJobEnded(ctx context.Context, job JobInfo, report core.JobReport) error
	OnJobFailed(ctx context.Context, job JobInfo, report core.JobReport, reason error) error
}

// LogHistory writes job lifecycle events to a logger.
type LogHistory struct {
	logger *slog.Logger
}

var _ JobHistory = (*LogHistory)(nil)

// NewLogHistory creates a LogHistory. If logger is nil, uses slog.Default().
func NewLogHistory(logger *slog.Logger) *LogHistory {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHistory{logger: logger}
}

func (h *LogHistory) OnJobStarted(ctx context.Context, job JobInfo) error {
	h.logger.Info("import started", "job", job.ID, "source", job.Source)
	return nil
}

func (h *LogHistory) OnJobEnded(ctx context.Context, job JobInfo, report core.JobReport) error {
	h.logger.Info("import ended", append([]any{"job", job.ID, "elapsed", time.Since(job.StartedAt)}, reportAttrs(report)...)...)
	return nil
}

func (h *LogHistory) OnJobFailed(ctx context.Context, job JobInfo, report core.JobReport, reason error) error {
	h.logger.Error("import failed", append([]any{"job", job.ID, "reason", reason, "elapsed", time.Since(job.StartedAt)}, reportAttrs(report)...)...)
	return nil
}

func reportAttrs(r core.JobReport) []any {
	return []any{
		"dispatched", humanize.Comma(r.Dispatched),
		"committed", humanize.Comma(r.Committed),
		"failed", humanize.Comma(r.Failed),
		"created", r.Created,
		"updated", r.Updated,
		"skipped", r.Skipped,
		"errors", r.Errors,
		"batches", r.CommittedBatches,
		"failed_batches", r.FailedBatches,
		"workers", r.Workers,
	}
}

// RepositoryHistory persists job records.
type RepositoryHistory struct {
	repo storage.JobRepository
}

var _ JobHistory = (*RepositoryHistory)(nil)

// NewRepositoryHistory creates a history writing to repo.
func NewRepositoryHistory(repo storage.JobRepository) (*RepositoryHistory, error) {
	if repo == nil {
		return nil, ErrJobRepositoryRequired
	}
	return &RepositoryHistory{repo: repo}, nil
}

func (h *RepositoryHistory) OnJobStarted(ctx context.Context, job JobInfo) error {
	return h.repo.SaveJob(ctx, &core.JobRecord{
		Id:        job.ID,
		Source:    job.Source,
		Status:    core.JobStatusStarted,
		StartedAt: job.StartedAt,
	})
}

func (h *RepositoryHistory) OnJobEnded(ctx context.Context, job JobInfo, report core.JobReport) error {
	return h.repo.SaveJob(ctx, &core.JobRecord{
		Id:        job.ID,
		Source:    job.Source,
		Status:    core.JobStatusEnded,
		Report:    report,
		StartedAt: job.StartedAt,
		EndedAt:   time.Now().UTC(),
	})
}

func (h *RepositoryHistory) OnJobFailed(ctx context.Context, job JobInfo, report core.JobReport, reason error) error {
	record := &core.JobRecord{
		Id:        job.ID,
		Source:    job.Source,
		Status:    core.JobStatusFailed,
		Report:    report,
		StartedAt: job.StartedAt,
		EndedAt:   time.Now().UTC(),
	}
	if reason != nil {
		record.Reason = reason.Error()
	}
	return h.repo.SaveJob(ctx, record)
}

// MultiHistory fans every event out to several histories. All of them are
// called even when one fails; the errors are joined.
type MultiHistory []JobHistory

var _ JobHistory = MultiHistory(nil)

func (m MultiHistory) OnJobStarted(ctx context.Context, job JobInfo) error {
	var errs []error
	for _, h := range m {
		errs = append(errs, h.OnJobStarted(ctx, job))
	}
	return errors.Join(errs...)
}

func (m MultiHistory) OnJobEnded(ctx context.Context, job JobInfo, report core.JobReport) error {
	var errs []error
	for _, h := range m {
		errs = append(errs, h.OnJobEnded(ctx, job, report))
	}
	return errors.Join(errs...)
}

func (m MultiHistory) OnJobFailed(ctx context.Context, job JobInfo, report core.JobReport, reason error) error {
	var errs []error
	for _, h := range m {
		errs = append(errs, h.OnJobFailed(ctx, job, report, reason))
	}
	return errors.Join(errs...)
}
