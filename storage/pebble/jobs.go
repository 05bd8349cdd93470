package pebble

import (
	"context"
	"slices"

	"github.com/cockroachdb/pebble"
	"github.com/poiesic/bulkimport/core"
	"github.com/poiesic/bulkimport/storage"
)

// JobRepository implements storage.JobRepository on Pebble.
type JobRepository struct {
	store *Store
}

var _ storage.JobRepository = (*JobRepository)(nil)

func NewJobRepository(store *Store) *JobRepository {
	return &JobRepository{store: store}
}

func (r *JobRepository) SaveJob(ctx context.Context, job *core.JobRecord) error {
	if err := r.store.checkOpen(); err != nil {
		return err
	}
	return r.store.db.Set(makeJobKey(job.Id), storage.MarshalJobRecord(job), pebble.Sync)
}

func (r *JobRepository) GetJob(ctx context.Context, id string) (*core.JobRecord, error) {
	if err := r.store.checkOpen(); err != nil {
		return nil, err
	}
	val, err := get(r.store.db, makeJobKey(id))
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, storage.ErrNotFound
	}
	return storage.UnmarshalJobRecord(val)
}

func (r *JobRepository) ListJobs(ctx context.Context) ([]*core.JobRecord, error) {
	if err := r.store.checkOpen(); err != nil {
		return nil, err
	}

	var jobs []*core.JobRecord
	err := scan(r.store.db, []byte(jobPrefix), func(_, val []byte) error {
		job, err := storage.UnmarshalJobRecord(val)
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(jobs, func(a, b *core.JobRecord) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return jobs, nil
}
