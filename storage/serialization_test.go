package storage

import (
	"testing"
	"time"

	"github.com/poiesic/bulkimport/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalID(t *testing.T) {
	tests := []struct {
		name string
		id   core.ID
	}{
		{"zero ID", core.ID(0)},
		{"small ID", core.ID(42)},
		{"large ID", core.ID(18446744073709551615)}, // max uint64
		{"content-based ID", core.IDFromContent("/imports/a.txt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := MarshalID(tt.id)
			require.NotEmpty(t, data)

			decoded, err := UnmarshalID(data)
			require.NoError(t, err)
			assert.Equal(t, tt.id, decoded)
		})
	}
}

func TestUnmarshalDocument_Invalid(t *testing.T) {
	_, err := UnmarshalDocument([]byte{0xff})
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestUnmarshalDocument_TrailingBytes(t *testing.T) {
	doc := &core.Document{Path: "/a", ParentPath: "/", Name: "a", Type: core.DocumentTypeFolder}
	data := append(MarshalDocument(doc), 0x00, 0x01)

	_, err := UnmarshalDocument(data)
	assert.ErrorIs(t, err, ErrTruncatedData)
}

func TestMarshalUnmarshalJobRecord(t *testing.T) {
	job := &core.JobRecord{
		Id:        core.NewJobID(),
		Source:    "csv:/tmp/feed.csv",
		Status:    core.JobStatusEnded,
		Report:    core.JobReport{Dispatched: 3, Committed: 3, CommittedBatches: 1, Created: 3, Workers: 1},
		StartedAt: time.Now().UTC().Truncate(time.Microsecond),
		EndedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}

	decoded, err := UnmarshalJobRecord(MarshalJobRecord(job))
	require.NoError(t, err)
	assert.Equal(t, job.Id, decoded.Id)
	assert.Equal(t, job.Report, decoded.Report)
	assert.True(t, job.EndedAt.Equal(decoded.EndedAt))
}

func TestWriteResult_Add(t *testing.T) {
	var r WriteResult
	r.Add(WriteResult{Created: 2, Updated: 1})
	r.Add(WriteResult{Created: 1, Skipped: 1, Issues: []core.ImportIssue{{Path: "/a", Status: core.IssueSkipped}}})
	assert.Equal(t, 3, r.Created)
	assert.Equal(t, 1, r.Updated)
	assert.Equal(t, 1, r.Skipped)
	assert.Len(t, r.Issues, 1)
	assert.Equal(t, 4, r.Total())
}

func TestWithUpdateExisting(t *testing.T) {
	assert.False(t, ApplyWriteOptions().SkipExisting)
	assert.False(t, ApplyWriteOptions(WithUpdateExisting(true)).SkipExisting)
	assert.True(t, ApplyWriteOptions(WithUpdateExisting(false)).SkipExisting)
}
