//go:generate go run ../cmd/musgen

package core

import (
	"encoding/binary"
	"path"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// ID is a unique identifier for domain entities.
// Document IDs are derived from the document path so that re-importing the
// same tree addresses the same documents.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Well-known document types produced by the bundled sources.
const (
	DocumentTypeFolder = "Folder"
	DocumentTypeFile   = "File"
)

// Document is the repository object an importer creates for each source node.
type Document struct {
	Id         ID
	Path       string     // Absolute target path, e.g. "/imports/2024/report.pdf"
	ParentPath string     // Path of the containing document ("/" for top level)
	Name       string     // Last path segment
	Type       string     // Document type, e.g. "Folder" or "File"
	Properties Properties // Type specific properties converted from the source
	Size       int64      // Content size in bytes (0 for containers)
	SourceID   string     // Identity of the source node this document came from
	InsertedAt time.Time  // When the document was first written
	UpdatedAt  time.Time  // When the document was last written
}

// MaxProperties bounds the number of properties a document may carry.
const MaxProperties = 1024

// Properties maps property names to their string values.
type Properties map[string]string

// IsFolder reports whether the document is a container.
func (d *Document) IsFolder() bool {
	return d.Type == DocumentTypeFolder
}

// JoinPath joins a parent path and a name into a clean absolute target path.
func JoinPath(parent, name string) string {
	return path.Join("/", parent, name)
}

// ParentOf returns the parent of a clean absolute target path.
func ParentOf(p string) string {
	return path.Dir(path.Join("/", p))
}

// JobStatus describes where an import job is in its lifecycle.
type JobStatus int

const (
	// JobStatusStarted means the job is running.
	JobStatusStarted JobStatus = iota + 1
	// JobStatusEnded means the job ran to completion.
	JobStatusEnded
	// JobStatusFailed means the job terminated with a failure.
	JobStatusFailed
)

func (s JobStatus) String() string {
	switch s {
	case JobStatusStarted:
		return "started"
	case JobStatusEnded:
		return "ended"
	case JobStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IssueStatus classifies an entry of the import log.
type IssueStatus int

const (
	// IssueSkipped means the entry was deliberately left alone.
	IssueSkipped IssueStatus = iota + 1
	// IssueError means the entry could not be imported.
	IssueError
)

func (s IssueStatus) String() string {
	switch s {
	case IssueSkipped:
		return "skipped"
	case IssueError:
		return "error"
	default:
		return "unknown"
	}
}

// ImportIssue records a source entry or document that was not written.
type ImportIssue struct {
	Source  string // Source location, e.g. "people.csv:12"
	Path    string // Target path, empty when the entry never resolved to one
	Status  IssueStatus
	Message string
}

// MaxIssues bounds the issues kept on a report. Counters keep counting past it.
const MaxIssues = 1000

// IssueLog is the ordered list of issues kept on a report.
type IssueLog []ImportIssue

// JobReport aggregates the outcome of an import job.
// Counters are written by the dispatcher only after every worker stopped.
type JobReport struct {
	Dispatched       int64 // Messages routed to workers (poison pills excluded)
	Committed        int64 // Messages durably committed
	Failed           int64 // Messages discarded by failed batches
	CommittedBatches int64
	FailedBatches    int64
	Created          int64 // Documents created by committed batches
	Updated          int64 // Documents updated by committed batches
	Skipped          int64 // Entries and documents skipped on purpose
	Errors           int64 // Entries rejected as invalid
	Workers          int   // Workers spawned over the job lifetime
	Issues           IssueLog
}

// AddIssue counts an issue and keeps it while the log has room.
func (r *JobReport) AddIssue(issue ImportIssue) {
	switch issue.Status {
	case IssueSkipped:
		r.Skipped++
	case IssueError:
		r.Errors++
	}
	r.KeepIssue(issue)
}

// KeepIssue appends issue to the log while it has room, without counting it.
func (r *JobReport) KeepIssue(issue ImportIssue) {
	if len(r.Issues) < MaxIssues {
		r.Issues = append(r.Issues, issue)
	}
}

// JobRecord is the persisted history entry of an import job.
type JobRecord struct {
	Id        string
	Source    string
	Status    JobStatus
	Reason    string // Failure reason, empty unless Status is JobStatusFailed
	Report    JobReport
	StartedAt time.Time
	EndedAt   time.Time
}

// NewJobID returns a fresh random job identifier.
func NewJobID() string {
	return uuid.NewString()
}
