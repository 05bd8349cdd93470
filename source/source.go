package source

import (
	"context"
	"maps"

	"github.com/poiesic/bulkimport/core"
)

// Node is one element of a source tree as seen by the importer.
type Node struct {
	ID         string            // Stable identity inside the source (local path, CSV line, ...)
	Path       string            // Absolute target path
	ParentPath string            // Target path of the containing node
	Name       string            // Last segment of Path
	Type       string            // Target document type
	Container  bool              // Whether the node can have children
	Properties map[string]string // Properties to set on the target document
	Size       int64             // Content size in bytes, 0 for containers
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	c := *n
	c.Properties = maps.Clone(n.Properties)
	return &c
}

// WalkFunc is called for every node of a source. parent is the container the
// node belongs to, or nil for nodes placed directly under the target root.
// Returning an error stops the walk and Walk returns that error.
type WalkFunc func(parent, node *Node) error

// Source enumerates a finite tree of nodes exactly once.
// Containers are always visited before their children.
type Source interface {
	// Name identifies the source in job history and logs.
	Name() string

	// Walk visits every node in pre-order. It stops early when ctx is
	// cancelled and returns ctx.Err().
	Walk(ctx context.Context, fn WalkFunc) error
}

// IssueReporter is implemented by sources that drop entries while walking.
type IssueReporter interface {
	// Issues returns up to core.MaxIssues of the entries dropped so far.
	Issues() []core.ImportIssue

	// IssueCounts returns how many entries were skipped and rejected in
	// total, including those no longer kept by Issues.
	IssueCounts() (skipped, rejected int64)
}
