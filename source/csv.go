package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/poiesic/bulkimport/core"
)

// Required CSV header columns.
const (
	ColumnName = "name"
	ColumnType = "type"
)

// CSVSource reads a CSV feed where each line describes one document.
//
// The header must contain a "name" and a "type" column; every other column
// becomes a document property named after its header. A name may contain
// slashes to place the document in sub-containers of the target path, in
// which case missing intermediate containers are emitted once as folders.
// Empty lines are skipped; lines without a name or type are rejected. Both
// are logged and kept as import issues.
//
// A CSVSource reads its input once and cannot be walked again.
type CSVSource struct {
	name           string
	r              io.Reader
	closer         io.Closer
	target         string
	containerTypes []string
	logger         *slog.Logger

	closeOnce sync.Once
	closeErr  error

	walked   atomic.Bool
	skipped  atomic.Int64
	rejected atomic.Int64

	mu     sync.Mutex
	issues []core.ImportIssue
}

var _ IssueReporter = (*CSVSource)(nil)

// CSVOption configures a CSVSource.
type CSVOption func(*CSVSource)

// WithCSVTargetPath places imported nodes under the given target container path.
func WithCSVTargetPath(target string) CSVOption {
	return func(s *CSVSource) {
		s.target = core.JoinPath(target, "")
	}
}

// WithContainerTypes sets which document types are containers.
// Defaults to the folder type.
func WithContainerTypes(types ...string) CSVOption {
	return func(s *CSVSource) {
		s.containerTypes = types
	}
}

// WithCSVLogger sets the logger. If nil, uses slog.Default().
func WithCSVLogger(logger *slog.Logger) CSVOption {
	return func(s *CSVSource) {
		s.logger = logger
	}
}

// NewCSVSource creates a source reading CSV from r. name identifies the feed.
func NewCSVSource(name string, r io.Reader, opts ...CSVOption) *CSVSource {
	s := &CSVSource{
		name:           name,
		r:              r,
		target:         "/",
		containerTypes: []string{core.DocumentTypeFolder},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("source", s.Name())
	return s
}

// OpenCSVFile creates a CSVSource reading the file at path.
// The file is closed when Walk returns or when Close is called.
func OpenCSVFile(path string, opts ...CSVOption) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s := NewCSVSource(path, f, opts...)
	s.closer = f
	return s, nil
}

func (s *CSVSource) Name() string {
	return "csv:" + s.name
}

// IssueCounts returns how many lines were skipped as empty and how many were
// rejected for lacking a name or type.
func (s *CSVSource) IssueCounts() (skipped, rejected int64) {
	return s.skipped.Load(), s.rejected.Load()
}

// Issues returns the first core.MaxIssues dropped lines, in file order.
func (s *CSVSource) Issues() []core.ImportIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.issues)
}

// Close releases the file opened by OpenCSVFile. It is safe to call more
// than once and a no-op for sources built with NewCSVSource.
func (s *CSVSource) Close() error {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
	})
	return s.closeErr
}

func (s *CSVSource) Walk(ctx context.Context, fn WalkFunc) error {
	if !s.walked.CompareAndSwap(false, true) {
		return ErrAlreadyWalked
	}
	defer s.Close()

	reader := csv.NewReader(s.r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return ErrNoHeader
	}
	if err != nil {
		return err
	}
	nameIndex := slices.Index(header, ColumnName)
	typeIndex := slices.Index(header, ColumnType)
	if nameIndex == -1 || typeIndex == -1 {
		return fmt.Errorf("%w: need %q and %q, got %v", ErrMissingColumn, ColumnName, ColumnType, header)
	}

	containers := make(map[string]*Node)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line, _ := reader.FieldPos(0)

		if isEmptyRecord(record) {
			s.drop(line, "", core.IssueSkipped, "empty line")
			continue
		}
		name := field(record, nameIndex)
		docType := field(record, typeIndex)
		if name == "" {
			s.drop(line, "", core.IssueError, "missing 'name' value")
			continue
		}
		if docType == "" {
			s.drop(line, core.JoinPath(s.target, name), core.IssueError, "missing 'type' value")
			continue
		}

		targetPath := core.JoinPath(s.target, name)
		if targetPath == s.target {
			s.drop(line, "", core.IssueError, "name does not resolve to a document", "name", name)
			continue
		}

		parent, err := s.ensureParents(core.ParentOf(targetPath), containers, fn)
		if err != nil {
			return err
		}

		node := &Node{
			ID:         fmt.Sprintf("%s:%d", s.name, line),
			Path:       targetPath,
			ParentPath: core.ParentOf(targetPath),
			Name:       targetPath[strings.LastIndex(targetPath, "/")+1:],
			Type:       docType,
			Container:  slices.Contains(s.containerTypes, docType),
			Properties: properties(header, record, nameIndex, typeIndex),
		}
		if node.Container {
			containers[node.Path] = node
		}
		if err := fn(parent, node); err != nil {
			return err
		}
	}
}

// ensureParents emits a folder for every ancestor of dir below the target
// path that has not been seen yet, and returns the node for dir.
func (s *CSVSource) ensureParents(dir string, containers map[string]*Node, fn WalkFunc) (*Node, error) {
	if dir == s.target {
		return nil, nil
	}
	if node, ok := containers[dir]; ok {
		return node, nil
	}

	parent, err := s.ensureParents(core.ParentOf(dir), containers, fn)
	if err != nil {
		return nil, err
	}
	node := &Node{
		ID:         dir,
		Path:       dir,
		ParentPath: core.ParentOf(dir),
		Name:       dir[strings.LastIndex(dir, "/")+1:],
		Type:       core.DocumentTypeFolder,
		Container:  true,
	}
	containers[dir] = node
	s.logger.Debug("synthesized intermediate container", "path", dir)
	return node, fn(parent, node)
}

func (s *CSVSource) drop(line int, path string, status core.IssueStatus, reason string, args ...any) {
	if status == core.IssueSkipped {
		s.skipped.Add(1)
	} else {
		s.rejected.Add(1)
	}
	s.logger.Warn(status.String()+" line: "+reason, append([]any{"line", line}, args...)...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.issues) >= core.MaxIssues {
		return
	}
	s.issues = append(s.issues, core.ImportIssue{
		Source:  fmt.Sprintf("%s:%d", s.name, line),
		Path:    path,
		Status:  status,
		Message: reason,
	})
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func isEmptyRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func properties(header, record []string, nameIndex, typeIndex int) map[string]string {
	props := make(map[string]string)
	for i, key := range header {
		if i == nameIndex || i == typeIndex || key == "" {
			continue
		}
		if v := field(record, i); v != "" {
			props[key] = v
		}
	}
	if len(props) == 0 {
		return nil
	}
	return props
}
