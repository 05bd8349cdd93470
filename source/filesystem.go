package source

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/bulkimport/core"
)

// Property keys set on documents imported from a filesystem.
const (
	PropertyMimeType = "file:mime-type"
	PropertyModified = "file:modified"
)

// FileSystemSource walks a local directory. Directories become containers
// and regular files become leaves. The root directory itself is not emitted;
// its entries are placed under the target path.
type FileSystemSource struct {
	root       string
	target     string
	skipHidden bool
	logger     *slog.Logger
}

// FileSystemOption configures a FileSystemSource.
type FileSystemOption func(*FileSystemSource)

// WithTargetPath places imported nodes under the given target container path.
func WithTargetPath(target string) FileSystemOption {
	return func(s *FileSystemSource) {
		s.target = core.JoinPath(target, "")
	}
}

// WithSkipHidden skips files and directories whose name starts with a dot.
func WithSkipHidden(skip bool) FileSystemOption {
	return func(s *FileSystemSource) {
		s.skipHidden = skip
	}
}

// WithFileSystemLogger sets the logger. If nil, uses slog.Default().
func WithFileSystemLogger(logger *slog.Logger) FileSystemOption {
	return func(s *FileSystemSource) {
		s.logger = logger
	}
}

// NewFileSystemSource creates a source for the directory at root.
func NewFileSystemSource(root string, opts ...FileSystemOption) (*FileSystemSource, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	}

	s := &FileSystemSource{
		root:       abs,
		target:     "/",
		skipHidden: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("source", s.Name())
	return s, nil
}

func (s *FileSystemSource) Name() string {
	return "fs:" + s.root
}

func (s *FileSystemSource) Walk(ctx context.Context, fn WalkFunc) error {
	// local directory -> emitted container node
	containers := make(map[string]*Node)

	return filepath.WalkDir(s.root, func(localPath string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return err
		}
		if localPath == s.root {
			return nil
		}
		if s.skipHidden && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			s.logger.Debug("skipping non-regular file", "path", localPath)
			return nil
		}

		rel, err := filepath.Rel(s.root, localPath)
		if err != nil {
			return err
		}
		targetPath := core.JoinPath(s.target, filepath.ToSlash(rel))
		parent := containers[filepath.Dir(localPath)]

		node := &Node{
			ID:         localPath,
			Path:       targetPath,
			ParentPath: core.ParentOf(targetPath),
			Name:       d.Name(),
			Container:  d.IsDir(),
		}
		if d.IsDir() {
			node.Type = core.DocumentTypeFolder
			containers[localPath] = node
		} else {
			info, err := d.Info()
			if err != nil {
				return err
			}
			node.Type = core.DocumentTypeFile
			node.Size = info.Size()
			node.Properties = map[string]string{
				PropertyModified: info.ModTime().UTC().Format(time.RFC3339),
			}
			if mt := mime.TypeByExtension(filepath.Ext(d.Name())); mt != "" {
				node.Properties[PropertyMimeType] = mt
			}
		}
		return fn(parent, node)
	})
}
