package source

import (
	"context"
	"fmt"

	"github.com/poiesic/bulkimport/core"
)

// Entry describes one node of an in-memory tree.
type Entry struct {
	Name       string
	Type       string
	Container  bool
	Size       int64
	Properties map[string]string
	Children   []Entry
}

// Folder returns a container entry holding children.
func Folder(name string, children ...Entry) Entry {
	return Entry{Name: name, Type: core.DocumentTypeFolder, Container: true, Children: children}
}

// File returns a leaf entry of the given size.
func File(name string, size int64) Entry {
	return Entry{Name: name, Type: core.DocumentTypeFile, Size: size}
}

// GenerateTree builds a synthetic tree with the given number of folders per
// level, files per folder, and depth.
func GenerateTree(folders, files, depth int) []Entry {
	var entries []Entry
	for i := 0; i < files; i++ {
		entries = append(entries, File(fmt.Sprintf("file-%03d.txt", i), int64(1024*(i+1))))
	}
	if depth == 0 {
		return entries
	}
	for i := 0; i < folders; i++ {
		entries = append(entries, Folder(fmt.Sprintf("dir-%02d", i), GenerateTree(folders, files, depth-1)...))
	}
	return entries
}

// MemorySource walks a tree held in memory. It can be walked any number of times.
type MemorySource struct {
	name    string
	target  string
	entries []Entry
}

// NewMemorySource creates a source placing entries under the target root "/".
func NewMemorySource(name string, entries ...Entry) *MemorySource {
	return &MemorySource{name: name, target: "/", entries: entries}
}

// WithTarget returns the source with its entries placed under target.
func (s *MemorySource) WithTarget(target string) *MemorySource {
	s.target = core.JoinPath(target, "")
	return s
}

func (s *MemorySource) Name() string {
	return "mem:" + s.name
}

func (s *MemorySource) Walk(ctx context.Context, fn WalkFunc) error {
	return s.walk(ctx, nil, s.target, s.entries, fn)
}

func (s *MemorySource) walk(ctx context.Context, parent *Node, dir string, entries []Entry, fn WalkFunc) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := core.JoinPath(dir, e.Name)
		node := &Node{
			ID:         p,
			Path:       p,
			ParentPath: dir,
			Name:       e.Name,
			Type:       e.Type,
			Container:  e.Container,
			Properties: e.Properties,
			Size:       e.Size,
		}
		if err := fn(parent, node); err != nil {
			return err
		}
		if e.Container {
			if err := s.walk(ctx, node, p, e.Children, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
