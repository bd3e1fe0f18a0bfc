// Package filesmanager lists and opens the files of an application tree
// rooted at one directory, honouring ignore patterns.
package filesmanager

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"

	"github.com/0xa1bed0/appimg/internal/fsops"
)

var ErrOutsideRoot = errors.New("path escapes the root directory")

// DefaultIgnore is applied to every application tree.
var DefaultIgnore = []string{"**/__pycache__", "**/*.pyc", "**/*.pyo", ".git", "**/.DS_Store"}

// File is one entry of the tree. Rel always uses forward slashes.
type File struct {
	Rel   string
	Mode  fs.FileMode
	Size  int64
	IsDir bool
}

type FileManager interface {
	Root() string

	// List returns every non-ignored file and directory below the root in
	// lexical order. An ignored directory hides its whole subtree.
	List(ignore []string) ([]File, error)

	// FindFile returns the root relative paths of files named filename.
	FindFile(filename string, ignore []string) ([]string, error)

	// HasFilesWithExtensions reports whether at least one non-ignored file
	// has an extension from extsCSV ("py, .html").
	HasFilesWithExtensions(extsCSV string, ignore []string) (bool, error)

	// Open opens a root relative file.
	Open(rel string) (io.ReadCloser, error)
}

type folderPtr struct {
	root string
	ops  fsops.Ops
}

func NewFileManager(dir string) (FileManager, error) {
	return NewFileManagerWithOps(dir, fsops.DefaultOps())
}

func NewFileManagerWithOps(dir string, ops fsops.Ops) (FileManager, error) {
	if dir == "" {
		return nil, errors.New("folder path should not be empty")
	}
	if !ops.Validate() {
		return nil, errors.New("file manager dependencies cannot be nil")
	}

	abs, err := ops.Path.Abs(dir)
	if err != nil {
		return nil, err
	}
	fi, err := ops.OS.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.New("root path is not a directory")
	}

	return &folderPtr{root: ops.Path.Clean(abs), ops: ops}, nil
}

func (p *folderPtr) Root() string { return p.root }

// walk visits every non-ignored entry except the root itself.
func (p *folderPtr) walk(ignore []string, visit func(rel string, d fs.DirEntry) error) error {
	m, err := newMatcher(ignore)
	if err != nil {
		return err
	}

	return p.ops.Walker.WalkDir(p.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := p.ops.Path.Rel(p.root, p.ops.Path.Clean(path))
		if err != nil {
			return err
		}
		rel = toSlashClean(rel)
		if rel == "." {
			return nil
		}
		ignored, err := m.match(rel)
		if err != nil {
			return err
		}
		if ignored {
			if d.IsDir() && m.canSkipDir() {
				return fs.SkipDir
			}
			return nil
		}
		return visit(rel, d)
	})
}

func (p *folderPtr) List(ignore []string) ([]File, error) {
	var out []File
	err := p.walk(ignore, func(rel string, d fs.DirEntry) error {
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", rel, err)
		}
		f := File{Rel: rel, Mode: info.Mode(), IsDir: d.IsDir()}
		if !f.IsDir {
			f.Size = info.Size()
		}
		out = append(out, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rel < out[j].Rel })
	return out, nil
}

func (p *folderPtr) FindFile(filename string, ignore []string) ([]string, error) {
	if filename == "" {
		return nil, errors.New("filename is empty")
	}
	if !isPlainFilename(filename) {
		return nil, fmt.Errorf("%s is not a filename", filename)
	}

	var results []string
	err := p.walk(ignore, func(rel string, d fs.DirEntry) error {
		if !d.IsDir() && d.Name() == filename {
			results = append(results, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(results)
	return results, nil
}

func (p *folderPtr) HasFilesWithExtensions(extsCSV string, ignore []string) (bool, error) {
	exts := parseExtsCSV(extsCSV)
	if len(exts) == 0 {
		return false, nil
	}

	found := errors.New("found")
	err := p.walk(ignore, func(rel string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		if _, ok := exts[strings.ToLower(p.ops.Path.Ext(d.Name()))]; ok {
			return found
		}
		return nil
	})
	if errors.Is(err, found) {
		return true, nil
	}
	return false, err
}

func (p *folderPtr) Open(rel string) (io.ReadCloser, error) {
	clean := toSlashClean(rel)
	if p.ops.Path.IsAbs(rel) || clean == ".." || strings.HasPrefix(clean, "../") {
		return nil, fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	return p.ops.OS.Open(p.ops.Path.Join(p.root, clean))
}

// parseExtsCSV turns "py, .HTML" into {".py", ".html"}.
func parseExtsCSV(csv string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, raw := range strings.Split(csv, ",") {
		s := strings.ToLower(strings.TrimSpace(raw))
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		out[s] = struct{}{}
	}
	return out
}
