// Package buildcontext packs the Dockerfile, both manifests and the
// application tree into the tar stream a Docker engine builds from.
package buildcontext

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/moby/patternmatcher/ignorefile"
	"github.com/opencontainers/go-digest"

	"github.com/0xa1bed0/appimg/internal/buildplan"
	"github.com/0xa1bed0/appimg/internal/dockerfile"
	"github.com/0xa1bed0/appimg/internal/filesmanager"
	"github.com/0xa1bed0/appimg/internal/logs"
	"github.com/0xa1bed0/appimg/internal/manifest"
)

var ErrAppDirMissing = errors.New("application directory is missing")

const ignoreFile = ".dockerignore"

// epoch is the mtime of every entry so equal inputs give equal bytes.
var epoch = time.Unix(0, 0).UTC()

// Context is an assembled, immutable build context.
type Context struct {
	data   []byte
	Digest digest.Digest
	Files  int
}

func (c *Context) Reader() io.Reader { return bytes.NewReader(c.data) }

func (c *Context) Size() int { return len(c.data) }

type Options struct {
	// Ignore is added to filesmanager.DefaultIgnore and the app's .dockerignore.
	Ignore []string

	// FileManager overrides how the app tree is read. Used by tests.
	FileManager filesmanager.FileManager
}

// Assemble builds the context for df from the host paths in in.
func Assemble(df dockerfile.Dockerfile, in buildplan.Inputs, opts Options) (*Context, error) {
	fm := opts.FileManager
	if fm == nil {
		var err error
		if fm, err = OpenAppDir(in.AppDir); err != nil {
			return nil, err
		}
	}

	runtimeManifest, err := readManifest(in.RuntimeManifest)
	if err != nil {
		return nil, err
	}
	devManifest, err := readManifest(in.DevManifest)
	if err != nil {
		return nil, err
	}

	ignore, err := ignorePatterns(fm, opts.Ignore)
	if err != nil {
		return nil, err
	}
	files, err := fm.List(ignore)
	if err != nil {
		return nil, fmt.Errorf("list application files: %w", err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	w := &writer{tw: tw}

	w.file("Dockerfile", []byte(df.String()), 0o644)
	w.file(buildplan.ContextRuntimeManifest, runtimeManifest, 0o644)
	w.file(buildplan.ContextDevManifest, devManifest, 0o644)
	w.dir(buildplan.ContextAppDir)

	for _, f := range files {
		name := path.Join(buildplan.ContextAppDir, f.Rel)
		switch {
		case f.IsDir:
			w.dir(name)
		case f.Mode.IsRegular():
			w.copy(name, fm, f)
		default:
			logs.Warnf("skipping %s: not a regular file (%s)", f.Rel, f.Mode.Type())
		}
	}
	if w.err != nil {
		return nil, w.err
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close build context: %w", err)
	}

	data := buf.Bytes()
	ctx := &Context{
		data:   data,
		Digest: digest.FromBytes(data),
		Files:  w.files,
	}
	logs.Debugf("build context: %d files, %d bytes, %s", ctx.Files, ctx.Size(), ctx.Digest)
	return ctx, nil
}

// OpenAppDir checks dir is an existing directory and returns a file manager
// rooted at it.
func OpenAppDir(dir string) (filesmanager.FileManager, error) {
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrAppDirMissing, dir)
	}
	fm, err := filesmanager.NewFileManager(dir)
	if err != nil {
		return nil, fmt.Errorf("open application directory: %w", err)
	}
	return fm, nil
}

func readManifest(p string) ([]byte, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", manifest.ErrManifestMissing, p)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", p, err)
	}
	return data, nil
}

func ignorePatterns(fm filesmanager.FileManager, extra []string) ([]string, error) {
	patterns := append([]string{ignoreFile}, filesmanager.DefaultIgnore...)
	patterns = append(patterns, extra...)

	rc, err := fm.Open(ignoreFile)
	if errors.Is(err, os.ErrNotExist) {
		return patterns, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ignoreFile, err)
	}
	defer rc.Close()

	fromFile, err := ignorefile.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ignoreFile, err)
	}
	return append(patterns, fromFile...), nil
}

// writer keeps the first error so the happy path reads straight.
type writer struct {
	tw    *tar.Writer
	files int
	err   error
}

func header(name string, mode int64, size int64, typ byte) *tar.Header {
	return &tar.Header{
		Typeflag: typ,
		Name:     name,
		Mode:     mode,
		Size:     size,
		ModTime:  epoch,
		Format:   tar.FormatPAX,
	}
}

func (w *writer) dir(name string) {
	if w.err != nil {
		return
	}
	if err := w.tw.WriteHeader(header(name+"/", 0o755, 0, tar.TypeDir)); err != nil {
		w.err = fmt.Errorf("write %s: %w", name, err)
	}
}

func (w *writer) file(name string, data []byte, mode int64) {
	if w.err != nil {
		return
	}
	if err := w.tw.WriteHeader(header(name, mode, int64(len(data)), tar.TypeReg)); err != nil {
		w.err = fmt.Errorf("write %s: %w", name, err)
		return
	}
	if _, err := w.tw.Write(data); err != nil {
		w.err = fmt.Errorf("write %s: %w", name, err)
		return
	}
	w.files++
}

func (w *writer) copy(name string, fm filesmanager.FileManager, f filesmanager.File) {
	if w.err != nil {
		return
	}
	mode := int64(0o644)
	if f.Mode.Perm()&0o111 != 0 {
		mode = 0o755
	}

	rc, err := fm.Open(f.Rel)
	if err != nil {
		w.err = fmt.Errorf("open %s: %w", f.Rel, err)
		return
	}
	defer rc.Close()

	if err := w.tw.WriteHeader(header(name, mode, f.Size, tar.TypeReg)); err != nil {
		w.err = fmt.Errorf("write %s: %w", name, err)
		return
	}
	if _, err := io.CopyN(w.tw, rc, f.Size); err != nil {
		w.err = fmt.Errorf("copy %s (changed while packing?): %w", f.Rel, err)
		return
	}
	w.files++
}
