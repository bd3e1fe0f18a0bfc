package buildcontext

import (
	"archive/tar"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"testing"

	"github.com/0xa1bed0/appimg/internal/buildplan"
	"github.com/0xa1bed0/appimg/internal/dockerfile"
	"github.com/0xa1bed0/appimg/internal/manifest"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func projectWith(t *testing.T, files map[string]string) buildplan.Inputs {
	t.Helper()
	dir := t.TempDir()
	writeTree(t, dir, files)

	return buildplan.Inputs{
		Base:            buildplan.BaseRuntime{Image: buildplan.DefaultBaseImage},
		RuntimeManifest: filepath.Join(dir, "requirements.txt"),
		DevManifest:     filepath.Join(dir, "requirements.dev.txt"),
		AppDir:          filepath.Join(dir, "app"),
		Dev:             buildplan.Skip{},
		Layout:          buildplan.DefaultLayout(),
	}
}

func project(t *testing.T) buildplan.Inputs {
	t.Helper()
	in := projectWith(t, map[string]string{
		"requirements.txt":                "Django>=3.2.4,<3.3\n",
		"requirements.dev.txt":            "flake8>=3.9.2,<3.10\n",
		"app/manage.py":                   "print('manage')\n",
		"app/core/models.py":              "class Recipe: pass\n",
		"app/core/__pycache__/models.pyc": "junk",
		"app/.dockerignore":               "# local\n*.sqlite3\n",
		"app/db.sqlite3":                  "data",
		"app/app/settings.py":             "DEBUG = False\n",
	})
	if err := os.Chmod(filepath.Join(in.AppDir, "manage.py"), 0o755); err != nil {
		t.Fatal(err)
	}
	return in
}

type tarEntry struct {
	name string
	mode int64
	body string
}

func readTar(t *testing.T, r io.Reader) []tarEntry {
	t.Helper()
	var out []tarEntry
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
		if h.ModTime.Unix() != 0 {
			t.Fatalf("mtime of %s = %v", h.Name, h.ModTime)
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, tarEntry{name: h.Name, mode: h.Mode, body: string(body)})
	}
}

func entryNames(entries []tarEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.name)
	}
	return names
}

func mustAssemble(t *testing.T, in buildplan.Inputs, opts Options) *Context {
	t.Helper()
	ctx, err := Assemble(testDockerfile, in, opts)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return ctx
}

var testDockerfile = dockerfile.Dockerfile{"FROM python:3.9-alpine3.13", "USER django-user"}

func TestAssembleLayout(t *testing.T) {
	t.Parallel()

	ctx := mustAssemble(t, project(t), Options{})

	entries := readTar(t, ctx.Reader())
	want := []string{
		"Dockerfile",
		"requirements.txt",
		"requirements.dev.txt",
		"app/",
		"app/app/",
		"app/app/settings.py",
		"app/core/",
		"app/core/models.py",
		"app/manage.py",
	}
	if got := entryNames(entries); !reflect.DeepEqual(got, want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}

	if entries[0].body != testDockerfile.String() {
		t.Fatalf("Dockerfile body = %q", entries[0].body)
	}
	if entries[1].body != "Django>=3.2.4,<3.3\n" {
		t.Fatalf("requirements.txt body = %q", entries[1].body)
	}
	if entries[8].mode != 0o755 || entries[7].mode != 0o644 {
		t.Fatalf("modes = %o, %o", entries[8].mode, entries[7].mode)
	}
	if ctx.Files != 6 {
		t.Fatalf("Files = %d", ctx.Files)
	}
}

func TestAssembleHonoursDockerignoreSyntax(t *testing.T) {
	t.Parallel()

	in := projectWith(t, map[string]string{
		"requirements.txt":     "Django\n",
		"requirements.dev.txt": "flake8\n",
		"app/manage.py":        "print('manage')\n",
		"app/debug.log":        "x",
		"app/core/debug.log":   "x",
		"app/core/deep/x.log":  "x",
		"app/core/models.py":   "class Recipe: pass\n",
		"app/media/avatar.png": "png",
		"app/media/keep.txt":   "keep",
		"app/.dockerignore":    "**/*.log\nmedia\n!media/keep.txt\n",
	})

	names := entryNames(readTar(t, mustAssemble(t, in, Options{}).Reader()))

	for _, gone := range []string{"app/debug.log", "app/core/debug.log", "app/core/deep/x.log", "app/media/avatar.png", "app/.dockerignore"} {
		if slices.Contains(names, gone) {
			t.Errorf("%s must be ignored, entries = %v", gone, names)
		}
	}
	for _, kept := range []string{"app/manage.py", "app/core/models.py", "app/media/keep.txt"} {
		if !slices.Contains(names, kept) {
			t.Errorf("%s must be kept, entries = %v", kept, names)
		}
	}
}

func TestAssembleIsDeterministic(t *testing.T) {
	t.Parallel()

	in := project(t)
	a := mustAssemble(t, in, Options{})
	b := mustAssemble(t, in, Options{})
	if a.Digest != b.Digest {
		t.Fatalf("digests differ: %s vs %s", a.Digest, b.Digest)
	}
	if err := a.Digest.Validate(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(in.AppDir, "core", "models.py"), []byte("class Tag: pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if c := mustAssemble(t, in, Options{}); c.Digest == a.Digest {
		t.Fatal("changing a file must change the digest")
	}
}

func TestAssembleExtraIgnore(t *testing.T) {
	t.Parallel()

	ctx := mustAssemble(t, project(t), Options{Ignore: []string{"app"}})
	for _, name := range entryNames(readTar(t, ctx.Reader())) {
		if filepath.Base(name) == "settings.py" {
			t.Fatalf("%s must be ignored", name)
		}
	}
}

func TestAssembleMissingAppDirComesFirst(t *testing.T) {
	t.Parallel()

	in := project(t)
	in.AppDir = filepath.Join(t.TempDir(), "nope")
	in.RuntimeManifest = filepath.Join(t.TempDir(), "nope.txt")

	if _, err := Assemble(testDockerfile, in, Options{}); !errors.Is(err, ErrAppDirMissing) {
		t.Fatalf("want ErrAppDirMissing, got %v", err)
	}
}

func TestAssembleMissingManifest(t *testing.T) {
	t.Parallel()

	in := project(t)
	if err := os.Remove(in.DevManifest); err != nil {
		t.Fatal(err)
	}

	if _, err := Assemble(testDockerfile, in, Options{}); !errors.Is(err, manifest.ErrManifestMissing) {
		t.Fatalf("want ErrManifestMissing, got %v", err)
	}
}
