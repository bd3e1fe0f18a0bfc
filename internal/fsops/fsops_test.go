package fsops

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestDefaultOpsPathMethods(t *testing.T) {
	t.Parallel()

	ops := DefaultOps()
	if !ops.Validate() {
		t.Fatal("default ops should be complete")
	}

	abs, err := ops.Path.Abs(".")
	if err != nil {
		t.Fatalf("Abs failed: %v", err)
	}
	if !ops.Path.IsAbs(abs) {
		t.Fatalf("Abs returned non-absolute path: %q", abs)
	}

	rel, err := ops.Path.Rel(abs, filepath.Join(abs, "app", "manage.py"))
	if err != nil {
		t.Fatalf("Rel failed: %v", err)
	}
	if rel != filepath.Join("app", "manage.py") {
		t.Fatalf("Rel returned %q", rel)
	}

	if got := ops.Path.Clean(filepath.Join("app", "..", "requirements.txt")); got != "requirements.txt" {
		t.Fatalf("Clean returned %q", got)
	}
	if got := ops.Path.Ext("core/models.py"); got != ".py" {
		t.Fatalf("Ext returned %q", got)
	}
}

func TestOpsValidate(t *testing.T) {
	t.Parallel()

	if (Ops{Path: stdPathOps{}, OS: stdOSOps{}}).Validate() {
		t.Fatal("ops without a walker must not validate")
	}
}

func TestStdOSOpsStatAndOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "requirements.txt")
	if err := os.WriteFile(p, []byte("Django\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fi, err := stdOSOps{}.Stat(p)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if fi.Name() != "requirements.txt" || fi.Size() != 7 {
		t.Fatalf("Stat returned %q size %d", fi.Name(), fi.Size())
	}

	rc, err := stdOSOps{}.Open(p)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil || string(b) != "Django\n" {
		t.Fatalf("read %q, %v", b, err)
	}
}

func TestStdDirWalkerVisitsEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "core"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"manage.py", "core/models.py"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	var visited []string
	err := stdDirWalker{}.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		visited = append(visited, d.Name())
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDir failed: %v", err)
	}

	sort.Strings(visited)
	want := []string{filepath.Base(dir), "core", "manage.py", "models.py"}
	sort.Strings(want)
	if len(visited) != len(want) {
		t.Fatalf("visited %v, want %v", visited, want)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("visited %v, want %v", visited, want)
		}
	}
}
