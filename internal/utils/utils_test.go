package utils

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestUniqueTrimmedStrings(t *testing.T) {
	t.Parallel()

	got := UniqueTrimmedStrings([]string{" media ", "", "*.log", "media", "  "})
	if !reflect.DeepEqual(got, []string{"media", "*.log"}) {
		t.Fatalf("UniqueTrimmedStrings = %v", got)
	}
	if got := UniqueTrimmedStrings(nil); got != nil {
		t.Fatalf("UniqueTrimmedStrings(nil) = %v", got)
	}
}

func TestResolveFolderStrict(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "requirements.txt")
	if err := os.WriteFile(file, []byte("flask\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{file, dir} {
		got, err := ResolveFolderStrict(p)
		if err != nil {
			t.Fatalf("ResolveFolderStrict(%q): %v", p, err)
		}
		if got != want {
			t.Fatalf("ResolveFolderStrict(%q) = %q, want %q", p, got, want)
		}
	}

	if _, err := ResolveFolderStrict(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for a missing path")
	}
}

func TestRandomHex(t *testing.T) {
	t.Parallel()

	s, err := RandomHex(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 4 {
		t.Fatalf("RandomHex(2) = %q", s)
	}
}
