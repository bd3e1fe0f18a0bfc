package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/0xa1bed0/appimg/internal/buildplan"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolvePreferencesChainRootToLeaf(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	leaf := filepath.Join(root, "work", "recipe-app")
	writeFile(t, filepath.Join(root, ProjectConfigFileName), `{"port": 9000}`)
	writeFile(t, filepath.Join(leaf, ProjectConfigFileName), `{"tag": "recipe:dev"}`)
	if err := os.MkdirAll(filepath.Join(root, "work", ProjectConfigFileName), 0o755); err != nil {
		t.Fatal(err)
	}

	chain, err := resolvePreferencesChain(leaf)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(root, ProjectConfigFileName),
		filepath.Join(leaf, ProjectConfigFileName),
	}
	if len(chain) != len(want) {
		t.Fatalf("chain = %v, want %v", chain, want)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Fatalf("chain[%d] = %s, want %s", i, chain[i], want[i])
		}
	}
}

func TestLoadPreferencesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, ProjectConfigFileName)
	writeFile(t, file, `{"runtime_manifest": "deps/requirements.txt", "app_dir": "/srv/app", "dev": "true"}`)

	cfg, err := loadPreferencesFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RuntimeManifest != filepath.Join(dir, "deps", "requirements.txt") {
		t.Fatalf("relative path not anchored: %s", cfg.RuntimeManifest)
	}
	if cfg.AppDir != "/srv/app" || cfg.Dev != "true" || cfg.Source() != file {
		t.Fatalf("unexpected config %+v", cfg)
	}

	writeFile(t, file, `{"prot": 8000}`)
	if _, err := loadPreferencesFile(file); err == nil {
		t.Fatal("unknown keys must be rejected")
	}
}

func TestBuildConfigMergeLeafWins(t *testing.T) {
	t.Parallel()

	cfg := NewBuildConfig("merged")
	cfg.Merge(&BuildConfig{name: "a", BaseImage: "python:3.9-alpine3.13", Port: 9000, Ignore: []string{"*.log"}})
	cfg.Merge(&BuildConfig{name: "b", BaseImage: "python:3.10-alpine3.16", Ignore: []string{"*.log", "media"}})
	cfg.Merge(nil)

	if cfg.BaseImage != "python:3.10-alpine3.16" {
		t.Fatalf("base = %s", cfg.BaseImage)
	}
	if cfg.Port != 9000 {
		t.Fatalf("empty field must not override, port = %d", cfg.Port)
	}
	if len(cfg.Ignore) != 2 {
		t.Fatalf("ignore = %v", cfg.Ignore)
	}
}

func TestProjectInputs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := &Project{name: "p", path: dir}
	in, err := p.Inputs()
	if err != nil {
		t.Fatal(err)
	}
	if in.RuntimeManifest != filepath.Join(dir, "requirements.txt") ||
		in.DevManifest != filepath.Join(dir, "requirements.dev.txt") ||
		in.AppDir != filepath.Join(dir, "app") {
		t.Fatalf("unexpected default paths %+v", in)
	}
	if _, ok := in.Dev.(buildplan.Skip); !ok {
		t.Fatalf("dev defaults to skip, got %v", in.Dev)
	}
	if in.Base.Image != buildplan.DefaultBaseImage || in.Layout != buildplan.DefaultLayout() {
		t.Fatalf("unexpected defaults %+v", in)
	}

	writeFile(t, filepath.Join(dir, ProjectConfigFileName), `{"user": "web", "port": 8080}`)
	p = &Project{name: "p", path: dir}
	override := NewBuildConfig("command line")
	override.Dev = "yes"
	p.SetBuildConfigOverride(override)
	in, err = p.Inputs()
	if err != nil {
		t.Fatal(err)
	}
	if in.Layout.User != "web" || in.Layout.Port != 8080 {
		t.Fatalf("config not applied: %+v", in.Layout)
	}
	if _, ok := in.Dev.(buildplan.Include); !ok {
		t.Fatalf("override dev = %v", in.Dev)
	}

	p = &Project{name: "p", path: dir}
	bad := NewBuildConfig("command line")
	bad.Dev = "sometimes"
	p.SetBuildConfigOverride(bad)
	if _, err := p.Inputs(); !errors.Is(err, buildplan.ErrInvalidDevFlag) {
		t.Fatalf("want ErrInvalidDevFlag, got %v", err)
	}
}

func TestImageTag(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "Recipe App_API")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	p := &Project{name: "p", path: dir}
	if got := p.ImageTag(); got != "recipe-app-api:latest" {
		t.Fatalf("ImageTag = %s", got)
	}

	for in, want := range map[string]string{
		"---":     "app",
		"My.App":  "my-app",
		"api_v2":  "api-v2",
		"recipes": "recipes",
	} {
		if got := imageRepoName(in); got != want {
			t.Errorf("imageRepoName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveProjectName(t *testing.T) {
	t.Parallel()

	if got := resolveProjectName("/srv/Recipe App"); got != "srv-recipe_app" {
		t.Fatalf("resolveProjectName = %s", got)
	}
	if got := resolveProjectName("/"); got != "anonymous-project" {
		t.Fatalf("resolveProjectName(/) = %s", got)
	}
}

func TestFinalizeExitsNonZeroOnError(t *testing.T) {
	t.Parallel()

	rt := NewRuntime()
	code := -1
	rt.exit = func(c int) { code = c }

	execErr := errors.New("boom")
	rt.Finalize("appimg", "", &execErr)
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}

	rt = NewRuntime()
	code = -1
	rt.exit = func(c int) { code = c }
	var ok error
	rt.Finalize("appimg", "", &ok)
	if code != -1 {
		t.Fatalf("successful run must not exit, got %d", code)
	}
}

func TestGoNamedRecordsPanic(t *testing.T) {
	t.Parallel()

	rt := NewRuntime()
	if FromContext(rt.Ctx()) != rt {
		t.Fatal("runtime must be reachable from its context")
	}

	shutdown := make(chan struct{})
	rt.OnShutdown(func(context.Context) { close(shutdown) })
	rt.GoNamed("boom", func() { panic("bad") })

	err := rt.Wait()
	if err == nil {
		t.Fatal("panic must surface from Wait")
	}
	<-shutdown
}
