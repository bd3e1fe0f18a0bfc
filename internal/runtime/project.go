package runtime

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/0xa1bed0/appimg/internal/buildplan"
	"github.com/0xa1bed0/appimg/internal/logs"
	"github.com/0xa1bed0/appimg/internal/state"
	"github.com/0xa1bed0/appimg/internal/utils"
)

type projectStateDB struct {
	kvStore *state.KVStore
}

func newProjectStateDB(db *state.KVStore) *projectStateDB {
	return &projectStateDB{kvStore: db}
}

const projectKeyPrefix = "project:"

func (st *projectStateDB) deriveKey(path string) state.KVStoreKey {
	return state.KVStoreKey(projectKeyPrefix + path)
}

// ForgetProjectsUnusedSince drops the "built before" marks of projects not
// touched since cutoff. Their next build is treated as a first build.
func ForgetProjectsUnusedSince(ctx context.Context, kvStore *state.KVStore, cutoff time.Time) (int64, error) {
	if kvStore == nil {
		return 0, nil
	}
	return kvStore.DeleteUnusedBefore(ctx, projectKeyPrefix, cutoff)
}

func (st *projectStateDB) isKnownPath(ctx context.Context, path string) bool {
	if st.kvStore == nil {
		return false
	}

	_, found, err := st.kvStore.Get(ctx, st.deriveKey(path))
	if err != nil {
		logs.Debugf("[projectState:isKnownPath] assuming %s is new: %v", path, err)
		return false
	}

	return found
}

func (st *projectStateDB) setKnown(ctx context.Context, path string) {
	if st.kvStore == nil {
		return
	}

	if err := st.kvStore.Upsert(ctx, st.deriveKey(path), "known"); err != nil {
		logs.Warnf("[projectState:setKnown] can't remember project %s: %v", path, err)
	}
}

type Project struct {
	name  string
	path  string
	known bool

	buildConfig         *BuildConfig
	buildConfigOverride *BuildConfig

	stateDB *projectStateDB
}

func resolveProject(ctx context.Context, p string, stateDB *projectStateDB) (*Project, error) {
	path, err := utils.ResolveFolderStrict(p)
	if err != nil {
		return nil, err
	}

	known := false
	if stateDB != nil {
		known = stateDB.isKnownPath(ctx, path)
	}

	return &Project{
		name:    resolveProjectName(path),
		path:    path,
		known:   known,
		stateDB: stateDB,
	}, nil
}

func (p *Project) Path() string {
	return p.path
}

// Name identifies the project on this host. It encodes the whole path, so
// two checkouts named "app" don't collide.
func (p *Project) Name() string {
	return p.name
}

// Known reports whether appimg built this project before.
func (p *Project) Known() bool {
	return p.known
}

func (p *Project) SetKnown(ctx context.Context) {
	if p.stateDB == nil {
		return
	}

	p.stateDB.setKnown(ctx, p.path)
	p.known = true
}

// SetBuildConfigOverride layers cfg (usually command line flags) on top of
// the .appimg chain. It has no effect once the config is resolved.
func (p *Project) SetBuildConfigOverride(cfg *BuildConfig) {
	p.buildConfigOverride = cfg
}

// BuildConfig resolves and caches the merged configuration.
func (p *Project) BuildConfig() (*BuildConfig, error) {
	if p.buildConfig == nil {
		cfg, err := resolveBuildConfig(p.path, p.buildConfigOverride)
		if err != nil {
			return nil, err
		}
		p.buildConfig = cfg
	}
	return p.buildConfig, nil
}

// Inputs turns the resolved config into build inputs. Paths default to the
// conventional layout next to the project root.
func (p *Project) Inputs() (buildplan.Inputs, error) {
	cfg, err := p.BuildConfig()
	if err != nil {
		return buildplan.Inputs{}, err
	}

	dev, err := buildplan.ParseDevFlag(cfg.Dev)
	if err != nil {
		return buildplan.Inputs{}, err
	}

	layout := buildplan.DefaultLayout()
	if cfg.User != "" {
		layout.User = cfg.User
	}
	if cfg.Port != 0 {
		layout.Port = cfg.Port
	}

	base := cfg.BaseImage
	if base == "" {
		base = buildplan.DefaultBaseImage
	}

	return buildplan.Inputs{
		Base:            buildplan.BaseRuntime{Image: base},
		RuntimeManifest: p.resolvePath(cfg.RuntimeManifest, buildplan.ContextRuntimeManifest),
		DevManifest:     p.resolvePath(cfg.DevManifest, buildplan.ContextDevManifest),
		AppDir:          p.resolvePath(cfg.AppDir, buildplan.ContextAppDir),
		Dev:             dev,
		Layout:          layout,
	}, nil
}

func (p *Project) resolvePath(configured, fallback string) string {
	if configured == "" {
		configured = fallback
	}
	if filepath.IsAbs(configured) {
		return filepath.Clean(configured)
	}
	return filepath.Join(p.path, configured)
}

// ImageTag is the configured tag or "<dir name>:latest".
func (p *Project) ImageTag() string {
	if cfg, err := p.BuildConfig(); err == nil && cfg.Tag != "" {
		return cfg.Tag
	}
	return imageRepoName(filepath.Base(p.path)) + ":latest"
}

// ------------- utils -------------

var invalidNameChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// resolveProjectName encodes (almost) the full path into a file and label
// safe name.
func resolveProjectName(abs string) string {
	home, _ := os.UserHomeDir()
	asSlash := filepath.ToSlash(abs)
	homeSlash := filepath.ToSlash(home)

	if homeSlash != "" && strings.HasPrefix(asSlash, homeSlash) {
		asSlash = strings.Replace(asSlash, homeSlash, "home", 1)
	}
	asSlash = strings.TrimPrefix(asSlash, "/")

	if runtime.GOOS == "windows" {
		if len(asSlash) >= 2 && asSlash[1] == ':' {
			asSlash = asSlash[2:]
			asSlash = strings.TrimPrefix(asSlash, "/")
		}
	}

	name := strings.ToLower(strings.ReplaceAll(asSlash, "/", "-"))
	name = invalidNameChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".-")
	if name == "" {
		name = "anonymous-project"
	}

	return name
}

const maxRepoNameLen = 128

var invalidRepoChars = regexp.MustCompile(`[^a-z0-9]+`)

// imageRepoName maps a directory name onto a valid image repository name.
func imageRepoName(dir string) string {
	name := invalidRepoChars.ReplaceAllString(strings.ToLower(dir), "-")
	name = strings.Trim(name, "-")
	if len(name) > maxRepoNameLen {
		name = strings.Trim(name[:maxRepoNameLen], "-")
	}
	if name == "" {
		name = "app"
	}
	return name
}
