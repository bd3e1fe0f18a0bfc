package runtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	hostappconfig "github.com/0xa1bed0/appimg/internal/apps/appimg/config"
	"github.com/0xa1bed0/appimg/internal/logs"
	"github.com/0xa1bed0/appimg/internal/utils"
)

const ProjectConfigFileName = ".appimg"

// BuildConfig is one layer of build settings: the user config file, a
// .appimg file, or command line flags. Empty fields don't override.
type BuildConfig struct {
	name string

	BaseImage       string   `json:"base_image,omitempty"`
	RuntimeManifest string   `json:"runtime_manifest,omitempty"`
	DevManifest     string   `json:"dev_manifest,omitempty"`
	AppDir          string   `json:"app_dir,omitempty"`
	Tag             string   `json:"tag,omitempty"`
	User            string   `json:"user,omitempty"`
	Port            int      `json:"port,omitempty"`
	Dev             string   `json:"dev,omitempty"`
	Ignore          []string `json:"ignore,omitempty"`
}

// NewBuildConfig returns an empty layer named for log attribution.
func NewBuildConfig(name string) *BuildConfig {
	return &BuildConfig{name: name}
}

// Source names where the layer came from.
func (c *BuildConfig) Source() string {
	return c.name
}

// Merge copies every field src sets onto c.
func (c *BuildConfig) Merge(src *BuildConfig) {
	if src == nil {
		return
	}

	set := func(field string, dst *string, v string) {
		if v == "" {
			return
		}
		*dst = v
		logs.Debugf("%s is set to %q by %s", field, v, src.Source())
	}
	set("base_image", &c.BaseImage, src.BaseImage)
	set("runtime_manifest", &c.RuntimeManifest, src.RuntimeManifest)
	set("dev_manifest", &c.DevManifest, src.DevManifest)
	set("app_dir", &c.AppDir, src.AppDir)
	set("tag", &c.Tag, src.Tag)
	set("user", &c.User, src.User)
	set("dev", &c.Dev, src.Dev)

	if src.Port != 0 {
		c.Port = src.Port
		logs.Debugf("port is set to %d by %s", src.Port, src.Source())
	}
	for _, pattern := range utils.UniqueTrimmedStrings(src.Ignore) {
		if !slices.Contains(c.Ignore, pattern) {
			c.Ignore = append(c.Ignore, pattern)
			logs.Debugf("ignore pattern %q added by %s", pattern, src.Source())
		}
	}
}

// resolvePreferencesChain lists the .appimg files from the filesystem root
// down to projectPath, so the closest file wins.
func resolvePreferencesChain(projectPath string) ([]string, error) {
	dir := projectPath
	info, err := os.Stat(projectPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		dir = filepath.Dir(projectPath)
	}

	var dirs []string
	for {
		dirs = append(dirs, dir)
		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached root
		}
		dir = parent
	}

	// Walked from leaf to root. Reverse to root to leaf.
	slices.Reverse(dirs)

	var files []string
	for _, d := range dirs {
		f := filepath.Join(d, ProjectConfigFileName)
		if fi, err := os.Stat(f); err == nil && !fi.IsDir() {
			logs.Infof("loading %s", f)
			files = append(files, f)
		}
	}
	return files, nil
}

// loadPreferencesFile reads a JSON config layer. Relative paths in it are
// relative to the file's directory.
func loadPreferencesFile(path string) (*BuildConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	cfg := NewBuildConfig(path)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for _, p := range []*string{&cfg.RuntimeManifest, &cfg.DevManifest, &cfg.AppDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	return cfg, nil
}

// resolveBuildConfig merges, in order: the user config file, every .appimg
// from root to project, then override.
func resolveBuildConfig(projectPath string, override *BuildConfig) (*BuildConfig, error) {
	cfg := NewBuildConfig("merged")

	userFile := hostappconfig.UserConfigFile()
	userCfg, err := loadPreferencesFile(userFile)
	switch {
	case err == nil:
		// Paths in the user file would point somewhere arbitrary.
		userCfg.RuntimeManifest, userCfg.DevManifest, userCfg.AppDir = "", "", ""
		cfg.Merge(userCfg)
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	chain, err := resolvePreferencesChain(projectPath)
	if err != nil {
		return nil, err
	}
	for _, file := range chain {
		layer, err := loadPreferencesFile(file)
		if err != nil {
			return nil, err
		}
		cfg.Merge(layer)
	}

	cfg.Merge(override)
	return cfg, nil
}
