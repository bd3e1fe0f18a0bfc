package buildplan

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const DefaultBaseImage = "python:3.9-alpine3.13"

// BaseRuntime is the pinned interpreter image the build starts from.
type BaseRuntime struct {
	Image string
}

var tagVersionRe = regexp.MustCompile(`^v?(\d+(?:\.\d+){0,2})`)

// Version extracts the interpreter version from the image tag,
// e.g. python:3.9-alpine3.13 -> 3.9.0.
func (b BaseRuntime) Version() (*semver.Version, error) {
	ref := b.Image
	if i := strings.LastIndex(ref, "@"); i >= 0 {
		ref = ref[:i]
	}
	i := strings.LastIndex(ref, ":")
	if i < 0 || strings.Contains(ref[i:], "/") {
		return nil, fmt.Errorf("base image %q has no version tag", b.Image)
	}
	tag := ref[i+1:]
	m := tagVersionRe.FindStringSubmatch(tag)
	if m == nil {
		return nil, fmt.Errorf("base image tag %q does not start with a version", tag)
	}
	return semver.NewVersion(m[1])
}

// Layout holds the in-image path and identity conventions.
type Layout struct {
	VenvDir            string
	ScriptsDir         string
	AppDir             string
	Workdir            string
	RuntimeManifestTmp string
	DevManifestTmp     string
	User               string
	Port               int
}

func DefaultLayout() Layout {
	return Layout{
		VenvDir:            "/py",
		ScriptsDir:         "/scripts",
		AppDir:             "/app",
		Workdir:            "/app",
		RuntimeManifestTmp: "/tmp/requirements.txt",
		DevManifestTmp:     "/tmp/requirements.dev.txt",
		User:               "django-user",
		Port:               8000,
	}
}

// VenvBin is the directory holding the isolated environment's executables.
func (l Layout) VenvBin() string {
	return path.Join(l.VenvDir, "bin")
}

var userNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

func (l Layout) validate() error {
	var errs []error
	for name, p := range map[string]string{
		"venv dir":              l.VenvDir,
		"scripts dir":           l.ScriptsDir,
		"app dir":               l.AppDir,
		"workdir":               l.Workdir,
		"runtime manifest path": l.RuntimeManifestTmp,
		"dev manifest path":     l.DevManifestTmp,
	} {
		if !path.IsAbs(p) {
			errs = append(errs, fmt.Errorf("%s %q must be an absolute image path", name, p))
		}
	}
	if l.RuntimeManifestTmp == l.DevManifestTmp {
		errs = append(errs, errors.New("runtime and dev manifests must land on different image paths"))
	}
	if !userNameRe.MatchString(l.User) {
		errs = append(errs, fmt.Errorf("runtime user %q is not a valid account name", l.User))
	} else if l.User == "root" {
		errs = append(errs, errors.New("runtime user must not be root"))
	}
	if l.Port <= 0 || l.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", l.Port))
	}
	return errors.Join(errs...)
}
