// Package buildplan turns build inputs into the ordered, linear list of
// instructions that produce the application image. It performs no I/O: the
// plan is a pure function of its Inputs.
package buildplan

import (
	"errors"
	"fmt"
	"strings"
)

type StepKind string

const (
	StepCreateVenv       StepKind = "create-venv"
	StepUpgradeInstaller StepKind = "upgrade-installer"
	StepInstallRuntime   StepKind = "install-runtime"
	StepInstallDev       StepKind = "install-dev"
	StepCleanup          StepKind = "cleanup"
	StepCreateUser       StepKind = "create-user"
)

// Step is one shell command of the install layer.
// Fatal steps abort the build on failure; the others are best effort.
type Step struct {
	Kind  StepKind
	Argv  []string
	Fatal bool
}

func (s Step) String() string {
	return fmt.Sprintf("[%s] %s", s.Kind, strings.Join(s.Argv, " "))
}

// Copy places a build-context path at an image path.
type Copy struct {
	Src string
	Dst string
}

type Env struct {
	Key   string
	Value string
}

// Inputs are the host side parameters of a build.
type Inputs struct {
	Base            BaseRuntime
	RuntimeManifest string
	DevManifest     string
	AppDir          string
	Dev             DevDependencies
	Layout          Layout
}

// Build context names the manifests and the app tree are stored under.
const (
	ContextRuntimeManifest = "requirements.txt"
	ContextDevManifest     = "requirements.dev.txt"
	ContextAppDir          = "app"
)

type Plan struct {
	Base    BaseRuntime
	Layout  Layout
	Dev     DevDependencies
	Envs    []Env
	Copies  []Copy
	Steps   []Step
	Path    string
	User    string
	Labels  map[string]string
	Workdir string
	Expose  int
}

func (p *Plan) DevIncluded() bool {
	return isInclude(p.Dev)
}

// StepKinds lists the step kinds in execution order.
func (p *Plan) StepKinds() []StepKind {
	out := make([]StepKind, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Kind
	}
	return out
}

// New validates in and lays out the build as a strictly linear sequence
// with a single branch point (the development manifest).
func New(in Inputs) (*Plan, error) {
	var errs []error
	if strings.TrimSpace(in.Base.Image) == "" {
		errs = append(errs, errors.New("base image is required"))
	} else if _, err := in.Base.Version(); err != nil {
		errs = append(errs, err)
	}
	if in.RuntimeManifest == "" {
		errs = append(errs, errors.New("runtime manifest is required"))
	}
	if in.DevManifest == "" {
		errs = append(errs, errors.New("dev manifest is required"))
	}
	if in.AppDir == "" {
		errs = append(errs, errors.New("application directory is required"))
	}
	if in.Dev == nil {
		errs = append(errs, errors.New("dev dependencies decision is required"))
	}
	if err := in.Layout.validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid build inputs: %w", err)
	}

	l := in.Layout
	pip := l.VenvBin() + "/pip"

	steps := []Step{
		{Kind: StepCreateVenv, Argv: []string{"python", "-m", "venv", l.VenvDir}, Fatal: true},
		{Kind: StepUpgradeInstaller, Argv: []string{pip, "install", "--upgrade", "pip"}, Fatal: true},
		{Kind: StepInstallRuntime, Argv: []string{pip, "install", "-r", l.RuntimeManifestTmp}, Fatal: true},
	}
	if isInclude(in.Dev) {
		steps = append(steps, Step{Kind: StepInstallDev, Argv: []string{pip, "install", "-r", l.DevManifestTmp}, Fatal: true})
	}
	steps = append(steps,
		Step{Kind: StepCleanup, Argv: []string{"rm", "-rf", l.RuntimeManifestTmp, l.DevManifestTmp}},
		Step{Kind: StepCreateUser, Argv: []string{"adduser", "--disabled-password", "--no-create-home", l.User}, Fatal: true},
	)

	return &Plan{
		Base:   in.Base,
		Layout: l,
		Dev:    in.Dev,
		Envs: []Env{
			{Key: "PYTHONUNBUFFERED", Value: "1"},
		},
		Copies: []Copy{
			{Src: ContextRuntimeManifest, Dst: l.RuntimeManifestTmp},
			{Src: ContextDevManifest, Dst: l.DevManifestTmp},
			{Src: ContextAppDir, Dst: l.AppDir},
		},
		Steps: steps,
		Path:  l.VenvBin() + ":" + l.ScriptsDir + ":$PATH",
		User:  l.User,
		Labels: map[string]string{
			"appimg.base": in.Base.Image,
			"appimg.dev":  in.Dev.String(),
			"appimg.user": l.User,
		},
		Workdir: l.Workdir,
		Expose:  l.Port,
	}, nil
}
