package verify

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/0xa1bed0/appimg/internal/buildplan"
	"github.com/0xa1bed0/appimg/internal/logs"
	"github.com/0xa1bed0/appimg/internal/manifest"
	"github.com/0xa1bed0/appimg/internal/version"
	"github.com/0xa1bed0/appimg/internal/versions"
)

var ErrVerificationFailed = errors.New("image verification failed")

// Expect is what the image should look like.
type Expect struct {
	Layout  buildplan.Layout
	Runtime *manifest.Manifest
	Dev     *manifest.Manifest
	// DevIncluded nil means "read it from the image's appimg.dev label".
	DevIncluded *bool
}

type Finding struct {
	Check  string
	OK     bool
	Detail string
}

type Report struct {
	Image    string
	Findings []Finding
}

func (r *Report) OK() bool {
	for _, f := range r.Findings {
		if !f.OK {
			return false
		}
	}
	return true
}

func (r *Report) Failed() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if !f.OK {
			out = append(out, f)
		}
	}
	return out
}

// Err is nil when every check passed.
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	msgs := make([]string, len(failed))
	for i, f := range failed {
		msgs[i] = f.Check + ": " + f.Detail
	}
	return fmt.Errorf("%w: %s: %d of %d checks failed: %s",
		ErrVerificationFailed, r.Image, len(failed), len(r.Findings), strings.Join(msgs, "; "))
}

// Log prints one line per finding.
func (r *Report) Log() {
	logs.Banner("verify " + r.Image)
	for _, f := range r.Findings {
		if f.OK {
			logs.Successf("%-22s %s", f.Check, f.Detail)
		} else {
			logs.Errorf("%-22s %s", f.Check, f.Detail)
		}
	}
}

func (r *Report) add(check string, ok bool, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{Check: check, OK: ok, Detail: fmt.Sprintf(format, args...)})
}

// Check compares facts with expect.
func Check(facts *Facts, expect Expect) *Report {
	r := &Report{Image: facts.Image}
	l := expect.Layout

	checkRuntimePackages(r, facts, expect.Runtime)
	checkDevPackages(r, facts, expect)

	switch {
	case facts.UID < 0:
		r.add("runtime identity", false, "could not read the container uid")
	case facts.UID == 0:
		r.add("runtime identity", false, "container runs as root")
	case facts.User != l.User:
		r.add("runtime identity", false, "USER is %q, want %q", facts.User, l.User)
	default:
		r.add("runtime identity", true, "%s (uid %d)", facts.User, facts.UID)
	}

	wantPrefix := l.VenvBin() + ":" + l.ScriptsDir + ":"
	path := facts.Env["PATH"]
	if strings.HasPrefix(path, wantPrefix) {
		r.add("path precedence", true, "%s", path)
	} else {
		r.add("path precedence", false, "PATH=%q does not start with %q", path, wantPrefix)
	}
	wantPip := l.VenvBin() + "/pip"
	r.add("installer resolution", facts.PipPath == wantPip, "pip resolves to %q, want %q", facts.PipPath, wantPip)

	if len(facts.PresentPaths) == 0 {
		r.add("manifest cleanup", true, "no manifests left in the image")
	} else {
		r.add("manifest cleanup", false, "still present: %s", strings.Join(facts.PresentPaths, ", "))
	}

	r.add("unbuffered output", facts.Env["PYTHONUNBUFFERED"] == "1", "PYTHONUNBUFFERED=%q", facts.Env["PYTHONUNBUFFERED"])
	r.add("workdir", facts.WorkingDir == l.Workdir, "WORKDIR is %q, want %q", facts.WorkingDir, l.Workdir)

	port := strconv.Itoa(l.Port) + "/tcp"
	r.add("exposed port", slices.Contains(facts.ExposedPorts, port), "exposed %v, want %s", facts.ExposedPorts, port)

	if v, ok := facts.Labels[version.ImageSchemaVersionLabel]; ok {
		want := strconv.Itoa(version.ImageSchemaVersion)
		r.add("schema version", v == want, "label %s=%q, want %q", version.ImageSchemaVersionLabel, v, want)
	}

	return r
}

func checkRuntimePackages(r *Report, facts *Facts, runtime *manifest.Manifest) {
	if runtime == nil {
		return
	}
	var missing, mismatched []string
	for _, req := range runtime.Requirements {
		installed, ok := facts.Packages[req.Name]
		if !ok {
			missing = append(missing, req.Name)
			continue
		}
		if req.Specifier == "" || installed == "" {
			continue
		}
		sat, err := versions.Satisfies(req.Specifier, installed)
		if err != nil {
			continue // pip accepted it, semver can't judge it
		}
		if !sat {
			mismatched = append(mismatched, fmt.Sprintf("%s %s (want %s)", req.Name, installed, req.Specifier))
		}
	}
	slices.Sort(missing)
	missing = slices.Compact(missing)

	switch {
	case len(missing) > 0:
		r.add("runtime packages", false, "missing: %s", strings.Join(missing, ", "))
	case len(mismatched) > 0:
		r.add("runtime packages", false, "version mismatch: %s", strings.Join(mismatched, ", "))
	default:
		r.add("runtime packages", true, "%d installed", len(runtime.Names()))
	}
}

func checkDevPackages(r *Report, facts *Facts, expect Expect) {
	if expect.Dev == nil || expect.Runtime == nil {
		return
	}
	exclusive := manifest.Exclusive(expect.Dev, expect.Runtime)
	if len(exclusive) == 0 {
		return
	}

	var include bool
	switch {
	case expect.DevIncluded != nil:
		include = *expect.DevIncluded
	case facts.Labels["appimg.dev"] != "":
		include = facts.Labels["appimg.dev"] == buildplan.Include{}.String()
	default:
		r.add("dev packages", false, "image has no appimg.dev label and no expectation was given")
		return
	}

	var present, absent []string
	for _, name := range exclusive {
		if _, ok := facts.Packages[name]; ok {
			present = append(present, name)
		} else {
			absent = append(absent, name)
		}
	}

	if include {
		if len(absent) > 0 {
			r.add("dev packages", false, "DEV build is missing: %s", strings.Join(absent, ", "))
			return
		}
		r.add("dev packages", true, "%d dev-only packages installed", len(exclusive))
		return
	}
	if len(present) == 0 {
		r.add("dev packages", true, "no dev-only packages installed")
		return
	}
	if len(facts.Requires) == 0 {
		r.add("dev packages", false, "non-DEV build contains: %s (possibly transitive, the image has no dependency data)", strings.Join(present, ", "))
		return
	}

	pulled := dependencyClosure(expect.Runtime.Names(), facts.Requires)
	var direct, transitive []string
	for _, name := range present {
		if pulled[name] {
			transitive = append(transitive, name)
		} else {
			direct = append(direct, name)
		}
	}
	if len(direct) > 0 {
		r.add("dev packages", false, "non-DEV build contains: %s", strings.Join(direct, ", "))
		return
	}
	r.add("dev packages", true, "no dev-only packages installed; %s pulled in by runtime packages", strings.Join(transitive, ", "))
}

// dependencyClosure is every package reachable from roots through requires,
// roots excluded unless something else depends on them.
func dependencyClosure(roots []string, requires map[string][]string) map[string]bool {
	seen := map[string]bool{}
	queue := slices.Clone(roots)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, dep := range requires[name] {
			if !seen[dep] {
				seen[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return seen
}
