// Package verify checks a built image against the guarantees of the build
// procedure: installed packages, runtime identity, PATH and leftovers.
package verify

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/0xa1bed0/appimg/internal/buildplan"
	"github.com/0xa1bed0/appimg/internal/dockerclient"
	"github.com/0xa1bed0/appimg/internal/logs"
	"github.com/0xa1bed0/appimg/internal/manifest"
)

// Facts is what an image looks like from the inside and from its config.
type Facts struct {
	Image        string
	User         string // config USER
	UID          int    // id -u inside the container
	Env          map[string]string
	PipPath      string              // pip as resolved through PATH
	Packages     map[string]string   // normalised name -> installed version
	Requires     map[string][]string // normalised name -> what it depends on
	PresentPaths []string            // manifest tmp paths that still exist
	Labels       map[string]string
	ExposedPorts []string
	WorkingDir   string
}

const sectionMarker = "@@appimg:"

// probeScript prints one marked section per fact so a single container run
// collects everything.
func probeScript(l buildplan.Layout) string {
	paths := shellquote.Join(l.RuntimeManifestTmp, l.DevManifestTmp)
	return strings.Join([]string{
		"echo " + sectionMarker + "uid",
		"id -u",
		"echo " + sectionMarker + "pip",
		"command -v pip || true",
		"echo " + sectionMarker + "freeze",
		"pip freeze --all 2>/dev/null || true",
		"echo " + sectionMarker + "requires",
		"python - <<'PY' 2>/dev/null || true\n" + requiresScript + "PY",
		"echo " + sectionMarker + "present",
		"for p in " + paths + `; do if [ -e "$p" ]; then echo "$p"; fi; done`,
	}, "\n")
}

// requiresScript prints "name dep dep ..." per installed distribution,
// leaving out extras.
const requiresScript = `import importlib.metadata as md, re
for d in md.distributions():
    deps = [re.split(r"[^A-Za-z0-9._-]", r.strip(), maxsplit=1)[0] for r in (d.requires or []) if "extra ==" not in r]
    print(d.metadata["Name"], *deps)
`

// Collect inspects ref and runs one probe container in it.
func Collect(ctx context.Context, prober dockerclient.DockerImageProber, ref string, l buildplan.Layout) (*Facts, error) {
	cfg, err := prober.InspectImage(ctx, ref)
	if err != nil {
		return nil, err
	}

	facts := &Facts{
		Image:        ref,
		User:         cfg.User,
		UID:          -1,
		Env:          parseEnv(cfg.Env),
		Packages:     map[string]string{},
		Requires:     map[string][]string{},
		Labels:       cfg.Labels,
		ExposedPorts: cfg.ExposedPorts,
		WorkingDir:   cfg.WorkingDir,
	}

	res, err := prober.Probe(ctx, ref, probeScript(l))
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", ref, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("probe %s exited with %d: %s", ref, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	if res.Stderr != "" {
		logs.Debugf("probe stderr: %s", strings.TrimSpace(res.Stderr))
	}

	sections := splitSections(res.Stdout)
	if uid := strings.TrimSpace(firstLine(sections["uid"])); uid != "" {
		n, err := strconv.Atoi(uid)
		if err != nil {
			return nil, fmt.Errorf("probe %s: unexpected uid %q", ref, uid)
		}
		facts.UID = n
	}
	facts.PipPath = strings.TrimSpace(firstLine(sections["pip"]))
	for _, line := range sections["freeze"] {
		if name, ver, ok := parseFreezeLine(line); ok {
			facts.Packages[name] = ver
		}
	}
	for _, line := range sections["requires"] {
		if fields := strings.Fields(line); len(fields) > 0 {
			deps := make([]string, 0, len(fields)-1)
			for _, dep := range fields[1:] {
				deps = append(deps, manifest.NormalizeName(dep))
			}
			facts.Requires[manifest.NormalizeName(fields[0])] = deps
		}
	}
	for _, line := range sections["present"] {
		if line = strings.TrimSpace(line); line != "" {
			facts.PresentPaths = append(facts.PresentPaths, line)
		}
	}

	logs.Debugf("collected facts for %s: uid=%d pip=%s packages=%d", ref, facts.UID, facts.PipPath, len(facts.Packages))
	return facts, nil
}

func parseEnv(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		out[k] = v
	}
	return out
}

func splitSections(out string) map[string][]string {
	sections := map[string][]string{}
	current := ""
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if name, ok := strings.CutPrefix(line, sectionMarker); ok {
			current = strings.TrimSpace(name)
			sections[current] = nil
			continue
		}
		if current != "" {
			sections[current] = append(sections[current], line)
		}
	}
	return sections
}

func firstLine(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return lines[0]
}

// parseFreezeLine understands "name==1.2.3" and "name @ url".
func parseFreezeLine(line string) (name, ver string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-e ") {
		return "", "", false
	}
	if n, v, found := strings.Cut(line, "=="); found {
		return manifest.NormalizeName(strings.TrimSpace(n)), strings.TrimSpace(v), true
	}
	if n, _, found := strings.Cut(line, " @ "); found {
		return manifest.NormalizeName(strings.TrimSpace(n)), "", true
	}
	return "", "", false
}
