// Package dockerfile renders a build plan into Dockerfile instructions.
package dockerfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/0xa1bed0/appimg/internal/buildplan"
	"github.com/0xa1bed0/appimg/internal/version"
)

// Dockerfile is kept as lines so the cache key can hash them one by one.
type Dockerfile []string

func (df Dockerfile) String() string {
	var b strings.Builder
	for _, line := range df {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Lines returns the instruction lines, skipping comments and blanks.
func (df Dockerfile) Lines() []string {
	out := []string{}
	for _, line := range df {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

const banner = "# ───────────────────────────────────────────"

func section(title string) []string {
	return []string{"", banner, "# " + title}
}

// Generate renders plan. All install steps share one RUN so a failed
// install aborts the build and the manifest cleanup shrinks that same layer.
func Generate(plan *buildplan.Plan) Dockerfile {
	lines := Dockerfile{
		banner,
		"# BASE RUNTIME",
		"FROM " + plan.Base.Image,
	}

	lines = append(lines, section("ENVIRONMENT")...)
	for _, env := range plan.Envs {
		lines = append(lines, fmt.Sprintf("ENV %s=%s", env.Key, quoteValue(env.Value)))
	}

	lines = append(lines, section("BUILD INPUTS")...)
	for _, cp := range plan.Copies {
		lines = append(lines, "COPY "+jsonExec([]string{cp.Src, cp.Dst}))
	}
	lines = append(lines,
		"WORKDIR "+plan.Workdir,
		"EXPOSE "+strconv.Itoa(plan.Expose),
	)

	lines = append(lines, section("ISOLATED ENVIRONMENT, DEPENDENCIES AND RUNTIME USER (single layer)")...)
	lines = append(lines, "RUN "+jsonExec([]string{"/bin/sh", "-c", InstallScript(plan.Steps)}))

	lines = append(lines, section("RUNTIME PATH")...)
	lines = append(lines, "ENV PATH="+plan.Path)

	lines = append(lines, section("AUDIT LABELS")...)
	labels := make(map[string]string, len(plan.Labels)+1)
	for k, v := range plan.Labels {
		labels[k] = v
	}
	labels[version.ImageSchemaVersionLabel] = strconv.Itoa(version.ImageSchemaVersion)
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("LABEL %s=%s", k, quoteValue(labels[k])))
	}

	lines = append(lines, section("DEFAULT USER (NON-ROOT)")...)
	lines = append(lines, "USER "+plan.User)

	return lines
}

// InstallScript joins the steps into one sh -c script. Fatal steps are
// chained with &&; a best effort step cannot break the chain.
func InstallScript(steps []buildplan.Step) string {
	parts := make([]string, 0, len(steps))
	for _, s := range steps {
		cmd := shellquote.Join(s.Argv...)
		if !s.Fatal {
			cmd = "{ " + cmd + " || true; }"
		}
		parts = append(parts, cmd)
	}
	return strings.Join(parts, " && ")
}

// jsonExec renders exec form. HTML escaping stays off so && reads as is.
func jsonExec(argv []string) string {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(argv)
	return strings.TrimSuffix(b.String(), "\n")
}

// quoteValue double quotes values that the Dockerfile parser would split.
func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t\"'\\") {
		return v
	}
	return strconv.Quote(v)
}
