package verify

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/0xa1bed0/appimg/internal/buildplan"
	"github.com/0xa1bed0/appimg/internal/dockerclient"
	"github.com/0xa1bed0/appimg/internal/dockerclient/mocks"
	"github.com/0xa1bed0/appimg/internal/manifest"
	"github.com/0xa1bed0/appimg/internal/version"
)

func mustParse(t *testing.T, content string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse(strings.NewReader(content), "test")
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	return m
}

func goodConfig() *dockerclient.ImageConfig {
	return &dockerclient.ImageConfig{
		ID:           "sha256:abc",
		User:         "django-user",
		Env:          []string{"PYTHONUNBUFFERED=1", "PATH=/py/bin:/scripts:/usr/local/bin:/usr/bin:/bin"},
		WorkingDir:   "/app",
		ExposedPorts: []string{"8000/tcp"},
		Labels: map[string]string{
			"appimg.dev":                    "skip",
			version.ImageSchemaVersionLabel: "1",
		},
	}
}

const goodProbeOutput = `@@appimg:uid
1000
@@appimg:pip
/py/bin/pip
@@appimg:freeze
Django==3.2.25
djangorestframework==3.12.4
pip==24.0
asgiref @ file:///tmp/asgiref
@@appimg:present
`

func collect(t *testing.T, cfg *dockerclient.ImageConfig, stdout string) *Facts {
	t.Helper()
	ctrl := gomock.NewController(t)
	prober := mocks.NewMockDockerImageProber(ctrl)
	prober.EXPECT().InspectImage(gomock.Any(), "app:latest").Return(cfg, nil)
	prober.EXPECT().Probe(gomock.Any(), "app:latest", gomock.Any()).
		Return(&dockerclient.ProbeResult{Stdout: stdout}, nil)

	facts, err := Collect(context.Background(), prober, "app:latest", buildplan.DefaultLayout())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return facts
}

func expectation(t *testing.T) Expect {
	return Expect{
		Layout:  buildplan.DefaultLayout(),
		Runtime: mustParse(t, "Django>=3.2.4,<3.3\ndjangorestframework>=3.12.4,<3.13\n"),
		Dev:     mustParse(t, "flake8>=3.9.2,<3.10\n"),
	}
}

func failedChecks(r *Report) []string {
	var out []string
	for _, f := range r.Failed() {
		out = append(out, f.Check)
	}
	return out
}

func finding(t *testing.T, r *Report, check string) Finding {
	t.Helper()
	for _, f := range r.Findings {
		if f.Check == check {
			return f
		}
	}
	t.Fatalf("no %q finding in %+v", check, r.Findings)
	return Finding{}
}

func TestCollect(t *testing.T) {
	t.Parallel()

	facts := collect(t, goodConfig(), goodProbeOutput)
	if facts.UID != 1000 {
		t.Fatalf("UID = %d", facts.UID)
	}
	if facts.PipPath != "/py/bin/pip" {
		t.Fatalf("PipPath = %q", facts.PipPath)
	}
	if facts.Packages["django"] != "3.2.25" {
		t.Fatalf("django = %q", facts.Packages["django"])
	}
	if _, ok := facts.Packages["asgiref"]; !ok {
		t.Fatalf("asgiref missing from %v", facts.Packages)
	}
	if len(facts.PresentPaths) != 0 {
		t.Fatalf("PresentPaths = %v", facts.PresentPaths)
	}
	if facts.Env["PYTHONUNBUFFERED"] != "1" {
		t.Fatalf("PYTHONUNBUFFERED = %q", facts.Env["PYTHONUNBUFFERED"])
	}
}

func TestCollectRequires(t *testing.T) {
	t.Parallel()

	stdout := goodProbeOutput + "@@appimg:requires\nDjango asgiref sqlparse pytz\nzope.interface setuptools\npip\n"
	facts := collect(t, goodConfig(), stdout)

	want := map[string][]string{
		"django":         {"asgiref", "sqlparse", "pytz"},
		"zope-interface": {"setuptools"},
		"pip":            {},
	}
	if !reflect.DeepEqual(facts.Requires, want) {
		t.Fatalf("Requires = %v, want %v", facts.Requires, want)
	}
}

func TestCollectProbeFailure(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	prober := mocks.NewMockDockerImageProber(ctrl)
	prober.EXPECT().InspectImage(gomock.Any(), "app").Return(goodConfig(), nil)
	prober.EXPECT().Probe(gomock.Any(), "app", gomock.Any()).
		Return(&dockerclient.ProbeResult{ExitCode: 127, Stderr: "sh: not found"}, nil)

	if _, err := Collect(context.Background(), prober, "app", buildplan.DefaultLayout()); err == nil || !strings.Contains(err.Error(), "exited with 127") {
		t.Fatalf("want exit status error, got %v", err)
	}

	prober.EXPECT().InspectImage(gomock.Any(), "gone").Return(nil, errors.New("no such image"))
	if _, err := Collect(context.Background(), prober, "gone", buildplan.DefaultLayout()); err == nil {
		t.Fatal("want inspect error")
	}
}

func TestCheckPassesForCompliantImage(t *testing.T) {
	t.Parallel()

	report := Check(collect(t, goodConfig(), goodProbeOutput), expectation(t))
	if !report.OK() {
		t.Fatalf("failed checks: %v", report.Failed())
	}
	if err := report.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestCheckDetectsViolations(t *testing.T) {
	t.Parallel()

	cfg := goodConfig()
	cfg.User = ""
	cfg.Env = []string{"PATH=/usr/local/bin:/py/bin:/scripts"}
	cfg.WorkingDir = "/"
	cfg.ExposedPorts = nil

	stdout := strings.Join([]string{
		"@@appimg:uid", "0",
		"@@appimg:pip", "/usr/local/bin/pip",
		"@@appimg:freeze", "Django==4.0.1", "flake8==3.9.2",
		"@@appimg:present", "/tmp/requirements.txt",
	}, "\n")

	report := Check(collect(t, cfg, stdout), expectation(t))
	if report.OK() {
		t.Fatal("report must fail")
	}
	got := failedChecks(report)
	want := []string{
		"runtime packages",
		"dev packages",
		"runtime identity",
		"path precedence",
		"installer resolution",
		"manifest cleanup",
		"unbuffered output",
		"workdir",
		"exposed port",
	}
	slices.Sort(got)
	slices.Sort(want)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("failed checks = %v, want %v", got, want)
	}

	err := report.Err()
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("want ErrVerificationFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "djangorestframework") {
		t.Fatalf("error does not name the missing package: %v", err)
	}
	if dev := finding(t, report, "dev packages"); !strings.Contains(dev.Detail, "possibly transitive") {
		t.Fatalf("dev packages detail = %q", dev.Detail)
	}
}

func TestCheckDevPackagesFollowFlag(t *testing.T) {
	t.Parallel()

	withDev := strings.Replace(goodProbeOutput, "pip==", "flake8==3.9.2\npip==", 1)
	cfg := goodConfig()
	cfg.Labels["appimg.dev"] = "include"

	if report := Check(collect(t, cfg, withDev), expectation(t)); !report.OK() {
		t.Fatalf("failed checks: %v", report.Failed())
	}

	report := Check(collect(t, cfg, goodProbeOutput), expectation(t))
	if got := failedChecks(report); !reflect.DeepEqual(got, []string{"dev packages"}) {
		t.Fatalf("failed checks = %v", got)
	}

	skip := false
	exp := expectation(t)
	exp.DevIncluded = &skip
	report = Check(collect(t, cfg, withDev), exp)
	if got := failedChecks(report); !reflect.DeepEqual(got, []string{"dev packages"}) {
		t.Fatalf("failed checks = %v", got)
	}
}

func TestCheckDevPackageRequiredByRuntime(t *testing.T) {
	t.Parallel()

	// pyflakes is dev-only in the manifests but djangorestframework needs it
	// through an intermediate package.
	exp := expectation(t)
	exp.Dev = mustParse(t, "flake8>=3.9.2,<3.10\npyflakes\n")

	stdout := strings.Replace(goodProbeOutput, "pip==", "pyflakes==2.3.1\nlinthelper==1.0\npip==", 1) +
		"@@appimg:requires\n" +
		"djangorestframework django linthelper\n" +
		"linthelper pyflakes\n"

	report := Check(collect(t, goodConfig(), stdout), exp)
	dev := finding(t, report, "dev packages")
	if !dev.OK {
		t.Fatalf("transitive dev package must not fail the image: %q", dev.Detail)
	}
	if !strings.Contains(dev.Detail, "pyflakes pulled in by runtime packages") {
		t.Fatalf("detail = %q", dev.Detail)
	}

	// flake8 installed on its own is still a violation.
	stdout = strings.Replace(stdout, "pip==", "flake8==3.9.2\npip==", 1)
	dev = finding(t, Check(collect(t, goodConfig(), stdout), exp), "dev packages")
	if dev.OK || !strings.Contains(dev.Detail, "flake8") || strings.Contains(dev.Detail, "pyflakes") {
		t.Fatalf("dev packages = %+v, want flake8 reported alone", dev)
	}
}

func TestDependencyClosure(t *testing.T) {
	t.Parallel()

	requires := map[string][]string{
		"django":   {"asgiref", "sqlparse"},
		"asgiref":  {"typing-extensions"},
		"sqlparse": {"django"},
	}
	got := dependencyClosure([]string{"django"}, requires)
	want := map[string]bool{"asgiref": true, "sqlparse": true, "typing-extensions": true, "django": true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("closure = %v, want %v", got, want)
	}
}

func TestParseFreezeLine(t *testing.T) {
	t.Parallel()

	for line, want := range map[string][2]string{
		"Django==3.2.25":          {"django", "3.2.25"},
		"zope.interface==5.4.0":   {"zope-interface", "5.4.0"},
		"pkg @ file:///src/pkg":   {"pkg", ""},
		"  psycopg2_binary==2.9 ": {"psycopg2-binary", "2.9"},
	} {
		name, ver, ok := parseFreezeLine(line)
		if !ok {
			t.Fatalf("%q not parsed", line)
		}
		if got := [2]string{name, ver}; got != want {
			t.Errorf("%q = %v, want %v", line, got, want)
		}
	}
	for _, line := range []string{"", "# comment", "-e git+https://x/y.git#egg=y", "garbage"} {
		if _, _, ok := parseFreezeLine(line); ok {
			t.Errorf("%q must not parse", line)
		}
	}
}
