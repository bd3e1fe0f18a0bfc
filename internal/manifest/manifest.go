// Package manifest reads dependency manifests: newline separated package
// specifiers in the requirements.txt convention.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/0xa1bed0/appimg/internal/logs"
	"github.com/0xa1bed0/appimg/internal/versions"
)

var (
	ErrManifestMissing = errors.New("manifest file is missing")
	ErrIncludeCycle    = errors.New("manifest include cycle")
)

// ManifestError points at the offending line of a manifest.
type ManifestError struct {
	Source string
	Line   int
	Text   string
	Err    error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("%s:%d: %q: %v", e.Source, e.Line, e.Text, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// Requirement is one package line.
type Requirement struct {
	Name      string // PEP 503 normalised
	Raw       string
	Specifier string // e.g. ">=3.2.4,<3.3"; empty means any version
	Line      int
}

type Manifest struct {
	Source       string
	Requirements []Requirement
	Includes     []string // -r targets, as written
	Editables    []string // -e targets, not resolvable without the source tree
	Warnings     []string
}

var (
	nameRe    = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)`)
	normRe    = regexp.MustCompile(`[-_.]+`)
	commentRe = regexp.MustCompile(`(^|\s)#.*$`)
)

// NormalizeName applies PEP 503 name normalisation.
func NormalizeName(name string) string {
	return strings.ToLower(normRe.ReplaceAllString(name, "-"))
}

// Parse reads a manifest from r. source is used in error messages only.
func Parse(r io.Reader, source string) (*Manifest, error) {
	m := &Manifest{Source: source}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	var pending strings.Builder
	startLine := 0

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		// backslash continuation
		if strings.HasSuffix(line, `\`) {
			if pending.Len() == 0 {
				startLine = lineNo
			}
			pending.WriteString(strings.TrimSuffix(line, `\`))
			continue
		}
		if pending.Len() > 0 {
			pending.WriteString(line)
			line = pending.String()
			pending.Reset()
		} else {
			startLine = lineNo
		}

		if err := m.parseLine(line, startLine); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", source, err)
	}
	if pending.Len() > 0 {
		if err := m.parseLine(pending.String(), startLine); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Manifest) parseLine(line string, lineNo int) error {
	text := strings.TrimSpace(commentRe.ReplaceAllString(line, ""))
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, "-") {
		opt, arg := splitOption(text)
		switch opt {
		case "-r", "--requirement":
			if arg == "" {
				return &ManifestError{Source: m.Source, Line: lineNo, Text: text, Err: errors.New("include without a path")}
			}
			m.Includes = append(m.Includes, arg)
		case "-e", "--editable":
			m.Editables = append(m.Editables, arg)
		default:
			m.Warnings = append(m.Warnings, fmt.Sprintf("%s:%d: option %s is passed to pip as is", m.Source, lineNo, opt))
		}
		return nil
	}

	req, err := parseRequirement(text)
	if err != nil {
		return &ManifestError{Source: m.Source, Line: lineNo, Text: text, Err: err}
	}
	req.Line = lineNo

	if req.Specifier != "" {
		if _, err := versions.PipConstraint(req.Specifier); err != nil {
			m.Warnings = append(m.Warnings, fmt.Sprintf("%s:%d: %s: %v", m.Source, lineNo, req.Name, err))
		}
	}

	m.Requirements = append(m.Requirements, req)
	return nil
}

func splitOption(text string) (opt, arg string) {
	if i := strings.IndexAny(text, " \t="); i >= 0 {
		return text[:i], strings.TrimSpace(text[i+1:])
	}
	return text, ""
}

func parseRequirement(text string) (Requirement, error) {
	body := text
	// environment markers
	if i := strings.Index(body, ";"); i >= 0 {
		body = body[:i]
	}
	// direct references ("name @ url")
	if i := strings.Index(body, "@"); i >= 0 {
		body = body[:i]
	}
	body = strings.TrimSpace(body)

	loc := nameRe.FindStringIndex(body)
	if loc == nil {
		return Requirement{}, errors.New("line does not start with a package name")
	}
	name := body[loc[0]:loc[1]]
	rest := strings.TrimSpace(body[loc[1]:])

	// extras
	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return Requirement{}, errors.New("unterminated extras")
		}
		rest = strings.TrimSpace(rest[end+1:])
	}
	rest = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(rest, "("), ")"))

	if rest != "" && !strings.ContainsAny(rest[:1], "=<>!~") {
		return Requirement{}, fmt.Errorf("unexpected text after package name: %q", rest)
	}

	return Requirement{
		Name:      NormalizeName(name),
		Raw:       text,
		Specifier: strings.ReplaceAll(rest, " ", ""),
	}, nil
}

// Load reads path and merges every -r include, resolved relative to the
// including file.
func Load(path string) (*Manifest, error) {
	return load(path, map[string]bool{})
}

func load(path string, visiting map[string]bool) (*Manifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if visiting[abs] {
		return nil, fmt.Errorf("%w: %s", ErrIncludeCycle, abs)
	}
	visiting[abs] = true
	defer delete(visiting, abs)

	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestMissing, path)
		}
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	defer f.Close()

	m, err := Parse(f, path)
	if err != nil {
		return nil, err
	}

	for _, inc := range m.Includes {
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(filepath.Dir(abs), inc)
		}
		logs.Debugf("manifest %s includes %s", path, incPath)
		sub, err := load(incPath, visiting)
		if err != nil {
			return nil, err
		}
		m.Requirements = append(m.Requirements, sub.Requirements...)
		m.Editables = append(m.Editables, sub.Editables...)
		m.Warnings = append(m.Warnings, sub.Warnings...)
	}

	return m, nil
}

// Names returns the sorted, de-duplicated package names.
func (m *Manifest) Names() []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, r := range m.Requirements {
		if _, ok := seen[r.Name]; ok {
			continue
		}
		seen[r.Name] = struct{}{}
		out = append(out, r.Name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the first requirement for a normalised or raw name.
func (m *Manifest) Lookup(name string) (Requirement, bool) {
	name = NormalizeName(name)
	for _, r := range m.Requirements {
		if r.Name == name {
			return r, true
		}
	}
	return Requirement{}, false
}

// Exclusive returns the packages listed in dev but not in runtime.
func Exclusive(dev, runtime *Manifest) []string {
	inRuntime := map[string]struct{}{}
	for _, n := range runtime.Names() {
		inRuntime[n] = struct{}{}
	}
	out := []string{}
	for _, n := range dev.Names() {
		if _, ok := inRuntime[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}
