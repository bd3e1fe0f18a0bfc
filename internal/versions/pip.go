// Package versions maps Python requirement specifiers onto semver
// constraints so installed versions can be checked against a manifest.
package versions

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrUnsupportedSpecifier is returned for specifiers with no semver equivalent
// (arbitrary equality, local versions, ...).
var ErrUnsupportedSpecifier = errors.New("unsupported version specifier")

var clauseRe = regexp.MustCompile(`^(===|~=|==|!=|>=|<=|>|<)\s*([0-9][0-9A-Za-z.*+!-]*)$`)

// PipConstraint translates a PEP 440 specifier set ("Django>=3.2.4,<3.3"
// without the name) into semver constraints. All clauses are ANDed.
//
//	==3.2.4  -> =3.2.4
//	==3.2.*  -> 3.2.x
//	~=3.2.4  -> ~3.2.4
//	~=3.2    -> ^3.2
func PipConstraint(spec string) (*semver.Constraints, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return semver.NewConstraint("*")
	}

	clauses := strings.Split(spec, ",")
	out := make([]string, 0, len(clauses))
	for _, raw := range clauses {
		c := strings.TrimSpace(raw)
		if c == "" {
			continue
		}
		m := clauseRe.FindStringSubmatch(c)
		if m == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedSpecifier, c)
		}
		op, ver := m[1], m[2]
		if strings.ContainsAny(ver, "+!") {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedSpecifier, c)
		}

		switch op {
		case "===":
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedSpecifier, c)
		case "==":
			if strings.HasSuffix(ver, ".*") {
				out = append(out, strings.TrimSuffix(ver, ".*")+".x")
			} else {
				out = append(out, "="+ver)
			}
		case "~=":
			if strings.Count(ver, ".") < 1 {
				return nil, fmt.Errorf("%w: %q needs at least two release segments", ErrUnsupportedSpecifier, c)
			}
			if strings.Count(ver, ".") == 1 {
				out = append(out, "^"+ver)
			} else {
				out = append(out, "~"+ver)
			}
		default:
			if strings.Contains(ver, "*") {
				return nil, fmt.Errorf("%w: wildcard only allowed with == (%q)", ErrUnsupportedSpecifier, c)
			}
			out = append(out, op+ver)
		}
	}

	if len(out) == 0 {
		return semver.NewConstraint("*")
	}

	constraint, err := semver.NewConstraint(strings.Join(out, ", "))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnsupportedSpecifier, spec, err)
	}
	return constraint, nil
}

// Satisfies reports whether an installed version matches spec.
func Satisfies(spec, installed string) (bool, error) {
	c, err := PipConstraint(spec)
	if err != nil {
		return false, err
	}
	v, err := semver.NewVersion(installed)
	if err != nil {
		return false, fmt.Errorf("installed version %q: %w", installed, err)
	}
	return c.Check(v), nil
}
