package filesmanager

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
)

// isPlainFilename reports whether name is a single path element.
func isPlainFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

func toSlashClean(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}

// matcher applies .dockerignore patterns the way the engine does: paths are
// relative to the root, "**" spans directories and "!" re-includes.
type matcher struct {
	pm *patternmatcher.PatternMatcher
}

func newMatcher(patterns []string) (*matcher, error) {
	// same normalisation as a .dockerignore file
	cleaned, err := ignorefile.ReadAll(strings.NewReader(strings.Join(patterns, "\n")))
	if err != nil {
		return nil, err
	}
	pm, err := patternmatcher.New(cleaned)
	if err != nil {
		return nil, fmt.Errorf("ignore patterns: %w", err)
	}
	return &matcher{pm: pm}, nil
}

func (m *matcher) match(rel string) (bool, error) {
	return m.pm.MatchesOrParentMatches(filepath.FromSlash(rel))
}

// canSkipDir is false when a "!" pattern may re-include something below an
// ignored directory.
func (m *matcher) canSkipDir() bool {
	return !m.pm.Exclusions()
}
