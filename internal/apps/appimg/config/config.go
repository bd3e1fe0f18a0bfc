// Package hostappconfig resolves where appimg keeps its files on the host.
package hostappconfig

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/adrg/xdg"
)

const appName = "appimg"

// ConfigBasePath holds user wide defaults (config.json).
func ConfigBasePath() string {
	return filepath.Join(xdg.ConfigHome, appName)
}

// StateBasePath holds the build state database and run logs.
func StateBasePath() string {
	return filepath.Join(xdg.StateHome, appName)
}

func UserConfigFile() string {
	return filepath.Join(ConfigBasePath(), "config.json")
}

func StateDBFile() string {
	return filepath.Join(StateBasePath(), "state.db")
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+|\.{2,}`)

// RunLogPath is the full log of one run of appimg on one project.
func RunLogPath(projectName, runID string) string {
	// a name made of dots would step out of projects/
	name := strings.TrimLeft(unsafeName.ReplaceAllString(projectName, "_"), ".")
	if name == "" {
		name = "_"
	}
	return filepath.Join(StateBasePath(), "projects", name, "logs", "run-"+runID+".log")
}
