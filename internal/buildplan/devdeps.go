package buildplan

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidDevFlag = errors.New("invalid DEV flag value")

// DevDependencies decides whether the development manifest is layered on top
// of the runtime one. It is resolved once when the plan is built.
type DevDependencies interface {
	isDevDependencies()
	String() string
}

// Include installs the development manifest after the runtime one.
type Include struct{}

// Skip leaves the development manifest out of the image.
type Skip struct{}

func (Include) isDevDependencies() {}
func (Skip) isDevDependencies()    {}

func (Include) String() string { return "include" }
func (Skip) String() string    { return "skip" }

// ParseDevFlag turns a DEV build argument into DevDependencies.
// Empty means false. Unknown tokens are rejected instead of silently
// falling back to Skip.
func ParseDevFlag(raw string) (DevDependencies, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "false", "0", "no", "off":
		return Skip{}, nil
	case "true", "1", "yes", "on":
		return Include{}, nil
	default:
		return nil, fmt.Errorf("%w: %q (expected true or false)", ErrInvalidDevFlag, raw)
	}
}

func isInclude(d DevDependencies) bool {
	_, ok := d.(Include)
	return ok
}
