// Package logs is the process wide logger used by every appimg package.
package logs

import (
	"io"
	"os"
	"sync"

	"github.com/moby/term"

	"github.com/0xa1bed0/appimg/internal/ui"
)

var (
	initOnce sync.Once
	logger   *ui.Logger
)

func Init() {
	initOnce.Do(func() {
		_, isTTY := term.GetFdInfo(os.Stdout)
		logger = ui.New(ui.Options{
			Out:        os.Stdout,
			TailLines:  12,
			EnableTail: isTTY,
			LogLevel:   ui.LogLevelInfo,
		})
		logger.Debug("logs initialized (tty=%t)", isTTY)
	})
}

func L() *ui.Logger {
	Init()
	return logger
}

// SetDebugVerbosity maps the count of -v flags to a level.
func SetDebugVerbosity(cnt int) {
	switch {
	case cnt <= 0:
		L().SetLogLevel(ui.LogLevelInfo)
	case cnt == 1:
		L().SetLogLevel(ui.LogLevelDebug)
	default:
		L().SetLogLevel(ui.LogLevelDebugVerbose)
	}
}

func SetFullLogPath(path string) error {
	return L().SetFullLogPath(path)
}

func Banner(title string) { L().Banner(title) }

func Spacer() { L().Spacer() }

func Infof(format string, args ...any) { L().Info(format, args...) }

func Debugf(format string, args ...any) { L().Debug(format, args...) }

func Warnf(format string, args ...any) { L().Warn(format, args...) }

func Errorf(format string, args ...any) { L().Error(format, args...) }

func Successf(format string, args ...any) { L().Success(format, args...) }

func TailWriter(name string) io.WriteCloser {
	return L().TailWriter(name)
}

type defaultSelectOption struct {
	Text string
	ID   string
}

func (so *defaultSelectOption) OptionLabel() string { return so.Text }

func (so *defaultSelectOption) OptionID() string { return so.ID }

func NewSelectOption(text, id string) ui.SelectOption {
	return &defaultSelectOption{Text: text, ID: id}
}

func PromptSelectMany(label string, options []ui.SelectOption) ([]ui.SelectOption, error) {
	return L().SelectMany(label, options)
}

func PromptConfirm(text string) (bool, error) {
	return L().Confirm(text)
}

func Close() error {
	if logger != nil {
		return logger.Close()
	}
	return nil
}
