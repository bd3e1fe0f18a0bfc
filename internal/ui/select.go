package ui

import (
	"errors"
	"fmt"
	"os"
	"strings"

	survey "github.com/AlecAivazis/survey/v2"
)

// SelectOption is anything that can be listed in a prompt.
type SelectOption interface {
	OptionLabel() string
	OptionID() string
}

var ErrNoOptions = errors.New("no options to choose from")

func (l *Logger) beforePrompt(kind, label string, options []SelectOption) {
	l.mu.Lock()
	l.finalizeTailLocked()
	l.mu.Unlock()

	ids := make([]string, len(options))
	for i, o := range options {
		ids[i] = o.OptionID()
	}
	l.InfoSilent("PROMPT %s: %s [%s]", kind, label, strings.Join(ids, ", "))
}

// Confirm asks a yes/no question. The default answer is no.
func (l *Logger) Confirm(text string) (bool, error) {
	l.beforePrompt("confirm", text, nil)

	answer := false
	err := survey.AskOne(
		&survey.Confirm{Message: text, Default: false},
		&answer,
		survey.WithStdio(os.Stdin, os.Stdout, os.Stderr),
	)
	if err != nil {
		return false, err
	}
	l.InfoSilent("ANSWER: %t", answer)
	return answer, nil
}

// SelectMany shows a multi-select menu and returns the chosen options in
// their original order.
func (l *Logger) SelectMany(label string, options []SelectOption) ([]SelectOption, error) {
	if len(options) == 0 {
		return nil, ErrNoOptions
	}
	l.beforePrompt("many", label, options)

	display := make([]string, len(options))
	for i, o := range options {
		display[i] = o.OptionLabel()
	}

	var chosen []int
	err := survey.AskOne(
		&survey.MultiSelect{Message: label, Options: display},
		&chosen,
		survey.WithStdio(os.Stdin, os.Stdout, os.Stderr),
	)
	if err != nil {
		return nil, fmt.Errorf("prompt %q: %w", label, err)
	}

	out := make([]SelectOption, 0, len(chosen))
	ids := make([]string, 0, len(chosen))
	for _, i := range chosen {
		out = append(out, options[i])
		ids = append(ids, options[i].OptionID())
	}
	l.InfoSilent("ANSWER: [%s]", strings.Join(ids, ", "))
	return out, nil
}
