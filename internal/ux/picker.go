package ux

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
)

// ErrCancelled is returned when the user dismisses a prompt.
var ErrCancelled = errors.New("selection cancelled")

// Picker asks the user to choose one of options.
type Picker interface {
	Select(ctx context.Context, message string, options []string) (string, error)
}

// SurveyPicker prompts on the terminal.
type SurveyPicker struct {
	PageSize int
}

// Select shows an interactive list and returns the chosen option.
func (p SurveyPicker) Select(ctx context.Context, message string, options []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(options) == 0 {
		return "", fmt.Errorf("nothing to select")
	}
	prompt := &survey.Select{
		Message: message,
		Options: options,
	}
	if p.PageSize > 0 {
		prompt.PageSize = p.PageSize
	}
	var out string
	if err := survey.AskOne(prompt, &out); err != nil {
		if errors.Is(err, terminal.InterruptErr) {
			return "", ErrCancelled
		}
		return "", err
	}
	return out, nil
}

// StaticPicker always answers with Choice. An empty Choice behaves like a
// dismissed prompt.
type StaticPicker struct {
	Choice string
}

// Select returns Choice if it is one of options.
func (p StaticPicker) Select(ctx context.Context, _ string, options []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.Choice == "" {
		return "", ErrCancelled
	}
	if !slices.Contains(options, p.Choice) {
		return "", fmt.Errorf("%q is not one of the registered templates", p.Choice)
	}
	return p.Choice, nil
}
