package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/ElijahFeldman7/workflow/internal/schema"
)

// ErrAborted is returned when the user cancels a prompt.
var ErrAborted = errors.New("aborted")

func run(form *huh.Form) error {
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrAborted
		}
		return fmt.Errorf("prompt failed: %w", err)
	}
	return nil
}

// PromptSignIn asks for an email address and display name.
func PromptSignIn(email, name *string) error {
	return run(huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Email").
			Value(email).
			Validate(func(s string) error {
				if !strings.Contains(s, "@") {
					return fmt.Errorf("enter an email address")
				}
				return nil
			}),
		huh.NewInput().
			Title("Display name").
			Placeholder("optional").
			Value(name),
	)))
}

// PromptNote edits a note's title and content in place.
func PromptNote(title, content *string) error {
	return run(huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Title").
			CharLimit(schema.MaxNoteTitle).
			Value(title),
		huh.NewText().
			Title("Content").
			Lines(10).
			Value(content),
	)))
}

// PromptLink asks for a link's title and URL.
func PromptLink(title, url *string) error {
	return run(huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Title").
			Value(title).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("title is required")
				}
				return nil
			}),
		huh.NewInput().
			Title("URL").
			Placeholder("https://").
			Value(url).
			Validate(schema.ValidateURL),
	)))
}

// Confirm asks a yes/no question.
func Confirm(question string) (bool, error) {
	ok := false
	err := run(huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(question).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
	)))
	return ok, err
}
