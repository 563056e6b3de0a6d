// Package tui provides the huh/lipgloss-themed interactive prompts used by
// clowder's CLI (the start command's --interactive picker). Grounded on the
// teacher's internal/tui package, which themes the same onboarding/resume
// wizards with this exact huh.ThemeBase()-derived palette.
package tui

import (
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// ClowderTheme returns a huh.Theme matching clowder's CLI color palette.
func ClowderTheme() *huh.Theme {
	t := huh.ThemeBase()

	var (
		cyan  = lipgloss.Color("6")
		white = lipgloss.Color("7")
		muted = lipgloss.Color("244")
		red   = lipgloss.Color("1")
	)

	t.Focused.Base = t.Focused.Base.BorderForeground(cyan)
	t.Focused.Card = t.Focused.Base
	t.Focused.Title = t.Focused.Title.Foreground(cyan).Bold(true)
	t.Focused.NoteTitle = t.Focused.NoteTitle.Foreground(cyan).Bold(true).MarginBottom(1)
	t.Focused.Description = t.Focused.Description.Foreground(muted)
	t.Focused.ErrorIndicator = t.Focused.ErrorIndicator.Foreground(red)
	t.Focused.ErrorMessage = t.Focused.ErrorMessage.Foreground(red)

	t.Focused.SelectSelector = t.Focused.SelectSelector.Foreground(cyan)
	t.Focused.NextIndicator = t.Focused.NextIndicator.Foreground(cyan)
	t.Focused.PrevIndicator = t.Focused.PrevIndicator.Foreground(cyan)
	t.Focused.Option = t.Focused.Option.Foreground(white)

	t.Focused.MultiSelectSelector = t.Focused.MultiSelectSelector.Foreground(cyan)
	t.Focused.SelectedOption = t.Focused.SelectedOption.Foreground(cyan)
	t.Focused.SelectedPrefix = lipgloss.NewStyle().Foreground(cyan).SetString("[x] ")
	t.Focused.UnselectedPrefix = lipgloss.NewStyle().Foreground(muted).SetString("[ ] ")
	t.Focused.UnselectedOption = t.Focused.UnselectedOption.Foreground(white)

	t.Focused.TextInput.Cursor = t.Focused.TextInput.Cursor.Foreground(cyan)
	t.Focused.TextInput.Placeholder = t.Focused.TextInput.Placeholder.Foreground(muted)
	t.Focused.TextInput.Prompt = t.Focused.TextInput.Prompt.Foreground(cyan)

	t.Focused.FocusedButton = t.Focused.FocusedButton.Foreground(lipgloss.Color("0")).Background(cyan)
	t.Focused.Next = t.Focused.FocusedButton
	t.Focused.BlurredButton = t.Focused.BlurredButton.Foreground(white).Background(lipgloss.Color("237"))

	t.Blurred = t.Focused
	t.Blurred.Base = t.Focused.Base.BorderStyle(lipgloss.HiddenBorder())
	t.Blurred.Card = t.Blurred.Base
	t.Blurred.NextIndicator = lipgloss.NewStyle()
	t.Blurred.PrevIndicator = lipgloss.NewStyle()

	t.Group.Title = t.Focused.Title
	t.Group.Description = t.Focused.Description

	return t
}

// ClowderLogo returns the styled ASCII wordmark shown above the
// interactive template picker.
func ClowderLogo() string {
	logo := "┏━╸╻  ┏━┓╻ ╻╺┳┓┏━╸┏━┓\n┃  ┃  ┃ ┃┃╻┃ ┃┃┣╸ ┣┳┛\n┗━╸┗━╸┗━┛┗┻┛╺┻┛┗━╸╹┗╸"
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("6")).
		Margin(1, 0, 1, 2).
		Render(logo)
}
