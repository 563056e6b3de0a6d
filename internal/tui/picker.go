package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/recinq/clowder/internal/store"
)

// Selection holds the result of the interactive template picker: which
// template to instantiate and the prompt substituted for
// {{original_prompt}} in every job's prompt template.
type Selection struct {
	TemplateID string
	Prompt     string
}

// PickTemplate lists every known template and prompts for the original
// prompt, adapted from the teacher's RunPipelineSelector (same huh form
// shape: a select field plus a text input, behind one confirmation step)
// but sourced from the Store's templates instead of a pipeline YAML
// directory.
func PickTemplate(ctx context.Context, s store.Store) (*Selection, error) {
	ids, err := s.ListTemplateIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no templates loaded — run `clowder seed <file>` first")
	}

	options, err := buildTemplateOptions(ctx, s, ids)
	if err != nil {
		return nil, err
	}

	fmt.Println(ClowderLogo())

	var templateID, prompt string
	selectField := huh.NewSelect[string]().
		Title("Select template").
		Options(options...).
		Height(8).
		Value(&templateID)
	promptField := huh.NewInput().
		Title("Prompt").
		Placeholder("what should this pipeline do?").
		Value(&prompt)

	form := huh.NewForm(huh.NewGroup(selectField, promptField)).WithTheme(ClowderTheme())
	if err := form.Run(); err != nil {
		return nil, err
	}

	var confirmed bool
	confirm := huh.NewConfirm().
		Title(fmt.Sprintf("start %s %q", templateID, prompt)).
		Description("Run this pipeline?").
		Affirmative("Run").
		Negative("Cancel").
		Value(&confirmed)
	confirmForm := huh.NewForm(huh.NewGroup(confirm)).WithTheme(ClowderTheme())
	if err := confirmForm.Run(); err != nil {
		return nil, err
	}
	if !confirmed {
		return nil, huh.ErrUserAborted
	}

	return &Selection{TemplateID: templateID, Prompt: prompt}, nil
}

func buildTemplateOptions(ctx context.Context, s store.Store, ids []string) ([]huh.Option[string], error) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	options := make([]huh.Option[string], 0, len(ids))
	for _, id := range ids {
		detail, err := s.LoadTemplate(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load template %s: %w", id, err)
		}
		label := id
		if detail != nil && detail.Template.Description != "" {
			label = fmt.Sprintf("%-20s %s", id, dim.Render(detail.Template.Description))
		}
		options = append(options, huh.NewOption(label, id))
	}
	return options, nil
}
