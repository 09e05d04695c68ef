package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("7")).Bold(true)
)

type input struct {
	Title       string
	Description string
	Placeholder string
	Value       string
	Multiline   bool
	Validate    func(string) error
}

func promptInput(in input) (string, error) {
	value := in.Value
	validate := in.Validate
	if validate == nil {
		validate = func(string) error { return nil }
	}

	var field huh.Field
	if in.Multiline {
		field = huh.NewText().
			Title(in.Title).
			Description(in.Description).
			Placeholder(in.Placeholder).
			Validate(validate).
			Value(&value)
	} else {
		field = huh.NewInput().
			Title(in.Title).
			Description(in.Description).
			Placeholder(in.Placeholder).
			Validate(validate).
			Value(&value)
	}
	if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return value, nil
}

type choice struct {
	Label string
	Value string
}

func promptSelect(title string, choices []choice, current string) (string, error) {
	if len(choices) == 0 {
		return "", fmt.Errorf("no options provided")
	}
	opts := make([]huh.Option[string], len(choices))
	for i, c := range choices {
		opts[i] = huh.NewOption(c.Label, c.Value)
	}
	selected := current
	field := huh.NewSelect[string]().
		Title(title).
		Options(opts...).
		Value(&selected)
	if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return selected, nil
}

func promptConfirm(title string, defaultValue bool) (bool, error) {
	confirmed := defaultValue
	field := huh.NewConfirm().
		Title(title).
		Value(&confirmed)
	if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
		return false, fmt.Errorf("prompt failed: %w", err)
	}
	return confirmed, nil
}
