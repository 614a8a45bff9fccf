// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package modelview

import "github.com/charmbracelet/lipgloss"

// Theme is the color palette of the browser. Colors are ANSI 256
// codes.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color
	ValueText  lipgloss.Color

	// Cursor row.
	CursorBackground lipgloss.Color
	CursorForeground lipgloss.Color

	// Rows selected in the probe's selection model.
	SelectedForeground lipgloss.Color

	HeaderForeground lipgloss.Color
	HelpText         lipgloss.Color
	WarnText         lipgloss.Color
	ErrorText        lipgloss.Color
}

// DefaultTheme suits dark terminals.
var DefaultTheme = Theme{
	NormalText:         lipgloss.Color("252"),
	FaintText:          lipgloss.Color("242"),
	ValueText:          lipgloss.Color("110"),
	CursorBackground:   lipgloss.Color("237"),
	CursorForeground:   lipgloss.Color("255"),
	SelectedForeground: lipgloss.Color("214"),
	HeaderForeground:   lipgloss.Color("75"),
	HelpText:           lipgloss.Color("241"),
	WarnText:           lipgloss.Color("214"),
	ErrorText:          lipgloss.Color("203"),
}

// styles are the lipgloss styles derived from a Theme once per view.
type styles struct {
	title    lipgloss.Style
	row      lipgloss.Style
	value    lipgloss.Style
	marker   lipgloss.Style
	cursor   lipgloss.Style
	selected lipgloss.Style
	help     lipgloss.Style
	warn     lipgloss.Style
	err      lipgloss.Style
}

func newStyles(theme Theme) styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(theme.HeaderForeground),
		row:      lipgloss.NewStyle().Foreground(theme.NormalText),
		value:    lipgloss.NewStyle().Foreground(theme.ValueText),
		marker:   lipgloss.NewStyle().Foreground(theme.FaintText),
		cursor:   lipgloss.NewStyle().Background(theme.CursorBackground).Foreground(theme.CursorForeground),
		selected: lipgloss.NewStyle().Foreground(theme.SelectedForeground),
		help:     lipgloss.NewStyle().Foreground(theme.HelpText),
		warn:     lipgloss.NewStyle().Foreground(theme.WarnText),
		err:      lipgloss.NewStyle().Foreground(theme.ErrorText),
	}
}
