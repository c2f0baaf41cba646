package tui

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/tracely/pulse/services/pulse"
)

type styles struct {
	title      lipgloss.Style
	help       lipgloss.Style
	errText    lipgloss.Style
	status     map[pulse.StreamStatus]lipgloss.Style
	health     map[pulse.HealthStatus]lipgloss.Style
	bottleneck lipgloss.Style
	table      table.Styles
}

func newStyles(noColor bool) styles {
	if noColor {
		plain := lipgloss.NewStyle()
		ts := table.DefaultStyles()
		ts.Header = plain.Bold(true)
		ts.Cell = plain
		ts.Selected = plain.Reverse(true)
		return styles{
			title:      plain.Bold(true),
			help:       plain,
			errText:    plain,
			status:     map[pulse.StreamStatus]lipgloss.Style{},
			health:     map[pulse.HealthStatus]lipgloss.Style{},
			bottleneck: plain,
			table:      ts,
		}
	}

	green := lipgloss.Color("42")
	amber := lipgloss.Color("214")
	red := lipgloss.Color("196")

	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))

	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")),
		help:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		errText: lipgloss.NewStyle().Foreground(red),
		status: map[pulse.StreamStatus]lipgloss.Style{
			pulse.StatusConnected:    lipgloss.NewStyle().Foreground(green),
			pulse.StatusConnecting:   lipgloss.NewStyle().Foreground(amber),
			pulse.StatusDisconnected: lipgloss.NewStyle().Foreground(red),
		},
		health: map[pulse.HealthStatus]lipgloss.Style{
			pulse.HealthHealthy:  lipgloss.NewStyle().Foreground(green),
			pulse.HealthDegraded: lipgloss.NewStyle().Foreground(amber),
			pulse.HealthError:    lipgloss.NewStyle().Foreground(red).Bold(true),
		},
		bottleneck: lipgloss.NewStyle().Foreground(red),
		table:      ts,
	}
}

func (s styles) forStatus(st pulse.StreamStatus) lipgloss.Style {
	if style, ok := s.status[st]; ok {
		return style
	}
	return lipgloss.NewStyle()
}

func (s styles) forHealth(h pulse.HealthStatus) lipgloss.Style {
	if style, ok := s.health[h]; ok {
		return style
	}
	return lipgloss.NewStyle()
}
