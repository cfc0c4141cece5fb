package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	ColorPrimary = lipgloss.Color("39")  // Cyan
	ColorSuccess = lipgloss.Color("82")  // Green
	ColorWarning = lipgloss.Color("214") // Orange
	ColorError   = lipgloss.Color("196") // Red
	ColorMuted   = lipgloss.Color("245") // Gray
)

// Styles for various UI elements
var (
	Bold    = lipgloss.NewStyle().Bold(true)
	Dim     = lipgloss.NewStyle().Foreground(ColorMuted)
	Header  = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	Success = lipgloss.NewStyle().Foreground(ColorSuccess)
	Warning = lipgloss.NewStyle().Foreground(ColorWarning)
	Error   = lipgloss.NewStyle().Foreground(ColorError)

	FilePath = lipgloss.NewStyle().Foreground(ColorPrimary)
	Score    = lipgloss.NewStyle().Foreground(ColorSuccess)
	Content  = lipgloss.NewStyle().Foreground(ColorMuted).PaddingLeft(2)
)

// FormatHit formats a search hit header with its file path and chunk index.
func FormatHit(path string, chunkIndex int) string {
	return FilePath.Render(path) + Dim.Render(fmt.Sprintf("#%d", chunkIndex))
}

// FormatScore formats a similarity score as a percentage.
func FormatScore(score float64) string {
	return Score.Render(fmt.Sprintf("(%.1f%% match)", score*100))
}
