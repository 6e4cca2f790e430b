// Package styles holds the lipgloss styles shared by the terminal views.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	ColorPrimary   = lipgloss.Color("62")  // purple
	ColorSecondary = lipgloss.Color("241") // gray
	ColorMuted     = lipgloss.Color("240")
	ColorHighlight = lipgloss.Color("212") // pink
	ColorSuccess   = lipgloss.Color("78")
	ColorError     = lipgloss.Color("196")
)

var Header = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255")).
	Background(ColorPrimary).
	Padding(0, 1)

var StatusBar = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Background(lipgloss.Color("236")).
	Padding(0, 1)

// Tab is an inactive category tab; TabActive the selected one.
var Tab = lipgloss.NewStyle().
	Foreground(ColorSecondary).
	Padding(0, 1)

var TabActive = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorHighlight).
	Underline(true).
	Padding(0, 1)

var ItemSelected = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255")).
	Background(ColorPrimary).
	Padding(0, 1)

var ItemNormal = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Padding(0, 1)

// SizeBadge shows how many articles a thread has.
var SizeBadge = lipgloss.NewStyle().
	Foreground(ColorPrimary).
	Background(lipgloss.Color("236")).
	Padding(0, 1).
	MarginRight(1)

// Article is one expanded member line under a thread.
var Article = lipgloss.NewStyle().
	Foreground(ColorSecondary).
	PaddingLeft(6)

var Spinner = lipgloss.NewStyle().Foreground(ColorSuccess)

var Error = lipgloss.NewStyle().
	Foreground(ColorError).
	Bold(true).
	Padding(0, 1)

var Help = lipgloss.NewStyle().
	Foreground(ColorMuted).
	Padding(1, 2)

// Truncate shortens s to n runes, ending in an ellipsis when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
