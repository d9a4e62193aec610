// Package presentation renders coordinator replies and local file state
// for the peer's interactive terminal. It is purely a display concern: the
// wire-level text exchanged with the coordinator is untouched by anything
// here.
package presentation

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BE9FD"))
	itemStyle   = lipgloss.NewStyle().PaddingLeft(2)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
)

// Block renders a coordinator header+items reply (GROUPS:, FILES:,
// PENDING REQUESTS:) as a small styled list.
func Block(header string, items []string) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")
	if len(items) == 0 {
		b.WriteString(itemStyle.Render("(none)"))
		return b.String()
	}
	for _, item := range items {
		b.WriteString(itemStyle.Render(item))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Line renders a single SUCCESS:/ERROR: reply line with a colored prefix.
func Line(line string) string {
	switch {
	case strings.HasPrefix(line, "SUCCESS"):
		return okStyle.Render(line)
	case strings.HasPrefix(line, "ERROR"):
		return errStyle.Render(line)
	default:
		return line
	}
}

// LocalFile renders one show_downloads row with humanized byte counts.
func LocalFile(key string, presentPieces, totalPieces int, size int64) string {
	return fmt.Sprintf("%s: %d/%d pieces (%s)",
		key, presentPieces, totalPieces, humanize.Bytes(uint64(size)))
}
