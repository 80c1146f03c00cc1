package tui

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

const ellipsis = "…"

// truncate shortens a single-line message to the terminal width, measured in cells.
// A width of zero leaves the text untouched.
func truncate(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	if width <= 0 || runewidth.StringWidth(text) <= width {
		return text
	}
	return runewidth.Truncate(text, width, ellipsis)
}
