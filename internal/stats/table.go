package stats

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// column describes one table column. Numeric columns are right aligned.
type column struct {
	title string
	right bool
}

// signColumns matches SignTableHeaders; everything but the sign is numeric.
func signColumns() []column {
	cols := make([]column, len(SignTableHeaders))
	for i, title := range SignTableHeaders {
		cols[i] = column{title: title, right: i > 0}
	}
	return cols
}

// alignRows lays out a header line plus rows, each cell padded to its column's
// widest display width. Missing cells render as blanks and extra cells are ignored.
func alignRows(cols []column, rows [][]string) []string {
	if len(cols) == 0 {
		return nil
	}
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = runewidth.StringWidth(c.title)
	}
	for _, row := range rows {
		for i := range cols {
			widths[i] = max(widths[i], runewidth.StringWidth(cellAt(row, i)))
		}
	}

	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.title
	}
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, joinCells(cols, widths, header))
	for _, row := range rows {
		lines = append(lines, joinCells(cols, widths, row))
	}
	return lines
}

func cellAt(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func joinCells(cols []column, widths []int, row []string) string {
	cells := make([]string, len(cols))
	for i, c := range cols {
		cell := cellAt(row, i)
		gap := strings.Repeat(" ", max(0, widths[i]-runewidth.StringWidth(cell)))
		if c.right {
			cells[i] = gap + cell
		} else {
			cells[i] = cell + gap
		}
	}
	return strings.Join(cells, " ")
}
