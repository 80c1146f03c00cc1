package stats

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Series is a named percentage series. Values are plotted on a fixed 0..100 axis.
type Series struct {
	Name   string
	Values []float64
}

const (
	defaultPlotHeight   = 10
	minPlotWidth        = 10
	axisSeparator       = " │ "
	colorReset          = "\x1b[0m"
	terminalWidthBackup = 80
	brailleBase         = 0x2800
)

var axisLabels = [3]string{"100%", "50%", "0%"}

type stroke struct {
	name    string
	pattern string
}

// Dot patterns along x; '#' draws, '.' skips.
var strokes = []stroke{
	{name: "solid", pattern: "#"},
	{name: "dashed", pattern: "###..."},
	{name: "dotted", pattern: "#.."},
}

var palette = []string{"\x1b[36m", "\x1b[35m", "\x1b[33m", "\x1b[32m"}

// brailleBits maps a dot position inside a 2x4 braille cell to its bit.
var brailleBits = [4][2]uint8{
	{0x01, 0x08},
	{0x02, 0x10},
	{0x04, 0x20},
	{0x40, 0x80},
}

type canvas struct {
	cols, rows int
	masks      [][]uint8
	owner      [][]int
}

func newCanvas(cols, rows int) *canvas {
	c := &canvas{cols: cols, rows: rows, masks: make([][]uint8, rows), owner: make([][]int, rows)}
	for y := range c.masks {
		c.masks[y] = make([]uint8, cols)
		c.owner[y] = make([]int, cols)
		for x := range c.owner[y] {
			c.owner[y][x] = -1
		}
	}
	return c
}

// dot sets the braille dot at (x, y) in dot coordinates.
func (c *canvas) dot(x, y, series int) {
	cx, cy := x/2, y/4
	if x < 0 || y < 0 || cx >= c.cols || cy >= c.rows {
		return
	}
	c.masks[cy][cx] |= brailleBits[y%4][x%2]
	if c.owner[cy][cx] < 0 {
		c.owner[cy][cx] = series
	}
}

func (c *canvas) cell(x, y int) (rune, int) {
	return rune(brailleBase + int(c.masks[y][x])), c.owner[y][x]
}

// PlotSeries renders a braille line plot of percentage series. Color is used when
// forceColor is set or w is a terminal, unless NO_COLOR is set.
func PlotSeries(w io.Writer, title string, series []Series, width, height int, forceColor bool) error {
	series = nonEmpty(series)
	if len(series) == 0 {
		return nil
	}
	if height <= 0 {
		height = defaultPlotHeight
	}
	if width <= 0 {
		width = PlotWidthFor(terminalWidth())
	}
	if width < minPlotWidth {
		width = minPlotWidth
	}

	c := newCanvas(width, height)
	dotRows := height * 4
	for si, s := range series {
		pattern := strokes[si%len(strokes)].pattern
		points := resample(s.Values, width*2)
		prev := -1
		for x, v := range points {
			y := percentRow(v, dotRows)
			from, to := y, y
			if prev >= 0 {
				from, to = min(prev, y), max(prev, y)
			}
			if pattern[x%len(pattern)] == '#' {
				for yy := from; yy <= to; yy++ {
					c.dot(x, yy, si)
				}
			}
			prev = y
		}
	}

	useColor := shouldUseColor(w, forceColor)
	labelWidth := utf8.RuneCountInString(axisLabels[0])
	var b strings.Builder
	if title != "" {
		b.WriteString(title)
		b.WriteByte('\n')
	}
	for _, s := range series {
		fmt.Fprintf(&b, "%s: last=%.1f%% best=%.1f%%\n", s.Name, s.Values[len(s.Values)-1], maxOf(s.Values))
	}
	for y := 0; y < height; y++ {
		fmt.Fprintf(&b, "%*s%s", labelWidth, axisLabel(y, height), axisSeparator)
		for x := 0; x < width; x++ {
			ch, owner := c.cell(x, y)
			if useColor && owner >= 0 {
				b.WriteString(palette[owner%len(palette)])
				b.WriteRune(ch)
				b.WriteString(colorReset)
				continue
			}
			b.WriteRune(ch)
		}
		b.WriteByte('\n')
	}
	b.WriteString(legend(series, useColor))
	b.WriteString("\n\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func nonEmpty(series []Series) []Series {
	out := make([]Series, 0, len(series))
	for _, s := range series {
		if len(s.Values) > 0 {
			out = append(out, s)
		}
	}
	return out
}

func maxOf(values []float64) float64 {
	best := math.Inf(-1)
	for _, v := range values {
		best = math.Max(best, v)
	}
	return best
}

func axisLabel(row, height int) string {
	switch {
	case row == 0:
		return axisLabels[0]
	case height > 2 && row == height/2:
		return axisLabels[1]
	case height > 1 && row == height-1:
		return axisLabels[2]
	default:
		return ""
	}
}

// percentRow maps a 0..100 value onto dot rows, top row being 100.
func percentRow(v float64, rows int) int {
	if rows <= 1 {
		return 0
	}
	pos := math.Max(0, math.Min(1, v/100))
	return int(math.Round((1 - pos) * float64(rows-1)))
}

// resample stretches or shrinks values to n points. Shrinking averages buckets,
// stretching interpolates linearly.
func resample(values []float64, n int) []float64 {
	if len(values) == 0 || n <= 0 {
		return nil
	}
	out := make([]float64, n)
	switch {
	case len(values) == 1 || n == 1:
		for i := range out {
			out[i] = values[0]
		}
	case len(values) >= n:
		for i := range out {
			lo := i * len(values) / n
			hi := (i + 1) * len(values) / n
			if hi <= lo {
				hi = lo + 1
			}
			sum := 0.0
			for _, v := range values[lo:hi] {
				sum += v
			}
			out[i] = sum / float64(hi-lo)
		}
	default:
		last := len(values) - 1
		for i := range out {
			pos := float64(i) * float64(last) / float64(n-1)
			idx := int(pos)
			if idx >= last {
				out[i] = values[last]
				continue
			}
			frac := pos - float64(idx)
			out[i] = values[idx] + (values[idx+1]-values[idx])*frac
		}
	}
	return out
}

func legend(series []Series, useColor bool) string {
	parts := make([]string, 0, len(series))
	for i, s := range series {
		label := fmt.Sprintf("%c %s (%s)", rune(brailleBase+0x09), s.Name, strokes[i%len(strokes)].name)
		if useColor {
			label = palette[i%len(palette)] + label + colorReset
		}
		parts = append(parts, label)
	}
	return "Legend: " + strings.Join(parts, "  ")
}

// PlotWidthFor computes a plot width that fits within the total available width.
func PlotWidthFor(totalWidth int) int {
	if totalWidth <= 0 {
		return minPlotWidth
	}
	axis := utf8.RuneCountInString(axisLabels[0]) + utf8.RuneCountInString(axisSeparator)
	return max(totalWidth-axis, minPlotWidth)
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return terminalWidthBackup
	}
	return width
}

func shouldUseColor(w io.Writer, force bool) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if force {
		return true
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}
