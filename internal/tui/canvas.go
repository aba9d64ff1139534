package tui

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dragcal/project/internal/calendar"
)

// TerminalGeometry lays the week out in character cells: two rows per hour,
// one header row, a six-cell hour gutter.
func TerminalGeometry(hours calendar.HourRange, columnWidth int) calendar.Geometry {
	return calendar.Geometry{
		HourHeight:   2,
		HeaderHeight: 1,
		Hours:        hours,
		ColumnWidth:  float64(max(columnWidth, 8)),
		GutterWidth:  6,
	}
}

type cellKind uint8

const (
	kindBlank cellKind = iota
	kindRule
	kindLabel
	kindHeader
	kindToday
	kindEvent
	kindSelected
	kindDragging
	kindGhost
)

type cell struct {
	r    rune
	kind cellKind
}

type canvas struct {
	w, h  int
	cells [][]cell
}

func newCanvas(w, h int) *canvas {
	c := &canvas{w: w, h: h, cells: make([][]cell, h)}
	for y := range c.cells {
		row := make([]cell, w)
		for x := range row {
			row[x] = cell{r: ' '}
		}
		c.cells[y] = row
	}
	return c
}

func (c *canvas) put(x, y int, r rune, k cellKind) {
	if x < 0 || y < 0 || x >= c.w || y >= c.h {
		return
	}
	c.cells[y][x] = cell{r: r, kind: k}
}

func (c *canvas) text(x, y int, s string, width int, k cellKind) {
	i := 0
	for _, r := range s {
		if i >= width {
			return
		}
		c.put(x+i, y, r, k)
		i++
	}
}

func (c *canvas) fill(x0, y0, x1, y1 int, k cellKind) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			c.put(x, y, ' ', k)
		}
	}
}

func (c *canvas) render(st Styles) string {
	styleOf := map[cellKind]lipgloss.Style{
		kindRule:     st.Rule,
		kindLabel:    st.Label,
		kindHeader:   st.Header,
		kindToday:    st.Today,
		kindEvent:    st.Event,
		kindSelected: st.Selected,
		kindDragging: st.Dragging,
		kindGhost:    st.Ghost,
	}
	var out strings.Builder
	for y, row := range c.cells {
		if y > 0 {
			out.WriteByte('\n')
		}
		start := 0
		for x := 1; x <= len(row); x++ {
			if x < len(row) && row[x].kind == row[start].kind {
				continue
			}
			var run strings.Builder
			for _, cl := range row[start:x] {
				run.WriteRune(cl.r)
			}
			if style, ok := styleOf[row[start].kind]; ok {
				out.WriteString(style.Render(run.String()))
			} else {
				out.WriteString(run.String())
			}
			start = x
		}
	}
	return out.String()
}

// gridView is what one drawing of the week needs.
type gridView struct {
	Layout   calendar.Layout
	Geometry calendar.Geometry
	Today    calendar.Date
	Selected string
	Dragging string
	// Target is the column a dragged event would land in, or -1.
	Target int
}

func drawGrid(v gridView) *canvas {
	g := v.Geometry
	c := newCanvas(int(g.Width())+1, int(g.Height()))

	for row := range g.Rows() {
		y := int(row.Top)
		c.text(0, y, row.Label, int(g.GutterWidth), kindLabel)
		for x := int(g.GutterWidth); x < c.w; x++ {
			c.put(x, y, '┈', kindRule)
		}
	}
	for i := 0; i <= calendar.DaysPerWeek; i++ {
		x := int(g.ColumnLeft(i))
		for y := 0; y < c.h; y++ {
			c.put(x, y, '│', kindRule)
		}
	}

	for i, col := range v.Layout.Columns {
		kind := kindHeader
		switch {
		case i == v.Target && v.Dragging != "":
			kind = kindGhost
		case col.Date == v.Today:
			kind = kindToday
		}
		label := col.Date.Weekday().String()[:3] + " " + col.Date.Time().Format("02.01")
		c.text(int(g.ColumnLeft(i))+1, 0, label, int(g.ColumnWidth)-1, kind)

		for _, p := range col.Events {
			kind := kindEvent
			switch p.Event.ID {
			case v.Dragging:
				kind = kindDragging
			case v.Selected:
				kind = kindSelected
			}
			drawBlock(c, g, i, p, kind)
		}
	}

	if v.Dragging != "" && v.Target >= 0 {
		if p, ok := v.Layout.Find(v.Dragging); ok {
			p.Lane, p.LaneCount = 0, 1
			drawBlock(c, g, v.Target, p, kindGhost)
		}
	}
	return c
}

func drawBlock(c *canvas, g calendar.Geometry, col int, p calendar.PlacedEvent, kind cellKind) {
	left, width := g.LaneBox(col, p)
	x0 := int(left) + 1
	x1 := max(int(left+width), x0+1)
	y0 := int(p.Top)
	y1 := max(int(math.Ceil(p.Top+p.Height)), y0+1)
	c.fill(x0, y0, x1, y1, kind)
	c.text(x0, y0, p.Start.String()+" "+p.Event.Title, x1-x0, kind)
}
