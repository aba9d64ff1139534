package frontend

import (
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/dragcal/project/internal/calendar"
)

//go:generate go run github.com/a-h/templ/cmd/templ@v0.3.977 generate

// GridData is everything the week grid renders.
type GridData struct {
	ScopeKey string
	Layout   calendar.Layout
	Geometry calendar.Geometry
	Today    calendar.Date
	// Dragging is the id of the event picked up by this client, if any.
	Dragging string
}

func gridStyle(g calendar.Geometry) templ.SafeCSS {
	return templ.SafeCSS("width:" + px(g.Width()) + ";height:" + px(g.Height()))
}

func gutterStyle(g calendar.Geometry) templ.SafeCSS {
	return templ.SafeCSS("width:" + px(g.GutterWidth))
}

func topStyle(top float64) templ.SafeCSS {
	return templ.SafeCSS("top:" + px(top))
}

func columnStyle(g calendar.Geometry, col int) templ.SafeCSS {
	return templ.SafeCSS("left:" + px(g.ColumnLeft(col)) + ";width:" + px(g.ColumnWidth))
}

func headStyle(g calendar.Geometry) templ.SafeCSS {
	return templ.SafeCSS("height:" + px(g.HeaderHeight))
}

// blockStyle positions p inside its day column, so left is relative to the
// column edge.
func blockStyle(g calendar.Geometry, col int, p calendar.PlacedEvent) templ.SafeCSS {
	left, width := g.LaneBox(col, p)
	return templ.SafeCSS("top:" + px(p.Top) + ";height:" + px(p.Height) +
		";left:" + px(left-g.ColumnLeft(col)) + ";width:" + px(width))
}

func laneLabel(p calendar.PlacedEvent) string {
	return strconv.Itoa(p.Lane) + "/" + strconv.Itoa(p.LaneCount)
}

func statusClass(s calendar.Status) string {
	return "status-" + string(s)
}

func dayLabel(d calendar.Date) string {
	return d.Weekday().String()[:3] + " " + d.Time().Format("02.01")
}

func weekSignal(w calendar.WeekWindow) string {
	return "'" + w.Start().String() + "'"
}

func registerSignals(token string) string {
	return "{token: '" + jsString(token) + "', email: '', password: '', access_token: '', refresh_token: '', user_id: '', message: ''}"
}

func inviteMissing(token string) bool {
	return strings.TrimSpace(token) == ""
}

func jsString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func px(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}
