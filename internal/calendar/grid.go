package calendar

import (
	"errors"
	"fmt"
	"iter"
	"math"
)

var ErrNonPositiveDuration = errors.New("duration must be positive")

// HourRange is the inclusive span of hours drawn on the grid.
type HourRange struct {
	First int
	Last  int
}

// FullDay covers 00:00 through 23:59.
var FullDay = HourRange{First: 0, Last: 23}

func (r HourRange) Len() int {
	if r.Last < r.First {
		return 0
	}
	return r.Last - r.First + 1
}

func (r HourRange) Contains(hour int) bool {
	return hour >= r.First && hour <= r.Last
}

func (r HourRange) Validate() error {
	if r.First < 0 || r.Last > 23 || r.First > r.Last {
		return fmt.Errorf("hour range %d-%d must satisfy 0 <= first <= last <= 23", r.First, r.Last)
	}
	return nil
}

// Geometry maps times and days onto grid coordinates. Units are abstract:
// pixels in the browser, character cells in the terminal.
type Geometry struct {
	HourHeight   float64
	HeaderHeight float64
	Hours        HourRange
	// Inset is subtracted from every block height so stacked events keep a
	// visible gap. It never takes part in overlap detection.
	Inset       float64
	ColumnWidth float64
	GutterWidth float64
}

func DefaultGeometry() Geometry {
	return Geometry{
		HourHeight:   60,
		HeaderHeight: 40,
		Hours:        FullDay,
		Inset:        4,
		ColumnWidth:  140,
		GutterWidth:  56,
	}
}

func (g Geometry) Validate() error {
	if err := g.Hours.Validate(); err != nil {
		return err
	}
	if g.HourHeight <= 0 {
		return fmt.Errorf("hour height must be positive, got %v", g.HourHeight)
	}
	if g.HeaderHeight < 0 || g.Inset < 0 || g.GutterWidth < 0 {
		return errors.New("header height, inset and gutter width must not be negative")
	}
	if g.ColumnWidth <= 0 {
		return fmt.Errorf("column width must be positive, got %v", g.ColumnWidth)
	}
	return nil
}

// HourRow is one labelled row of the grid.
type HourRow struct {
	Hour  int
	Label string
	Top   float64
}

// Rows yields the rows of the configured hour range.
func (g Geometry) Rows() iter.Seq[HourRow] {
	return g.RowsFor(g.Hours)
}

// RowsFor yields one row per hour in r. The sequence is computed on demand
// and can be ranged over any number of times.
func (g Geometry) RowsFor(r HourRange) iter.Seq[HourRow] {
	return func(yield func(HourRow) bool) {
		for h := r.First; h <= r.Last; h++ {
			row := HourRow{Hour: h, Label: fmt.Sprintf("%02d:00", h), Top: g.OffsetOf(h, 0)}
			if !yield(row) {
				return
			}
		}
	}
}

// OffsetOf returns the vertical offset of hour:minute measured from the top
// of the grid, below the day header.
func (g Geometry) OffsetOf(hour, minute int) float64 {
	return g.HeaderHeight + float64(hour-g.Hours.First)*g.HourHeight + float64(minute)/60*g.HourHeight
}

// VisibleMinutes returns the part of [startMin, endMin) inside the displayed
// hours, in minutes since midnight. ok is false when nothing is visible.
func (g Geometry) VisibleMinutes(startMin, endMin float64) (from, to float64, ok bool) {
	lo := float64(g.Hours.First * 60)
	hi := float64((g.Hours.Last + 1) * 60)
	from, to = max(startMin, lo), min(endMin, hi)
	return from, to, from < to
}

// ExtentOf returns the drawn height of a block lasting durationHours.
func (g Geometry) ExtentOf(durationHours float64) (float64, error) {
	if math.IsNaN(durationHours) || math.IsInf(durationHours, 0) || durationHours <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrNonPositiveDuration, durationHours)
	}
	full := durationHours * g.HourHeight
	if inset := full - g.Inset; inset > 0 {
		return inset, nil
	}
	return full, nil
}

// Height is the total height of the grid including the header.
func (g Geometry) Height() float64 {
	return g.HeaderHeight + float64(g.Hours.Len())*g.HourHeight
}

// Width is the gutter plus seven day columns.
func (g Geometry) Width() float64 {
	return g.GutterWidth + DaysPerWeek*g.ColumnWidth
}

// ColumnLeft is the horizontal offset of day column i.
func (g Geometry) ColumnLeft(i int) float64 {
	return g.GutterWidth + float64(i)*g.ColumnWidth
}

// ColumnAt resolves a horizontal drop coordinate to a day of w. It reports
// false over the hour gutter and past the last column.
func (g Geometry) ColumnAt(w WeekWindow, x float64) (Date, bool) {
	if math.IsNaN(x) || x < g.GutterWidth || g.ColumnWidth <= 0 {
		return Date{}, false
	}
	idx := int((x - g.GutterWidth) / g.ColumnWidth)
	if idx < 0 || idx >= DaysPerWeek {
		return Date{}, false
	}
	return w.Days[idx], true
}

// LaneBox returns the horizontal placement of p within day column i.
func (g Geometry) LaneBox(i int, p PlacedEvent) (left, width float64) {
	count := max(p.LaneCount, 1)
	width = g.ColumnWidth / float64(count)
	return g.ColumnLeft(i) + float64(p.Lane)*width, width
}
