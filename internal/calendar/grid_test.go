package calendar

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestGeometry_OffsetAndExtent(t *testing.T) {
	g := Geometry{HourHeight: 60, HeaderHeight: 40, Hours: FullDay, Inset: 4, ColumnWidth: 100}
	if got := g.OffsetOf(9, 30); got != 40+9*60+30 {
		t.Fatalf("unexpected offset %v", got)
	}
	h, err := g.ExtentOf(1.5)
	if err != nil || h != 86 {
		t.Fatalf("expected extent 86, got %v err=%v", h, err)
	}
	// Blocks too short for the inset keep their full height.
	h, err = g.ExtentOf(0.0625)
	if err != nil || h != 3.75 {
		t.Fatalf("expected extent 3.75, got %v err=%v", h, err)
	}
	for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := g.ExtentOf(bad); !errors.Is(err, ErrNonPositiveDuration) {
			t.Fatalf("expected ErrNonPositiveDuration for %v, got %v", bad, err)
		}
	}
}

func TestGeometry_OffsetFromFirstDisplayedHour(t *testing.T) {
	g := Geometry{HourHeight: 50, HeaderHeight: 20, Hours: HourRange{First: 8, Last: 18}, ColumnWidth: 100}
	if got := g.OffsetOf(8, 0); got != 20 {
		t.Fatalf("expected first row right below the header, got %v", got)
	}
	if got := g.Height(); got != 20+11*50 {
		t.Fatalf("unexpected height %v", got)
	}
}

func TestGeometry_RowsIsRestartable(t *testing.T) {
	g := DefaultGeometry()
	g.Hours = HourRange{First: 9, Last: 12}
	rows := g.Rows()
	for pass := 0; pass < 2; pass++ {
		var labels []string
		for row := range rows {
			labels = append(labels, row.Label)
		}
		if len(labels) != 4 || labels[0] != "09:00" || labels[3] != "12:00" {
			t.Fatalf("pass %d: unexpected labels %v", pass, labels)
		}
	}
	count := 0
	for range g.RowsFor(FullDay) {
		count++
		if count == 3 {
			break
		}
	}
	if count != 3 {
		t.Fatalf("expected early stop after 3 rows, got %d", count)
	}
}

func TestGeometry_ColumnAt(t *testing.T) {
	g := Geometry{HourHeight: 60, Hours: FullDay, ColumnWidth: 100, GutterWidth: 50}
	w := NewWeekWindow(MustParseDate("2024-03-06"), time.Monday)
	tests := []struct {
		x    float64
		want string
		ok   bool
	}{
		{10, "", false},
		{50, "2024-03-04", true},
		{260, "2024-03-06", true},
		{749.9, "2024-03-10", true},
		{750, "", false},
	}
	for _, tt := range tests {
		got, ok := g.ColumnAt(w, tt.x)
		if ok != tt.ok {
			t.Fatalf("x=%v: expected ok=%v, got %v", tt.x, tt.ok, ok)
		}
		if ok && got.String() != tt.want {
			t.Fatalf("x=%v: expected %s, got %s", tt.x, tt.want, got)
		}
	}
}

func TestGeometry_Validate(t *testing.T) {
	if err := DefaultGeometry().Validate(); err != nil {
		t.Fatalf("default geometry invalid: %v", err)
	}
	g := DefaultGeometry()
	g.Hours = HourRange{First: 10, Last: 9}
	if err := g.Validate(); err == nil {
		t.Fatal("expected inverted hour range to fail")
	}
	g = DefaultGeometry()
	g.HourHeight = 0
	if err := g.Validate(); err == nil {
		t.Fatal("expected zero hour height to fail")
	}
}
