package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dragcal/project/internal/calendar"
	"gopkg.in/yaml.v3"
)

// Grid is the display configuration of the week grid.
type Grid struct {
	Geometry  calendar.Geometry
	WeekStart time.Weekday
}

// DefaultGrid is a Monday-first, full-day grid.
func DefaultGrid() Grid {
	return Grid{Geometry: calendar.DefaultGeometry(), WeekStart: time.Monday}
}

// gridFile mirrors the YAML document. Pointers distinguish an absent key from
// an explicit zero.
type gridFile struct {
	HourHeight   *float64 `yaml:"hour_height"`
	HeaderHeight *float64 `yaml:"header_height"`
	FirstHour    *int     `yaml:"first_hour"`
	LastHour     *int     `yaml:"last_hour"`
	Inset        *float64 `yaml:"inset"`
	ColumnWidth  *float64 `yaml:"column_width"`
	GutterWidth  *float64 `yaml:"gutter_width"`
	WeekStart    string   `yaml:"week_start"`
}

// LoadGrid reads the grid YAML at path. An empty path or a missing file yields
// the defaults.
func LoadGrid(path string) (Grid, error) {
	if path == "" {
		return DefaultGrid(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultGrid(), nil
		}
		return Grid{}, fmt.Errorf("read grid config %s: %w", path, err)
	}
	grid, err := ParseGrid(data)
	if err != nil {
		return Grid{}, fmt.Errorf("grid config %s: %w", path, err)
	}
	return grid, nil
}

// ParseGrid decodes a grid YAML document over the defaults.
func ParseGrid(data []byte) (Grid, error) {
	var file gridFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return Grid{}, fmt.Errorf("decode yaml: %w", err)
	}

	grid := DefaultGrid()
	g := &grid.Geometry
	invalid := map[string]bool{}

	setPositive := func(key string, src *float64, dst *float64, allowZero bool) {
		if src == nil {
			return
		}
		if *src < 0 || (!allowZero && *src == 0) {
			invalid[key] = true
			return
		}
		*dst = *src
	}
	setPositive("hour_height", file.HourHeight, &g.HourHeight, false)
	setPositive("header_height", file.HeaderHeight, &g.HeaderHeight, true)
	setPositive("inset", file.Inset, &g.Inset, true)
	setPositive("column_width", file.ColumnWidth, &g.ColumnWidth, false)
	setPositive("gutter_width", file.GutterWidth, &g.GutterWidth, true)

	if file.FirstHour != nil {
		g.Hours.First = *file.FirstHour
	}
	if file.LastHour != nil {
		g.Hours.Last = *file.LastHour
	}
	if g.Hours.Validate() != nil {
		invalid["first_hour"] = true
		invalid["last_hour"] = true
	}

	switch strings.ToLower(strings.TrimSpace(file.WeekStart)) {
	case "", "monday":
		grid.WeekStart = time.Monday
	case "sunday":
		grid.WeekStart = time.Sunday
	default:
		invalid["week_start"] = true
	}

	if len(invalid) > 0 {
		keys := make([]string, 0, len(invalid))
		for key := range invalid {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		return Grid{}, fmt.Errorf("invalid grid values: %s", strings.Join(keys, ", "))
	}
	return grid, nil
}
