package calendar

import (
	"math"
	"sort"
)

// PlacedEvent is an event positioned on the grid.
type PlacedEvent struct {
	Event     Event
	Date      Date
	Start     TimeOfDay
	Top       float64
	Height    float64
	Lane      int
	LaneCount int
}

// DayColumn holds the placed events of one day, ordered by (start, id).
type DayColumn struct {
	Date   Date
	Events []PlacedEvent
}

// Layout is the result of one placement pass over a week.
type Layout struct {
	Window   WeekWindow
	Columns  [DaysPerWeek]DayColumn
	Warnings []PlacementWarning
}

// Day returns the placed events of d, or nil when d is not in the window.
func (l Layout) Day(d Date) []PlacedEvent {
	idx := l.Window.IndexOf(d)
	if idx < 0 {
		return nil
	}
	return l.Columns[idx].Events
}

// Find looks up a placed event by id.
func (l Layout) Find(id string) (PlacedEvent, bool) {
	for _, col := range l.Columns {
		for _, p := range col.Events {
			if p.Event.ID == id {
				return p, true
			}
		}
	}
	return PlacedEvent{}, false
}

// Len counts the placed events.
func (l Layout) Len() int {
	n := 0
	for _, col := range l.Columns {
		n += len(col.Events)
	}
	return n
}

type interval struct {
	event    Event
	date     Date
	start    TimeOfDay
	startMin float64
	endMin   float64
}

// Place lays events out on the week. Events whose date is outside the window
// are skipped silently; events whose date, time or duration cannot be
// interpreted, or that fall wholly outside the displayed hours, are reported
// as warnings and left off the grid. Blocks partly outside the displayed
// hours are clipped to them.
//
// Overlapping events in a day are split into lanes: each event takes the
// lowest lane free at its start, and every event in a cluster of transitively
// overlapping events shares the cluster's lane count.
func Place(events []Event, w WeekWindow, g Geometry) Layout {
	layout := Layout{Window: w}
	for i := range layout.Columns {
		layout.Columns[i].Date = w.Days[i]
	}

	var buckets [DaysPerWeek][]interval
	for _, ev := range events {
		iv, idx, warn := classify(ev, w, g)
		if warn != nil {
			layout.Warnings = append(layout.Warnings, *warn)
			continue
		}
		if idx < 0 {
			continue
		}
		buckets[idx] = append(buckets[idx], iv)
	}

	for i, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		sort.Slice(bucket, func(a, b int) bool {
			if bucket[a].startMin != bucket[b].startMin {
				return bucket[a].startMin < bucket[b].startMin
			}
			return bucket[a].event.ID < bucket[b].event.ID
		})
		layout.Columns[i].Events = assignLanes(bucket, g)
	}
	return layout
}

func classify(ev Event, w WeekWindow, g Geometry) (interval, int, *PlacementWarning) {
	warn := func(reason string) *PlacementWarning {
		return &PlacementWarning{EventID: ev.ID, StartDate: ev.StartDate, StartTime: ev.StartTime, Reason: reason}
	}
	date, err := ParseDate(ev.StartDate)
	if err != nil {
		return interval{}, -1, warn("start_date is not YYYY-MM-DD")
	}
	idx := w.IndexOf(date)
	if idx < 0 {
		return interval{}, -1, nil
	}
	start, err := ParseTimeOfDay(ev.StartTime)
	if err != nil {
		return interval{}, -1, warn("start_time is not HH:MM")
	}
	d := ev.DurationHours
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return interval{}, -1, warn("duration_hours is not positive")
	}
	startMin := float64(start.Minutes())
	if _, _, ok := g.VisibleMinutes(startMin, startMin+d*60); !ok {
		return interval{}, -1, warn("outside the displayed hours")
	}
	return interval{
		event:    ev,
		date:     date,
		start:    start,
		startMin: startMin,
		endMin:   startMin + d*60,
	}, idx, nil
}

// assignLanes sweeps a sorted bucket. Intervals are half-open, so an event
// ending at 10:00 does not overlap one starting at 10:00.
func assignLanes(bucket []interval, g Geometry) []PlacedEvent {
	placed := make([]PlacedEvent, len(bucket))
	// laneEnd[l] is the end of the interval occupying lane l, or -1 when free.
	var laneEnd []float64
	clusterStart, clusterLanes, active := 0, 0, 0

	closeCluster := func(end int) {
		for j := clusterStart; j < end; j++ {
			placed[j].LaneCount = clusterLanes
		}
	}

	for i, iv := range bucket {
		for l, end := range laneEnd {
			if end >= 0 && end <= iv.startMin {
				laneEnd[l] = -1
				active--
			}
		}
		if active == 0 && i > clusterStart {
			closeCluster(i)
			clusterStart, clusterLanes = i, 0
			laneEnd = laneEnd[:0]
		}

		lane := -1
		for l, end := range laneEnd {
			if end < 0 {
				lane = l
				break
			}
		}
		if lane < 0 {
			lane = len(laneEnd)
			laneEnd = append(laneEnd, iv.endMin)
		} else {
			laneEnd[lane] = iv.endMin
		}
		active++
		clusterLanes = max(clusterLanes, lane+1)

		// Blocks running past the displayed hours are clipped to them;
		// classify already dropped blocks with nothing visible.
		from, to, _ := g.VisibleMinutes(iv.startMin, iv.endMin)
		height, _ := g.ExtentOf((to - from) / 60)
		placed[i] = PlacedEvent{
			Event:  iv.event,
			Date:   iv.date,
			Start:  iv.start,
			Top:    g.OffsetOf(int(from)/60, int(from)%60),
			Height: height,
			Lane:   lane,
		}
	}
	closeCluster(len(bucket))
	return placed
}
