package metrics

// Calendar metrics shared by the store, drag and view packages.
var (
	StoreWrites = NewCounterVec(Opts{
		Name: "calendar_store_writes_total",
		Help: "Event store writes by operation and outcome.",
	}, []string{"op", "outcome"})

	SnapshotReloads = NewCounterVec(Opts{
		Name: "calendar_snapshot_reloads_total",
		Help: "Schedule snapshot reloads by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	DragGestures = NewCounterVec(Opts{
		Name: "calendar_drag_gestures_total",
		Help: "Resolved drag gestures by outcome.",
	}, []string{"outcome"})

	PlacementWarnings = NewCounter(Opts{
		Name: "calendar_placement_warnings_total",
		Help: "Events left off the grid because their position could not be parsed.",
	})

	OpenViews = NewGauge(Opts{
		Name: "calendar_open_views",
		Help: "Calendar views currently mounted.",
	})
)

func init() {
	Default.MustRegister(StoreWrites, SnapshotReloads, DragGestures, PlacementWarnings, OpenViews)
}

// Outcome maps an error to the outcome label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
