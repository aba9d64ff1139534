package contracts

import "time"

// EventRecord is an event row as persisted. DurationHours is optional on the
// wire; readers default it to one hour.
type EventRecord struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	StartDate     string   `json:"start_date"`
	StartTime     string   `json:"start_time"`
	DurationHours *float64 `json:"duration_hours,omitempty"`
	AssignedTo    string   `json:"assigned_to,omitempty"`
	CompanyID     string   `json:"company_id,omitempty"`
	Status        string   `json:"status,omitempty"`
}

// Change kinds carried by ChangeNotification.
const (
	ChangeInsert = "insert"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// ChangeNotification is published on the change feed after every committed
// write. Subscribers treat it as a signal to reload, not as a patch.
type ChangeNotification struct {
	NotificationID string       `json:"notification_id"`
	Table          string       `json:"table"`
	Kind           string       `json:"kind"`
	RecordID       string       `json:"record_id"`
	ScopeKey       string       `json:"scope_key"`
	Record         *EventRecord `json:"record,omitempty"`
	OccurredAt     time.Time    `json:"occurred_at"`
	ShardID        int          `json:"shard_id"`
}
