package messaging

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// ChangesStream retains change notifications for late subscribers.
	ChangesStream   = "CHANGES"
	changesSubjects = "app.change.>"
	changesMaxAge   = 24 * time.Hour
)

// EnsureStreams creates the change-feed stream when it is missing.
func EnsureStreams(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(ChangesStream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      ChangesStream,
		Subjects:  []string{changesSubjects},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    changesMaxAge,
		Replicas:  1,
	})
	return err
}
