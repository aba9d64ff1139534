package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformedTime = errors.New("malformed time of day")

// TimeOfDay is a wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts 24-hour `HH:MM` and the `HH:MM:SS` form SQL time
// columns return. Seconds are truncated.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrMalformedTime, raw)
	}
	var fields [3]int
	for i, part := range parts {
		if len(part) != 2 {
			return TimeOfDay{}, fmt.Errorf("%w: %q", ErrMalformedTime, raw)
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return TimeOfDay{}, fmt.Errorf("%w: %q", ErrMalformedTime, raw)
		}
		fields[i] = n
	}
	if fields[0] > 23 || fields[1] > 59 || fields[2] > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %q out of range", ErrMalformedTime, raw)
	}
	return TimeOfDay{Hour: fields[0], Minute: fields[1]}, nil
}

// Minutes returns the minutes elapsed since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) Compare(other TimeOfDay) int {
	return cmpInt(t.Minutes(), other.Minutes())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}
