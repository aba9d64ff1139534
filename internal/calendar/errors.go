package calendar

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError captures field level issues that callers surface inline.
type ValidationError struct {
	FieldErrors map[string]string
}

func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v.FieldErrors[field])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	if _, exists := v.FieldErrors[field]; exists {
		return
	}
	v.FieldErrors[field] = message
}

// PlacementWarning reports an event left off the grid because its stored
// position could not be interpreted. It is not an error: the rest of the week
// still renders.
type PlacementWarning struct {
	EventID   string
	StartDate string
	StartTime string
	Reason    string
}

func (w PlacementWarning) String() string {
	return fmt.Sprintf("event %s (%s %s): %s", w.EventID, w.StartDate, w.StartTime, w.Reason)
}
