package scheduler

import (
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
)

// Lane separates a slot's natural trigger from its retry so that a pending retry and
// the next day's occurrence never replace each other.
type Lane string

const (
	LaneScheduled Lane = "scheduled"
	LaneRetry     Lane = "retry"
)

type Key struct {
	UserID string
	Kind   call.Kind
	Lane   Lane
}

type Trigger struct {
	Key
	Due     time.Time
	Attempt int
	// CycleID is empty on natural triggers; a new cycle starts each time one fires.
	CycleID string
	// Slot is the zoned wall-clock time of a recurring daily trigger.
	Slot      call.TimeOfDay
	Recurring bool
	Reason    string
}

// NextOccurrence returns the first instant strictly after now at which the wall clock
// in loc shows slot. Instants are recomputed from the wall-clock slot every time, so
// daylight-saving shifts move the instant instead of the local time.
func NextOccurrence(slot call.TimeOfDay, loc *time.Location, now time.Time) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	candidate := slot.On(y, m, d, loc)
	for i := 1; !candidate.After(now); i++ {
		candidate = slot.On(y, m, d+i, loc)
	}
	return candidate
}
