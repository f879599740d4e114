package reminder

import "time"

// Repeat is the recurrence class of a reminder.
type Repeat string

const (
	RepeatNone     Repeat = "none"
	RepeatInterval Repeat = "interval"
	RepeatHourly   Repeat = "hourly"
	RepeatDaily    Repeat = "daily"
	RepeatWeekly   Repeat = "weekly"
)

const (
	hourMs = int64(3_600_000)
	dayMs  = int64(86_400_000)
	weekMs = int64(604_800_000)
)

// FollowUp is a secondary prompt surfaced after a reminder fires.
type FollowUp struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Reminder is the single persisted entity. All timestamps are Unix
// epoch milliseconds; zero means absent. NextFireAt of zero means the
// reminder carries no scheduled time and is never picked up by a scan.
type Reminder struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	NextFireAt  int64      `json:"nextFireAt,omitempty"`
	Repeat      Repeat     `json:"repeat"`
	IntervalMs  int64      `json:"intervalMs,omitempty"`
	FollowUps   []FollowUp `json:"followUps,omitempty"`
	Enabled     bool       `json:"enabled"`
	Fired       bool       `json:"fired,omitempty"`
	CompletedAt int64      `json:"completedAt,omitempty"`
	Snoozed     bool       `json:"snoozed,omitempty"`
	CreatedAt   int64      `json:"createdAt,omitempty"`

	// Version increases on every committed write. A fire transition is
	// conditioned on the version observed at read time so that at most
	// one fire commits per due window.
	Version int64 `json:"-"`
}

// EffectiveInterval returns the recurrence gap in milliseconds, or a
// non-positive value when the reminder is one-shot.
func (r Reminder) EffectiveInterval() int64 {
	switch r.Repeat {
	case RepeatInterval:
		return r.IntervalMs
	case RepeatHourly:
		return hourMs
	case RepeatDaily:
		return dayMs
	case RepeatWeekly:
		return weekMs
	default:
		return 0
	}
}

// DueAt reports whether the reminder should fire at the given time.
// Disabled reminders and reminders without a scheduled time never fire.
func (r Reminder) DueAt(nowMs int64) bool {
	return r.Enabled && r.NextFireAt > 0 && r.NextFireAt <= nowMs
}

// NextOccurrence computes the reminder's next occurrence from the
// reference time. The second return value is false when the reminder is
// terminal: repeat is none, or its effective interval is not positive.
//
// A non-terminal result is a copy of the reminder re-armed at
// ref + interval. The reference time is the firing scan's notion of
// now, never the original due time, so missed windows do not compound
// into catch-up firings.
func NextOccurrence(r Reminder, ref time.Time) (Reminder, bool) {
	interval := r.EffectiveInterval()
	if interval <= 0 {
		return Reminder{}, false
	}

	next := r
	next.NextFireAt = ref.UnixMilli() + interval
	return next, true
}
