package programday

import (
	"fmt"
	"time"
)

// DayFormat is the canonical program day layout, a local calendar date.
const DayFormat = "2006-01-02"

// DefaultCutoffHour is the local hour at which a program day closes.
// Instants between midnight and this hour belong to the previous day.
const DefaultCutoffHour = 2

// DefaultUTCOffsetHours is the program's fixed timezone offset (KST).
const DefaultUTCOffsetHours = 9

// Rules carries the timezone and cutoff policy. It is passed explicitly to
// every resolver so tests can exercise alternate offsets without touching
// shared state.
type Rules struct {
	Location   *time.Location
	CutoffHour int
}

// Default returns the production rules: fixed UTC+9, 2am cutoff.
func Default() Rules {
	return Rules{
		Location:   FixedOffset(DefaultUTCOffsetHours),
		CutoffHour: DefaultCutoffHour,
	}
}

// FixedOffset builds a DST-free location at the given whole-hour offset.
func FixedOffset(hours int) *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", hours), hours*3600)
}

func (r Rules) location() *time.Location {
	if r.Location != nil {
		return r.Location
	}
	return FixedOffset(DefaultUTCOffsetHours)
}

func (r Rules) cutoff() int {
	if r.CutoffHour > 0 {
		return r.CutoffHour
	}
	return DefaultCutoffHour
}

// ProgramDay resolves the logical calendar day an instant belongs to.
// Local instants before the cutoff hour are attributed to the previous
// date; exactly at the cutoff belongs to the current date.
func (r Rules) ProgramDay(t time.Time) string {
	if t.IsZero() {
		panic("programday: zero instant")
	}
	local := t.In(r.location())
	if local.Hour() < r.cutoff() {
		local = local.AddDate(0, 0, -1)
	}
	return local.Format(DayFormat)
}

// MatchingTargetDay resolves the day whose match assignments govern
// visibility at the given instant. After the cutoff that is yesterday;
// before the cutoff yesterday has not closed yet, so it is the day before
// that. It is never equal to ProgramDay for the same instant.
func (r Rules) MatchingTargetDay(t time.Time) string {
	if t.IsZero() {
		panic("programday: zero instant")
	}
	local := t.In(r.location())
	if local.Hour() < r.cutoff() {
		local = local.AddDate(0, 0, -2)
	} else {
		local = local.AddDate(0, 0, -1)
	}
	return local.Format(DayFormat)
}

// LocalDate returns the plain local calendar date with no cutoff applied.
func (r Rules) LocalDate(t time.Time) string {
	return t.In(r.location()).Format(DayFormat)
}

// ParseDay validates and re-renders a YYYY-MM-DD day string.
func ParseDay(s string) (string, error) {
	t, err := time.Parse(DayFormat, s)
	if err != nil {
		return "", fmt.Errorf("invalid day %q: %w", s, err)
	}
	return t.Format(DayFormat), nil
}

// PrevDay returns the day string one calendar day earlier.
func PrevDay(day string) (string, error) {
	t, err := time.Parse(DayFormat, day)
	if err != nil {
		return "", fmt.Errorf("invalid day %q: %w", day, err)
	}
	return t.AddDate(0, 0, -1).Format(DayFormat), nil
}
