// Package calendar snaps instants forward to the next permissible sending
// moment given a principal's send-hour window, send-day set, and timezone.
// All functions are pure and safe for concurrent use.
package calendar

import (
	"fmt"
	"time"

	"github.com/leadflowhq/outreach/internal/domain"
)

// Window is a resolved send window in a concrete location.
type Window struct {
	Location  *time.Location
	HourStart int
	HourEnd   int
	Weekdays  map[time.Weekday]bool
}

// Resolve validates sequence settings into a Window. Empty weekday sets and
// degenerate hour ranges are rejected so a bad sequence cannot wedge an
// enrollment in an infinite snap loop.
func Resolve(s domain.SequenceSettings) (Window, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return Window{}, fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}
	if s.SendHourStart < 0 || s.SendHourEnd > 24 || s.SendHourStart >= s.SendHourEnd {
		return Window{}, fmt.Errorf("invalid send window %d-%d", s.SendHourStart, s.SendHourEnd)
	}
	if len(s.SendWeekdays) == 0 {
		return Window{}, fmt.Errorf("empty send-day set")
	}
	days := make(map[time.Weekday]bool, len(s.SendWeekdays))
	for _, d := range s.SendWeekdays {
		days[d] = true
	}
	return Window{Location: loc, HourStart: s.SendHourStart, HourEnd: s.SendHourEnd, Weekdays: days}, nil
}

// NextSendTime returns the smallest instant >= target that falls inside the
// window. Instants already inside the window are returned unchanged.
func NextSendTime(target time.Time, s domain.SequenceSettings) (time.Time, error) {
	w, err := Resolve(s)
	if err != nil {
		return time.Time{}, err
	}
	return w.Snap(target), nil
}

// Snap applies the snapping rules: convert to local time, advance to an
// allowed weekday at HourStart if needed, snap hours forward, then convert
// back to UTC.
func (w Window) Snap(target time.Time) time.Time {
	local := target.In(w.Location)

	// Bounded: 7 weekday hops at most, plus one end-of-window day advance.
	for i := 0; i < 9; i++ {
		switch {
		case !w.Weekdays[local.Weekday()]:
			local = atHour(local.AddDate(0, 0, 1), w.HourStart)
		case local.Hour() < w.HourStart:
			local = atHour(local, w.HourStart)
		case local.Hour() >= w.HourEnd:
			local = atHour(local.AddDate(0, 0, 1), w.HourStart)
		default:
			return local.UTC()
		}
	}
	return local.UTC()
}

// Contains reports whether the instant already falls inside the window.
func (w Window) Contains(t time.Time) bool {
	local := t.In(w.Location)
	return w.Weekdays[local.Weekday()] &&
		local.Hour() >= w.HourStart && local.Hour() < w.HourEnd
}

func atHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}
