package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflowhq/outreach/internal/domain"
)

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

func TestSnapInsideWindowIsIdempotent(t *testing.T) {
	loc := berlin(t)
	s := domain.DefaultSettings("Europe/Berlin")

	// Monday 10:00 local is already inside Mon-Fri 09:00-18:00.
	target := time.Date(2025, 3, 10, 10, 0, 0, 0, loc)
	got, err := NextSendTime(target, s)
	require.NoError(t, err)
	assert.True(t, got.Equal(target), "in-window instant must be unchanged, got %s", got)

	// Snapping the result again is a no-op.
	again, err := NextSendTime(got, s)
	require.NoError(t, err)
	assert.True(t, again.Equal(got))
}

func TestSnapWeekend(t *testing.T) {
	loc := berlin(t)
	s := domain.DefaultSettings("Europe/Berlin")

	// Saturday 14:00 → Monday 09:00.
	target := time.Date(2025, 3, 8, 14, 0, 0, 0, loc)
	got, err := NextSendTime(target, s)
	require.NoError(t, err)

	local := got.In(loc)
	assert.Equal(t, time.Monday, local.Weekday())
	assert.Equal(t, 9, local.Hour())
	assert.Equal(t, 10, local.Day())
}

func TestSnapBeforeHours(t *testing.T) {
	loc := berlin(t)
	s := domain.DefaultSettings("Europe/Berlin")

	// Tuesday 06:30 → Tuesday 09:00 same day.
	target := time.Date(2025, 3, 11, 6, 30, 0, 0, loc)
	got, err := NextSendTime(target, s)
	require.NoError(t, err)

	local := got.In(loc)
	assert.Equal(t, 11, local.Day())
	assert.Equal(t, 9, local.Hour())
	assert.Equal(t, 0, local.Minute())
}

func TestSnapAfterHours(t *testing.T) {
	loc := berlin(t)
	s := domain.DefaultSettings("Europe/Berlin")

	// Friday 18:05 → Monday 09:00 (Saturday is skipped).
	target := time.Date(2025, 3, 14, 18, 5, 0, 0, loc)
	got, err := NextSendTime(target, s)
	require.NoError(t, err)

	local := got.In(loc)
	assert.Equal(t, time.Monday, local.Weekday())
	assert.Equal(t, 17, local.Day())
	assert.Equal(t, 9, local.Hour())
}

func TestSnapKeepsMinutesInsideWindow(t *testing.T) {
	loc := berlin(t)
	s := domain.DefaultSettings("Europe/Berlin")

	target := time.Date(2025, 3, 12, 9, 45, 30, 0, loc)
	got, err := NextSendTime(target, s)
	require.NoError(t, err)
	assert.True(t, got.Equal(target))
}

func TestSnapCustomWeekdaySet(t *testing.T) {
	s := domain.SequenceSettings{
		Timezone:      "UTC",
		SendHourStart: 8,
		SendHourEnd:   12,
		SendWeekdays:  []time.Weekday{time.Sunday},
	}

	// Wednesday noon → next Sunday 08:00.
	target := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	got, err := NextSendTime(target, s)
	require.NoError(t, err)
	assert.Equal(t, time.Sunday, got.Weekday())
	assert.Equal(t, 8, got.Hour())
}

func TestResolveRejectsBadSettings(t *testing.T) {
	cases := []struct {
		name string
		s    domain.SequenceSettings
	}{
		{"bad timezone", domain.SequenceSettings{Timezone: "Mars/Olympus", SendHourStart: 9, SendHourEnd: 18, SendWeekdays: []time.Weekday{time.Monday}}},
		{"empty weekdays", domain.SequenceSettings{Timezone: "UTC", SendHourStart: 9, SendHourEnd: 18}},
		{"inverted window", domain.SequenceSettings{Timezone: "UTC", SendHourStart: 18, SendHourEnd: 9, SendWeekdays: []time.Weekday{time.Monday}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(tc.s)
			assert.Error(t, err)
		})
	}
}

func TestContains(t *testing.T) {
	s := domain.DefaultSettings("UTC")
	w, err := Resolve(s)
	require.NoError(t, err)

	assert.True(t, w.Contains(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)))  // Sunday
	assert.False(t, w.Contains(time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC))) // end is exclusive
}
