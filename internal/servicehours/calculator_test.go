package servicehours

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/chatdesk/internal/domain"
)

func weekdayCalendar(from, to int, response time.Duration) domain.ServiceHoursCalendar {
	cal := domain.ServiceHoursCalendar{
		ResponseTime:   domain.ResponseTime{Minutes: int(response / time.Minute)},
		DangerFraction: 0.8,
	}
	for d := time.Monday; d <= time.Friday; d++ {
		cal.Windows = append(cal.Windows, domain.HoursWindow{Weekday: d, From: from, To: to})
	}
	return cal
}

// 2024-01-03 is a Wednesday.
func at(day, hour, minute int) time.Time {
	return time.Date(2024, 1, day, hour, minute, 0, 0, time.UTC)
}

func TestIsInsideHours(t *testing.T) {
	cal := weekdayCalendar(9*60, 17*60, 30*time.Minute)

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before opening", at(3, 8, 59), false},
		{"at opening", at(3, 9, 0), true},
		{"midday", at(3, 12, 30), true},
		{"at closing minute", at(3, 17, 0), true},
		{"after closing", at(3, 17, 1), false},
		{"saturday", at(6, 12, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsInsideHours(cal, tc.now, time.UTC))
		})
	}
}

func TestNextWindowStart(t *testing.T) {
	cal := weekdayCalendar(9*60, 17*60, 30*time.Minute)

	next, err := NextWindowStart(cal, at(3, 7, 0), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(3, 9, 0), next, "today's window has not started yet")

	next, err = NextWindowStart(cal, at(3, 20, 0), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(4, 9, 0), next)

	next, err = NextWindowStart(cal, at(5, 18, 0), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(8, 9, 0), next, "friday evening wraps to monday")
}

func TestNextWindowStartSingleDayWrapsAWeek(t *testing.T) {
	cal := domain.ServiceHoursCalendar{Windows: []domain.HoursWindow{{Weekday: time.Wednesday, From: 9 * 60, To: 10 * 60}}}
	next, err := NextWindowStart(cal, at(3, 11, 0), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(10, 9, 0), next)
}

func TestNextWindowStartWithoutWindows(t *testing.T) {
	_, err := NextWindowStart(domain.ServiceHoursCalendar{}, at(3, 11, 0), time.UTC)
	assert.ErrorIs(t, err, ErrNoWindows)
}

func TestDeadline(t *testing.T) {
	cal := weekdayCalendar(9*60, 17*60, 30*time.Minute)

	assert.Equal(t, at(3, 17, 20), Deadline(cal, at(3, 16, 50), time.UTC), "not clipped at window end")
	assert.Equal(t, at(4, 9, 30), Deadline(cal, at(3, 20, 0), time.UTC))
	assert.Equal(t, at(3, 12, 30), Deadline(domain.ServiceHoursCalendar{ResponseTime: domain.ResponseTime{Minutes: 30}}, at(3, 12, 0), time.UTC))
}

func TestDeadlineUsesCalendarTimezone(t *testing.T) {
	cal := weekdayCalendar(9*60, 17*60, 15*time.Minute)
	cal.Timezone = "Europe/Berlin"

	// 07:30 UTC is 08:30 in Berlin in winter, before opening.
	got := Deadline(cal, at(3, 7, 30), time.UTC)
	assert.Equal(t, at(3, 8, 15), got.UTC())
}

func TestDangerAt(t *testing.T) {
	deadline := at(3, 10, 15)
	assert.Equal(t, at(3, 10, 12), DangerAt(deadline, 15*time.Minute, 0.8, at(3, 10, 0)))

	overnight := at(4, 9, 30)
	assert.Equal(t, at(4, 9, 24), DangerAt(overnight, 30*time.Minute, 0.8, at(3, 20, 0)))

	assert.Equal(t, at(3, 10, 14), DangerAt(deadline, 15*time.Minute, 0.8, at(3, 10, 14)), "never in the past")
}
