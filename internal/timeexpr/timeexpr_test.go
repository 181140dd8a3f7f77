package timeexpr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday.
var now = time.Date(2024, 5, 8, 15, 30, 0, 0, time.UTC)

func TestPeriod(t *testing.T) {
	cases := []struct {
		expr     string
		from, to time.Time
	}{
		{"today", date(2024, 5, 8), date(2024, 5, 9)},
		{"Yesterday", date(2024, 5, 7), date(2024, 5, 8)},
		{"this week", date(2024, 5, 6), date(2024, 5, 13)},
		{"last week", date(2024, 4, 29), date(2024, 5, 6)},
		{"previous month", date(2024, 4, 1), date(2024, 5, 1)},
		{"this year", date(2024, 1, 1), date(2025, 1, 1)},
	}
	for _, tc := range cases {
		r, ok := Period(tc.expr, now)
		require.True(t, ok, tc.expr)
		assert.True(t, tc.from.Equal(r.From), "%s from %s", tc.expr, r.From)
		assert.True(t, tc.to.Equal(r.To), "%s to %s", tc.expr, r.To)
	}

	_, ok := Period("next week", now)
	assert.False(t, ok)
}

func TestPeriodWeekOnSunday(t *testing.T) {
	sunday := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	r, ok := Period("this week", sunday)
	require.True(t, ok)
	assert.True(t, date(2024, 5, 6).Equal(r.From))
}

func TestParseLayouts(t *testing.T) {
	got, err := Parse("2024-05-01", now)
	require.NoError(t, err)
	assert.True(t, date(2024, 5, 1).Equal(got))

	got, err = Parse("2024-05-01 09:15", now)
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 5, 1, 9, 15, 0, 0, time.UTC).Equal(got))

	got, err = Parse("2024-05-01T09:15:00+02:00", now)
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 5, 1, 7, 15, 0, 0, time.UTC).Equal(got))

	got, err = Parse("now", now)
	require.NoError(t, err)
	assert.True(t, now.Equal(got))

	got, err = Parse("", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestParseNaturalLanguage(t *testing.T) {
	got, err := Parse("3 days ago", now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.AddDate(0, 0, -3), got, 12*time.Hour)
}

func TestParseRange(t *testing.T) {
	r, err := ParseRange("last week", "", now)
	require.NoError(t, err)
	assert.True(t, date(2024, 4, 29).Equal(r.From))
	assert.True(t, date(2024, 5, 6).Equal(r.To))

	r, err = ParseRange("2024-05-01", "yesterday", now)
	require.NoError(t, err)
	assert.True(t, date(2024, 5, 1).Equal(r.From))
	assert.True(t, date(2024, 5, 8).Equal(r.To))

	r, err = ParseRange("", "", now)
	require.NoError(t, err)
	assert.True(t, r.From.IsZero() && r.To.IsZero())

	_, err = ParseRange("2024-05-02", "2024-05-01", now)
	require.ErrorContains(t, err, "not after start")
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
