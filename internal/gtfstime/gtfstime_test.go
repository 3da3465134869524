package gtfstime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseInstantScheduledArrival(t *testing.T) {
	loc, err := time.LoadLocation("Pacific/Auckland")
	require.NoError(t, err)

	got, err := ParseInstant("20240205", "08:00:00", loc)
	require.NoError(t, err)

	want := time.Date(2024, 2, 4, 19, 0, 0, 0, time.UTC)
	require.True(t, got.Equal(want), "got %v want %v", got.UTC(), want)
}

func TestParseInstantPostMidnightHour(t *testing.T) {
	got, err := ParseInstant("20240205", "25:15:00", time.UTC)
	require.NoError(t, err)

	want := time.Date(2024, 2, 6, 1, 15, 0, 0, time.UTC)
	require.True(t, got.Equal(want), "got %v want %v", got, want)
}

func TestParseTimeOfDayRejectsBadMinutes(t *testing.T) {
	_, err := ParseTimeOfDay("10:61:00")
	require.Error(t, err)
}

func TestAddDaysRollsMonth(t *testing.T) {
	got, err := AddDays("20240131", 1)
	require.NoError(t, err)
	require.Equal(t, "20240201", got)
}

func TestCompareOrdersLexicographically(t *testing.T) {
	require.Equal(t, -1, Compare("20240101", "20240102"))
	require.Equal(t, 0, Compare("20240101", "20240101"))
	require.Equal(t, 1, Compare("20240102", "20240101"))
}
