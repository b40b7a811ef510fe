package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	cases := map[string]Range{
		"":           RangeAll,
		"all":        RangeAll,
		"Today":      RangeToday,
		"This Week":  RangeWeek,
		"this month": RangeMonth,
		"YEAR":       RangeYear,
	}
	for in, want := range cases {
		got, err := ParseRange(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseRange("fortnight")
	require.Error(t, err)
}

func TestRangeBounds(t *testing.T) {
	// 2025-03-12 is a Wednesday.
	today := CalendarDay("2025-03-12")

	from, to := RangeWeek.Bounds(today)
	require.Equal(t, CalendarDay("2025-03-09"), from)
	require.Equal(t, today, to)

	from, to = RangeMonth.Bounds(today)
	require.Equal(t, CalendarDay("2025-03-01"), from)
	require.Equal(t, today, to)

	from, to = RangeYear.Bounds(today)
	require.Equal(t, CalendarDay("2025-01-01"), from)
	require.Equal(t, CalendarDay("2025-12-31"), to)

	from, to = RangeAll.Bounds(today)
	require.Empty(t, from)
	require.Empty(t, to)
}

func sampleHistory() []DayEntry {
	return []DayEntry{
		{Date: "2025-03-12", TotalGained: 3, PointsBreakdown: map[string]int64{"css": 3}},
		{Date: "2024-12-31", TotalGained: 100, PointsBreakdown: map[string]int64{"html": 100}},
		{Date: "2025-03-01", TotalGained: 10, PointsBreakdown: map[string]int64{"html": 6, "css": 4}},
		{Date: "2025-02-14", TotalGained: 7, PointsBreakdown: map[string]int64{"js": 7}},
		{Date: "2025-03-09", TotalGained: 2, PointsBreakdown: map[string]int64{"html": 2}},
	}
}

func TestFilterHistory(t *testing.T) {
	history := sampleHistory()
	today := CalendarDay("2025-03-12")

	week := FilterHistory(history, RangeWeek, today)
	require.Len(t, week, 2)
	require.Equal(t, CalendarDay("2025-03-09"), week[0].Date)

	month := FilterHistory(history, RangeMonth, today)
	require.Len(t, month, 3)

	all := FilterHistory(history, RangeAll, today)
	require.Len(t, all, 5)
	require.Equal(t, CalendarDay("2024-12-31"), all[0].Date)
	require.Equal(t, CalendarDay("2025-03-12"), history[0].Date, "input must not be reordered")
}

func TestGroupByYearMonth(t *testing.T) {
	groups := GroupByYearMonth(sampleHistory())
	require.Len(t, groups, 2)
	require.Equal(t, 2024, groups[0].Year)
	require.Equal(t, "December", groups[0].Months[0].Month)

	require.Equal(t, 2025, groups[1].Year)
	require.Len(t, groups[1].Months, 2)
	require.Equal(t, 2, groups[1].Months[0].Number)
	require.Equal(t, "March", groups[1].Months[1].Month)
	require.Len(t, groups[1].Months[1].Entries, 3)
}

func TestBadgesForDateUsesDisplayTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	badges := []Badge{
		// 02:30 UTC on the 13th is still the 12th in Chicago.
		{ID: "1", EarnedDate: "2025-03-13T02:30:00.000Z"},
		{ID: "2", EarnedDate: "2025-03-12"},
		{ID: "3", EarnedDate: "2025-03-13T15:00:00Z"},
		{ID: "4", EarnedDate: "someday"},
	}
	got := BadgesForDate(badges, "2025-03-12", loc)
	require.Len(t, got, 2)
	require.Equal(t, BadgeID("1"), got[0].ID)
	require.Equal(t, BadgeID("2"), got[1].ID)
}

func TestSummarize(t *testing.T) {
	record := NewUserRecord()
	record.LastRecorded.Total = 500
	record.History = sampleHistory()
	record.BadgesEarned = []Badge{
		{ID: "1", EarnedDate: "2025-03-10"},
		{ID: "2", EarnedDate: "2024-06-01"},
	}

	summary := Summarize(record, RangeMonth, "2025-03-12", time.UTC)
	require.Equal(t, int64(500), summary.Total)
	require.Equal(t, int64(15), summary.TotalGained)
	require.Equal(t, map[string]int64{"html": 8, "css": 7}, summary.Breakdown)
	require.Len(t, summary.Badges, 1)

	all := Summarize(record, RangeAll, "2025-03-12", time.UTC)
	require.Equal(t, int64(122), all.TotalGained)
	require.Len(t, all.Badges, 2)
}
