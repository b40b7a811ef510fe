package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Range selects a window of history anchored at the current calendar day.
type Range string

const (
	RangeToday Range = "today"
	RangeWeek  Range = "week"
	RangeMonth Range = "month"
	RangeYear  Range = "year"
	RangeAll   Range = "all"
)

// ParseRange accepts range names and the dashboard tab labels ("Today", "This Week", ...).
// An empty value selects RangeAll.
func ParseRange(value string) (Range, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.TrimPrefix(normalized, "this ")
	switch normalized {
	case "", "all":
		return RangeAll, nil
	case "today":
		return RangeToday, nil
	case "week":
		return RangeWeek, nil
	case "month":
		return RangeMonth, nil
	case "year":
		return RangeYear, nil
	}
	return "", fmt.Errorf("unknown range %q", value)
}

// Bounds returns the inclusive first and last day of the range. Both are empty for RangeAll.
// Weeks start on Sunday.
func (r Range) Bounds(today CalendarDay) (CalendarDay, CalendarDay) {
	t, err := today.Time(time.UTC)
	if err != nil {
		return "", ""
	}
	switch r {
	case RangeToday:
		return today, today
	case RangeWeek:
		return today.AddDays(-int(t.Weekday())), today
	case RangeMonth:
		first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return DayOf(first, time.UTC), today
	case RangeYear:
		first := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		last := time.Date(t.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
		return DayOf(first, time.UTC), DayOf(last, time.UTC)
	}
	return "", ""
}

func (r Range) contains(day, from, to CalendarDay) bool {
	if r == RangeAll {
		return true
	}
	if !day.Valid() || from == "" {
		return false
	}
	return day >= from && day <= to
}

// FilterHistory returns the entries within rng, oldest first. The input is not modified.
func FilterHistory(history []DayEntry, rng Range, today CalendarDay) []DayEntry {
	from, to := rng.Bounds(today)
	out := make([]DayEntry, 0, len(history))
	for _, entry := range history {
		if rng.contains(entry.Date, from, to) {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// MonthGroup lists the entries of one month.
type MonthGroup struct {
	Month   string     `json:"month"`
	Number  int        `json:"number"`
	Entries []DayEntry `json:"entries"`
}

// YearGroup lists the months of one year that have entries.
type YearGroup struct {
	Year   int          `json:"year"`
	Months []MonthGroup `json:"months"`
}

// GroupByYearMonth groups history chronologically. Entries with malformed dates are skipped.
func GroupByYearMonth(history []DayEntry) []YearGroup {
	sorted := FilterHistory(history, RangeAll, "")
	groups := make([]YearGroup, 0)
	for _, entry := range sorted {
		t, err := entry.Date.Time(time.UTC)
		if err != nil {
			continue
		}
		if len(groups) == 0 || groups[len(groups)-1].Year != t.Year() {
			groups = append(groups, YearGroup{Year: t.Year()})
		}
		year := &groups[len(groups)-1]
		if len(year.Months) == 0 || year.Months[len(year.Months)-1].Number != int(t.Month()) {
			year.Months = append(year.Months, MonthGroup{Month: t.Month().String(), Number: int(t.Month())})
		}
		month := &year.Months[len(year.Months)-1]
		month.Entries = append(month.Entries, entry)
	}
	return groups
}

// BadgeDay resolves the calendar day a badge was earned on. earned_date may be an RFC 3339
// instant, which is converted to loc, or a plain date.
func BadgeDay(badge Badge, loc *time.Location) (CalendarDay, bool) {
	value := strings.TrimSpace(badge.EarnedDate)
	if value == "" {
		return "", false
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return DayOf(t, loc), true
	}
	if len(value) >= len(dayLayout) {
		if day, err := ParseCalendarDay(value[:len(dayLayout)]); err == nil {
			return day, true
		}
	}
	return "", false
}

// BadgesForDate returns the badges earned on day.
func BadgesForDate(badges []Badge, day CalendarDay, loc *time.Location) []Badge {
	out := make([]Badge, 0)
	for _, badge := range badges {
		if earned, ok := BadgeDay(badge, loc); ok && earned == day {
			out = append(out, badge)
		}
	}
	return out
}

// Summary is the dashboard view of a record over a range.
type Summary struct {
	Range       Range            `json:"range"`
	From        CalendarDay      `json:"from,omitempty"`
	To          CalendarDay      `json:"to,omitempty"`
	Total       int64            `json:"total"`
	TotalGained int64            `json:"totalGained"`
	Breakdown   map[string]int64 `json:"pointsBreakdown"`
	Days        []DayEntry       `json:"days"`
	Badges      []Badge          `json:"badges"`
}

// Summarize totals the history and badges of record that fall within rng.
func Summarize(record UserRecord, rng Range, today CalendarDay, loc *time.Location) Summary {
	from, to := rng.Bounds(today)
	summary := Summary{
		Range:     rng,
		From:      from,
		To:        to,
		Total:     record.LastRecorded.Total,
		Breakdown: map[string]int64{},
		Days:      FilterHistory(record.History, rng, today),
		Badges:    []Badge{},
	}
	for _, entry := range summary.Days {
		summary.TotalGained += entry.TotalGained
		for category, points := range entry.PointsBreakdown {
			summary.Breakdown[category] += points
		}
	}
	for _, badge := range record.BadgesEarned {
		if rng == RangeAll {
			summary.Badges = append(summary.Badges, badge)
			continue
		}
		if day, ok := BadgeDay(badge, loc); ok && rng.contains(day, from, to) {
			summary.Badges = append(summary.Badges, badge)
		}
	}
	return summary
}
