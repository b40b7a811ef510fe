package domain

import "fmt"

// Change summarises what a single reconciliation did to a record.
type Change struct {
	Day CalendarDay
	// Total is the accepted cumulative total after reconciliation.
	Total int64
	// TotalGained is the raw delta against the previous total and may be zero or negative.
	TotalGained int64
	// Recorded is true when the gain was folded into the day's history entry.
	Recorded bool
	// Breakdown holds the positive per-category deltas applied to history. Nil unless Recorded.
	Breakdown map[string]int64
	NewBadges []Badge
}

// HasChanges reports whether history or the badge list grew.
func (c Change) HasChanges() bool {
	return c.Recorded || len(c.NewBadges) > 0
}

// Reconcile folds an incoming snapshot into a copy of prev and returns the new record.
//
// Only positive total gains are written to history; zero and negative deltas still move the
// baseline. Categories in lastRecorded are replaced wholesale by the incoming categories.
// Badges are appended in arrival order when their id is not already present, keeping the
// upstream earned_date. prev is never modified.
func Reconcile(prev UserRecord, in RawProfileSnapshot, today CalendarDay) (UserRecord, Change, error) {
	if err := in.Validate(); err != nil {
		return prev, Change{}, err
	}
	if !today.Valid() {
		return prev, Change{}, fmt.Errorf("reconcile: invalid calendar day %q", today)
	}

	next := prev.Clone()
	next.Normalize()

	total := *in.Points.Total
	gained, ok := subtract(total, next.LastRecorded.Total)
	if !ok {
		return prev, Change{}, fmt.Errorf("%w: total %d is out of range of the recorded total %d",
			ErrInvalidSnapshot, total, next.LastRecorded.Total)
	}
	change := Change{
		Day:         today,
		Total:       total,
		TotalGained: gained,
	}

	incoming := make(map[string]int64, len(in.Points.Categories))
	breakdown := make(map[string]int64)
	for category, value := range in.Points.Categories {
		if category == totalKey {
			continue
		}
		incoming[category] = value
		if delta, ok := subtract(value, next.LastRecorded.Categories[category]); ok && delta > 0 {
			breakdown[category] = delta
		}
	}

	if change.TotalGained > 0 {
		change.Recorded = true
		change.Breakdown = breakdown

		if idx := next.dayIndex(today); idx >= 0 {
			entry := &next.History[idx]
			entry.TotalGained += change.TotalGained
			for category, delta := range breakdown {
				entry.PointsBreakdown[category] += delta
			}
		} else {
			next.History = append(next.History, DayEntry{
				Date:            today,
				TotalGained:     change.TotalGained,
				PointsBreakdown: copyCounts(breakdown),
			})
		}
	}

	next.LastRecorded = LastRecorded{Total: total, Categories: incoming}

	known := make(map[BadgeID]struct{}, len(next.BadgesEarned))
	for _, badge := range next.BadgesEarned {
		known[badge.ID] = struct{}{}
	}
	for _, badge := range in.Badges {
		if badge.ID == "" {
			continue
		}
		if _, ok := known[badge.ID]; ok {
			continue
		}
		known[badge.ID] = struct{}{}
		next.BadgesEarned = append(next.BadgesEarned, badge)
		change.NewBadges = append(change.NewBadges, badge)
	}

	return next, change, nil
}

// subtract returns a-b and false when the result overflows int64.
func subtract(a, b int64) (int64, bool) {
	d := a - b
	if (b > 0 && d > a) || (b < 0 && d < a) {
		return 0, false
	}
	return d, true
}
