// Package domain defines the points ledger and the rules that keep it in step with the profile API.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// LastRecorded holds the most recent accepted cumulative totals.
type LastRecorded struct {
	Total      int64            `json:"total"`
	Categories map[string]int64 `json:"categories"`
}

// DayEntry aggregates the gains observed on one calendar day.
type DayEntry struct {
	Date            CalendarDay      `json:"date"`
	TotalGained     int64            `json:"totalGained"`
	PointsBreakdown map[string]int64 `json:"pointsBreakdown"`
}

// Badge is an achievement reported by the profile API. It is stored verbatim.
type Badge struct {
	ID         BadgeID `json:"id"`
	Name       string  `json:"name"`
	URL        string  `json:"url"`
	IconURL    string  `json:"icon_url"`
	EarnedDate string  `json:"earned_date"`

	numericID bool
}

// UserRecord is the persisted ledger for a single username.
type UserRecord struct {
	LastRecorded LastRecorded `json:"lastRecorded"`
	History      []DayEntry   `json:"history"`
	BadgesEarned []Badge      `json:"badgesEarned"`
}

// NewUserRecord returns the record used for a username that has never been reconciled.
func NewUserRecord() UserRecord {
	return UserRecord{
		LastRecorded: LastRecorded{Total: 0, Categories: map[string]int64{}},
		History:      []DayEntry{},
		BadgesEarned: []Badge{},
	}
}

// Normalize replaces nil maps and slices so the record encodes as {} and [] rather than null.
func (r *UserRecord) Normalize() {
	if r.LastRecorded.Categories == nil {
		r.LastRecorded.Categories = map[string]int64{}
	}
	if r.History == nil {
		r.History = []DayEntry{}
	}
	for i := range r.History {
		if r.History[i].PointsBreakdown == nil {
			r.History[i].PointsBreakdown = map[string]int64{}
		}
	}
	if r.BadgesEarned == nil {
		r.BadgesEarned = []Badge{}
	}
}

// Clone returns a deep copy that shares no maps or slices with r.
func (r UserRecord) Clone() UserRecord {
	out := UserRecord{
		LastRecorded: LastRecorded{
			Total:      r.LastRecorded.Total,
			Categories: copyCounts(r.LastRecorded.Categories),
		},
		History:      make([]DayEntry, len(r.History)),
		BadgesEarned: make([]Badge, len(r.BadgesEarned)),
	}
	for i, entry := range r.History {
		out.History[i] = DayEntry{
			Date:            entry.Date,
			TotalGained:     entry.TotalGained,
			PointsBreakdown: copyCounts(entry.PointsBreakdown),
		}
	}
	copy(out.BadgesEarned, r.BadgesEarned)
	return out
}

// HistoryTotal sums TotalGained across every day entry.
func (r UserRecord) HistoryTotal() int64 {
	var sum int64
	for _, entry := range r.History {
		sum += entry.TotalGained
	}
	return sum
}

// Day returns the history entry for the given day, if any.
func (r UserRecord) Day(day CalendarDay) (DayEntry, bool) {
	if idx := r.dayIndex(day); idx >= 0 {
		return r.History[idx], true
	}
	return DayEntry{}, false
}

func (r UserRecord) dayIndex(day CalendarDay) int {
	for i, entry := range r.History {
		if entry.Date == day {
			return i
		}
	}
	return -1
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// BadgeID is an opaque badge identifier. The profile API reports numeric ids, but string
// ids are accepted too.
type BadgeID string

// UnmarshalJSON records whether the id arrived as a JSON number so it can be written back
// in the same form.
func (b *Badge) UnmarshalJSON(data []byte) error {
	type plain Badge
	var raw struct {
		plain
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Badge(raw.plain)
	b.ID, b.numericID = "", false

	id := bytes.TrimSpace(raw.ID)
	switch {
	case len(id) == 0 || bytes.Equal(id, []byte("null")):
	case id[0] == '"':
		var s string
		if err := json.Unmarshal(id, &s); err != nil {
			return fmt.Errorf("badge id: %w", err)
		}
		b.ID = BadgeID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(id, &n); err != nil {
			return fmt.Errorf("badge id: %w", err)
		}
		b.ID, b.numericID = BadgeID(n.String()), true
	}
	return nil
}

// MarshalJSON writes the id with the JSON kind it was read with.
func (b Badge) MarshalJSON() ([]byte, error) {
	type plain Badge
	var id any = string(b.ID)
	if b.numericID {
		id = json.Number(b.ID)
	}
	return json.Marshal(struct {
		plain
		ID any `json:"id"`
	}{plain(b), id})
}
