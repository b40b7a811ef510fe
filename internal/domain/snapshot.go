package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/tidwall/gjson"
)

const totalKey = "total"

// PointsSnapshot carries cumulative totals as reported by the profile API.
// Total is nil when the upstream document did not contain a numeric total.
type PointsSnapshot struct {
	Total      *int64
	Categories map[string]int64
}

// RawProfileSnapshot is an untrusted points/badges document from the profile API or a client.
type RawProfileSnapshot struct {
	Points *PointsSnapshot
	Badges []Badge
}

// NewSnapshot builds a valid snapshot; it is mostly useful for callers that already hold typed values.
func NewSnapshot(total int64, categories map[string]int64, badges ...Badge) RawProfileSnapshot {
	return RawProfileSnapshot{
		Points: &PointsSnapshot{Total: &total, Categories: copyCounts(categories)},
		Badges: badges,
	}
}

// Validate reports ErrInvalidSnapshot when the points section or its total is missing.
func (s RawProfileSnapshot) Validate() error {
	if s.Points == nil {
		return fmt.Errorf("%w: missing points", ErrInvalidSnapshot)
	}
	if s.Points.Total == nil {
		return fmt.Errorf("%w: points.total is not a number", ErrInvalidSnapshot)
	}
	return nil
}

// ParseSnapshot decodes a profile document without trusting its shape.
//
// The document must be a JSON object whose "points" member is an object with a numeric
// "total" that fits in an int64. Category values that are not numbers or do not fit are
// ignored, and fractional values are truncated.
// A missing or malformed "badges" member is treated as empty, and badges without an id
// are dropped because they cannot be deduplicated.
func ParseSnapshot(body []byte) (RawProfileSnapshot, error) {
	if !gjson.ValidBytes(body) {
		return RawProfileSnapshot{}, fmt.Errorf("%w: body is not valid JSON", ErrInvalidSnapshot)
	}

	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return RawProfileSnapshot{}, fmt.Errorf("%w: document is not an object", ErrInvalidSnapshot)
	}

	points := doc.Get("points")
	if !points.IsObject() {
		return RawProfileSnapshot{}, fmt.Errorf("%w: missing points", ErrInvalidSnapshot)
	}

	totalValue, ok := pointCount(points.Get(totalKey))
	if !ok {
		return RawProfileSnapshot{}, fmt.Errorf("%w: points.total is not a number in int64 range", ErrInvalidSnapshot)
	}

	categories := make(map[string]int64)
	points.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if name == totalKey {
			return true
		}
		if count, ok := pointCount(value); ok {
			categories[name] = count
		}
		return true
	})

	snapshot := RawProfileSnapshot{
		Points: &PointsSnapshot{Total: &totalValue, Categories: categories},
		Badges: []Badge{},
	}

	badges := doc.Get("badges")
	if !badges.IsArray() {
		return snapshot, nil
	}
	for _, item := range badges.Array() {
		if !item.IsObject() {
			continue
		}
		var badge Badge
		if err := json.Unmarshal([]byte(item.Raw), &badge); err != nil {
			continue
		}
		if badge.ID == "" {
			continue
		}
		snapshot.Badges = append(snapshot.Badges, badge)
	}
	return snapshot, nil
}

// pointCount converts a JSON number to an int64, truncating fractions. It reports false for
// non-numbers and for values outside the int64 range.
func pointCount(value gjson.Result) (int64, bool) {
	if value.Type != gjson.Number {
		return 0, false
	}
	if n, err := strconv.ParseInt(value.Raw, 10, 64); err == nil {
		return n, true
	}
	f := value.Num
	if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
