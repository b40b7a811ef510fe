// Package chart renders PNG charts of daily point gains.
package chart

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"
)

const (
	minWidth   = 640
	maxWidth   = 4000
	height     = 360
	barWidth   = 24
	barSpacing = 12
)

var (
	barColor   = drawing.ColorFromHex("5fcf80")
	background = drawing.ColorFromHex("ffffff")
	textColor  = drawing.ColorFromHex("384047")
)

// RenderDailyGains writes a bar chart with one bar per history entry. An empty history
// renders a single empty bar labelled "No data".
func RenderDailyGains(w io.Writer, title string, entries []domain.DayEntry) error {
	bars := make([]chart.Value, 0, len(entries))
	var peak float64
	for _, entry := range entries {
		value := float64(entry.TotalGained)
		if value > peak {
			peak = value
		}
		bars = append(bars, chart.Value{
			Label: shortLabel(entry.Date),
			Value: value,
			Style: chart.Style{FillColor: barColor, StrokeColor: barColor},
		})
	}
	if len(bars) == 0 {
		bars = append(bars, chart.Value{Label: "No data", Value: 0})
	}

	// A flat range makes the renderer fail, so the axis always spans at least one point.
	top := peak * 1.1
	if top < 1 {
		top = 1
	}

	graph := chart.BarChart{
		Title:      title,
		Width:      chartWidth(len(bars)),
		Height:     height,
		BarWidth:   barWidth,
		BarSpacing: barSpacing,
		Background: chart.Style{
			FillColor: background,
			Padding:   chart.Box{Top: 40, Left: 10, Right: 10, Bottom: 10},
		},
		Canvas: chart.Style{FillColor: background},
		XAxis:  chart.Style{FontColor: textColor},
		YAxis: chart.YAxis{
			Name:  "Points",
			Style: chart.Style{FontColor: textColor},
			Range: &chart.ContinuousRange{Min: 0, Max: top},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.0f", f)
				}
				return ""
			},
		},
		Bars: bars,
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func chartWidth(bars int) int {
	width := bars*(barWidth+barSpacing) + 120
	if width < minWidth {
		return minWidth
	}
	if width > maxWidth {
		return maxWidth
	}
	return width
}

// shortLabel renders YYYY-MM-DD as MM/DD.
func shortLabel(day domain.CalendarDay) string {
	s := string(day)
	if len(s) == 10 {
		return s[5:7] + "/" + s[8:10]
	}
	return s
}
