package chart

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestRenderDailyGains(t *testing.T) {
	var buf bytes.Buffer
	err := RenderDailyGains(&buf, "kellydollins", []domain.DayEntry{
		{Date: "2025-03-10", TotalGained: 30},
		{Date: "2025-03-11", TotalGained: 5},
	})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

func TestRenderDailyGainsEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderDailyGains(&buf, "nobody", nil))
	require.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

func TestChartWidthIsClamped(t *testing.T) {
	require.Equal(t, minWidth, chartWidth(1))
	require.Equal(t, maxWidth, chartWidth(1000))
	require.Equal(t, 20*(barWidth+barSpacing)+120, chartWidth(20))
}

func TestShortLabel(t *testing.T) {
	require.Equal(t, "03/10", shortLabel("2025-03-10"))
	require.Equal(t, "odd", shortLabel("odd"))
}
