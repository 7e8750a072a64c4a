package export

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestColumnWidthsFollowWeights(t *testing.T) {
	data := Dataset{
		Headers: []string{"Code", "Name", "Meetings"},
		Weights: []float64{1, 1, 3},
	}

	widths := columnWidths(data, 100)
	require.Len(t, widths, 3)
	require.InDelta(t, 20, widths[0], 0.001)
	require.InDelta(t, 20, widths[1], 0.001)
	require.InDelta(t, 60, widths[2], 0.001)
}

func TestColumnWidthsEvenFallback(t *testing.T) {
	data := Dataset{Headers: []string{"A", "B"}}

	widths := columnWidths(data, 100)
	require.InDelta(t, 50, widths[0], 0.001)
	require.InDelta(t, 50, widths[1], 0.001)

	// Mismatched weight count falls back to an even split too.
	data.Weights = []float64{5}
	widths = columnWidths(data, 100)
	require.InDelta(t, 50, widths[0], 0.001)
	require.InDelta(t, 50, widths[1], 0.001)
}

func TestPDFRenderWeighted(t *testing.T) {
	data := Dataset{
		Headers: []string{"Course", "Meetings"},
		Rows: []map[string]string{
			{"Course": "CS200", "Meetings": "Monday 09:00-10:30 (LEC)"},
		},
		Weights: []float64{1, 4},
	}

	content, err := NewPDFExporter().Render(data, "Schedule")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(content), "%PDF"))
}
