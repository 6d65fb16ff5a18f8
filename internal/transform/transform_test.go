package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelworks/cutflow/internal/config"
	"github.com/panelworks/cutflow/internal/dto"
	"github.com/panelworks/cutflow/internal/faults"
)

func testRules() *config.Rules {
	return &config.Rules{
		UnitFactor: 10,
		TrimByThickness: map[string]float64{
			"19": 10,
			"8":  8,
		},
		EdgeMap: map[string]string{
			NoBanding: "",
			"K1":      "ABS-1.0",
			"K2":      "ABS-2.0",
		},
		GrainMap: map[string]string{
			"":  "NONE",
			"L": "LENGTH",
		},
		BackingThicknesses: []float64{3, 5, 8},
	}
}

func panelPart() dto.PartInput {
	return dto.PartInput{
		Description: "side panel",
		Type:        "CORPUS",
		Color:       "W980",
		Thickness:   19,
		Length:      60.05,
		Width:       40,
		Quantity:    2,
		Grain:       "L",
		EdgeFront:   "K1",
		EdgeBack:    "K2",
	}
}

var plate = config.PlateSize{Length: 2800, Width: 2070}

func TestRun_MapsPanelPart(t *testing.T) {
	res, err := Run([]dto.PartInput{panelPart()}, testRules(), plate)
	require.NoError(t, err)
	require.Len(t, res.Batches, 1)

	b := res.Batches[0]
	assert.Equal(t, "CORPUS", b.PartType)
	assert.Equal(t, "W980", b.Color)
	assert.Equal(t, 19.0, b.Thickness)

	require.Len(t, b.Rows, 1)
	row := b.Rows[0]
	assert.Equal(t, 600.5, row.LengthMM)
	assert.Equal(t, 400.0, row.WidthMM)
	assert.Equal(t, 2, row.Quantity)
	assert.Equal(t, "LENGTH", row.Grain)
	assert.Equal(t, 10.0, row.Trim)
	assert.Equal(t, "ABS-1.0", row.EdgeFront)
	assert.Equal(t, "ABS-2.0", row.EdgeBack)
	// Unset edges map through the no-banding sentinel.
	assert.Equal(t, "", row.EdgeLeft)
	assert.Equal(t, "", row.EdgeRight)
	assert.Equal(t, 0, res.EdgeResets)
}

func TestRun_RoundsToTwoDecimals(t *testing.T) {
	p := panelPart()
	p.Length = 60.057
	p.Width = 33.333

	res, err := Run([]dto.PartInput{p}, testRules(), plate)
	require.NoError(t, err)
	row := res.Batches[0].Rows[0]
	assert.Equal(t, 600.57, row.LengthMM)
	assert.Equal(t, 333.33, row.WidthMM)
}

func TestRun_BackingEdgesForcedOff(t *testing.T) {
	p := dto.PartInput{
		Description: "back wall",
		Type:        "backing",
		Color:       "W980",
		Thickness:   8,
		Length:      80,
		Width:       60,
		Quantity:    1,
		EdgeFront:   "K1",
		EdgeLeft:    "K2",
	}

	res, err := Run([]dto.PartInput{p}, testRules(), plate)
	require.NoError(t, err)

	row := res.Batches[0].Rows[0]
	assert.Empty(t, row.EdgeFront)
	assert.Empty(t, row.EdgeBack)
	assert.Empty(t, row.EdgeLeft)
	assert.Empty(t, row.EdgeRight)
	// One reset per conflicting part, regardless of how many edges were set.
	assert.Equal(t, 1, res.EdgeResets)
}

func TestRun_BackingWithoutBandingNoReset(t *testing.T) {
	p := dto.PartInput{
		Description: "back wall",
		Type:        "BACKING",
		Color:       "W980",
		Thickness:   8,
		Length:      80,
		Width:       60,
		Quantity:    1,
	}

	res, err := Run([]dto.PartInput{p}, testRules(), plate)
	require.NoError(t, err)
	assert.Equal(t, 0, res.EdgeResets)
}

func TestRun_RuleErrors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*dto.PartInput)
		wantCode faults.Code
	}{
		{
			name: "unknown backing thickness",
			mutate: func(p *dto.PartInput) {
				p.Type = "BACKING"
				p.Thickness = 19 // valid trim, but not in backing allow-list
			},
			wantCode: faults.CodeBackingThicknessUnknown,
		},
		{
			name:     "missing trim value",
			mutate:   func(p *dto.PartInput) { p.Thickness = 25 },
			wantCode: faults.CodeTrimMissing,
		},
		{
			name:     "unknown grain code",
			mutate:   func(p *dto.PartInput) { p.Grain = "X" },
			wantCode: faults.CodeGrainUnknown,
		},
		{
			name:     "unmapped edge value",
			mutate:   func(p *dto.PartInput) { p.EdgeFront = "K9" },
			wantCode: faults.CodeEdgeUnmapped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := panelPart()
			tt.mutate(&p)

			_, err := Run([]dto.PartInput{p}, testRules(), plate)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, faults.CodeOf(err))
		})
	}
}

func TestRun_BatchingByTypeColorThickness(t *testing.T) {
	a := panelPart()
	b := panelPart()
	b.Description = "second side"
	c := panelPart()
	c.Description = "shelf"
	c.Color = "H1145"

	res, err := Run([]dto.PartInput{a, b, c}, testRules(), plate)
	require.NoError(t, err)
	require.Len(t, res.Batches, 2)

	// Batch order follows first appearance; row order follows input order.
	assert.Equal(t, "W980", res.Batches[0].Color)
	require.Len(t, res.Batches[0].Rows, 2)
	assert.Equal(t, "side panel", res.Batches[0].Rows[0].Description)
	assert.Equal(t, "second side", res.Batches[0].Rows[1].Description)

	assert.Equal(t, "H1145", res.Batches[1].Color)
	require.Len(t, res.Batches[1].Rows, 1)
}
