// Package transform maps a validated part list through the rule tables
// into per-(type, color, thickness) batches of machine rows. It is a pure
// function of its inputs and holds no state.
package transform

import (
	"math"
	"strings"

	"github.com/panelworks/cutflow/internal/config"
	"github.com/panelworks/cutflow/internal/dto"
	"github.com/panelworks/cutflow/internal/faults"
)

// NoBanding is the edge-map key for an unset or empty edge input.
const NoBanding = "NONE"

// BackingType marks parts whose edges are forced off and whose thickness
// must appear in the backing allow-list.
const BackingType = "BACKING"

// Row is one machine-import line, dimensions in millimeters.
type Row struct {
	Description string
	LengthMM    float64
	WidthMM     float64
	Quantity    int
	Grain       string
	EdgeFront   string
	EdgeBack    string
	EdgeLeft    string
	EdgeRight   string
	Trim        float64
}

// Batch groups rows destined for one output file.
type Batch struct {
	PartType  string
	Color     string
	Thickness float64
	Rows      []Row
}

type Result struct {
	Batches []Batch
	// EdgeResets counts backing parts whose input carried banding that
	// had to be forced off. A data conflict worth surfacing, not an error.
	EdgeResets int
	Plate      config.PlateSize
}

func isBacking(p dto.PartInput) bool {
	return strings.EqualFold(p.Type, BackingType)
}

// Run converts parts into batches. Row order within a batch follows input
// order; batch order follows first appearance of the (type, color,
// thickness) key.
func Run(parts []dto.PartInput, rules *config.Rules, plate config.PlateSize) (*Result, error) {
	res := &Result{Plate: plate}
	index := map[string]int{}

	for _, p := range parts {
		row, reset, err := mapPart(p, rules)
		if err != nil {
			return nil, err
		}
		if reset {
			res.EdgeResets++
		}

		key := batchKey(p)
		i, ok := index[key]
		if !ok {
			res.Batches = append(res.Batches, Batch{
				PartType:  p.Type,
				Color:     p.Color,
				Thickness: p.Thickness,
			})
			i = len(res.Batches) - 1
			index[key] = i
		}
		res.Batches[i].Rows = append(res.Batches[i].Rows, row)
	}

	return res, nil
}

func batchKey(p dto.PartInput) string {
	return strings.ToUpper(p.Type) + "|" + strings.ToUpper(p.Color) + "|" + config.ThicknessKey(p.Thickness)
}

func mapPart(p dto.PartInput, rules *config.Rules) (Row, bool, error) {
	backing := isBacking(p)

	if backing && !containsThickness(rules.BackingThicknesses, p.Thickness) {
		return Row{}, false, faults.New(faults.CodeBackingThicknessUnknown,
			"backing thickness %s not in allow-list for part %q", config.ThicknessKey(p.Thickness), p.Description)
	}

	trim, ok := rules.TrimByThickness[config.ThicknessKey(p.Thickness)]
	if !ok {
		return Row{}, false, faults.New(faults.CodeTrimMissing,
			"no trim value for thickness %s (part %q)", config.ThicknessKey(p.Thickness), p.Description)
	}

	grain, ok := rules.GrainMap[p.Grain]
	if !ok {
		return Row{}, false, faults.New(faults.CodeGrainUnknown,
			"unknown grain code %q (part %q)", p.Grain, p.Description)
	}

	row := Row{
		Description: p.Description,
		LengthMM:    round2(p.Length * rules.UnitFactor),
		WidthMM:     round2(p.Width * rules.UnitFactor),
		Quantity:    p.Quantity,
		Grain:       grain,
		Trim:        trim,
	}

	if backing {
		// Edges are forced off regardless of input. Count the conflict
		// once per part so an operator can follow up on the source data.
		reset := p.EdgeFront != "" || p.EdgeBack != "" || p.EdgeLeft != "" || p.EdgeRight != ""
		return row, reset, nil
	}

	edges := [4]string{p.EdgeFront, p.EdgeBack, p.EdgeLeft, p.EdgeRight}
	mapped := [4]string{}
	for i, e := range edges {
		key := e
		if strings.TrimSpace(key) == "" {
			key = NoBanding
		}
		v, ok := rules.EdgeMap[key]
		if !ok {
			return Row{}, false, faults.New(faults.CodeEdgeUnmapped,
				"unmapped edge value %q (part %q)", e, p.Description)
		}
		mapped[i] = v
	}
	row.EdgeFront, row.EdgeBack, row.EdgeLeft, row.EdgeRight = mapped[0], mapped[1], mapped[2], mapped[3]

	return row, false, nil
}

func containsThickness(list []float64, t float64) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
