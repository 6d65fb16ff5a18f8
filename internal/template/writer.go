// Package template validates the machine-import spreadsheet template and
// stamps transformed batches into fresh copies of it.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/panelworks/cutflow/internal/config"
	"github.com/panelworks/cutflow/internal/faults"
	"github.com/panelworks/cutflow/internal/transform"
)

// The template's first row must carry exactly these 12 tagged header
// cells. Their column positions are free; the writer follows the tags.
var requiredTags = []string{
	"#DESCRIPTION",
	"#LENGTH",
	"#WIDTH",
	"#QTY",
	"#GRAIN",
	"#EDGE_FRONT",
	"#EDGE_BACK",
	"#EDGE_LEFT",
	"#EDGE_RIGHT",
	"#TRIM",
	"#PLATE_LENGTH",
	"#PLATE_WIDTH",
}

// Validate checks the template's shape without writing anything.
func Validate(path string) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return faults.New(faults.CodeTemplateInvalid, "cannot open template %s: %v", path, err)
	}
	defer f.Close()

	_, err = headerColumns(f)
	return err
}

// headerColumns maps each tag to its 1-based column in row 1.
func headerColumns(f *excelize.File) (map[string]int, error) {
	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, faults.New(faults.CodeTemplateInvalid, "template has no sheets")
	}

	rows, err := f.GetRows(sheet)
	if err != nil || len(rows) == 0 {
		return nil, faults.New(faults.CodeTemplateInvalid, "template header row is unreadable")
	}

	cols := map[string]int{}
	for i, cell := range rows[0] {
		tag := strings.TrimSpace(cell)
		if strings.HasPrefix(tag, "#") {
			cols[strings.ToUpper(tag)] = i + 1
		}
	}

	var missing []string
	for _, tag := range requiredTags {
		if _, ok := cols[tag]; !ok {
			missing = append(missing, tag)
		}
	}
	if len(missing) > 0 {
		return nil, faults.New(faults.CodeTemplateInvalid,
			"template is missing header tags: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

// Writer stamps batches into copies of the template. Output files are
// written to a temp name first and renamed into place so observers never
// see a partial file.
type Writer struct {
	TemplatePath string
	OutDir       string
}

func NewWriter(templatePath, outDir string) *Writer {
	return &Writer{TemplatePath: templatePath, OutDir: outDir}
}

// Validate checks the writer's configured template.
func (w *Writer) Validate() error {
	return Validate(w.TemplatePath)
}

// WriteBatch writes one batch and returns the final file path.
func (w *Writer) WriteBatch(jobID string, seq int, b transform.Batch, plate config.PlateSize) (string, error) {
	f, err := excelize.OpenFile(w.TemplatePath)
	if err != nil {
		return "", faults.New(faults.CodeTemplateInvalid, "cannot open template %s: %v", w.TemplatePath, err)
	}
	defer f.Close()

	cols, err := headerColumns(f)
	if err != nil {
		return "", err
	}
	sheet := f.GetSheetName(0)

	for i, row := range b.Rows {
		r := i + 2 // data starts under the header row
		cells := map[string]any{
			"#DESCRIPTION":  row.Description,
			"#LENGTH":       row.LengthMM,
			"#WIDTH":        row.WidthMM,
			"#QTY":          row.Quantity,
			"#GRAIN":        row.Grain,
			"#EDGE_FRONT":   row.EdgeFront,
			"#EDGE_BACK":    row.EdgeBack,
			"#EDGE_LEFT":    row.EdgeLeft,
			"#EDGE_RIGHT":   row.EdgeRight,
			"#TRIM":         row.Trim,
			"#PLATE_LENGTH": plate.Length,
			"#PLATE_WIDTH":  plate.Width,
		}
		for tag, value := range cells {
			cell, cerr := excelize.CoordinatesToCellName(cols[tag], r)
			if cerr != nil {
				return "", fmt.Errorf("cell name: %w", cerr)
			}
			if serr := f.SetCellValue(sheet, cell, value); serr != nil {
				return "", fmt.Errorf("set cell %s: %w", cell, serr)
			}
		}
	}

	if err := os.MkdirAll(w.OutDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	name := batchFileName(jobID, seq, b)
	final := filepath.Join(w.OutDir, name)
	tmp := filepath.Join(w.OutDir, ".tmp-"+name)

	if err := f.SaveAs(tmp); err != nil {
		return "", fmt.Errorf("write batch file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("finalize batch file: %w", err)
	}
	return final, nil
}

func batchFileName(jobID string, seq int, b transform.Batch) string {
	return fmt.Sprintf("%s_%02d_%s_%s_%s.xlsx",
		jobID, seq, sanitize(b.PartType), sanitize(b.Color), config.ThicknessKey(b.Thickness))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
