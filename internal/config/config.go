package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Paths points the engine at everything it touches on disk.
type Paths struct {
	OptiExecutable string `env:"OPTI_EXECUTABLE"`
	ImportDir      string `env:"IMPORT_DIR,default=./data/import"`
	ExportDir      string `env:"EXPORT_DIR,default=./data/export"`
	DropRoot       string `env:"DROP_ROOT,default=./data/drop"`
	TempDir        string `env:"TEMP_DIR,default=./data/tmp"`
	TemplatePath   string `env:"TEMPLATE_PATH,default=./data/template.xlsx"`
	RulesFile      string `env:"RULES_FILE,default=./rules.yaml"`
}

func LoadPathsFromEnv(ctx context.Context) (*Paths, error) {
	var p Paths
	if err := envconfig.Process(ctx, &p); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := validatePaths(&p); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &p, nil
}

func validatePaths(p *Paths) error {
	var errs []string

	if strings.TrimSpace(p.ImportDir) == "" {
		errs = append(errs, "IMPORT_DIR is required")
	}
	if strings.TrimSpace(p.ExportDir) == "" {
		errs = append(errs, "EXPORT_DIR is required")
	}
	if strings.TrimSpace(p.DropRoot) == "" {
		errs = append(errs, "DROP_ROOT is required")
	}
	if strings.TrimSpace(p.TemplatePath) == "" {
		errs = append(errs, "TEMPLATE_PATH is required")
	}
	if strings.TrimSpace(p.RulesFile) == "" {
		errs = append(errs, "RULES_FILE is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// PlateSize is the raw plate the optimizer cuts from, in millimeters.
type PlateSize struct {
	Length float64 `yaml:"length" json:"length"`
	Width  float64 `yaml:"width" json:"width"`
}

func (p PlateSize) IsZero() bool { return p.Length == 0 && p.Width == 0 }

type RetryPolicy struct {
	MaxRetries     int   `yaml:"max_retries"`
	BackoffMinutes []int `yaml:"backoff_minutes"`
}

// BackoffAt returns the backoff for a given retry count, clamping to the
// last table entry once the count runs past the table.
func (r RetryPolicy) BackoffAt(retryCount int) int {
	if len(r.BackoffMinutes) == 0 {
		return 0
	}
	idx := retryCount
	if idx >= len(r.BackoffMinutes) {
		idx = len(r.BackoffMinutes) - 1
	}
	return r.BackoffMinutes[idx]
}

type Timeouts struct {
	ExportWaitMinutes  int `yaml:"export_wait_minutes"`
	DeliveryAckMinutes int `yaml:"delivery_ack_minutes"`
}

// Rules holds the business rule tables. The file shape is validated here
// once at startup; the engine afterwards only checks business content
// ("is this thickness in the table"), never the shape again.
type Rules struct {
	UnitFactor         float64            `yaml:"unit_factor"`
	TrimByThickness    map[string]float64 `yaml:"trim_by_thickness"`
	EdgeMap            map[string]string  `yaml:"edge_map"`
	GrainMap           map[string]string  `yaml:"grain_map"`
	BackingThicknesses []float64          `yaml:"backing_thicknesses"`
	DefaultPlate       PlateSize          `yaml:"default_plate"`
	Retry              RetryPolicy        `yaml:"retry"`
	Timeouts           Timeouts           `yaml:"timeouts"`
	DefaultMode        OptiMode           `yaml:"default_mode"`
}

func LoadRules(path string) (*Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var r Rules
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if err := validateRules(&r); err != nil {
		return nil, fmt.Errorf("rules validation failed: %w", err)
	}
	return &r, nil
}

func validateRules(r *Rules) error {
	var errs []string

	if r.UnitFactor <= 0 {
		errs = append(errs, "unit_factor must be positive")
	}
	if len(r.TrimByThickness) == 0 {
		errs = append(errs, "trim_by_thickness must not be empty")
	}
	if len(r.EdgeMap) == 0 {
		errs = append(errs, "edge_map must not be empty")
	}
	if len(r.GrainMap) == 0 {
		errs = append(errs, "grain_map must not be empty")
	}
	if r.Retry.MaxRetries < 0 {
		errs = append(errs, "retry.max_retries must be non-negative")
	}
	if len(r.Retry.BackoffMinutes) == 0 {
		errs = append(errs, "retry.backoff_minutes must not be empty")
	}
	if r.Timeouts.ExportWaitMinutes <= 0 {
		errs = append(errs, "timeouts.export_wait_minutes must be positive")
	}
	if r.Timeouts.DeliveryAckMinutes <= 0 {
		errs = append(errs, "timeouts.delivery_ack_minutes must be positive")
	}
	switch r.DefaultMode {
	case ModeAuto, ModeMacro, ModeManual:
	default:
		errs = append(errs, "default_mode must be one of A, B, C")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// ThicknessKey renders a thickness the way the rule tables key it
// (19.0 -> "19", 8.5 -> "8.5").
func ThicknessKey(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}
