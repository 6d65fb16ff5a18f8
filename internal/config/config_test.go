package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRules = `
unit_factor: 10
trim_by_thickness:
  "19": 10
edge_map:
  NONE: ""
  K1: "ABS-1.0"
grain_map:
  "": "NONE"
  L: "LENGTH"
backing_thicknesses: [3, 5]
default_plate:
  length: 2800
  width: 2070
retry:
  max_retries: 3
  backoff_minutes: [1, 5, 15]
timeouts:
  export_wait_minutes: 10
  delivery_ack_minutes: 15
default_mode: A
`

func writeRules(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRules(t *testing.T) {
	rules, err := LoadRules(writeRules(t, sampleRules))
	require.NoError(t, err)

	assert.Equal(t, 10.0, rules.UnitFactor)
	assert.Equal(t, 10.0, rules.TrimByThickness["19"])
	assert.Equal(t, "ABS-1.0", rules.EdgeMap["K1"])
	assert.Equal(t, PlateSize{Length: 2800, Width: 2070}, rules.DefaultPlate)
	assert.Equal(t, 3, rules.Retry.MaxRetries)
	assert.Equal(t, ModeAuto, rules.DefaultMode)
}

func TestLoadRules_ShippedFile(t *testing.T) {
	rules, err := LoadRules(filepath.Join("..", "..", "rules.yaml"))
	require.NoError(t, err)

	assert.Greater(t, rules.UnitFactor, 0.0)
	assert.NotEmpty(t, rules.TrimByThickness)
	assert.NotEmpty(t, rules.EdgeMap)
	assert.False(t, rules.DefaultPlate.IsZero())
	assert.Contains(t, AllowedModes, rules.DefaultMode)
}

func TestLoadRules_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  string
		errPart string
	}{
		{"missing file", "", "read rules file"},
		{"bad yaml", "unit_factor: [", "parse rules file"},
		{"bad mode", sampleRules + "\ndefault_mode: X\n", "default_mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "missing.yaml")
			if tt.mutate != "" {
				path = writeRules(t, tt.mutate)
			}
			_, err := LoadRules(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestRetryPolicy_BackoffAt(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BackoffMinutes: []int{1, 5, 15}}

	assert.Equal(t, 1, policy.BackoffAt(0))
	assert.Equal(t, 5, policy.BackoffAt(1))
	assert.Equal(t, 15, policy.BackoffAt(2))
	// Past the table: stick to the last entry.
	assert.Equal(t, 15, policy.BackoffAt(7))

	assert.Equal(t, 0, RetryPolicy{}.BackoffAt(0))
}

func TestThicknessKey(t *testing.T) {
	assert.Equal(t, "19", ThicknessKey(19))
	assert.Equal(t, "8.5", ThicknessKey(8.5))
}
