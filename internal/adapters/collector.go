package adapters

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/panelworks/cutflow/internal/faults"
)

// Collector waits for the optimizer to drop its XML result into the
// shared export directory.
type Collector struct {
	ExportDir string
	Interval  time.Duration
}

func NewCollector(exportDir string) *Collector {
	return &Collector{ExportDir: exportDir, Interval: time.Second}
}

// Await polls the export directory for a file that is, case-insensitively,
// both an XML file and tagged with the job id. The candidate is checked
// for well-formedness before being returned; malformed content is a
// distinct error from a timeout.
func (c *Collector) Await(ctx context.Context, jobID string, timeout time.Duration) (string, error) {
	wantID := strings.ToLower(jobID)
	var found string

	err := Poll(ctx, c.Interval, timeout, func() (bool, error) {
		entries, err := os.ReadDir(c.ExportDir)
		if err != nil {
			// The export share can flap; keep polling until the deadline.
			return false, nil
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := strings.ToLower(e.Name())
			if strings.HasSuffix(name, ".xml") && strings.Contains(name, wantID) {
				found = filepath.Join(c.ExportDir, e.Name())
				return true, nil
			}
		}
		return false, nil
	})
	if errors.Is(err, ErrPollTimeout) {
		return "", faults.New(faults.CodeExportTimeout,
			"no export for job %s appeared within %v", jobID, timeout)
	}
	if err != nil {
		return "", err
	}

	if err := validateXML(found); err != nil {
		return "", err
	}
	return found, nil
}

func validateXML(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return faults.New(faults.CodeExportInvalid, "cannot read export %s: %v", path, err)
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return faults.New(faults.CodeExportInvalid, "export %s is not well-formed XML: %v", path, err)
		}
	}
}
