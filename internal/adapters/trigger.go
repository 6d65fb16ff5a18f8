package adapters

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/panelworks/cutflow/internal/config"
	"github.com/panelworks/cutflow/internal/faults"
)

// Trigger starts the external optimizer. Mode A runs the binary with the
// generated files as arguments; mode B only checks that the companion
// macro sits next to the binary; mode C is handled upstream by the hold
// gate and must never reach Start.
type Trigger struct {
	ExePath string
	// Timeout bounds a mode-A invocation. Defaults to 60s.
	Timeout time.Duration
}

func NewTrigger(exePath string) *Trigger {
	return &Trigger{ExePath: exePath, Timeout: 60 * time.Second}
}

func (t *Trigger) Start(ctx context.Context, mode config.OptiMode, files []string) error {
	switch mode {
	case config.ModeManual:
		return faults.New(faults.CodeOperatorTriggerRequired, "mode C requires an operator trigger")
	case config.ModeMacro:
		return t.checkMacro()
	case config.ModeAuto:
		return t.invoke(ctx, files)
	default:
		return faults.New(faults.CodeOptiStartFailed, "unknown opti mode %q", mode)
	}
}

// checkMacro verifies the companion macro file exists next to the binary,
// with the same base name and a .mcr extension.
func (t *Trigger) checkMacro() error {
	macro := strings.TrimSuffix(t.ExePath, filepath.Ext(t.ExePath)) + ".mcr"
	if _, err := os.Stat(macro); err != nil {
		return faults.New(faults.CodeMissingMacro, "macro file %s not found", macro)
	}
	return nil
}

func (t *Trigger) invoke(ctx context.Context, files []string) error {
	if _, err := os.Stat(t.ExePath); err != nil {
		return faults.New(faults.CodeMissingExecutable, "optimizer executable %s not found", t.ExePath)
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.ExePath, files...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return faults.Wrap(faults.CodeOptiStartFailed, err)
	}
	if err := cmd.Wait(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return faults.New(faults.CodeOptiExit, "optimizer did not finish within %v", timeout)
		}
		return faults.Wrap(faults.CodeOptiExit, err)
	}
	return nil
}
