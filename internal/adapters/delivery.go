package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/panelworks/cutflow/internal/faults"
)

// Delivery hands an artifact to the production machine through a file-drop
// acknowledgment protocol: the file goes into inbox/, the machine moves it
// to processed/ on success or failed/ on rejection.
type Delivery struct {
	DropRoot string
	Interval time.Duration
}

func NewDelivery(dropRoot string) *Delivery {
	return &Delivery{DropRoot: dropRoot, Interval: time.Second}
}

const (
	dirInbox     = "inbox"
	dirProcessed = "processed"
	dirFailed    = "failed"
)

// EnsureDirs creates the three drop folders; safe to call repeatedly.
func (d *Delivery) EnsureDirs() error {
	for _, sub := range []string{dirInbox, dirProcessed, dirFailed} {
		if err := os.MkdirAll(filepath.Join(d.DropRoot, sub), 0o755); err != nil {
			return fmt.Errorf("create drop dir %s: %w", sub, err)
		}
	}
	return nil
}

// Deliver copies the artifact into inbox atomically and waits for the
// machine's verdict.
func (d *Delivery) Deliver(ctx context.Context, artifact string, timeout time.Duration) error {
	if err := d.EnsureDirs(); err != nil {
		return err
	}

	name := filepath.Base(artifact)
	inboxPath := filepath.Join(d.DropRoot, dirInbox, name)
	processedPath := filepath.Join(d.DropRoot, dirProcessed, name)
	failedPath := filepath.Join(d.DropRoot, dirFailed, name)

	if err := copyAtomic(artifact, inboxPath); err != nil {
		return fmt.Errorf("drop artifact: %w", err)
	}

	err := Poll(ctx, d.Interval, timeout, func() (bool, error) {
		if exists(failedPath) {
			return false, faults.New(faults.CodeDeliveryFailed,
				"machine rejected %s", name)
		}
		// Success needs both signals: picked up from inbox and filed
		// under processed.
		if exists(processedPath) && !exists(inboxPath) {
			return true, nil
		}
		return false, nil
	})
	if errors.Is(err, ErrPollTimeout) {
		return faults.New(faults.CodeDeliveryTimeout,
			"no acknowledgment for %s within %v", name, timeout)
	}
	return err
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// copyAtomic writes to a temp name in the target directory, then renames,
// so the machine never observes a half-written file.
func copyAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := filepath.Join(filepath.Dir(dst), ".tmp-"+filepath.Base(dst))
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
