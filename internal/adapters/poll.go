// Package adapters wraps the pipeline's slow file-system peers behind one
// bounded polling protocol. The peers are the optimizer binary, its export
// folder, and the machine drop folder.
package adapters

import (
	"context"
	"errors"
	"time"
)

// ErrPollTimeout is returned when the deadline elapses before the probe
// reports done. Callers translate it into their own timeout code.
var ErrPollTimeout = errors.New("poll timed out")

// Poll invokes probe once immediately and then at every interval until it
// reports done, returns an error, the timeout elapses, or the context is
// canceled. The probe should be side-effect-free to read so this wrapper
// stays reusable across adapters.
func Poll(ctx context.Context, interval, timeout time.Duration, probe func() (bool, error)) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		done, err := probe()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrPollTimeout
		case <-tick.C:
		}
	}
}
