// Package runner hosts the cooperative claim loop: claim one job, run the
// full pipeline, claim again. Multiple runner processes are safe because
// claiming is a single conditional update in the store.
package runner

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/panelworks/cutflow/internal/models"
	"github.com/panelworks/cutflow/internal/telemetry"
)

type ClaimStore interface {
	ClaimNext(ctx context.Context) (*models.Job, error)
}

type Processor interface {
	ProcessClaimedJob(ctx context.Context, job *models.Job)
}

type Runner struct {
	store       ClaimStore
	processor   Processor
	idleDelay   time.Duration
	activeDelay time.Duration

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func New(store ClaimStore, processor Processor) *Runner {
	return &Runner{
		store:       store,
		processor:   processor,
		idleDelay:   time.Second,
		activeDelay: 100 * time.Millisecond,
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start runs the loop in its own goroutine. A short idle delay avoids
// busy-spinning when nothing is eligible; a shorter active delay keeps the
// loop responsive between successive jobs.
func (r *Runner) Start(ctx context.Context) {
	go func() {
		defer close(r.done)

		for {
			delay := r.idleDelay

			job, err := r.store.ClaimNext(ctx)
			if err != nil {
				log.Printf("[runner] claim failed: %v", err)
			} else if job != nil {
				telemetry.JobsClaimed.Inc()
				r.processor.ProcessClaimedJob(ctx, job)
				delay = r.activeDelay
			}

			select {
			case <-time.After(delay):
			case <-r.quit:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop prevents further claim attempts and waits for the loop to exit. A
// job already mid-pipeline runs to its next checkpoint; its claim release
// happens on the pipeline's exit path as usual.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
	<-r.done
}
