package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"path/filepath"
	"time"

	"github.com/panelworks/cutflow/internal/adapters"
	"github.com/panelworks/cutflow/internal/config"
	"github.com/panelworks/cutflow/internal/dto"
	"github.com/panelworks/cutflow/internal/faults"
	"github.com/panelworks/cutflow/internal/models"
	"github.com/panelworks/cutflow/internal/storage/postgres"
	"github.com/panelworks/cutflow/internal/telemetry"
	"github.com/panelworks/cutflow/internal/template"
	"github.com/panelworks/cutflow/internal/transform"
)

var (
	_ Store           = (*postgres.JobStore)(nil)
	_ TriggerAdapter  = (*adapters.Trigger)(nil)
	_ ExportCollector = (*adapters.Collector)(nil)
	_ Deliverer       = (*adapters.Delivery)(nil)
	_ BatchWriter     = (*template.Writer)(nil)
)

// Pipeline drives one claimed job from intake to completion. Every step's
// outcome becomes a store transition; any error, wherever it surfaces, is
// caught exactly once at the boundary and classified into HOLD or FAILED.
type Pipeline struct {
	store     Store
	rules     *config.Rules
	writer    BatchWriter
	trigger   TriggerAdapter
	collector ExportCollector
	delivery  Deliverer
}

func NewPipeline(store Store, rules *config.Rules, writer BatchWriter, trigger TriggerAdapter, collector ExportCollector, delivery Deliverer) *Pipeline {
	return &Pipeline{
		store:     store,
		rules:     rules,
		writer:    writer,
		trigger:   trigger,
		collector: collector,
		delivery:  delivery,
	}
}

// ProcessClaimedJob executes one attempt. It never returns an error: the
// runner loop must not see pipeline failures as loop-breaking. The claim
// is released on every exit path.
func (p *Pipeline) ProcessClaimedJob(ctx context.Context, job *models.Job) {
	start := time.Now()
	defer func() {
		// Release must go through even when ctx was canceled mid-attempt.
		if err := p.store.ReleaseClaim(context.WithoutCancel(ctx), job.ID); err != nil {
			log.Printf("[pipeline] release claim for %s: %v", job.ID, err)
		}
		telemetry.PipelineSecs.Observe(time.Since(start).Seconds())
	}()

	err := p.run(ctx, job)
	if err == nil {
		telemetry.JobsCompleted.Inc()
		return
	}

	// The terminal transition must land even when ctx was canceled
	// mid-attempt, or the job would strand in an intermediate state.
	terminalCtx := context.WithoutCancel(ctx)

	code := faults.CodeOf(err)
	if faults.IsHold(code) {
		telemetry.JobsHeld.Inc()
		if herr := p.store.SetHold(terminalCtx, job.ID, string(code), err.Error(), nil); herr != nil {
			log.Printf("[pipeline] set hold for %s: %v", job.ID, herr)
		}
		return
	}

	telemetry.JobsFailed.Inc()
	if ferr := p.store.SetFailed(terminalCtx, job.ID, string(code), err.Error(), nil); ferr != nil {
		log.Printf("[pipeline] set failed for %s: %v", job.ID, ferr)
	}
}

func (p *Pipeline) run(ctx context.Context, job *models.Job) error {
	var payload dto.CutList
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return faults.Wrap(faults.CodePayloadInvalid, err)
	}

	normalized := postgres.NormalizePhone(payload.CustomerPhone)
	customer, err := p.store.LookupCustomerByPhone(ctx, normalized)
	if err != nil {
		return err
	}
	if customer == nil {
		return faults.New(faults.CodeCRMNoMatch, "no customer matches phone %s", normalized)
	}

	plate := p.rules.DefaultPlate
	if payload.Plate != nil && !payload.Plate.IsZero() {
		plate = *payload.Plate
	}
	if plate.IsZero() {
		return faults.New(faults.CodePlateSizeMissing, "no plate size in payload or configuration")
	}

	if err := p.writer.Validate(); err != nil {
		return err
	}

	res, err := transform.Run(payload.Parts, p.rules, plate)
	if err != nil {
		return err
	}
	if err := p.store.SetState(ctx, job.ID, config.StatePrepared, "cut list transformed", map[string]any{
		"batches":     len(res.Batches),
		"edge_resets": res.EdgeResets,
	}); err != nil {
		return err
	}

	var files []string
	for i, b := range res.Batches {
		path, werr := p.writer.WriteBatch(job.ID, i+1, b, plate)
		if werr != nil {
			return werr
		}
		files = append(files, path)
	}
	if err := p.store.SetState(ctx, job.ID, config.StateOptiImported, "import files written", map[string]any{
		"files": files,
	}); err != nil {
		return err
	}

	mode := config.OptiMode(job.OptiMode)
	switch {
	case mode == config.ModeManual && !job.ManualTriggerApproved:
		// Mode C never auto-triggers. The job parks here until approved.
		return faults.New(faults.CodeOperatorTriggerRequired, "job awaits operator trigger")
	case mode == config.ModeManual:
		// Approved: the operator runs the tool; we only wait for output.
	default:
		if err := p.trigger.Start(ctx, mode, files); err != nil {
			return err
		}
	}

	if err := p.store.SetState(ctx, job.ID, config.StateOptiRunning, "optimizer running", nil); err != nil {
		if errors.Is(err, postgres.ErrRunningConflict) {
			return faults.Wrap(faults.CodeOptiBusy, err)
		}
		return err
	}

	exportTimeout := time.Duration(p.rules.Timeouts.ExportWaitMinutes) * time.Minute
	xmlPath, err := p.collector.Await(ctx, job.ID, exportTimeout)
	if err != nil {
		return err
	}
	if err := p.store.SetState(ctx, job.ID, config.StateOptiDone, "optimizer export collected", map[string]any{
		"export": xmlPath,
	}); err != nil {
		return err
	}
	// Well-formedness was already checked by the collector.
	if err := p.store.SetState(ctx, job.ID, config.StateXMLReady, "export validated", nil); err != nil {
		return err
	}

	ackTimeout := time.Duration(p.rules.Timeouts.DeliveryAckMinutes) * time.Minute
	if err := p.delivery.Deliver(ctx, xmlPath, ackTimeout); err != nil {
		return err
	}
	if err := p.store.SetState(ctx, job.ID, config.StateDelivered, "artifact delivered", map[string]any{
		"artifact": filepath.Base(xmlPath),
	}); err != nil {
		return err
	}

	return p.store.SetState(ctx, job.ID, config.StateDone, "job complete", nil)
}
