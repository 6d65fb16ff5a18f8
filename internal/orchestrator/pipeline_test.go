package orchestrator

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/panelworks/cutflow/internal/config"
	"github.com/panelworks/cutflow/internal/dto"
	"github.com/panelworks/cutflow/internal/faults"
	"github.com/panelworks/cutflow/internal/models"
	"github.com/panelworks/cutflow/internal/storage/postgres"
	"github.com/panelworks/cutflow/internal/template"
	"github.com/panelworks/cutflow/internal/transform"
)

func setupStore(t *testing.T) *postgres.JobStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Job{}, &models.AuditEvent{}, &models.Customer{}))
	return postgres.NewJobStore(db)
}

func writeTestTemplate(t *testing.T) string {
	t.Helper()
	tags := []string{
		"#DESCRIPTION", "#LENGTH", "#WIDTH", "#QTY", "#GRAIN",
		"#EDGE_FRONT", "#EDGE_BACK", "#EDGE_LEFT", "#EDGE_RIGHT",
		"#TRIM", "#PLATE_LENGTH", "#PLATE_WIDTH",
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, tag := range tags {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue(sheet, cell, tag))
	}

	path := filepath.Join(t.TempDir(), "template.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func testRules() *config.Rules {
	return &config.Rules{
		UnitFactor:         10,
		TrimByThickness:    map[string]float64{"19": 10, "8": 8},
		EdgeMap:            map[string]string{transform.NoBanding: "", "K1": "ABS-1.0"},
		GrainMap:           map[string]string{"": "NONE", "L": "LENGTH"},
		BackingThicknesses: []float64{3, 5, 8},
		DefaultPlate:       config.PlateSize{Length: 2800, Width: 2070},
		Retry:              config.RetryPolicy{MaxRetries: 3, BackoffMinutes: []int{1, 5, 15}},
		Timeouts:           config.Timeouts{ExportWaitMinutes: 1, DeliveryAckMinutes: 1},
		DefaultMode:        config.ModeAuto,
	}
}

type stubTrigger struct {
	err   error
	calls int
}

func (s *stubTrigger) Start(_ context.Context, _ config.OptiMode, _ []string) error {
	s.calls++
	return s.err
}

type stubCollector struct {
	path string
	err  error
}

func (s *stubCollector) Await(_ context.Context, _ string, _ time.Duration) (string, error) {
	return s.path, s.err
}

type stubDelivery struct {
	err       error
	delivered []string
}

func (s *stubDelivery) Deliver(_ context.Context, artifact string, _ time.Duration) error {
	s.delivered = append(s.delivered, artifact)
	return s.err
}

type fixture struct {
	store     *postgres.JobStore
	pipeline  *Pipeline
	trigger   *stubTrigger
	collector *stubCollector
	delivery  *stubDelivery
}

func setupPipeline(t *testing.T) *fixture {
	t.Helper()
	store := setupStore(t)
	trigger := &stubTrigger{}
	collector := &stubCollector{path: "/export/result.xml"}
	delivery := &stubDelivery{}
	writer := template.NewWriter(writeTestTemplate(t), t.TempDir())

	return &fixture{
		store:     store,
		pipeline:  NewPipeline(store, testRules(), writer, trigger, collector, delivery),
		trigger:   trigger,
		collector: collector,
		delivery:  delivery,
	}
}

func testPayload(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(dto.CutList{
		OrderID:       "A-100",
		CustomerPhone: "+49 171 123456",
		Parts: []dto.PartInput{{
			Description: "side panel",
			Type:        "CORPUS",
			Color:       "W980",
			Thickness:   19,
			Length:      60,
			Width:       40,
			Quantity:    2,
			Grain:       "L",
			EdgeFront:   "K1",
		}},
	})
	require.NoError(t, err)
	return raw
}

func createAndClaim(t *testing.T, fx *fixture, payload []byte, mode config.OptiMode) *models.Job {
	t.Helper()
	ctx := context.Background()

	_, _, err := fx.store.CreateJob(ctx, "A-100", payload, mode)
	require.NoError(t, err)

	job, err := fx.store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestPipeline_EndToEndSuccess(t *testing.T) {
	ctx := context.Background()
	fx := setupPipeline(t)

	_, err := fx.store.UpsertCustomer(ctx, "Schreinerei Huber", "+49 171 123456")
	require.NoError(t, err)

	job := createAndClaim(t, fx, testPayload(t), config.ModeAuto)
	fx.pipeline.ProcessClaimedJob(ctx, job)

	loaded, events, err := fx.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(config.StateDone), loaded.State)
	assert.Nil(t, loaded.ErrorCode)
	assert.Nil(t, loaded.ClaimToken, "claim must be released")

	assert.Equal(t, 1, fx.trigger.calls)
	assert.Equal(t, []string{"/export/result.xml"}, fx.delivery.delivered)

	// One audit entry per transition, in pipeline order, after "created".
	wantStates := []string{"PREPARED", "OPTI_IMPORTED", "OPTI_RUNNING", "OPTI_DONE", "XML_READY", "DELIVERED", "DONE"}
	var gotStates []string
	for _, e := range events {
		if e.EventType == config.EventStateChanged {
			var details map[string]any
			require.NoError(t, json.Unmarshal(e.Details, &details))
			gotStates = append(gotStates, details["state"].(string))
		}
	}
	assert.Equal(t, wantStates, gotStates)
}

func TestPipeline_NoCRMMatchHolds(t *testing.T) {
	ctx := context.Background()
	fx := setupPipeline(t)
	// No customer upserted.

	job := createAndClaim(t, fx, testPayload(t), config.ModeAuto)
	fx.pipeline.ProcessClaimedJob(ctx, job)

	loaded, _, err := fx.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(config.StateHold), loaded.State)
	require.NotNil(t, loaded.ErrorCode)
	assert.Equal(t, string(faults.CodeCRMNoMatch), *loaded.ErrorCode)
	assert.Nil(t, loaded.ClaimToken)
	assert.Equal(t, 0, fx.trigger.calls, "pipeline stops before the trigger")

	// Held jobs are not claimable until approved.
	claimed, err := fx.store.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	_, err = fx.store.UpsertCustomer(ctx, "Schreinerei Huber", "+49 171 123456")
	require.NoError(t, err)
	_, err = fx.store.ApproveHold(ctx, job.ID)
	require.NoError(t, err)

	claimed, err = fx.store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.False(t, claimed.ManualTriggerApproved)
}

func TestPipeline_ModeCGateHoldsUntilApproved(t *testing.T) {
	ctx := context.Background()
	fx := setupPipeline(t)

	_, err := fx.store.UpsertCustomer(ctx, "Schreinerei Huber", "+49 171 123456")
	require.NoError(t, err)

	job := createAndClaim(t, fx, testPayload(t), config.ModeManual)
	fx.pipeline.ProcessClaimedJob(ctx, job)

	loaded, _, err := fx.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(config.StateHold), loaded.State)
	require.NotNil(t, loaded.ErrorCode)
	assert.Equal(t, string(faults.CodeOperatorTriggerRequired), *loaded.ErrorCode)
	assert.Equal(t, 0, fx.trigger.calls, "mode C never auto-triggers")

	approved, err := fx.store.ApproveHold(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, approved.ManualTriggerApproved)

	// Reprocessing skips the gate and the trigger, then completes.
	claimed, err := fx.store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	fx.pipeline.ProcessClaimedJob(ctx, claimed)

	loaded, _, err = fx.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(config.StateDone), loaded.State)
	assert.Equal(t, 0, fx.trigger.calls)
}

func TestPipeline_TransientTriggerFailure(t *testing.T) {
	ctx := context.Background()
	fx := setupPipeline(t)
	fx.trigger.err = faults.New(faults.CodeOptiExit, "exit status 2")

	_, err := fx.store.UpsertCustomer(ctx, "Schreinerei Huber", "+49 171 123456")
	require.NoError(t, err)

	job := createAndClaim(t, fx, testPayload(t), config.ModeAuto)
	fx.pipeline.ProcessClaimedJob(ctx, job)

	loaded, _, err := fx.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(config.StateFailed), loaded.State)
	require.NotNil(t, loaded.ErrorCode)
	assert.Equal(t, string(faults.CodeOptiExit), *loaded.ErrorCode)
	assert.Nil(t, loaded.ClaimToken)
}

func TestPipeline_PermanentRuleFailure(t *testing.T) {
	ctx := context.Background()
	fx := setupPipeline(t)

	_, err := fx.store.UpsertCustomer(ctx, "Schreinerei Huber", "+49 171 123456")
	require.NoError(t, err)

	var payload dto.CutList
	require.NoError(t, json.Unmarshal(testPayload(t), &payload))
	payload.Parts[0].Grain = "UNKNOWN"
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	job := createAndClaim(t, fx, raw, config.ModeAuto)
	fx.pipeline.ProcessClaimedJob(ctx, job)

	loaded, _, err := fx.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(config.StateFailed), loaded.State)
	require.NotNil(t, loaded.ErrorCode)
	assert.Equal(t, string(faults.CodeGrainUnknown), *loaded.ErrorCode)
}

func TestPipeline_MissingPlateSize(t *testing.T) {
	ctx := context.Background()
	fx := setupPipeline(t)
	fx.pipeline.rules.DefaultPlate = config.PlateSize{}

	_, err := fx.store.UpsertCustomer(ctx, "Schreinerei Huber", "+49 171 123456")
	require.NoError(t, err)

	job := createAndClaim(t, fx, testPayload(t), config.ModeAuto)
	fx.pipeline.ProcessClaimedJob(ctx, job)

	loaded, _, err := fx.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(config.StateFailed), loaded.State)
	require.NotNil(t, loaded.ErrorCode)
	assert.Equal(t, string(faults.CodePlateSizeMissing), *loaded.ErrorCode)
}

func TestPipeline_CanceledContextStillRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	fx := setupPipeline(t)

	_, err := fx.store.UpsertCustomer(ctx, "Schreinerei Huber", "+49 171 123456")
	require.NoError(t, err)

	job := createAndClaim(t, fx, testPayload(t), config.ModeAuto)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	fx.pipeline.ProcessClaimedJob(canceled, job)

	// The attempt dies on the first store call, but the failure transition
	// and the claim release must both land regardless.
	loaded, _, err := fx.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(config.StateFailed), loaded.State)
	require.NotNil(t, loaded.ErrorCode)
	assert.Nil(t, loaded.ClaimToken)
}

func TestPipeline_MalformedStoredPayload(t *testing.T) {
	ctx := context.Background()
	fx := setupPipeline(t)

	job := createAndClaim(t, fx, []byte(`{"broken":`), config.ModeAuto)
	fx.pipeline.ProcessClaimedJob(ctx, job)

	loaded, _, err := fx.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(config.StateFailed), loaded.State)
	require.NotNil(t, loaded.ErrorCode)
	assert.Equal(t, string(faults.CodePayloadInvalid), *loaded.ErrorCode)
}
