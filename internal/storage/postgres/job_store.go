package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/panelworks/cutflow/internal/config"
	"github.com/panelworks/cutflow/internal/faults"
	"github.com/panelworks/cutflow/internal/models"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrNotInHold   = errors.New("job is not in hold")
	// ErrRunningConflict surfaces the single-running constraint: another
	// job already holds the OPTI_RUNNING state.
	ErrRunningConflict = errors.New("another job is already running the optimizer")
)

type JobStore struct {
	db *gorm.DB
}

func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

// HashPayload computes the content digest used for idempotent submission.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// CreateJob inserts a new job in NEW, or returns the existing job when the
// payload hash collides. The dedup path is not an error; it records an
// audit event and reports dedup=true.
func (s *JobStore) CreateJob(ctx context.Context, orderID string, payload []byte, mode config.OptiMode) (*models.Job, bool, error) {
	hash := HashPayload(payload)

	var job models.Job
	dedup := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findByHash(tx, hash)
		if err != nil {
			return err
		}
		if existing != nil {
			job = *existing
			dedup = true
			return appendAudit(tx, job.ID, config.EventDedupHit,
				"identical payload already submitted", map[string]any{"payload_hash": hash})
		}

		job = models.Job{
			ID:          uuid.NewString(),
			OrderID:     orderID,
			Payload:     datatypes.JSON(payload),
			PayloadHash: hash,
			State:       string(config.StateNew),
			OptiMode:    string(mode),
			NextRunAt:   time.Now().UTC(),
		}
		if err := tx.Create(&job).Error; err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		return appendAudit(tx, job.ID, config.EventCreated, "job created",
			map[string]any{"order_id": orderID, "opti_mode": string(mode)})
	})

	// A concurrent submitter can slip in between the lookup and the
	// insert; the unique index turns that into a dedup hit as well, with
	// the same audit entry the unraced path records.
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		existing, ferr := findByHash(s.db.WithContext(ctx), hash)
		if ferr == nil && existing != nil {
			if aerr := appendAudit(s.db.WithContext(ctx), existing.ID, config.EventDedupHit,
				"identical payload already submitted", map[string]any{"payload_hash": hash}); aerr != nil {
				return nil, false, aerr
			}
			return existing, true, nil
		}
		return nil, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return &job, dedup, nil
}

func findByHash(tx *gorm.DB, hash string) (*models.Job, error) {
	var job models.Job
	err := tx.First(&job, "payload_hash = ?", hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by hash: %w", err)
	}
	return &job, nil
}

// ClaimNext claims the oldest eligible NEW job via a conditional update.
// The affected-row count is the arbiter: a lost race against another
// runner looks exactly like "nothing eligible" and returns nil, nil.
func (s *JobStore) ClaimNext(ctx context.Context) (*models.Job, error) {
	var claimed *models.Job

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		var job models.Job
		err := tx.
			Where("state = ? AND next_run_at <= ? AND claim_token IS NULL", string(config.StateNew), now).
			Order("next_run_at asc, created_at asc").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select eligible job: %w", err)
		}

		token := uuid.NewString()
		res := tx.Model(&models.Job{}).
			Where("id = ? AND state = ? AND claim_token IS NULL", job.ID, string(config.StateNew)).
			Update("claim_token", token)
		if res.Error != nil {
			return fmt.Errorf("claim job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Another runner got it first.
			return nil
		}

		job.ClaimToken = &token
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// SetState applies an unconditional transition, clearing any previous
// error fields, and appends the audit entry in the same transaction.
func (s *JobStore) SetState(ctx context.Context, id string, state config.JobState, message string, details map[string]any) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Job{}).Where("id = ?", id).Updates(map[string]any{
			"state":         string(state),
			"error_code":    nil,
			"error_message": nil,
		})
		if res.Error != nil {
			return fmt.Errorf("set state %s: %w", state, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrJobNotFound
		}
		return appendAudit(tx, id, config.EventStateChanged, message, withState(details, state))
	})
	if err != nil && state == config.StateOptiRunning && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrRunningConflict
	}
	return err
}

// SetHold parks the job for operator approval, recording the triggering code.
func (s *JobStore) SetHold(ctx context.Context, id string, code string, message string, details map[string]any) error {
	return s.setError(ctx, id, config.StateHold, config.EventHold, code, message, details)
}

// SetFailed records a terminal-for-now failure.
func (s *JobStore) SetFailed(ctx context.Context, id string, code string, message string, details map[string]any) error {
	return s.setError(ctx, id, config.StateFailed, config.EventFailed, code, message, details)
}

func (s *JobStore) setError(ctx context.Context, id string, state config.JobState, event string, code string, message string, details map[string]any) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Job{}).Where("id = ?", id).Updates(map[string]any{
			"state":         string(state),
			"error_code":    code,
			"error_message": message,
		})
		if res.Error != nil {
			return fmt.Errorf("set %s: %w", state, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrJobNotFound
		}
		return appendAudit(tx, id, event, message, withCode(details, code))
	})
}

// ScheduleRetry re-arms the job: NEW, error cleared, claim cleared,
// next_run_at pushed out by the backoff. Returns the new retry count.
// Policy checks (ceiling, permanent errors) belong to the caller.
func (s *JobStore) ScheduleRetry(ctx context.Context, id string, backoffMinutes int) (int, error) {
	var retryCount int

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.First(&job, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return fmt.Errorf("load job: %w", err)
		}

		retryCount = job.RetryCount + 1
		nextRun := time.Now().UTC().Add(time.Duration(backoffMinutes) * time.Minute)

		if err := tx.Model(&models.Job{}).Where("id = ?", id).Updates(map[string]any{
			"retry_count":   retryCount,
			"state":         string(config.StateNew),
			"error_code":    nil,
			"error_message": nil,
			"claim_token":   nil,
			"next_run_at":   nextRun,
		}).Error; err != nil {
			return fmt.Errorf("schedule retry: %w", err)
		}

		return appendAudit(tx, id, config.EventRetryScheduled, "retry scheduled", map[string]any{
			"retry_count":     retryCount,
			"backoff_minutes": backoffMinutes,
			"next_run_at":     nextRun,
		})
	})
	if err != nil {
		return 0, err
	}
	return retryCount, nil
}

// ApproveHold releases a held job back to NEW. When the hold was for the
// operator trigger, the approval flag is set so reprocessing skips the
// mode-C gate; the flag is sticky and never cleared here.
func (s *JobStore) ApproveHold(ctx context.Context, id string) (*models.Job, error) {
	var approved models.Job

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.First(&job, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return fmt.Errorf("load job: %w", err)
		}
		if job.State != string(config.StateHold) {
			return ErrNotInHold
		}

		updates := map[string]any{
			"state":         string(config.StateNew),
			"error_code":    nil,
			"error_message": nil,
			"claim_token":   nil,
			"next_run_at":   time.Now().UTC(),
		}
		heldCode := ""
		if job.ErrorCode != nil {
			heldCode = *job.ErrorCode
		}
		if heldCode == string(faults.CodeOperatorTriggerRequired) {
			updates["manual_trigger_approved"] = true
		}

		if err := tx.Model(&models.Job{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("approve hold: %w", err)
		}
		if err := appendAudit(tx, id, config.EventHoldApproved, "hold approved",
			map[string]any{"held_code": heldCode}); err != nil {
			return err
		}
		return tx.First(&approved, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &approved, nil
}

// ReleaseClaim idempotently clears the claim token. Called on every exit
// path of a processing attempt.
func (s *JobStore) ReleaseClaim(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", id).
		Update("claim_token", nil).Error; err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// GetJob returns the job and its audit trail in insertion order.
func (s *JobStore) GetJob(ctx context.Context, id string) (*models.Job, []models.AuditEvent, error) {
	var job models.Job
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrJobNotFound
		}
		return nil, nil, fmt.Errorf("get job: %w", err)
	}

	var events []models.AuditEvent
	if err := s.db.WithContext(ctx).
		Where("job_id = ?", id).
		Order("id asc").
		Find(&events).Error; err != nil {
		return nil, nil, fmt.Errorf("list audit events: %w", err)
	}
	return &job, events, nil
}

// ListJobs returns the newest jobs first. The limit is clamped into
// [1,500]; non-finite input falls back to 100.
func (s *JobStore) ListJobs(ctx context.Context, limit float64) ([]models.Job, error) {
	n := clampLimit(limit)

	var jobs []models.Job
	if err := s.db.WithContext(ctx).
		Order("created_at desc").
		Limit(n).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func clampLimit(limit float64) int {
	if math.IsNaN(limit) || math.IsInf(limit, 0) {
		return 100
	}
	// Clamp on the float first: converting an out-of-range float64 to int
	// is implementation-defined.
	if limit < 1 {
		return 1
	}
	if limit > 500 {
		return 500
	}
	return int(limit)
}

// appendAudit writes one append-only audit row. There is deliberately no
// update or delete counterpart anywhere in this package.
func appendAudit(tx *gorm.DB, jobID string, eventType string, message string, details map[string]any) error {
	var blob datatypes.JSON
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		blob = datatypes.JSON(raw)
	}
	event := models.AuditEvent{
		JobID:     jobID,
		EventType: eventType,
		Message:   message,
		Details:   blob,
	}
	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func withState(details map[string]any, state config.JobState) map[string]any {
	if details == nil {
		details = map[string]any{}
	}
	details["state"] = string(state)
	return details
}

func withCode(details map[string]any, code string) map[string]any {
	if details == nil {
		details = map[string]any{}
	}
	details["error_code"] = code
	return details
}
