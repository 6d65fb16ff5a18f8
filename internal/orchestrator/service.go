package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/panelworks/cutflow/common"
	"github.com/panelworks/cutflow/internal/config"
	"github.com/panelworks/cutflow/internal/dto"
	"github.com/panelworks/cutflow/internal/faults"
	"github.com/panelworks/cutflow/internal/models"
	"github.com/panelworks/cutflow/internal/storage/postgres"
	"github.com/panelworks/cutflow/internal/telemetry"
	"github.com/panelworks/cutflow/middleware"
)

var validate = validator.New()

// Service is the upstream surface consumed by the HTTP layer. Caller-input
// problems come back as typed API errors and are never stored on a job.
type Service struct {
	store Store
	rules *config.Rules
}

func NewService(store Store, rules *config.Rules) *Service {
	return &Service{store: store, rules: rules}
}

// CreateJob validates the cut list, canonicalizes it, and creates the job.
// Submission is idempotent: identical content always maps to one job.
func (s *Service) CreateJob(ctx context.Context, req *dto.JobCreateDTO) (*dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request canceled or timed out")
	}

	if err := validate.Struct(req); err != nil {
		return nil, common.APIError{
			Status:  http.StatusBadRequest,
			Message: "validation failed",
			Fields:  middleware.FormatValidationErrors(err),
		}
	}

	mode := config.OptiMode(req.OptiMode)
	if mode == "" {
		mode = s.rules.DefaultMode
	}

	// Re-marshal the typed cut list so hashing sees canonical bytes, not
	// whatever key order the client sent.
	payload, err := json.Marshal(req.CutList)
	if err != nil {
		return nil, common.Errf(http.StatusBadRequest, "payload cannot be serialized")
	}

	job, dedup, err := s.store.CreateJob(ctx, req.OrderID, payload, mode)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
		default:
			return nil, common.Errf(http.StatusInternalServerError, "failed to create job")
		}
	}

	if dedup {
		telemetry.JobsDeduped.Inc()
	} else {
		telemetry.JobsCreated.Inc()
	}
	resp := toJobResponse(job)
	resp.Deduplicated = dedup
	return &resp, nil
}

// GetJob returns the job and its full audit trail.
func (s *Service) GetJob(ctx context.Context, id string) (*dto.JobDetailDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	job, events, err := s.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, postgres.ErrJobNotFound) {
			return nil, common.Errf(http.StatusNotFound, "job not found")
		}
		return nil, common.Errf(http.StatusInternalServerError, "failed to get job")
	}

	detail := dto.JobDetailDTO{Job: toJobResponse(job)}
	for _, e := range events {
		detail.Events = append(detail.Events, dto.AuditEventDTO{
			ID:        e.ID,
			JobID:     e.JobID,
			EventType: e.EventType,
			Message:   e.Message,
			Details:   json.RawMessage(e.Details),
			CreatedAt: e.CreatedAt,
		})
	}
	return &detail, nil
}

func (s *Service) ListJobs(ctx context.Context, limit float64) ([]dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	jobs, err := s.store.ListJobs(ctx, limit)
	if err != nil {
		return nil, common.Errf(http.StatusInternalServerError, "failed to list jobs")
	}

	out := make([]dto.JobResponseDTO, len(jobs))
	for i := range jobs {
		out[i] = toJobResponse(&jobs[i])
	}
	return out, nil
}

// RetryJob schedules another attempt for a failed job. It refuses when the
// retry ceiling is reached or the stored error is permanent; a permanent
// refusal surfaces the error code itself as the message.
func (s *Service) RetryJob(ctx context.Context, id string) (*dto.RetryResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	job, _, err := s.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, postgres.ErrJobNotFound) {
			return nil, common.Errf(http.StatusNotFound, "job not found")
		}
		return nil, common.Errf(http.StatusInternalServerError, "failed to load job")
	}

	if job.State != string(config.StateFailed) {
		return nil, common.Errf(http.StatusConflict, "job is not in a failed state")
	}
	if job.RetryCount >= s.rules.Retry.MaxRetries {
		return nil, common.Errf(http.StatusConflict, "retry limit reached (%d)", s.rules.Retry.MaxRetries)
	}
	if job.ErrorCode != nil && faults.IsPermanent(faults.Code(*job.ErrorCode)) {
		return nil, common.Errf(http.StatusConflict, "%s", *job.ErrorCode)
	}

	backoff := s.rules.Retry.BackoffAt(job.RetryCount)
	count, err := s.store.ScheduleRetry(ctx, id, backoff)
	if err != nil {
		return nil, common.Errf(http.StatusInternalServerError, "failed to schedule retry")
	}

	telemetry.JobsRetried.Inc()
	return &dto.RetryResponseDTO{RetryCount: count}, nil
}

// ApproveHold releases a held job back into the queue.
func (s *Service) ApproveHold(ctx context.Context, id string) (*dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	job, err := s.store.ApproveHold(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, postgres.ErrJobNotFound):
			return nil, common.Errf(http.StatusNotFound, "job not found")
		case errors.Is(err, postgres.ErrNotInHold):
			return nil, common.Errf(http.StatusConflict, "job is not in hold")
		default:
			return nil, common.Errf(http.StatusInternalServerError, "failed to approve hold")
		}
	}

	resp := toJobResponse(job)
	return &resp, nil
}

// LookupCustomer normalizes the phone and reports the match, if any.
// Absence is not an error here.
func (s *Service) LookupCustomer(ctx context.Context, phone string) (*dto.CustomerLookupDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	normalized := postgres.NormalizePhone(phone)
	customer, err := s.store.LookupCustomerByPhone(ctx, normalized)
	if err != nil {
		return nil, common.Errf(http.StatusInternalServerError, "failed to look up customer")
	}

	result := &dto.CustomerLookupDTO{PhoneNormalized: normalized}
	if customer != nil {
		result.Customer = &dto.CustomerDTO{
			ID:              customer.ID,
			Name:            customer.Name,
			PhoneNormalized: customer.PhoneNormalized,
			CreatedAt:       customer.CreatedAt,
		}
	}
	return result, nil
}

func toJobResponse(job *models.Job) dto.JobResponseDTO {
	return dto.JobResponseDTO{
		ID:                    job.ID,
		OrderID:               job.OrderID,
		Payload:               json.RawMessage(job.Payload),
		State:                 job.State,
		ErrorCode:             job.ErrorCode,
		ErrorMessage:          job.ErrorMessage,
		RetryCount:            job.RetryCount,
		OptiMode:              job.OptiMode,
		NextRunAt:             job.NextRunAt,
		ManualTriggerApproved: job.ManualTriggerApproved,
		CreatedAt:             job.CreatedAt,
		UpdatedAt:             job.UpdatedAt,
	}
}
