package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/panelworks/cutflow/internal/config"
	"github.com/panelworks/cutflow/internal/models"
)

// StoreMock implements orchestrator.Store for service and pipeline tests.
type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) CreateJob(ctx context.Context, orderID string, payload []byte, mode config.OptiMode) (*models.Job, bool, error) {
	args := m.Called(ctx, orderID, payload, mode)
	var job *models.Job
	if args.Get(0) != nil {
		job = args.Get(0).(*models.Job)
	}
	return job, args.Bool(1), args.Error(2)
}

func (m *StoreMock) ClaimNext(ctx context.Context) (*models.Job, error) {
	args := m.Called(ctx)
	var job *models.Job
	if args.Get(0) != nil {
		job = args.Get(0).(*models.Job)
	}
	return job, args.Error(1)
}

func (m *StoreMock) SetState(ctx context.Context, id string, state config.JobState, message string, details map[string]any) error {
	args := m.Called(ctx, id, state, message, details)
	return args.Error(0)
}

func (m *StoreMock) SetHold(ctx context.Context, id string, code string, message string, details map[string]any) error {
	args := m.Called(ctx, id, code, message, details)
	return args.Error(0)
}

func (m *StoreMock) SetFailed(ctx context.Context, id string, code string, message string, details map[string]any) error {
	args := m.Called(ctx, id, code, message, details)
	return args.Error(0)
}

func (m *StoreMock) ScheduleRetry(ctx context.Context, id string, backoffMinutes int) (int, error) {
	args := m.Called(ctx, id, backoffMinutes)
	return args.Int(0), args.Error(1)
}

func (m *StoreMock) ApproveHold(ctx context.Context, id string) (*models.Job, error) {
	args := m.Called(ctx, id)
	var job *models.Job
	if args.Get(0) != nil {
		job = args.Get(0).(*models.Job)
	}
	return job, args.Error(1)
}

func (m *StoreMock) ReleaseClaim(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *StoreMock) GetJob(ctx context.Context, id string) (*models.Job, []models.AuditEvent, error) {
	args := m.Called(ctx, id)
	var job *models.Job
	if args.Get(0) != nil {
		job = args.Get(0).(*models.Job)
	}
	var events []models.AuditEvent
	if args.Get(1) != nil {
		events = args.Get(1).([]models.AuditEvent)
	}
	return job, events, args.Error(2)
}

func (m *StoreMock) ListJobs(ctx context.Context, limit float64) ([]models.Job, error) {
	args := m.Called(ctx, limit)
	var jobs []models.Job
	if args.Get(0) != nil {
		jobs = args.Get(0).([]models.Job)
	}
	return jobs, args.Error(1)
}

func (m *StoreMock) LookupCustomerByPhone(ctx context.Context, phoneNormalized string) (*models.Customer, error) {
	args := m.Called(ctx, phoneNormalized)
	var customer *models.Customer
	if args.Get(0) != nil {
		customer = args.Get(0).(*models.Customer)
	}
	return customer, args.Error(1)
}

func (m *StoreMock) UpsertCustomer(ctx context.Context, name string, phone string) (*models.Customer, error) {
	args := m.Called(ctx, name, phone)
	var customer *models.Customer
	if args.Get(0) != nil {
		customer = args.Get(0).(*models.Customer)
	}
	return customer, args.Error(1)
}
