package orchestrator

import (
	"context"
	"time"

	"github.com/panelworks/cutflow/internal/config"
	"github.com/panelworks/cutflow/internal/models"
	"github.com/panelworks/cutflow/internal/transform"
)

// Store defines the contract the pipeline and service need from the
// durable job store.
type Store interface {
	CreateJob(ctx context.Context, orderID string, payload []byte, mode config.OptiMode) (*models.Job, bool, error)
	ClaimNext(ctx context.Context) (*models.Job, error)
	SetState(ctx context.Context, id string, state config.JobState, message string, details map[string]any) error
	SetHold(ctx context.Context, id string, code string, message string, details map[string]any) error
	SetFailed(ctx context.Context, id string, code string, message string, details map[string]any) error
	ScheduleRetry(ctx context.Context, id string, backoffMinutes int) (int, error)
	ApproveHold(ctx context.Context, id string) (*models.Job, error)
	ReleaseClaim(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (*models.Job, []models.AuditEvent, error)
	ListJobs(ctx context.Context, limit float64) ([]models.Job, error)
	LookupCustomerByPhone(ctx context.Context, phoneNormalized string) (*models.Customer, error)
	UpsertCustomer(ctx context.Context, name string, phone string) (*models.Customer, error)
}

// TriggerAdapter starts the external optimizer for modes A and B.
type TriggerAdapter interface {
	Start(ctx context.Context, mode config.OptiMode, files []string) error
}

// ExportCollector waits for the optimizer's XML output.
type ExportCollector interface {
	Await(ctx context.Context, jobID string, timeout time.Duration) (string, error)
}

// Deliverer hands an artifact to the machine and awaits its verdict.
type Deliverer interface {
	Deliver(ctx context.Context, artifact string, timeout time.Duration) error
}

// BatchWriter validates the template shape and stamps batch files.
type BatchWriter interface {
	Validate() error
	WriteBatch(jobID string, seq int, b transform.Batch, plate config.PlateSize) (string, error)
}
