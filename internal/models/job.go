package models

import (
	"time"

	"gorm.io/datatypes"
)

// Job is one cut-list order travelling through the pipeline. State changes
// go exclusively through the store's transition methods; rows are never
// hard-deleted.
type Job struct {
	ID                    string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrderID               string         `gorm:"type:varchar(64);not null;index" json:"order_id"`
	Payload               datatypes.JSON `json:"payload"`
	PayloadHash           string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_jobs_payload_hash" json:"payload_hash"`
	State                 string         `gorm:"type:varchar(32);not null;default:'NEW';index;index:ux_jobs_running,unique,where:state = 'OPTI_RUNNING'" json:"state"`
	ErrorCode             *string        `gorm:"type:varchar(64)" json:"error_code,omitempty"`
	ErrorMessage          *string        `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount            int            `gorm:"not null;default:0" json:"retry_count"`
	OptiMode              string         `gorm:"type:varchar(1);not null" json:"opti_mode"`
	NextRunAt             time.Time      `gorm:"not null;index" json:"next_run_at"`
	ClaimToken            *string        `gorm:"type:varchar(36)" json:"claim_token,omitempty"`
	ManualTriggerApproved bool           `gorm:"not null;default:false" json:"manual_trigger_approved"`
	CreatedAt             time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// AuditEvent is append-only. The store exposes no update or delete on it.
type AuditEvent struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID     string         `gorm:"type:varchar(36);not null;index" json:"job_id"`
	EventType string         `gorm:"type:varchar(32);not null" json:"event_type"`
	Message   string         `gorm:"type:text" json:"message"`
	Details   datatypes.JSON `json:"details,omitempty"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

type Customer struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name            string    `gorm:"type:varchar(255);not null" json:"name"`
	PhoneNormalized string    `gorm:"type:varchar(32);not null;uniqueIndex" json:"phone_normalized"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
