package dto

import (
	"encoding/json"
	"time"

	"github.com/panelworks/cutflow/internal/config"
)

// PartInput is one line of a submitted cut list. Dimensions arrive in
// centimeters; the transform converts to millimeters.
type PartInput struct {
	Description string  `json:"description" validate:"required"`
	Type        string  `json:"type" validate:"required"`
	Color       string  `json:"color" validate:"required"`
	Thickness   float64 `json:"thickness" validate:"gt=0"`
	Length      float64 `json:"length" validate:"gt=0"`
	Width       float64 `json:"width" validate:"gt=0"`
	Quantity    int     `json:"quantity" validate:"gte=1"`
	Grain       string  `json:"grain"`
	EdgeFront   string  `json:"edge_front"`
	EdgeBack    string  `json:"edge_back"`
	EdgeLeft    string  `json:"edge_left"`
	EdgeRight   string  `json:"edge_right"`
}

// CutList is the canonical job payload. It is re-marshaled before hashing
// so that equivalent submissions dedup onto one job.
type CutList struct {
	OrderID       string            `json:"order_id" validate:"required"`
	CustomerPhone string            `json:"customer_phone" validate:"required"`
	Plate         *config.PlateSize `json:"plate,omitempty"`
	Parts         []PartInput       `json:"parts" validate:"required,min=1,dive"`
}

type JobCreateDTO struct {
	CutList
	OptiMode string `json:"opti_mode" validate:"omitempty,oneof=A B C"`
}

type JobResponseDTO struct {
	ID                    string          `json:"id"`
	OrderID               string          `json:"order_id"`
	Payload               json.RawMessage `json:"payload"`
	State                 string          `json:"state"`
	ErrorCode             *string         `json:"error_code,omitempty"`
	ErrorMessage          *string         `json:"error_message,omitempty"`
	RetryCount            int             `json:"retry_count"`
	OptiMode              string          `json:"opti_mode"`
	NextRunAt             time.Time       `json:"next_run_at"`
	ManualTriggerApproved bool            `json:"manual_trigger_approved"`
	Deduplicated          bool            `json:"deduplicated,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

type AuditEventDTO struct {
	ID        uint            `json:"id"`
	JobID     string          `json:"job_id"`
	EventType string          `json:"event_type"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type JobDetailDTO struct {
	Job    JobResponseDTO  `json:"job"`
	Events []AuditEventDTO `json:"events"`
}

type RetryResponseDTO struct {
	RetryCount int `json:"retry_count"`
}

type CustomerLookupDTO struct {
	PhoneNormalized string       `json:"phone_normalized"`
	Customer        *CustomerDTO `json:"customer,omitempty"`
}

type CustomerDTO struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	PhoneNormalized string    `json:"phone_normalized"`
	CreatedAt       time.Time `json:"created_at"`
}
