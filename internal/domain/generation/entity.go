package generation

import (
	"time"

	"github.com/google/uuid"
)

// Job is a provider job we have paid for. JobID is assigned by the provider.
type Job struct {
	JobID       string     `db:"job_id" json:"job_id"`
	OwnerUserID uuid.UUID  `db:"owner_user_id" json:"owner_user_id"`
	Status      Status     `db:"status" json:"status"`
	Prompt      string     `db:"prompt" json:"prompt"`
	Model       string     `db:"model" json:"model"`
	UnitCost    int        `db:"unit_cost" json:"unit_cost"`
	ReferenceID string     `db:"reference_id" json:"-"`
	WorkflowID  *uuid.UUID `db:"workflow_id" json:"workflow_id,omitempty"`
	SourceTag   string     `db:"source_tag" json:"source_tag"`
	Category    string     `db:"category" json:"category"`
	OutputURL   *string    `db:"output_url" json:"output_url,omitempty"`
	Error       *string    `db:"error" json:"error,omitempty"`
	SubmittedAt time.Time  `db:"submitted_at" json:"submitted_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// SubmitRequest is what the gateway sends to the provider.
type SubmitRequest struct {
	Prompt          string
	ReferenceAssets []string
	Params          map[string]interface{}
}

// PollResult is one observation of a job.
type PollResult struct {
	Status    Status
	OutputURL string
	Error     string
}

// GenerateRequest is the body of POST /generations.
type GenerateRequest struct {
	Prompt          string                 `json:"prompt" validate:"required,max=4000"`
	ReferenceAssets []string               `json:"reference_assets" validate:"omitempty,dive,asset_url"`
	Params          map[string]interface{} `json:"params"`
	SourceTag       string                 `json:"source_tag" validate:"max=64"`
	Category        string                 `json:"category" validate:"max=64"`
}

type GenerateResult struct {
	JobID   string `json:"job_id"`
	Status  Status `json:"status"`
	Balance int    `json:"balance"`
}

// StatusResult is returned by status checks. Balance is set when a refund was just applied.
type StatusResult struct {
	JobID      string     `json:"job_id"`
	Status     Status     `json:"status"`
	OutputURL  string     `json:"output_url,omitempty"`
	Error      string     `json:"error,omitempty"`
	ErrorCode  string     `json:"error_code,omitempty"`
	WorkflowID *uuid.UUID `json:"workflow_id,omitempty"`
	Balance    *int       `json:"balance,omitempty"`
}
