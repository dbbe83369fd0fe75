package workflow

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// UnitState follows pending -> reserved -> submitted -> polling -> materialized, or
// fails from any of the active states.
type UnitState string

const (
	UnitPending      UnitState = "pending"
	UnitReserved     UnitState = "reserved"
	UnitSubmitted    UnitState = "submitted"
	UnitPolling      UnitState = "polling"
	UnitMaterialized UnitState = "materialized"
	UnitFailed       UnitState = "failed"
)

// Unit is one image of a workflow.
type Unit struct {
	Index           int       `json:"index"`
	Prompt          string    `json:"prompt"`
	ReferenceAssets []string  `json:"reference_assets,omitempty"`
	State           UnitState `json:"state"`
	ReferenceID     string    `json:"reference_id,omitempty"`
	JobID           string    `json:"job_id,omitempty"`
	ArtifactURL     string    `json:"artifact_url,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// Units is stored as an ordered JSONB array.
type Units []Unit

// Value implements driver.Valuer so sqlx can serialize Units -> JSONB.
func (u Units) Value() (driver.Value, error) {
	if u == nil {
		return "[]", nil
	}
	b, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow units: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner so sqlx can deserialize JSONB -> Units.
func (u *Units) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	case nil:
		*u = nil
		return nil
	default:
		return fmt.Errorf("unexpected type for workflow units: %T", src)
	}
	return json.Unmarshal(b, u)
}

type Workflow struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	OwnerUserID          uuid.UUID  `db:"owner_user_id" json:"owner_user_id"`
	Type                 string     `db:"type" json:"type"`
	Status               Status     `db:"status" json:"status"`
	Units                Units      `db:"units" json:"units"`
	TotalCreditsDeducted int        `db:"total_credits_deducted" json:"total_credits_deducted"`
	UnitCost             int        `db:"unit_cost" json:"unit_cost"`
	FailureReason        *string    `db:"failure_reason" json:"failure_reason,omitempty"`
	LeaseUntil           *time.Time `db:"lease_until" json:"-"`
	ClaimToken           *uuid.UUID `db:"claim_token" json:"-"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt          *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Progress counts materialized units.
func (w *Workflow) Progress() (done, total int) {
	for _, u := range w.Units {
		if u.State == UnitMaterialized {
			done++
		}
	}
	return done, len(w.Units)
}

// UnitReference is the ledger reference a unit reserves under until it has a job id.
func UnitReference(workflowID uuid.UUID, index int) string {
	return fmt.Sprintf("wfunit:%s:%d", workflowID, index)
}

// CreateRequest is the body of POST /workflows.
type CreateRequest struct {
	Type  string        `json:"type" validate:"required,workflow_type"`
	Units []UnitRequest `json:"units" validate:"required,min=1,max=20,dive"`
}

type UnitRequest struct {
	Prompt          string   `json:"prompt" validate:"required,max=4000"`
	ReferenceAssets []string `json:"reference_assets" validate:"omitempty,max=14,dive,asset_url"`
}

// Snapshot is what clients see of a workflow.
type Snapshot struct {
	ID                   uuid.UUID `json:"id"`
	Type                 string    `json:"type"`
	Status               Status    `json:"status"`
	Completed            int       `json:"completed"`
	Total                int       `json:"total"`
	TotalCreditsDeducted int       `json:"total_credits_deducted"`
	FailureReason        string    `json:"failure_reason,omitempty"`
	Units                Units     `json:"units"`
}

func SnapshotOf(w *Workflow) Snapshot {
	done, total := w.Progress()
	s := Snapshot{
		ID:                   w.ID,
		Type:                 w.Type,
		Status:               w.Status,
		Completed:            done,
		Total:                total,
		TotalCreditsDeducted: w.TotalCreditsDeducted,
		Units:                w.Units,
	}
	if w.FailureReason != nil {
		s.FailureReason = *w.FailureReason
	}
	return s
}
