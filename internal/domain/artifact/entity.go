package artifact

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusFailed    Status = "failed"
	StatusDiscarded Status = "discarded"
)

// Artifact is the durable, owned copy of one job's output. At most one exists per job.
type Artifact struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	JobID       string     `db:"job_id" json:"job_id"`
	OwnerUserID uuid.UUID  `db:"owner_user_id" json:"owner_user_id"`
	WorkflowID  *uuid.UUID `db:"workflow_id" json:"workflow_id,omitempty"`
	StorageKey  *string    `db:"storage_key" json:"-"`
	StorageURL  *string    `db:"storage_url" json:"storage_url,omitempty"`
	SourceTag   string     `db:"source_tag" json:"source_tag"`
	Category    string     `db:"category" json:"category"`
	Status      Status     `db:"status" json:"status"`
	ContentType *string    `db:"content_type" json:"content_type,omitempty"`
	SizeBytes   *int64     `db:"size_bytes" json:"size_bytes,omitempty"`
	Width       *int       `db:"width" json:"width,omitempty"`
	Height      *int       `db:"height" json:"height,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// URL returns the public URL or "" when the artifact is not stored yet.
func (a *Artifact) URL() string {
	if a == nil || a.StorageURL == nil {
		return ""
	}
	return *a.StorageURL
}

// Source describes a succeeded job to materialize.
type Source struct {
	JobID       string
	OwnerUserID uuid.UUID
	WorkflowID  *uuid.UUID
	OutputURL   string
	SourceTag   string
	Category    string
}
