package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pixora/pixora-api/internal/pkg/database"
)

const queryTimeout = 5 * time.Second

const artifactColumns = `id, job_id, owner_user_id, workflow_id, storage_key, storage_url, source_tag, category,
	status, content_type, size_bytes, width, height, created_at, updated_at`

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// CreatePlaceholder inserts a pending row for a submitted job; an existing row is kept.
func (r *Repository) CreatePlaceholder(ctx context.Context, a *Artifact) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx2, `
		INSERT INTO generation_artifacts (id, job_id, owner_user_id, workflow_id, source_tag, category, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		ON CONFLICT (job_id) DO NOTHING
	`, a.ID, a.JobID, a.OwnerUserID, a.WorkflowID, a.SourceTag, a.Category)
	if err != nil {
		return fmt.Errorf("insert artifact placeholder: %w", err)
	}
	return nil
}

// MarkReady stores a materialized artifact, upgrading only a pending placeholder. It
// returns false when another writer already made this job's artifact ready; the caller's
// freshly stored object is then orphaned. A failed or discarded row gives ErrArtifactClosed.
func (r *Repository) MarkReady(ctx context.Context, a *Artifact) (*Artifact, bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	var out Artifact
	err := r.db.GetContext(ctx2, &out, `
		INSERT INTO generation_artifacts (
			id, job_id, owner_user_id, workflow_id, storage_key, storage_url, source_tag, category,
			status, content_type, size_bytes, width, height
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'ready', $9, $10, $11, $12)
		ON CONFLICT (job_id) DO UPDATE SET
			storage_key = EXCLUDED.storage_key,
			storage_url = EXCLUDED.storage_url,
			status = 'ready',
			content_type = EXCLUDED.content_type,
			size_bytes = EXCLUDED.size_bytes,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			updated_at = NOW()
		WHERE generation_artifacts.status = 'pending'
		RETURNING `+artifactColumns,
		a.ID, a.JobID, a.OwnerUserID, a.WorkflowID, a.StorageKey, a.StorageURL, a.SourceTag, a.Category,
		a.ContentType, a.SizeBytes, a.Width, a.Height)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			existing, getErr := r.GetByJobID(ctx, a.JobID)
			if getErr != nil {
				return nil, false, getErr
			}
			if existing.Status != StatusReady {
				return nil, false, ErrArtifactClosed
			}
			return existing, false, nil
		}
		if database.IsUniqueViolation(err, "uq_generation_artifacts_url") && a.StorageURL != nil {
			existing, getErr := r.GetByURL(ctx, *a.StorageURL)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("upsert artifact: %w", err)
	}
	return &out, true, nil
}

func (r *Repository) GetByJobID(ctx context.Context, jobID string) (*Artifact, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var a Artifact
	err := r.db.GetContext(ctx2, &a, `SELECT `+artifactColumns+` FROM generation_artifacts WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return &a, nil
}

func (r *Repository) GetByURL(ctx context.Context, url string) (*Artifact, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var a Artifact
	err := r.db.GetContext(ctx2, &a, `SELECT `+artifactColumns+` FROM generation_artifacts WHERE storage_url = $1`, url)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get artifact by url: %w", err)
	}
	return &a, nil
}

// MarkFailed flags a pending placeholder; a ready artifact is never downgraded.
func (r *Repository) MarkFailed(ctx context.Context, jobID string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		UPDATE generation_artifacts SET status = 'failed', updated_at = NOW()
		WHERE job_id = $1 AND status = 'pending'
	`, jobID)
	if err != nil {
		return fmt.Errorf("mark artifact failed: %w", err)
	}
	return nil
}

// DiscardWorkflow flags every artifact of a workflow as discarded and returns them so
// that their objects can be removed from storage.
func (r *Repository) DiscardWorkflow(ctx context.Context, workflowID uuid.UUID) ([]Artifact, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	out := make([]Artifact, 0)
	err := r.db.SelectContext(ctx2, &out, `
		UPDATE generation_artifacts SET status = 'discarded', updated_at = NOW()
		WHERE workflow_id = $1 AND status <> 'discarded'
		RETURNING `+artifactColumns, workflowID)
	if err != nil {
		return nil, fmt.Errorf("discard workflow artifacts: %w", err)
	}
	return out, nil
}

func (r *Repository) ListReady(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]Artifact, int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var total int
	if err := r.db.GetContext(ctx2, &total, `
		SELECT COUNT(*) FROM generation_artifacts WHERE owner_user_id = $1 AND status = 'ready'
	`, ownerID); err != nil {
		return nil, 0, fmt.Errorf("count artifacts: %w", err)
	}

	out := make([]Artifact, 0)
	err := r.db.SelectContext(ctx2, &out, `
		SELECT `+artifactColumns+`
		FROM generation_artifacts
		WHERE owner_user_id = $1 AND status = 'ready'
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list artifacts: %w", err)
	}
	return out, total, nil
}
