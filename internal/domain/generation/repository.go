package generation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/pixora/pixora-api/internal/domain/refund"
	"github.com/pixora/pixora-api/internal/pkg/database"
)

const jobColumns = `job_id, owner_user_id, status, prompt, model, unit_cost, reference_id, workflow_id,
	source_tag, category, output_url, error, submitted_at, completed_at, updated_at`

// IntentWriter records refund intents inside a job transaction.
type IntentWriter interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, in *refund.Intent) (*refund.Intent, error)
}

// Repository persists generation jobs.
type Repository struct {
	db      *sqlx.DB
	intents IntentWriter
}

func NewRepository(db *sqlx.DB, intents IntentWriter) *Repository {
	return &Repository{db: db, intents: intents}
}

func (r *Repository) Create(ctx context.Context, job *Job) error {
	return r.CreateTx(ctx, nil, job)
}

// CreateTx inserts a processing job. A nil tx uses the pool.
func (r *Repository) CreateTx(ctx context.Context, tx *sqlx.Tx, job *Job) error {
	var q sqlx.ExtContext = r.db
	if tx != nil {
		q = tx
	}
	if job.Status == "" {
		job.Status = StatusProcessing
	}

	err := sqlx.GetContext(ctx, q, job, `
		INSERT INTO generation_jobs (job_id, owner_user_id, status, prompt, model, unit_cost, reference_id, workflow_id, source_tag, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+jobColumns,
		job.JobID, job.OwnerUserID, job.Status, job.Prompt, job.Model, job.UnitCost,
		job.ReferenceID, job.WorkflowID, job.SourceTag, job.Category)
	if err != nil {
		return fmt.Errorf("insert generation job: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	err := r.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM generation_jobs WHERE job_id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get generation job: %w", err)
	}
	return &job, nil
}

// Finish moves a processing job to a terminal status. The row is locked and checked with
// Transition, so only the first caller changes it; it also records intent, when given, in
// the same transaction. A repeat of the stored status gets changed=false; a different
// terminal status gets ErrInvalidTransition.
func (r *Repository) Finish(ctx context.Context, jobID string, res PollResult, intent *refund.Intent) (bool, *refund.Intent, error) {
	if !res.Status.IsTerminal() {
		return false, nil, ErrInvalidTransition
	}

	var (
		changed bool
		stored  *refund.Intent
	)
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var current Status
		err := tx.GetContext(ctx, &current, `SELECT status FROM generation_jobs WHERE job_id = $1 FOR UPDATE`, jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("lock generation job: %w", err)
		}

		changed, err = Transition(current, res.Status)
		if err != nil || !changed {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE generation_jobs
			SET status = $2, output_url = NULLIF($3, ''), error = NULLIF($4, ''),
			    completed_at = NOW(), updated_at = NOW()
			WHERE job_id = $1
		`, jobID, res.Status, res.OutputURL, res.Error); err != nil {
			return fmt.Errorf("finish generation job: %w", err)
		}

		if intent != nil {
			stored, err = r.intents.CreateTx(ctx, tx, intent)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return changed, stored, nil
}
