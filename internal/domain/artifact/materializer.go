package artifact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/pkg/imaging"
	"github.com/pixora/pixora-api/internal/pkg/logger"
	"github.com/pixora/pixora-api/internal/pkg/metrics"
	"github.com/pixora/pixora-api/internal/pkg/storage"
)

// Store persists artifact rows.
type Store interface {
	CreatePlaceholder(ctx context.Context, a *Artifact) error
	MarkReady(ctx context.Context, a *Artifact) (*Artifact, bool, error)
	GetByJobID(ctx context.Context, jobID string) (*Artifact, error)
	MarkFailed(ctx context.Context, jobID string) error
	DiscardWorkflow(ctx context.Context, workflowID uuid.UUID) ([]Artifact, error)
}

// Fetcher downloads ephemeral provider output.
type Fetcher interface {
	Download(ctx context.Context, rawURL string, maxBytes int64) ([]byte, string, error)
}

// Materializer copies provider output into owned storage exactly once per job.
type Materializer struct {
	store    Store
	storage  storage.Storage
	fetcher  Fetcher
	minBytes int
	maxBytes int64
	now      func() time.Time
}

func NewMaterializer(store Store, st storage.Storage, fetcher Fetcher, minBytes int, maxBytes int64) *Materializer {
	return &Materializer{
		store:    store,
		storage:  st,
		fetcher:  fetcher,
		minBytes: minBytes,
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

// CreatePlaceholder records a pending artifact at submission time.
func (m *Materializer) CreatePlaceholder(ctx context.Context, src Source) error {
	return m.store.CreatePlaceholder(ctx, &Artifact{
		JobID:       src.JobID,
		OwnerUserID: src.OwnerUserID,
		WorkflowID:  src.WorkflowID,
		SourceTag:   src.SourceTag,
		Category:    src.Category,
		Status:      StatusPending,
	})
}

// Materialize stores a succeeded job's output. An existing ready artifact for the job is
// returned without fetching anything. Every failure wraps ErrMaterialization.
func (m *Materializer) Materialize(ctx context.Context, src Source) (*Artifact, error) {
	l := logger.FromContext(ctx).With().Str("job_id", src.JobID).Logger()

	existing, err := m.store.GetByJobID(ctx, src.JobID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrMaterialization, err)
	}
	if existing != nil {
		switch existing.Status {
		case StatusReady:
			metrics.Materialization("duplicate", 0)
			return existing, nil
		case StatusFailed, StatusDiscarded:
			metrics.Materialization("rejected", 0)
			return nil, fmt.Errorf("%w: %w", ErrMaterialization, ErrArtifactClosed)
		}
	}

	if src.OutputURL == "" {
		metrics.Materialization("failed", 0)
		return nil, fmt.Errorf("%w: provider returned no output", ErrMaterialization)
	}

	data, _, err := m.fetcher.Download(ctx, src.OutputURL, m.maxBytes)
	if err != nil {
		metrics.Materialization("failed", 0)
		return nil, fmt.Errorf("%w: download output: %v", ErrMaterialization, err)
	}
	if len(data) < m.minBytes {
		metrics.Materialization("rejected", 0)
		return nil, fmt.Errorf("%w: %w (%d < %d bytes)", ErrMaterialization, ErrPayloadTooSmall, len(data), m.minBytes)
	}

	info, err := imaging.Inspect(data)
	if err != nil {
		metrics.Materialization("rejected", 0)
		return nil, fmt.Errorf("%w: %v", ErrMaterialization, err)
	}

	key := m.storageKey(src.OwnerUserID, info.Ext)
	url, err := m.storage.Put(ctx, key, data, info.ContentType)
	if err != nil {
		metrics.Materialization("failed", 0)
		return nil, fmt.Errorf("%w: store output: %v", ErrMaterialization, err)
	}

	size := int64(len(data))
	art, won, err := m.store.MarkReady(ctx, &Artifact{
		JobID:       src.JobID,
		OwnerUserID: src.OwnerUserID,
		WorkflowID:  src.WorkflowID,
		StorageKey:  &key,
		StorageURL:  &url,
		SourceTag:   src.SourceTag,
		Category:    src.Category,
		ContentType: &info.ContentType,
		SizeBytes:   &size,
		Width:       &info.Width,
		Height:      &info.Height,
	})
	if errors.Is(err, ErrArtifactClosed) {
		// A concurrent failure closed the artifact while the output was being stored.
		m.deleteObject(ctx, key)
		metrics.Materialization("rejected", 0)
		l.Info().Msg("Artifact closed by a concurrent failure")
		return nil, fmt.Errorf("%w: %w", ErrMaterialization, err)
	}
	if err != nil {
		m.deleteObject(ctx, key)
		metrics.Materialization("failed", 0)
		return nil, fmt.Errorf("%w: record artifact: %v", ErrMaterialization, err)
	}

	if !won {
		// Lost a race with a concurrent status check.
		m.deleteObject(ctx, key)
		metrics.Materialization("duplicate", 0)
		l.Info().Msg("Artifact already materialized by a concurrent request")
		return art, nil
	}

	metrics.Materialization("stored", len(data))
	l.Info().Str("storage_key", key).Int64("size", size).Msg("Artifact materialized")
	return art, nil
}

// MarkFailed flags the job's placeholder after a failed or canceled job.
func (m *Materializer) MarkFailed(ctx context.Context, jobID string) error {
	return m.store.MarkFailed(ctx, jobID)
}

// Lookup returns the job's artifact row in whatever state it is in.
func (m *Materializer) Lookup(ctx context.Context, jobID string) (*Artifact, error) {
	return m.store.GetByJobID(ctx, jobID)
}

// Discard flags a failed workflow's artifacts and removes their objects.
func (m *Materializer) Discard(ctx context.Context, workflowID uuid.UUID) (int, error) {
	discarded, err := m.store.DiscardWorkflow(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	for _, a := range discarded {
		if a.StorageKey != nil {
			m.deleteObject(ctx, *a.StorageKey)
		}
	}
	return len(discarded), nil
}

func (m *Materializer) storageKey(owner uuid.UUID, ext string) string {
	now := m.now().UTC()
	return fmt.Sprintf("generations/%s/%04d/%02d/%s%s", owner, now.Year(), int(now.Month()), uuid.New(), ext)
}

func (m *Materializer) deleteObject(ctx context.Context, key string) {
	if err := m.storage.Delete(ctx, key); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("storage_key", key).Msg("Failed to delete orphaned object")
	}
}
