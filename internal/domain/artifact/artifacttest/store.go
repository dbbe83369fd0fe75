// Package artifacttest provides in-memory artifact rows and object storage for tests of
// packages that materialize output.
package artifacttest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/domain/artifact"
)

// Store is an in-memory artifact.Store keyed by job id.
type Store struct {
	mu    sync.Mutex
	byJob map[string]*artifact.Artifact
}

func NewStore() *Store {
	return &Store{byJob: make(map[string]*artifact.Artifact)}
}

func (s *Store) CreatePlaceholder(ctx context.Context, a *artifact.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byJob[a.JobID]; !ok {
		cp := *a
		cp.ID = uuid.New()
		s.byJob[a.JobID] = &cp
	}
	return nil
}

func (s *Store) MarkReady(ctx context.Context, a *artifact.Artifact) (*artifact.Artifact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byJob[a.JobID]
	if ok && existing.Status == artifact.StatusReady {
		cp := *existing
		return &cp, false, nil
	}
	if ok && existing.Status != artifact.StatusPending {
		return nil, false, artifact.ErrArtifactClosed
	}
	cp := *a
	cp.ID = uuid.New()
	if ok {
		cp.ID = existing.ID
	}
	cp.Status = artifact.StatusReady
	s.byJob[a.JobID] = &cp
	out := cp
	return &out, true, nil
}

func (s *Store) GetByJobID(ctx context.Context, jobID string) (*artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byJob[jobID]
	if !ok {
		return nil, artifact.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) MarkFailed(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.byJob[jobID]; ok && a.Status == artifact.StatusPending {
		a.Status = artifact.StatusFailed
	}
	return nil
}

func (s *Store) DiscardWorkflow(ctx context.Context, workflowID uuid.UUID) ([]artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []artifact.Artifact
	for _, a := range s.byJob {
		if a.WorkflowID != nil && *a.WorkflowID == workflowID && a.Status != artifact.StatusDiscarded {
			a.Status = artifact.StatusDiscarded
			out = append(out, *a)
		}
	}
	return out, nil
}

// CountByStatus returns how many rows have status.
func (s *Store) CountByStatus(status artifact.Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.byJob {
		if a.Status == status {
			n++
		}
	}
	return n
}

// Storage is an in-memory storage.Storage.
type Storage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewStorage() *Storage {
	return &Storage{objects: make(map[string][]byte)}
}

func (s *Storage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return s.GetURL(key), nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *Storage) GetURL(key string) string {
	return "https://cdn.test/" + key
}

// Len returns the number of stored objects.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
