package artifact

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type memStore struct {
	mu         sync.Mutex
	byJob      map[string]*Artifact
	raceWinner *Artifact
	beforeMark func()
}

func newMemStore() *memStore {
	return &memStore{byJob: make(map[string]*Artifact)}
}

func (s *memStore) CreatePlaceholder(ctx context.Context, a *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byJob[a.JobID]; !ok {
		cp := *a
		s.byJob[a.JobID] = &cp
	}
	return nil
}

func (s *memStore) MarkReady(ctx context.Context, a *Artifact) (*Artifact, bool, error) {
	if s.beforeMark != nil {
		s.beforeMark()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raceWinner != nil {
		s.byJob[a.JobID] = s.raceWinner
		return s.raceWinner, false, nil
	}
	if existing, ok := s.byJob[a.JobID]; ok {
		switch existing.Status {
		case StatusReady:
			return existing, false, nil
		case StatusFailed, StatusDiscarded:
			return nil, false, ErrArtifactClosed
		}
	}
	cp := *a
	cp.ID = uuid.New()
	cp.Status = StatusReady
	s.byJob[a.JobID] = &cp
	return &cp, true, nil
}

func (s *memStore) GetByJobID(ctx context.Context, jobID string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raceWinner != nil {
		return nil, ErrNotFound
	}
	if a, ok := s.byJob[jobID]; ok {
		return a, nil
	}
	return nil, ErrNotFound
}

func (s *memStore) MarkFailed(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.byJob[jobID]; ok && a.Status == StatusPending {
		a.Status = StatusFailed
	}
	return nil
}

func (s *memStore) DiscardWorkflow(ctx context.Context, workflowID uuid.UUID) ([]Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Artifact
	for _, a := range s.byJob {
		if a.WorkflowID != nil && *a.WorkflowID == workflowID && a.Status != StatusDiscarded {
			a.Status = StatusDiscarded
			out = append(out, *a)
		}
	}
	return out, nil
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return "https://cdn.example.com/" + key, nil
}

func (s *memStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memStorage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStorage) GetURL(key string) string {
	return "https://cdn.example.com/" + key
}

type fakeFetcher struct {
	data  []byte
	calls int
}

func (f *fakeFetcher) Download(ctx context.Context, rawURL string, maxBytes int64) ([]byte, string, error) {
	f.calls++
	return f.data, "image/png", nil
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	rnd := rand.New(rand.NewSource(1))
	img := image.NewNRGBA(image.Rect(0, 0, 128, 128))
	for x := 0; x < 128; x++ {
		for y := 0; y < 128; y++ {
			img.Set(x, y, color.NRGBA{uint8(rnd.Intn(256)), uint8(rnd.Intn(256)), uint8(rnd.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf.Len() < 1024 {
		t.Fatalf("test image too small: %d bytes", buf.Len())
	}
	return buf.Bytes()
}

func newTestMaterializer(t *testing.T, data []byte) (*Materializer, *memStore, *memStorage, *fakeFetcher) {
	store := newMemStore()
	st := newMemStorage()
	fetcher := &fakeFetcher{data: data}
	m := NewMaterializer(store, st, fetcher, 1024, 0)
	m.now = func() time.Time { return time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC) }
	return m, store, st, fetcher
}

func TestMaterializeIsIdempotentPerJob(t *testing.T) {
	m, _, st, fetcher := newTestMaterializer(t, testPNG(t))
	owner := uuid.New()
	src := Source{JobID: "job_1", OwnerUserID: owner, OutputURL: "https://provider/out.png", SourceTag: "studio", Category: "product"}

	if err := m.CreatePlaceholder(context.Background(), src); err != nil {
		t.Fatalf("placeholder: %v", err)
	}

	first, err := m.Materialize(context.Background(), src)
	if err != nil {
		t.Fatalf("first materialize: %v", err)
	}
	second, err := m.Materialize(context.Background(), src)
	if err != nil {
		t.Fatalf("second materialize: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected the same artifact, got %s and %s", first.ID, second.ID)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected one download, got %d", fetcher.calls)
	}
	if len(st.objects) != 1 {
		t.Fatalf("expected one stored object, got %d", len(st.objects))
	}
	if *first.Width != 128 || *first.Height != 128 || *first.ContentType != "image/png" {
		t.Fatalf("unexpected image metadata %+v", first)
	}

	keyPattern := regexp.MustCompile(`^generations/` + owner.String() + `/2026/03/[0-9a-f-]{36}\.png$`)
	if !keyPattern.MatchString(*first.StorageKey) {
		t.Fatalf("unexpected storage key %q", *first.StorageKey)
	}
}

func TestMaterializeRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"below threshold", bytes.Repeat([]byte{1}, 512)},
		{"corrupt", bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, store, st, _ := newTestMaterializer(t, tt.data)
			_, err := m.Materialize(context.Background(), Source{JobID: "job_x", OwnerUserID: uuid.New(), OutputURL: "https://provider/x"})
			if !errors.Is(err, ErrMaterialization) {
				t.Fatalf("expected ErrMaterialization, got %v", err)
			}
			if len(st.objects) != 0 || len(store.byJob) != 0 {
				t.Fatal("rejected payload must not be stored")
			}
		})
	}
}

func TestMaterializeRaceLoserDeletesObject(t *testing.T) {
	m, store, st, _ := newTestMaterializer(t, testPNG(t))
	winnerURL := "https://cdn.example.com/generations/winner.png"
	store.raceWinner = &Artifact{ID: uuid.New(), JobID: "job_2", Status: StatusReady, StorageURL: &winnerURL}

	got, err := m.Materialize(context.Background(), Source{JobID: "job_2", OwnerUserID: uuid.New(), OutputURL: "https://provider/2"})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if got.URL() != winnerURL {
		t.Fatalf("expected winner artifact, got %q", got.URL())
	}
	if len(st.deleted) != 1 || len(st.objects) != 0 {
		t.Fatalf("expected loser object to be deleted, deleted=%v remaining=%d", st.deleted, len(st.objects))
	}
}

func TestMarkFailedKeepsReadyArtifacts(t *testing.T) {
	m, store, _, _ := newTestMaterializer(t, testPNG(t))
	src := Source{JobID: "job_3", OwnerUserID: uuid.New(), OutputURL: "https://provider/3"}

	if _, err := m.Materialize(context.Background(), src); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if err := m.MarkFailed(context.Background(), "job_3"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if store.byJob["job_3"].Status != StatusReady {
		t.Fatal("ready artifact must not be downgraded")
	}
}

func TestDiscardRemovesWorkflowObjects(t *testing.T) {
	m, _, st, _ := newTestMaterializer(t, testPNG(t))
	wf := uuid.New()

	for _, job := range []string{"a", "b"} {
		if _, err := m.Materialize(context.Background(), Source{JobID: job, OwnerUserID: uuid.New(), WorkflowID: &wf, OutputURL: "https://provider/" + job}); err != nil {
			t.Fatalf("materialize %s: %v", job, err)
		}
	}

	n, err := m.Discard(context.Background(), wf)
	if err != nil {
		t.Fatalf("discard: %v", err)
	}
	if n != 2 || len(st.objects) != 0 {
		t.Fatalf("expected 2 discarded and no objects left, got n=%d objects=%d", n, len(st.objects))
	}
}

func TestMaterializeAfterConcurrentFailureIsRejected(t *testing.T) {
	m, store, st, _ := newTestMaterializer(t, testPNG(t))
	src := Source{JobID: "job_4", OwnerUserID: uuid.New(), OutputURL: "https://provider/4"}
	if err := m.CreatePlaceholder(context.Background(), src); err != nil {
		t.Fatalf("placeholder: %v", err)
	}
	// The failure lands after the download but before the row is written.
	store.beforeMark = func() { _ = m.MarkFailed(context.Background(), "job_4") }

	_, err := m.Materialize(context.Background(), src)
	if !errors.Is(err, ErrArtifactClosed) || !errors.Is(err, ErrMaterialization) {
		t.Fatalf("expected ErrArtifactClosed, got %v", err)
	}
	if store.byJob["job_4"].Status != StatusFailed {
		t.Fatalf("failed artifact must not be upgraded, got %s", store.byJob["job_4"].Status)
	}
	if len(st.objects) != 0 || len(st.deleted) != 1 {
		t.Fatalf("expected stored object removed, deleted=%v remaining=%d", st.deleted, len(st.objects))
	}
}

func TestMaterializeSkipsClosedArtifact(t *testing.T) {
	m, _, st, fetcher := newTestMaterializer(t, testPNG(t))
	src := Source{JobID: "job_5", OwnerUserID: uuid.New(), OutputURL: "https://provider/5"}
	if err := m.CreatePlaceholder(context.Background(), src); err != nil {
		t.Fatalf("placeholder: %v", err)
	}
	if err := m.MarkFailed(context.Background(), "job_5"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	if _, err := m.Materialize(context.Background(), src); !errors.Is(err, ErrArtifactClosed) {
		t.Fatalf("expected ErrArtifactClosed, got %v", err)
	}
	if fetcher.calls != 0 || len(st.objects) != 0 {
		t.Fatalf("closed artifact must not be fetched or stored, calls=%d objects=%d", fetcher.calls, len(st.objects))
	}
}
