package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStoragePutExistsDelete(t *testing.T) {
	dir := t.TempDir()
	st, err := NewLocalStorage(dir, "http://cdn.local/")
	if err != nil {
		t.Fatalf("new local storage: %v", err)
	}

	ctx := context.Background()
	url, err := st.Put(ctx, "generations/u1/a.png", []byte("payload"), "image/png")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if url != "http://cdn.local/generations/u1/a.png" {
		t.Fatalf("unexpected url %q", url)
	}

	data, err := os.ReadFile(filepath.Join(dir, "generations", "u1", "a.png"))
	if err != nil || string(data) != "payload" {
		t.Fatalf("expected stored payload, got %q err=%v", data, err)
	}

	ok, err := st.Exists(ctx, "generations/u1/a.png")
	if err != nil || !ok {
		t.Fatalf("expected exists, got %v err=%v", ok, err)
	}

	if err := st.Delete(ctx, "generations/u1/a.png"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.Delete(ctx, "generations/u1/a.png"); err != nil {
		t.Fatalf("second delete should be nil, got %v", err)
	}

	ok, err = st.Exists(ctx, "generations/u1/a.png")
	if err != nil || ok {
		t.Fatalf("expected missing after delete, got %v err=%v", ok, err)
	}
}

func TestS3StorageRequiresCredentials(t *testing.T) {
	if _, err := NewS3Storage(context.Background(), Config{S3Bucket: "b"}); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestS3StorageGetURL(t *testing.T) {
	cases := []struct {
		name string
		s    S3Storage
		want string
	}{
		{"public url", S3Storage{bucket: "b", publicURL: "https://cdn.example.com"}, "https://cdn.example.com/k.png"},
		{"custom endpoint", S3Storage{bucket: "b", endpoint: "http://minio:9000"}, "http://minio:9000/b/k.png"},
		{"aws", S3Storage{bucket: "b"}, "https://b.s3.amazonaws.com/k.png"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.s.GetURL("k.png"); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}
