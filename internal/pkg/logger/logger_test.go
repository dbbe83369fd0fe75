package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFromContextFallsBackToGlobal(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected global logger")
	}
}

func TestWithFieldsAddsFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	ctx := WithContext(context.Background(), &base)
	ctx = WithFields(ctx, map[string]string{"job_id": "job-1"})

	FromContext(ctx).Info().Msg("polled")

	if !strings.Contains(buf.String(), `"job_id":"job-1"`) {
		t.Fatalf("expected job_id field, got %s", buf.String())
	}
}
