package generation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pixora/pixora-api/internal/domain/generation/generationtest"
)

func TestGatewaySubmitValidation(t *testing.T) {
	tooMany := make([]string, 15)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("https://assets.test/%d.png", i)
	}

	tests := []struct {
		name   string
		req    SubmitRequest
		reason string
	}{
		{"empty prompt", SubmitRequest{Prompt: "  "}, ReasonInvalidRequest},
		{"too many assets", SubmitRequest{Prompt: "a cat", ReferenceAssets: tooMany}, ReasonTooManyAssets},
		{"unreachable asset", SubmitRequest{Prompt: "a cat", ReferenceAssets: []string{"https://assets.test/dead.png"}}, ReasonAssetUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := generationtest.NewProvider()
			provider.Unreachable("https://assets.test/dead.png")
			gw := NewGateway(provider, "test-model", 14)

			_, err := gw.Submit(context.Background(), tt.req)
			var sub *SubmissionError
			if !errors.As(err, &sub) || sub.Reason != tt.reason {
				t.Fatalf("expected %s submission error, got %v", tt.reason, err)
			}
			if provider.Submissions() != 0 {
				t.Fatalf("provider must not be called, got %d submissions", provider.Submissions())
			}
		})
	}
}

func TestGatewaySubmitAcceptsMaxAssets(t *testing.T) {
	assets := make([]string, 14)
	for i := range assets {
		assets[i] = fmt.Sprintf("https://assets.test/%d.png", i)
	}
	provider := generationtest.NewProvider()

	jobID, err := NewGateway(provider, "test-model", 14).Submit(context.Background(), SubmitRequest{Prompt: "a cat", ReferenceAssets: assets})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected a job id")
	}
}

func TestGatewayProviderFailure(t *testing.T) {
	provider := generationtest.NewProvider()
	provider.FailSubmission(1)

	_, err := NewGateway(provider, "test-model", 14).Submit(context.Background(), SubmitRequest{Prompt: "a cat"})
	var sub *SubmissionError
	if !errors.As(err, &sub) || sub.Reason != ReasonProviderError {
		t.Fatalf("expected provider error, got %v", err)
	}
}
