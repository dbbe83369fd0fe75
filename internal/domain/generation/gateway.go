package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pixora/pixora-api/internal/pkg/inference"
	"github.com/pixora/pixora-api/internal/pkg/logger"
	"github.com/pixora/pixora-api/internal/pkg/metrics"
)

// Provider is the inference boundary; *inference.Client implements it.
type Provider interface {
	CreatePrediction(ctx context.Context, in inference.PredictionRequest) (*inference.Prediction, error)
	GetPrediction(ctx context.Context, id string) (*inference.Prediction, error)
	CancelPrediction(ctx context.Context, id string) error
	CheckAsset(ctx context.Context, rawURL string) error
}

// Gateway submits jobs. It never touches the ledger; callers refund on SubmissionError.
type Gateway struct {
	provider  Provider
	model     string
	maxAssets int
}

func NewGateway(provider Provider, model string, maxAssets int) *Gateway {
	if maxAssets <= 0 {
		maxAssets = 14
	}
	return &Gateway{provider: provider, model: model, maxAssets: maxAssets}
}

// Submit validates the request and returns the provider job id. Every error is a *SubmissionError.
func (g *Gateway) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		metrics.Submission("rejected")
		return "", &SubmissionError{Reason: ReasonInvalidRequest, Msg: "prompt is required"}
	}
	if len(req.ReferenceAssets) > g.maxAssets {
		metrics.Submission("rejected")
		return "", &SubmissionError{
			Reason: ReasonTooManyAssets,
			Msg:    fmt.Sprintf("%d reference assets exceed the maximum of %d", len(req.ReferenceAssets), g.maxAssets),
		}
	}

	for i, asset := range req.ReferenceAssets {
		if err := g.provider.CheckAsset(ctx, asset); err != nil {
			metrics.Submission("rejected")
			return "", &SubmissionError{
				Reason: ReasonAssetUnreachable,
				Msg:    fmt.Sprintf("reference asset %d is not reachable", i),
				Err:    err,
			}
		}
	}

	pred, err := g.provider.CreatePrediction(ctx, inference.PredictionRequest{
		Model:           g.model,
		Prompt:          req.Prompt,
		ReferenceImages: req.ReferenceAssets,
		Params:          req.Params,
	})
	if err != nil {
		metrics.Submission("error")
		reason := ReasonProviderError
		var httpErr *inference.HTTPError
		if errors.As(err, &httpErr) && !httpErr.Temporary() {
			reason = ReasonProviderRejected
		}
		return "", &SubmissionError{Reason: reason, Msg: "provider did not accept the job", Err: err}
	}

	metrics.Submission("accepted")
	logger.FromContext(ctx).Info().Str("job_id", pred.ID).Int("assets", len(req.ReferenceAssets)).Msg("Job submitted")
	return pred.ID, nil
}

// Cancel asks the provider to stop a job. The next poll observes Canceled.
func (g *Gateway) Cancel(ctx context.Context, jobID string) error {
	return g.provider.CancelPrediction(ctx, jobID)
}
