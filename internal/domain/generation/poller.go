package generation

import (
	"context"
	"errors"
	"time"

	"github.com/pixora/pixora-api/internal/pkg/inference"
	"github.com/pixora/pixora-api/internal/pkg/logger"
	"github.com/pixora/pixora-api/internal/pkg/metrics"
)

const maxRetryAfter = 30 * time.Second

// StatusSource reads provider job state.
type StatusSource interface {
	GetPrediction(ctx context.Context, id string) (*inference.Prediction, error)
}

type PollerConfig struct {
	RateLimitAttempts int           // calls per Poll while the provider answers 429
	RateLimitBackoff  time.Duration // first backoff, doubled per retry
	Interval          time.Duration // server-driven poll interval
	MaxAttempts       int           // server-driven poll ceiling
}

// Poller observes jobs. Poll is the client-driven single observation; WaitTerminal is the
// server-driven loop used by the workflow worker.
type Poller struct {
	src   StatusSource
	cfg   PollerConfig
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPoller(src StatusSource, cfg PollerConfig) *Poller {
	if cfg.RateLimitAttempts <= 0 {
		cfg.RateLimitAttempts = 5
	}
	if cfg.RateLimitBackoff <= 0 {
		cfg.RateLimitBackoff = time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 60
	}
	return &Poller{src: src, cfg: cfg, sleep: sleepCtx}
}

// Poll returns the job's current status. Rate limiting is absorbed with exponential
// backoff; when retries run out the job is reported as still processing.
func (p *Poller) Poll(ctx context.Context, jobID string) (PollResult, error) {
	backoff := p.cfg.RateLimitBackoff

	for attempt := 1; ; attempt++ {
		pred, err := p.src.GetPrediction(ctx, jobID)
		if err == nil {
			res := PollResult{
				Status:    ParseProviderStatus(pred.Status),
				OutputURL: pred.OutputURL(),
				Error:     pred.Error,
			}
			metrics.PollAttempt(string(res.Status))
			return res, nil
		}

		if errors.Is(err, inference.ErrNotFound) {
			metrics.PollAttempt("not_found")
			return PollResult{Status: StatusFailed, Error: "job not found at provider"}, nil
		}
		if !errors.Is(err, inference.ErrRateLimited) {
			metrics.PollAttempt("error")
			return PollResult{}, err
		}

		metrics.PollAttempt("rate_limited")
		if attempt >= p.cfg.RateLimitAttempts {
			logger.FromContext(ctx).Warn().Str("job_id", jobID).Int("attempts", attempt).Msg("Rate limit retries exhausted, reporting processing")
			return PollResult{Status: StatusProcessing}, nil
		}

		wait := backoff
		var rl *inference.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > wait {
			wait = min(rl.RetryAfter, maxRetryAfter)
		}
		if err := p.sleep(ctx, wait); err != nil {
			return PollResult{}, err
		}
		backoff *= 2
	}
}

// WaitTerminal polls every Interval until the job is terminal. Transient errors use up
// attempts; exceeding MaxAttempts returns ErrPollTimeout. heartbeat, when set, runs before
// every attempt and its error ends the wait.
func (p *Poller) WaitTerminal(ctx context.Context, jobID string, heartbeat func(context.Context) error) (PollResult, error) {
	l := logger.FromContext(ctx).With().Str("job_id", jobID).Logger()

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := p.sleep(ctx, p.cfg.Interval); err != nil {
			return PollResult{}, err
		}
		if heartbeat != nil {
			if err := heartbeat(ctx); err != nil {
				return PollResult{}, err
			}
		}

		res, err := p.Poll(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return PollResult{}, ctx.Err()
			}
			l.Warn().Err(err).Int("attempt", attempt).Msg("Poll failed")
			continue
		}
		if res.Status.IsTerminal() {
			return res, nil
		}
	}

	return PollResult{}, ErrPollTimeout
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
