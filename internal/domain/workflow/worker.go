package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

type Claimer interface {
	ClaimNext(ctx context.Context) (*Workflow, error)
}

type Runner interface {
	Run(ctx context.Context, wf *Workflow) error
}

// Worker claims workflows and runs them one at a time. Polling is the main mechanism;
// wake-ups only shorten the wait.
type Worker struct {
	claims   Claimer
	runner   Runner
	wakeups  <-chan struct{}
	interval time.Duration
	cancel   context.CancelFunc
	doneCh   chan struct{}
}

func NewWorker(claims Claimer, runner Runner, wakeups <-chan struct{}, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Worker{
		claims:   claims,
		runner:   runner,
		wakeups:  wakeups,
		interval: interval,
		doneCh:   make(chan struct{}),
	}
}

// Start begins the claim loop.
func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	log.Info().Dur("interval", w.interval).Msg("Starting workflow worker...")
	go w.loop(ctx)
}

// Stop cancels the running workflow and waits for the loop to exit. An interrupted
// workflow keeps its lease and is resumed once it expires.
func (w *Worker) Stop() {
	log.Info().Msg("Stopping workflow worker...")
	if w.cancel != nil {
		w.cancel()
	}
	<-w.doneCh
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	lastIdleLog := time.Time{}
	for {
		n := w.RunPending(ctx)
		if n == 0 && time.Since(lastIdleLog) >= time.Minute {
			log.Debug().Msg("Idle: no workflows to run")
			lastIdleLog = time.Now()
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("Workflow worker stopped")
			return
		case <-w.wakeups:
		case <-ticker.C:
		}
	}
}

// RunPending claims and runs workflows until none are claimable. It returns how many ran.
func (w *Worker) RunPending(ctx context.Context) int {
	ran := 0
	for ctx.Err() == nil {
		wf, err := w.claims.ClaimNext(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to claim workflow")
			return ran
		}
		if wf == nil {
			return ran
		}

		start := time.Now()
		if err := w.runner.Run(ctx, wf); errors.Is(err, ErrLeaseLost) {
			log.Warn().Str("workflow_id", wf.ID.String()).Msg("Workflow claimed by another worker")
		} else if err != nil {
			log.Error().Err(err).Str("workflow_id", wf.ID.String()).Msg("Workflow run interrupted")
		} else {
			log.Info().Str("workflow_id", wf.ID.String()).Str("status", string(wf.Status)).Dur("took", time.Since(start)).Msg("Workflow run finished")
		}
		ran++
	}
	return ran
}
