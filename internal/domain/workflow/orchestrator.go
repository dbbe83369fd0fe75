package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/domain/artifact"
	"github.com/pixora/pixora-api/internal/domain/generation"
	"github.com/pixora/pixora-api/internal/domain/refund"
	"github.com/pixora/pixora-api/internal/pkg/logger"
	"github.com/pixora/pixora-api/internal/pkg/metrics"
)

// Store is the persistence the orchestrator drives.
type Store interface {
	Heartbeat(ctx context.Context, wf *Workflow) error
	SaveUnits(ctx context.Context, wf *Workflow) error
	ReserveUnit(ctx context.Context, wf *Workflow, index int) (int, error)
	Fail(ctx context.Context, wf *Workflow, index int, reason string) (*refund.Intent, error)
	Complete(ctx context.Context, wf *Workflow) error
}

type Rebinder interface {
	Rebind(ctx context.Context, oldReferenceID, newReferenceID string) error
}

type Submitter interface {
	Submit(ctx context.Context, req generation.SubmitRequest) (string, error)
	Cancel(ctx context.Context, jobID string) error
}

type Waiter interface {
	WaitTerminal(ctx context.Context, jobID string, heartbeat func(context.Context) error) (generation.PollResult, error)
}

type JobRecorder interface {
	Create(ctx context.Context, job *generation.Job) error
	Finish(ctx context.Context, jobID string, res generation.PollResult, intent *refund.Intent) (bool, *refund.Intent, error)
}

type Materializer interface {
	CreatePlaceholder(ctx context.Context, src artifact.Source) error
	Materialize(ctx context.Context, src artifact.Source) (*artifact.Artifact, error)
	MarkFailed(ctx context.Context, jobID string) error
	Discard(ctx context.Context, workflowID uuid.UUID) (int, error)
}

type Applier interface {
	Apply(ctx context.Context, in refund.Intent) (int, error)
}

type ProgressPublisher interface {
	Progress(ctx context.Context, wf *Workflow)
}

// Orchestrator runs a workflow's units in order. A unit failure stops the workflow and
// refunds everything deducted so far; later units are never attempted.
type Orchestrator struct {
	store            Store
	ledger           Rebinder
	gateway          Submitter
	poller           Waiter
	jobs             JobRecorder
	materializer     Materializer
	refunds          Applier
	events           ProgressPublisher
	model            string
	discardOnFailure bool
}

type OrchestratorConfig struct {
	Model            string
	DiscardOnFailure bool
}

func NewOrchestrator(
	store Store,
	ledger Rebinder,
	gateway Submitter,
	poller Waiter,
	jobs JobRecorder,
	materializer Materializer,
	refunds Applier,
	events ProgressPublisher,
	cfg OrchestratorConfig,
) *Orchestrator {
	return &Orchestrator{
		store:            store,
		ledger:           ledger,
		gateway:          gateway,
		poller:           poller,
		jobs:             jobs,
		materializer:     materializer,
		refunds:          refunds,
		events:           events,
		model:            cfg.Model,
		discardOnFailure: cfg.DiscardOnFailure,
	}
}

// Run advances wf until it completes or fails. It is safe to call again on a workflow a
// crashed worker left behind: units that already have a job resume polling.
// A returned error means the workflow is still in progress and will be re-claimed.
// ErrLeaseLost means another worker owns it now; nothing more is written.
func (o *Orchestrator) Run(ctx context.Context, wf *Workflow) error {
	ctx = logger.WithFields(ctx, map[string]string{"workflow_id": wf.ID.String()})
	l := logger.FromContext(ctx)

	if wf.Status != StatusInProgress {
		return nil
	}

	for i := range wf.Units {
		if wf.Units[i].State == UnitMaterialized {
			continue
		}

		if err := o.runUnit(ctx, wf, i); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrLeaseLost) {
				l.Warn().Int("unit", i).Msg("Workflow lease lost, stopping")
				return err
			}
			return o.fail(ctx, wf, i, err)
		}
		o.events.Progress(ctx, wf)
	}

	if err := o.store.Complete(ctx, wf); err != nil {
		return err
	}
	metrics.WorkflowFinished(string(StatusCompleted))
	o.events.Progress(ctx, wf)
	l.Info().Int("units", len(wf.Units)).Int("credits", wf.TotalCreditsDeducted).Msg("Workflow completed")
	return nil
}

func (o *Orchestrator) runUnit(ctx context.Context, wf *Workflow, i int) error {
	l := logger.FromContext(ctx).With().Int("unit", i).Logger()

	if wf.Units[i].State == UnitPending {
		if _, err := o.store.ReserveUnit(ctx, wf, i); err != nil {
			return fmt.Errorf("reserve unit: %w", err)
		}
	}

	if wf.Units[i].State == UnitReserved {
		if err := o.submitUnit(ctx, wf, i); err != nil {
			return err
		}
	}

	u := &wf.Units[i]
	if u.State == UnitSubmitted {
		u.State = UnitPolling
		if err := o.store.SaveUnits(ctx, wf); err != nil {
			return err
		}
		o.events.Progress(ctx, wf)
	}

	res, err := o.poller.WaitTerminal(ctx, u.JobID, func(ctx context.Context) error {
		return o.store.Heartbeat(ctx, wf)
	})
	if err != nil {
		if errors.Is(err, generation.ErrPollTimeout) {
			if cancelErr := o.gateway.Cancel(ctx, u.JobID); cancelErr != nil {
				l.Warn().Err(cancelErr).Msg("Failed to cancel timed out job")
			}
			o.finishJob(ctx, u.JobID, generation.PollResult{Status: generation.StatusFailed, Error: err.Error()})
		}
		return err
	}

	if res.Status != generation.StatusSucceeded {
		o.finishJob(ctx, u.JobID, res)
		if err := o.materializer.MarkFailed(ctx, u.JobID); err != nil {
			l.Warn().Err(err).Msg("Failed to mark artifact failed")
		}
		if res.Error != "" {
			return fmt.Errorf("%w: %s: %s", generation.ErrTerminalProviderFailure, res.Status, res.Error)
		}
		return fmt.Errorf("%w: %s", generation.ErrTerminalProviderFailure, res.Status)
	}

	art, err := o.materializer.Materialize(ctx, o.source(wf, i, res.OutputURL))
	if err != nil {
		o.finishJob(ctx, u.JobID, generation.PollResult{Status: generation.StatusFailed, Error: "output could not be stored"})
		return err
	}
	o.finishJob(ctx, u.JobID, generation.PollResult{Status: generation.StatusSucceeded, OutputURL: art.URL()})

	u.ArtifactURL = art.URL()
	u.State = UnitMaterialized
	if err := o.store.SaveUnits(ctx, wf); err != nil {
		return err
	}
	l.Info().Str("job_id", u.JobID).Msg("Unit materialized")
	return nil
}

func (o *Orchestrator) submitUnit(ctx context.Context, wf *Workflow, i int) error {
	l := logger.FromContext(ctx).With().Int("unit", i).Logger()
	u := &wf.Units[i]

	jobID, err := o.gateway.Submit(ctx, generation.SubmitRequest{
		Prompt:          u.Prompt,
		ReferenceAssets: u.ReferenceAssets,
	})
	if err != nil {
		return err
	}

	ref := u.ReferenceID
	if err := o.ledger.Rebind(ctx, ref, jobID); err != nil {
		l.Error().Err(err).Str("job_id", jobID).Msg("Failed to rebind unit reservation")
	} else {
		ref = jobID
	}

	wfID := wf.ID
	if err := o.jobs.Create(ctx, &generation.Job{
		JobID:       jobID,
		OwnerUserID: wf.OwnerUserID,
		Status:      generation.StatusProcessing,
		Prompt:      u.Prompt,
		Model:       o.model,
		UnitCost:    wf.UnitCost,
		ReferenceID: ref,
		WorkflowID:  &wfID,
		SourceTag:   "workflow:" + wf.Type,
	}); err != nil {
		if cancelErr := o.gateway.Cancel(ctx, jobID); cancelErr != nil {
			l.Warn().Err(cancelErr).Str("job_id", jobID).Msg("Failed to cancel unrecorded job")
		}
		return fmt.Errorf("record job: %w", err)
	}

	u.JobID = jobID
	u.ReferenceID = ref
	u.State = UnitSubmitted

	if err := o.materializer.CreatePlaceholder(ctx, o.source(wf, i, "")); err != nil {
		l.Warn().Err(err).Str("job_id", jobID).Msg("Failed to create artifact placeholder")
	}
	if err := o.store.SaveUnits(ctx, wf); err != nil {
		if errors.Is(err, ErrLeaseLost) {
			if cancelErr := o.gateway.Cancel(ctx, jobID); cancelErr != nil {
				l.Warn().Err(cancelErr).Str("job_id", jobID).Msg("Failed to cancel orphaned job")
			}
			o.finishJob(ctx, jobID, generation.PollResult{Status: generation.StatusCanceled, Error: "workflow lease lost"})
		}
		return err
	}
	return nil
}

func (o *Orchestrator) source(wf *Workflow, i int, outputURL string) artifact.Source {
	wfID := wf.ID
	jobID := wf.Units[i].JobID
	return artifact.Source{
		JobID:       jobID,
		OwnerUserID: wf.OwnerUserID,
		WorkflowID:  &wfID,
		OutputURL:   outputURL,
		SourceTag:   "workflow:" + wf.Type,
	}
}

func (o *Orchestrator) finishJob(ctx context.Context, jobID string, res generation.PollResult) {
	if _, _, err := o.jobs.Finish(ctx, jobID, res, nil); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("job_id", jobID).Msg("Failed to record job outcome")
	}
}

func (o *Orchestrator) fail(ctx context.Context, wf *Workflow, i int, cause error) error {
	l := logger.FromContext(ctx)

	intent, err := o.store.Fail(ctx, wf, i, cause.Error())
	if err != nil {
		return fmt.Errorf("record workflow failure: %w", err)
	}
	metrics.WorkflowFinished(string(StatusFailed))
	l.Warn().Err(cause).Int("unit", i).Int("refund", wf.TotalCreditsDeducted).Msg("Workflow failed")

	if intent != nil {
		if _, err := o.refunds.Apply(ctx, *intent); err != nil {
			l.Warn().Err(err).Msg("Workflow refund deferred to drainer")
		}
	}

	if o.discardOnFailure {
		if n, err := o.materializer.Discard(ctx, wf.ID); err != nil {
			l.Warn().Err(err).Msg("Failed to discard workflow artifacts")
		} else if n > 0 {
			l.Info().Int("discarded", n).Msg("Workflow artifacts discarded")
		}
	}

	o.events.Progress(ctx, wf)
	return nil
}
