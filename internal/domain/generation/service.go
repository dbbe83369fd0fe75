package generation

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/domain/artifact"
	"github.com/pixora/pixora-api/internal/domain/credit"
	"github.com/pixora/pixora-api/internal/domain/refund"
	"github.com/pixora/pixora-api/internal/pkg/logger"
)

// Error codes carried by failed status results.
const (
	CodeGenerationFailed      = "generation_failed"
	CodeCanceled              = "canceled"
	CodeMaterializationFailed = "materialization_failed"
)

const chargeDescription = "Image generation"

// Ledger is the credit surface a generation needs.
type Ledger interface {
	Reserve(ctx context.Context, userID uuid.UUID, amount int, kind credit.Kind, description, referenceID string) (int, error)
	Rebind(ctx context.Context, oldReferenceID, newReferenceID string) error
}

type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Cancel(ctx context.Context, jobID string) error
}

type StatusPoller interface {
	Poll(ctx context.Context, jobID string) (PollResult, error)
}

type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	Finish(ctx context.Context, jobID string, res PollResult, intent *refund.Intent) (bool, *refund.Intent, error)
}

type Materializer interface {
	CreatePlaceholder(ctx context.Context, src artifact.Source) error
	Materialize(ctx context.Context, src artifact.Source) (*artifact.Artifact, error)
	MarkFailed(ctx context.Context, jobID string) error
	Lookup(ctx context.Context, jobID string) (*artifact.Artifact, error)
}

type Compensator interface {
	Compensate(ctx context.Context, in refund.Intent) (int, error)
	Apply(ctx context.Context, in refund.Intent) (int, error)
}

// Service runs single-image generations: reserve, submit, and finish on status check.
type Service struct {
	ledger       Ledger
	gateway      Submitter
	poller       StatusPoller
	jobs         JobStore
	materializer Materializer
	refunds      Compensator
	model        string
	unitCost     int
}

func NewService(
	ledger Ledger,
	gateway Submitter,
	poller StatusPoller,
	jobs JobStore,
	materializer Materializer,
	refunds Compensator,
	model string,
	unitCost int,
) *Service {
	if unitCost <= 0 {
		unitCost = 1
	}
	return &Service{
		ledger:       ledger,
		gateway:      gateway,
		poller:       poller,
		jobs:         jobs,
		materializer: materializer,
		refunds:      refunds,
		model:        model,
		unitCost:     unitCost,
	}
}

// Generate reserves credits and submits a job. Credits are reserved before anything
// reaches the provider; a failed submission is refunded before returning.
func (s *Service) Generate(ctx context.Context, userID uuid.UUID, req GenerateRequest) (*GenerateResult, error) {
	l := logger.FromContext(ctx).With().Str("user_id", userID.String()).Logger()

	ref := "pending:" + uuid.NewString()
	balance, err := s.ledger.Reserve(ctx, userID, s.unitCost, credit.KindGeneration, chargeDescription, ref)
	if err != nil {
		return nil, err
	}

	jobID, err := s.gateway.Submit(ctx, SubmitRequest{
		Prompt:          req.Prompt,
		ReferenceAssets: req.ReferenceAssets,
		Params:          req.Params,
	})
	if err != nil {
		l.Warn().Err(err).Msg("Submission failed, refunding reservation")
		return nil, s.refundFailure(ctx, userID, ref, "Refund: submission failed", err)
	}

	if err := s.ledger.Rebind(ctx, ref, jobID); err != nil {
		// The reservation stays under its placeholder; refunds resolve either reference.
		l.Error().Err(err).Str("job_id", jobID).Msg("Failed to rebind reservation to job")
	} else {
		ref = jobID
	}

	job := &Job{
		JobID:       jobID,
		OwnerUserID: userID,
		Status:      StatusProcessing,
		Prompt:      req.Prompt,
		Model:       s.model,
		UnitCost:    s.unitCost,
		ReferenceID: ref,
		SourceTag:   req.SourceTag,
		Category:    req.Category,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		l.Error().Err(err).Str("job_id", jobID).Msg("Failed to record job, canceling")
		if cancelErr := s.gateway.Cancel(ctx, jobID); cancelErr != nil {
			l.Warn().Err(cancelErr).Str("job_id", jobID).Msg("Failed to cancel unrecorded job")
		}
		return nil, s.refundFailure(ctx, userID, ref, "Refund: job could not be recorded", err)
	}

	if err := s.materializer.CreatePlaceholder(ctx, artifactSource(job, "")); err != nil {
		l.Warn().Err(err).Str("job_id", jobID).Msg("Failed to create artifact placeholder")
	}

	l.Info().Str("job_id", jobID).Int("balance", balance).Msg("Generation started")
	return &GenerateResult{JobID: jobID, Status: StatusProcessing, Balance: balance}, nil
}

func (s *Service) refundFailure(ctx context.Context, userID uuid.UUID, ref, reason string, cause error) error {
	balance, err := s.refunds.Compensate(ctx, refund.Intent{
		UserID:      userID,
		Amount:      s.unitCost,
		Reason:      reason,
		ReferenceID: ref,
	})
	if err != nil {
		// Left pending for the drainer.
		return cause
	}
	return &RefundedError{Err: cause, Balance: balance}
}

// CheckStatus polls a job and finishes it on a terminal status. Jobs that belong to a
// workflow are only reported; the workflow worker owns their side effects.
func (s *Service) CheckStatus(ctx context.Context, userID uuid.UUID, jobID string) (*StatusResult, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerUserID != userID {
		return nil, ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return storedResult(job), nil
	}

	res, err := s.poller.Poll(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.WorkflowID != nil || !res.Status.IsTerminal() {
		return &StatusResult{JobID: jobID, Status: res.Status, WorkflowID: job.WorkflowID}, nil
	}

	if res.Status == StatusSucceeded {
		return s.complete(ctx, job, res)
	}

	code := CodeGenerationFailed
	if res.Status == StatusCanceled {
		code = CodeCanceled
	}
	return s.fail(ctx, job, res, code)
}

func (s *Service) complete(ctx context.Context, job *Job, res PollResult) (*StatusResult, error) {
	art, err := s.materializer.Materialize(ctx, artifactSource(job, res.OutputURL))
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Str("job_id", job.JobID).Msg("Materialization failed")
		return s.fail(ctx, job, PollResult{Status: StatusFailed, Error: "output could not be stored"}, CodeMaterializationFailed)
	}

	return s.finishSucceeded(ctx, job, art)
}

func (s *Service) finishSucceeded(ctx context.Context, job *Job, art *artifact.Artifact) (*StatusResult, error) {
	changed, _, err := s.jobs.Finish(ctx, job.JobID, PollResult{Status: StatusSucceeded, OutputURL: art.URL()}, nil)
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		return nil, err
	}
	if !changed {
		return s.reload(ctx, job.JobID)
	}
	return &StatusResult{JobID: job.JobID, Status: StatusSucceeded, OutputURL: art.URL()}, nil
}

func (s *Service) fail(ctx context.Context, job *Job, res PollResult, code string) (*StatusResult, error) {
	l := logger.FromContext(ctx).With().Str("job_id", job.JobID).Logger()

	if err := s.materializer.MarkFailed(ctx, job.JobID); err != nil {
		l.Warn().Err(err).Msg("Failed to mark artifact failed")
	}
	// A concurrent check may have stored the output first; the user keeps the image.
	if art, err := s.materializer.Lookup(ctx, job.JobID); err == nil && art.Status == artifact.StatusReady {
		l.Info().Msg("Artifact already ready, finishing as succeeded")
		return s.finishSucceeded(ctx, job, art)
	}

	changed, intent, err := s.jobs.Finish(ctx, job.JobID, res, &refund.Intent{
		UserID:      job.OwnerUserID,
		Amount:      job.UnitCost,
		Reason:      "Refund: " + code,
		ReferenceID: job.ReferenceID,
	})
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		return nil, err
	}
	if !changed {
		return s.reload(ctx, job.JobID)
	}

	out := &StatusResult{JobID: job.JobID, Status: res.Status, Error: res.Error, ErrorCode: code}
	if intent != nil {
		balance, err := s.refunds.Apply(ctx, *intent)
		if err != nil {
			l.Warn().Err(err).Msg("Refund deferred to drainer")
		} else {
			out.Balance = &balance
		}
	}
	return out, nil
}

func (s *Service) reload(ctx context.Context, jobID string) (*StatusResult, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return storedResult(job), nil
}

// Cancel asks the provider to stop a running job. The refund happens when the
// cancellation is observed.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return ErrJobTerminal
	}
	if err := s.gateway.Cancel(ctx, jobID); err != nil {
		return err
	}
	logger.FromContext(ctx).Info().Str("job_id", jobID).Msg("Job cancel requested")
	return nil
}

func storedResult(job *Job) *StatusResult {
	out := &StatusResult{JobID: job.JobID, Status: job.Status, WorkflowID: job.WorkflowID}
	if job.OutputURL != nil {
		out.OutputURL = *job.OutputURL
	}
	if job.Error != nil {
		out.Error = *job.Error
	}
	switch job.Status {
	case StatusFailed:
		out.ErrorCode = CodeGenerationFailed
	case StatusCanceled:
		out.ErrorCode = CodeCanceled
	}
	return out
}

func artifactSource(job *Job, outputURL string) artifact.Source {
	return artifact.Source{
		JobID:       job.JobID,
		OwnerUserID: job.OwnerUserID,
		WorkflowID:  job.WorkflowID,
		OutputURL:   outputURL,
		SourceTag:   job.SourceTag,
		Category:    job.Category,
	}
}

// IsClientError reports whether a Generate error was caused by the request.
func IsClientError(err error) bool {
	var sub *SubmissionError
	if errors.As(err, &sub) {
		return sub.Reason == ReasonInvalidRequest || sub.Reason == ReasonTooManyAssets || sub.Reason == ReasonAssetUnreachable
	}
	return false
}
