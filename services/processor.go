package services

import (
	"context"
	"errors"
	"fmt"

	"omip-curator/apperr"
	"omip-curator/metrics"
	"omip-curator/models"
	"omip-curator/providers"
	"omip-curator/queue"
	"omip-curator/worker"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// confidence recorded for results coming from the parse engine
const parserConfidence = 0.9

var errStaleDelivery = errors.New("stale delivery")

// ProcessDocument runs the parse job of one run. It returns nil when the run
// completed or the delivery turned out to be stale; other errors are
// classified by the caller.
func (s *CurationService) ProcessDocument(ctx context.Context, job queue.Job) error {
	log := s.jobLogger(job)

	ok, err := s.Store.Runs.MarkProcessing(ctx, nil, job.RunID, job.DispatchSeq)
	if err != nil {
		return apperr.NewTransient(fmt.Errorf("mark run %d processing: %w", job.RunID, err))
	}
	if !ok {
		metrics.Jobs.WithLabelValues(metrics.OutcomeStale).Inc()
		log.Info("stale delivery ignored")
		return nil
	}

	data, err := s.Objects.Get(ctx, job.StorageKey)
	if err != nil {
		return fmt.Errorf("load %s: %w", job.StorageKey, err)
	}

	raw, err := s.Parser.Parse(ctx, providers.Document{Filename: job.Filename, Data: data})
	if err != nil {
		return fmt.Errorf("%s: %w", s.Parser.Name(), err)
	}

	payload, err := models.DecodeParserPayload(raw)
	if err != nil {
		return apperr.NewPermanent(err)
	}
	meta := payload.Metadata()
	meta.ConfidenceScore = parserConfidence
	elements, err := payload.Elements(job.RunID, false)
	if err != nil {
		return apperr.NewPermanent(err)
	}

	err = s.Store.Transaction(ctx, func(tx *gorm.DB) error {
		run, err := s.Store.Runs.GetForUpdate(ctx, tx, job.RunID)
		if err != nil {
			return err
		}
		ok, err := s.Store.Runs.Complete(ctx, tx, job.RunID, job.DispatchSeq, meta, raw)
		if err != nil {
			return err
		}
		if !ok {
			return errStaleDelivery
		}
		if _, err := s.Store.Elements.ReplaceForRun(ctx, tx, job.RunID, elements); err != nil {
			return err
		}
		if _, err := s.Store.Versions.Append(ctx, tx, job.RunID, meta); err != nil {
			return err
		}
		return s.countOutcome(ctx, tx, run, models.OutcomeSuccess)
	})
	switch {
	case errors.Is(err, errStaleDelivery), errors.Is(err, apperr.ErrNotFound):
		metrics.Jobs.WithLabelValues(metrics.OutcomeStale).Inc()
		log.Info("run changed while parsing, result discarded")
		return nil
	case errors.Is(err, apperr.ErrInvariantViolation):
		return apperr.NewPermanent(err)
	case err != nil:
		return apperr.NewTransient(fmt.Errorf("store result of run %d: %w", job.RunID, err))
	}

	log.Info("run completed", zap.Int("tables", len(payload.Tables)), zap.Int("figures", len(payload.Figures)))
	return nil
}

// FailRun records the terminal failure of a job: the run is failed on both
// axes and counted as failed in its batch, in one transaction. A stale job
// changes nothing.
func (s *CurationService) FailRun(ctx context.Context, job queue.Job, cause error) error {
	log := s.jobLogger(job)
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	err := s.Store.Transaction(ctx, func(tx *gorm.DB) error {
		run, err := s.Store.Runs.GetForUpdate(ctx, tx, job.RunID)
		if err != nil {
			return err
		}
		ok, err := s.Store.Runs.MarkFailed(ctx, tx, job.RunID, job.DispatchSeq, msg)
		if err != nil {
			return err
		}
		if !ok {
			return errStaleDelivery
		}
		return s.countOutcome(ctx, tx, run, models.OutcomeFailed)
	})
	if errors.Is(err, errStaleDelivery) || errors.Is(err, apperr.ErrNotFound) {
		log.Info("failure of stale delivery ignored", zap.String("cause", msg))
		return nil
	}
	if err != nil {
		return err
	}
	log.Warn("run failed", zap.String("cause", msg))
	return nil
}

// countOutcome makes run contribute outcome to its batch counters. A run
// counted before (a retry) moves its contribution instead of adding one, so
// a batch reflects each run's current terminal outcome exactly once.
func (s *CurationService) countOutcome(ctx context.Context, tx *gorm.DB, run *models.Run, outcome models.Outcome) error {
	prev := run.CountedOutcome
	if prev == outcome {
		return nil
	}
	if err := s.Store.Runs.SetOutcome(ctx, tx, run.ID, outcome); err != nil {
		return err
	}
	if run.BatchID == nil {
		return nil
	}
	batchID := *run.BatchID

	if prev == models.OutcomeNone {
		var err error
		if outcome == models.OutcomeSuccess {
			err = s.Store.Batches.IncrementSuccess(ctx, tx, batchID)
		} else {
			err = s.Store.Batches.IncrementFailed(ctx, tx, batchID)
		}
		if err != nil {
			return err
		}
		b, err := s.Store.Batches.FinalizeIfDone(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if b.Status.Terminal() {
			s.Logger.Info("batch finished", zap.Uint("batch_id", b.ID), zap.String("status", string(b.Status)),
				zap.Int("success", b.SuccessCount), zap.Int("failed", b.FailedCount))
		}
		return nil
	}

	if err := s.Store.Batches.ReviseOutcome(ctx, tx, batchID, prev, outcome); err != nil {
		return err
	}
	if err := s.Store.Batches.RefreshTerminalStatus(ctx, tx, batchID); err != nil {
		return err
	}
	_, err := s.Store.Batches.FinalizeIfDone(ctx, tx, batchID)
	return err
}

func (s *CurationService) jobLogger(job queue.Job) *zap.Logger {
	log := s.Logger.With(zap.Uint("run_id", job.RunID), zap.Int("dispatch_seq", job.DispatchSeq), zap.Int("attempt", job.Attempt))
	if job.BatchID != nil {
		log = log.With(zap.Uint("batch_id", *job.BatchID))
	}
	return log
}

type jobHandler struct{ s *CurationService }

func (h jobHandler) Process(ctx context.Context, job queue.Job) error {
	return h.s.ProcessDocument(ctx, job)
}

func (h jobHandler) Fail(ctx context.Context, job queue.Job, cause error) error {
	return h.s.FailRun(ctx, job, cause)
}

// JobHandler exposes the job contract to a worker pool.
func (s *CurationService) JobHandler() worker.Handler { return jobHandler{s: s} }
