package services

import (
	"context"
	"errors"
	"fmt"

	"omip-curator/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RetrySummary is the result of a bulk retry.
type RetrySummary struct {
	Retried []uint          `json:"retried"`
	Failed  map[uint]string `json:"failed"`
}

// RetryRun puts a failed run back to pending under a new dispatch sequence
// and enqueues it. In a batch that is still open the run's counted outcome
// is withdrawn, so the batch cannot finish while the retry is outstanding.
// A terminal batch keeps the count and is revised when the retry ends. If
// the enqueue fails the run goes back to failed with the dispatch error
// recorded.
func (s *CurationService) RetryRun(ctx context.Context, runID uint) (models.RunDetail, error) {
	var (
		run *models.Run
		doc *models.Document
	)
	err := s.Store.Transaction(ctx, func(tx *gorm.DB) error {
		var err error
		run, err = s.Store.Runs.ResetForRetry(ctx, tx, runID)
		if err != nil {
			return err
		}
		if err := s.withdrawOutcome(ctx, tx, run); err != nil {
			return err
		}
		doc, err = s.Store.Documents.Get(ctx, tx, run.DocumentID)
		return err
	})
	if err != nil {
		return models.RunDetail{}, err
	}

	log := s.Logger.With(zap.Uint("run_id", runID), zap.Int("dispatch_seq", run.DispatchSeq))
	if err := s.dispatch(ctx, run, doc); err != nil {
		log.Error("Retry konnte nicht eingereiht werden", zap.Error(err))
		cause := fmt.Errorf("failed to dispatch retry: %w", err)
		if failErr := s.FailRun(context.WithoutCancel(ctx), jobFor(run, doc), cause); failErr != nil {
			return models.RunDetail{}, errors.Join(cause, failErr)
		}
		return models.RunDetail{}, fmt.Errorf("%w: %v", ErrDispatch, cause)
	}
	log.Info("Lauf erneut eingereiht")
	return s.RunDetail(ctx, runID)
}

// RetryAllFailed retries every run whose job failed. A run that cannot be
// retried is reported and the rest continue.
func (s *CurationService) RetryAllFailed(ctx context.Context) (RetrySummary, error) {
	ids, err := s.Store.Runs.ListFailedIDs(ctx)
	if err != nil {
		return RetrySummary{}, err
	}
	sum := RetrySummary{Retried: []uint{}, Failed: map[uint]string{}}
	for _, id := range ids {
		if _, err := s.RetryRun(ctx, id); err != nil {
			if errors.Is(err, context.Canceled) {
				return sum, err
			}
			sum.Failed[id] = err.Error()
			continue
		}
		sum.Retried = append(sum.Retried, id)
	}
	s.Logger.Info("Fehlgeschlagene Läufe erneut eingereiht",
		zap.Int("retried", len(sum.Retried)), zap.Int("failed", len(sum.Failed)))
	return sum, nil
}

// withdrawOutcome takes a retried run's count back out of its batch while
// the batch is open.
func (s *CurationService) withdrawOutcome(ctx context.Context, tx *gorm.DB, run *models.Run) error {
	if run.BatchID == nil || run.CountedOutcome == models.OutcomeNone {
		return nil
	}
	revoked, err := s.Store.Batches.RevokeOutcome(ctx, tx, *run.BatchID, run.CountedOutcome)
	if err != nil || !revoked {
		return err
	}
	if err := s.Store.Runs.SetOutcome(ctx, tx, run.ID, models.OutcomeNone); err != nil {
		return err
	}
	run.CountedOutcome = models.OutcomeNone
	return nil
}
