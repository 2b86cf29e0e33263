package services

import (
	"context"
	"errors"
	"fmt"

	"omip-curator/apperr"
	"omip-curator/metrics"
	"omip-curator/models"
	"omip-curator/queue"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrDispatch wraps failures to hand a job to the queue.
var ErrDispatch = errors.New("dispatch failed")

// ScheduleParse creates a batch with one pending run per document and
// enqueues a job for each run once the batch is committed. A run whose job
// cannot be enqueued is failed and counted right away.
func (s *CurationService) ScheduleParse(ctx context.Context, documentIDs []uint) (models.BatchProgress, error) {
	if len(documentIDs) == 0 {
		return models.BatchProgress{}, apperr.Validation("paper_ids must not be empty")
	}

	var (
		batch *models.Batch
		runs  []*models.Run
		docs  map[uint]models.Document
	)
	err := s.Store.Transaction(ctx, func(tx *gorm.DB) error {
		var err error
		docs, err = s.Store.Documents.GetMany(ctx, tx, documentIDs)
		if err != nil {
			return err
		}
		for _, id := range documentIDs {
			if _, ok := docs[id]; !ok {
				return apperr.NotFound("paper", id)
			}
		}
		batch, err = s.Store.Batches.Create(ctx, tx, len(documentIDs))
		if err != nil {
			return err
		}
		runs = make([]*models.Run, 0, len(documentIDs))
		for _, id := range documentIDs {
			runs = append(runs, &models.Run{
				DocumentID:   id,
				BatchID:      &batch.ID,
				ReviewStatus: models.ReviewDraft,
				JobStatus:    models.JobPending,
			})
		}
		return s.Store.Runs.Create(ctx, tx, runs)
	})
	if err != nil {
		return models.BatchProgress{}, err
	}

	metrics.BatchesScheduled.Inc()
	log := s.Logger.With(zap.Uint("batch_id", batch.ID))
	log.Info("Batch angelegt", zap.Int("total", len(runs)))

	for _, run := range runs {
		doc := docs[run.DocumentID]
		if err := s.dispatch(ctx, run, &doc); err != nil {
			log.Error("Job konnte nicht eingereiht werden", zap.Uint("run_id", run.ID), zap.Error(err))
			job := jobFor(run, &doc)
			if failErr := s.FailRun(context.WithoutCancel(ctx), job, fmt.Errorf("failed to dispatch: %w", err)); failErr != nil {
				return models.BatchProgress{}, failErr
			}
		}
	}
	return s.BatchProgress(ctx, batch.ID)
}

func jobFor(run *models.Run, doc *models.Document) queue.Job {
	return queue.Job{
		BatchID:     run.BatchID,
		RunID:       run.ID,
		Filename:    doc.Filename,
		StorageKey:  doc.StorageKey,
		DispatchSeq: run.DispatchSeq,
	}
}

func (s *CurationService) dispatch(ctx context.Context, run *models.Run, doc *models.Document) error {
	if err := s.Queue.Enqueue(ctx, jobFor(run, doc)); err != nil {
		return fmt.Errorf("enqueue run %d: %w", run.ID, err)
	}
	return nil
}
