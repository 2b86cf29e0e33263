package services

import (
	"context"

	"omip-curator/apperr"
	"omip-curator/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Approve marks a draft run approved and makes it the official run of its
// document, in one transaction.
func (s *CurationService) Approve(ctx context.Context, runID uint) (models.RunDetail, error) {
	return s.review(ctx, runID, models.ReviewApproved)
}

// Reject marks a draft run rejected. The official pointer is left alone.
func (s *CurationService) Reject(ctx context.Context, runID uint) (models.RunDetail, error) {
	return s.review(ctx, runID, models.ReviewRejected)
}

func (s *CurationService) review(ctx context.Context, runID uint, status models.ReviewStatus) (models.RunDetail, error) {
	err := s.Store.Transaction(ctx, func(tx *gorm.DB) error {
		run, err := s.Store.Runs.GetForUpdate(ctx, tx, runID)
		if err != nil {
			return err
		}
		// nur abgeschlossene Jobs sind prüfbar
		if err := requireReviewable(run); err != nil {
			return err
		}
		ok, err := s.Store.Runs.SetReviewStatus(ctx, tx, runID, status)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Validation("run %d is no longer a draft", runID)
		}
		if status == models.ReviewApproved {
			return s.Store.Documents.SetOfficialRun(ctx, tx, run.DocumentID, runID)
		}
		return nil
	})
	if err != nil {
		return models.RunDetail{}, err
	}
	s.Logger.Info("Lauf geprüft", zap.Uint("run_id", runID), zap.String("review_status", string(status)))
	return s.RunDetail(ctx, runID)
}

// requireReviewable lässt nur Entwürfe mit abgeschlossenem Job zu. Ein noch
// laufender Job würde sonst beim Complete in einen geprüften Lauf schreiben.
func requireReviewable(run *models.Run) error {
	if run.ReviewStatus != models.ReviewDraft {
		return apperr.Validation("run %d is %s, only draft runs can be reviewed", run.ID, run.ReviewStatus)
	}
	if run.JobStatus != models.JobCompleted {
		return apperr.Validation("run %d has job status %s, only completed runs can be reviewed", run.ID, run.JobStatus)
	}
	return nil
}

// requireEditable allows edits on drafts whose job is not running.
func requireEditable(run *models.Run) error {
	if !run.Editable() {
		return apperr.Validation("run %d is %s, only draft runs can be edited", run.ID, run.ReviewStatus)
	}
	if run.JobStatus == models.JobPending || run.JobStatus == models.JobProcessing {
		return apperr.Validation("run %d is still being processed", run.ID)
	}
	return nil
}
