package services

import (
	"context"
	"fmt"

	"omip-curator/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reconcile recounts every open batch from the counted outcomes of its runs
// and finalizes those that are done. It returns the number of batches whose
// counters had to be corrected.
func (s *CurationService) Reconcile(ctx context.Context) (int, error) {
	ids, err := s.Store.Batches.ListOpenIDs(ctx)
	if err != nil {
		return 0, err
	}
	corrected := 0
	for _, id := range ids {
		var changed bool
		err := s.Store.Transaction(ctx, func(tx *gorm.DB) error {
			// Sperre zuerst, sonst überschreibt der Abgleich parallele Zählungen
			b, err := s.Store.Batches.GetForUpdate(ctx, tx, id)
			if err != nil {
				return err
			}
			if b.Status.Terminal() {
				return nil
			}
			counts, err := s.Store.Runs.CountOutcomes(ctx, tx, id)
			if err != nil {
				return err
			}
			changed, err = s.Store.Batches.Recount(ctx, tx, id, counts)
			if err != nil {
				return err
			}
			_, err = s.Store.Batches.FinalizeIfDone(ctx, tx, id)
			return err
		})
		if err != nil {
			return corrected, fmt.Errorf("reconcile batch %d: %w", id, err)
		}
		if changed {
			corrected++
			metrics.BatchesRecounted.Inc()
		}
	}
	if corrected > 0 {
		s.Logger.Warn("Batch-Zähler korrigiert", zap.Int("batches", corrected), zap.Int("open", len(ids)))
	}
	return corrected, nil
}

// RefreshQueueDepth publishes the current queue sizes as gauges.
func (s *CurationService) RefreshQueueDepth(ctx context.Context) error {
	d, err := s.Queue.Depth(ctx)
	if err != nil {
		return err
	}
	metrics.QueueDepth.WithLabelValues("ready").Set(float64(d.Ready))
	metrics.QueueDepth.WithLabelValues("delayed").Set(float64(d.Delayed))
	metrics.QueueDepth.WithLabelValues("processing").Set(float64(d.Processing))
	return nil
}
