package services

import (
	"context"
	"fmt"

	"omip-curator/models"
)

// ExportApproved returns one record per approved run, in review order.
func (s *CurationService) ExportApproved(ctx context.Context) ([]models.ExportRecord, error) {
	runs, err := s.Store.Runs.ListApproved(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return []models.ExportRecord{}, nil
	}

	runIDs := make([]uint, 0, len(runs))
	docIDs := make([]uint, 0, len(runs))
	for _, r := range runs {
		runIDs = append(runIDs, r.ID)
		docIDs = append(docIDs, r.DocumentID)
	}
	docs, err := s.Store.Documents.GetMany(ctx, nil, docIDs)
	if err != nil {
		return nil, err
	}
	elements, err := s.Store.Elements.ListByRuns(ctx, runIDs)
	if err != nil {
		return nil, err
	}

	out := make([]models.ExportRecord, 0, len(runs))
	for _, r := range runs {
		doc, ok := docs[r.DocumentID]
		if !ok {
			continue
		}
		rec, err := models.NewExportRecord(doc, r, elements[r.ID])
		if err != nil {
			return nil, fmt.Errorf("export run %d: %w", r.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
