package services

import (
	"context"
	"encoding/json"

	"omip-curator/apperr"
	"omip-curator/models"
	"omip-curator/repository"

	"go.uber.org/zap"
)

// BatchProgress returns the counters of a batch.
func (s *CurationService) BatchProgress(ctx context.Context, batchID uint) (models.BatchProgress, error) {
	b, err := s.Store.Batches.Get(ctx, nil, batchID)
	if err != nil {
		return models.BatchProgress{}, err
	}
	return b.Progress(), nil
}

// ListBatches returns batches newest first.
func (s *CurationService) ListBatches(ctx context.Context, limit, offset int) ([]models.BatchProgress, error) {
	batches, err := s.Store.Batches.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]models.BatchProgress, 0, len(batches))
	for i := range batches {
		out = append(out, batches[i].Progress())
	}
	return out, nil
}

// BatchRuns returns the runs of a batch without their elements.
func (s *CurationService) BatchRuns(ctx context.Context, batchID uint) ([]models.RunDetail, error) {
	if _, err := s.Store.Batches.Get(ctx, nil, batchID); err != nil {
		return nil, err
	}
	runs, err := s.Store.Runs.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return runDetails(runs), nil
}

// RunDetail returns a run with its elements.
func (s *CurationService) RunDetail(ctx context.Context, runID uint) (models.RunDetail, error) {
	run, err := s.Store.Runs.Get(ctx, nil, runID)
	if err != nil {
		return models.RunDetail{}, err
	}
	elements, err := s.Store.Elements.ListByRun(ctx, nil, runID)
	if err != nil {
		return models.RunDetail{}, err
	}
	return models.NewRunDetail(*run, elements), nil
}

// ListRuns returns runs matching f, newest first, without elements.
func (s *CurationService) ListRuns(ctx context.Context, f repository.RunFilter) ([]models.RunDetail, error) {
	if f.ReviewStatus != "" && !f.ReviewStatus.Valid() {
		return nil, apperr.Validation("unknown review status %q", f.ReviewStatus)
	}
	if f.JobStatus != "" && !f.JobStatus.Valid() {
		return nil, apperr.Validation("unknown job status %q", f.JobStatus)
	}
	runs, err := s.Store.Runs.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return runDetails(runs), nil
}

// CountRuns returns the number of runs matching f.
func (s *CurationService) CountRuns(ctx context.Context, f repository.RunFilter) (int64, error) {
	if f.ReviewStatus != "" && !f.ReviewStatus.Valid() {
		return 0, apperr.Validation("unknown review status %q", f.ReviewStatus)
	}
	if f.JobStatus != "" && !f.JobStatus.Valid() {
		return 0, apperr.Validation("unknown job status %q", f.JobStatus)
	}
	return s.Store.Runs.Count(ctx, f)
}

// RunParserView renders a run in the canonical parser shape.
func (s *CurationService) RunParserView(ctx context.Context, runID uint) (json.RawMessage, error) {
	run, err := s.Store.Runs.Get(ctx, nil, runID)
	if err != nil {
		return nil, err
	}
	elements, err := s.Store.Elements.ListByRun(ctx, nil, runID)
	if err != nil {
		return nil, err
	}
	return models.RenderParserView(run.Result(), elements)
}

// Versions lists the metadata versions of a run, newest first.
func (s *CurationService) Versions(ctx context.Context, runID uint) ([]models.MetadataVersion, error) {
	if _, err := s.Store.Runs.Get(ctx, nil, runID); err != nil {
		return nil, err
	}
	return s.Store.Versions.List(ctx, runID)
}

// VersionView renders a historical version with the run's current elements.
func (s *CurationService) VersionView(ctx context.Context, runID, versionID uint) (models.VersionView, error) {
	v, err := s.Store.Versions.Get(ctx, runID, versionID)
	if err != nil {
		return models.VersionView{}, err
	}
	elements, err := s.Store.Elements.ListByRun(ctx, nil, runID)
	if err != nil {
		return models.VersionView{}, err
	}
	return models.NewVersionView(*v, elements)
}

// OfficialView renders the approved run a document points at. Run is nil
// when the document has no official run; callers decide whether that is
// visible.
func (s *CurationService) OfficialView(ctx context.Context, documentID uint) (models.DocumentView, error) {
	doc, err := s.Store.Documents.Get(ctx, nil, documentID)
	if err != nil {
		return models.DocumentView{}, err
	}
	view := models.DocumentView{DocumentID: doc.ID, Filename: doc.Filename, OfficialRunID: doc.OfficialRunID}
	if doc.OfficialRunID == nil {
		return view, nil
	}
	detail, err := s.RunDetail(ctx, *doc.OfficialRunID)
	if err != nil {
		return models.DocumentView{}, err
	}
	view.Run = &detail
	return view, nil
}

// DraftView renders the newest draft run of a document.
func (s *CurationService) DraftView(ctx context.Context, documentID uint) (models.DocumentView, error) {
	doc, run, err := s.latestDraft(ctx, documentID)
	if err != nil {
		return models.DocumentView{}, err
	}
	detail, err := s.RunDetail(ctx, run.ID)
	if err != nil {
		return models.DocumentView{}, err
	}
	return models.DocumentView{
		DocumentID:    doc.ID,
		Filename:      doc.Filename,
		OfficialRunID: doc.OfficialRunID,
		Run:           &detail,
	}, nil
}

// DocumentParserView renders the newest draft of a document in the
// canonical parser shape.
func (s *CurationService) DocumentParserView(ctx context.Context, documentID uint) (json.RawMessage, error) {
	_, run, err := s.latestDraft(ctx, documentID)
	if err != nil {
		return nil, err
	}
	elements, err := s.Store.Elements.ListByRun(ctx, nil, run.ID)
	if err != nil {
		return nil, err
	}
	return models.RenderParserView(run.Result(), elements)
}

func (s *CurationService) latestDraft(ctx context.Context, documentID uint) (*models.Document, *models.Run, error) {
	doc, err := s.Store.Documents.Get(ctx, nil, documentID)
	if err != nil {
		return nil, nil, err
	}
	run, err := s.Store.Runs.LatestDraftForDocument(ctx, nil, documentID)
	if err != nil {
		return nil, nil, err
	}
	if run == nil {
		return nil, nil, apperr.NotFound("draft of paper", documentID)
	}
	return doc, run, nil
}

// ListDocuments returns registered documents newest first.
func (s *CurationService) ListDocuments(ctx context.Context, limit, offset int) ([]models.DocumentSummary, error) {
	docs, err := s.Store.Documents.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]models.DocumentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, models.NewDocumentSummary(d))
	}
	return out, nil
}

// CountDocuments returns the number of registered documents.
func (s *CurationService) CountDocuments(ctx context.Context) (int64, error) {
	return s.Store.Documents.Count(ctx)
}

// DeleteDocument removes a document with its runs, elements and versions.
// The stored object is kept.
func (s *CurationService) DeleteDocument(ctx context.Context, documentID uint) error {
	if err := s.Store.Documents.Delete(ctx, nil, documentID); err != nil {
		return err
	}
	s.Logger.Info("Dokument gelöscht", zap.Uint("paper_id", documentID))
	return nil
}

// DeleteAllDocuments removes every document and returns how many there were.
func (s *CurationService) DeleteAllDocuments(ctx context.Context) (int, error) {
	n, err := s.Store.Documents.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	s.Logger.Warn("Alle Dokumente gelöscht", zap.Int("count", n))
	return n, nil
}

func runDetails(runs []models.Run) []models.RunDetail {
	out := make([]models.RunDetail, 0, len(runs))
	for _, r := range runs {
		out = append(out, models.NewRunDetail(r, nil))
	}
	return out
}
