package services

import (
	"context"
	"encoding/json"

	"omip-curator/apperr"
	"omip-curator/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EditMetadata applies a partial metadata edit to a draft run and appends a
// version. The preserved parser payload is dropped so views show the edit.
func (s *CurationService) EditMetadata(ctx context.Context, runID uint, fields models.MetadataFields) (models.RunDetail, error) {
	if fields.Empty() {
		return models.RunDetail{}, apperr.Validation("no metadata fields given")
	}
	err := s.Store.Transaction(ctx, func(tx *gorm.DB) error {
		run, err := s.Store.Runs.GetForUpdate(ctx, tx, runID)
		if err != nil {
			return err
		}
		if err := requireEditable(run); err != nil {
			return err
		}
		next := fields.Apply(run.Result().Metadata)
		if err := next.Validate(); err != nil {
			return apperr.Validation("%v", err)
		}
		ok, err := s.Store.Runs.UpdateResult(ctx, tx, runID, *next, nil)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Validation("run %d is no longer a draft", runID)
		}
		_, err = s.Store.Versions.Append(ctx, tx, runID, *next)
		return err
	})
	if err != nil {
		return models.RunDetail{}, err
	}
	s.Logger.Info("Metadaten bearbeitet", zap.Uint("run_id", runID))
	return s.RunDetail(ctx, runID)
}

// EditElement changes the caption and/or one cell of a table or figure of a
// draft run. kind must match the element's type.
func (s *CurationService) EditElement(ctx context.Context, elementID uint, kind models.ElementType, edit models.ElementEdit) (models.ElementView, error) {
	if err := edit.Validate(); err != nil {
		return models.ElementView{}, apperr.Validation("%v", err)
	}
	var saved models.Element
	err := s.Store.Transaction(ctx, func(tx *gorm.DB) error {
		el, err := s.Store.Elements.Get(ctx, tx, elementID)
		if err != nil {
			return err
		}
		if el.Type != kind {
			return apperr.NotFound(string(kind), elementID)
		}
		run, err := s.Store.Runs.GetForUpdate(ctx, tx, el.RunID)
		if err != nil {
			return err
		}
		if err := requireEditable(run); err != nil {
			return err
		}
		if err := applyElementEdit(el, edit); err != nil {
			return err
		}
		if err := s.Store.Elements.Save(ctx, tx, el); err != nil {
			return err
		}
		if _, err := s.Store.Runs.ClearVerbatim(ctx, tx, run.ID); err != nil {
			return err
		}
		saved = *el
		return nil
	})
	if err != nil {
		return models.ElementView{}, err
	}
	s.Logger.Info("Element bearbeitet", zap.Uint("element_id", elementID), zap.Uint("run_id", saved.RunID))
	return models.NewElementViews([]models.Element{saved})[0], nil
}

func applyElementEdit(el *models.Element, edit models.ElementEdit) error {
	switch el.Type {
	case models.ElementTable:
		tc, err := el.Table()
		if err != nil {
			return err
		}
		if edit.Caption != nil {
			c := *edit.Caption
			tc.Caption = &c
			el.Caption = &c
		}
		if edit.HasCell() {
			if err := tc.SetCell(*edit.Row, *edit.Col, *edit.Value); err != nil {
				return apperr.Validation("%v", err)
			}
		}
		tc.IsManuallyEdited = true
		return el.SetContent(tc)
	case models.ElementFigure:
		if edit.HasCell() {
			return apperr.Validation("figure %d has no cells", el.ID)
		}
		fc, err := el.Figure()
		if err != nil {
			return err
		}
		c := *edit.Caption
		fc.Caption = &c
		el.Caption = &c
		fc.IsManuallyEdited = true
		return el.SetContent(fc)
	}
	return apperr.Validation("element %d has unknown type %q", el.ID, el.Type)
}

// ImportParserPayload replaces the result of a draft run with a payload in
// the canonical parser shape. Elements are rebuilt, the payload is kept
// verbatim, and a version is appended.
func (s *CurationService) ImportParserPayload(ctx context.Context, runID uint, raw json.RawMessage) (models.RunDetail, error) {
	payload, err := models.DecodeParserPayload(raw)
	if err != nil {
		return models.RunDetail{}, apperr.Validation("%v", err)
	}
	meta := payload.Metadata()
	meta.ConfidenceScore = parserConfidence
	if err := meta.Validate(); err != nil {
		return models.RunDetail{}, apperr.Validation("%v", err)
	}
	elements, err := payload.Elements(runID, true)
	if err != nil {
		return models.RunDetail{}, apperr.Validation("%v", err)
	}

	err = s.Store.Transaction(ctx, func(tx *gorm.DB) error {
		run, err := s.Store.Runs.GetForUpdate(ctx, tx, runID)
		if err != nil {
			return err
		}
		if err := requireEditable(run); err != nil {
			return err
		}
		ok, err := s.Store.Runs.UpdateResult(ctx, tx, runID, meta, []byte(raw))
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Validation("run %d is no longer a draft", runID)
		}
		if _, err := s.Store.Elements.ReplaceForRun(ctx, tx, runID, elements); err != nil {
			return err
		}
		_, err = s.Store.Versions.Append(ctx, tx, runID, meta)
		return err
	})
	if err != nil {
		return models.RunDetail{}, err
	}
	s.Logger.Info("Parser-Ergebnis importiert", zap.Uint("run_id", runID),
		zap.Int("tables", len(payload.Tables)), zap.Int("figures", len(payload.Figures)))
	return s.RunDetail(ctx, runID)
}
