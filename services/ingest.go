package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"omip-curator/apperr"
	"omip-curator/metrics"
	"omip-curator/models"
	"omip-curator/storage"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Upload is one file received from a client.
type Upload struct {
	Filename string
	Data     []byte
}

// IngestResult describes where an upload ended up.
type IngestResult struct {
	DocumentID uint   `json:"paper_id"`
	Filename   string `json:"filename"`
	Duplicate  bool   `json:"duplicate"`
}

// ContentHash is the sha256 hex digest used for deduplication.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Ingest stores an uploaded document and registers it. Identical bytes
// resolve to the existing document, whatever the filename.
func (s *CurationService) Ingest(ctx context.Context, data []byte, filename string) (IngestResult, error) {
	if len(data) == 0 {
		return IngestResult{}, apperr.Validation("file %q is empty", filename)
	}
	if filename == "" {
		filename = "document.pdf"
	}
	hash := ContentHash(data)

	existing, err := s.Store.Documents.GetByHash(ctx, nil, hash)
	if err != nil {
		return IngestResult{}, err
	}
	if existing != nil {
		metrics.DocumentsIngested.WithLabelValues("duplicate").Inc()
		s.Logger.Info("Dokument bereits vorhanden", zap.String("hash", hash), zap.Uint("paper_id", existing.ID))
		return IngestResult{DocumentID: existing.ID, Filename: existing.Filename, Duplicate: true}, nil
	}

	// Objekt zuerst ablegen, erst danach die Datenbank anfassen.
	key := storage.ObjectKey(hash, filename)
	if err := s.Objects.Put(ctx, key, data, "application/pdf"); err != nil {
		return IngestResult{}, fmt.Errorf("store %s: %w", key, err)
	}

	pages := pageCount(data)
	if pages == 0 {
		s.Logger.Warn("Seitenzahl konnte nicht bestimmt werden", zap.String("filename", filename))
	}

	var doc *models.Document
	err = s.Store.Transaction(ctx, func(tx *gorm.DB) error {
		d, err := s.Store.Documents.GetByHash(ctx, tx, hash)
		if err != nil {
			return err
		}
		if d == nil {
			d, err = s.Store.Documents.Create(ctx, tx, filename, hash, key, pages)
			if err != nil {
				return err
			}
		}
		doc = d
		return nil
	})
	if err != nil {
		// a concurrent upload of the same bytes won the unique index
		if d, lookupErr := s.Store.Documents.GetByHash(ctx, nil, hash); lookupErr == nil && d != nil {
			metrics.DocumentsIngested.WithLabelValues("duplicate").Inc()
			return IngestResult{DocumentID: d.ID, Filename: d.Filename, Duplicate: true}, nil
		}
		return IngestResult{}, err
	}

	metrics.DocumentsIngested.WithLabelValues("new").Inc()
	s.Logger.Info("Dokument gespeichert",
		zap.Uint("paper_id", doc.ID), zap.String("filename", filename), zap.Int("pages", pages))
	return IngestResult{DocumentID: doc.ID, Filename: doc.Filename}, nil
}

// IngestMany ingests uploads in order and stops at the first failure.
func (s *CurationService) IngestMany(ctx context.Context, uploads []Upload) ([]IngestResult, error) {
	if len(uploads) == 0 {
		return nil, apperr.Validation("no files uploaded")
	}
	out := make([]IngestResult, 0, len(uploads))
	for _, u := range uploads {
		res, err := s.Ingest(ctx, u.Data, u.Filename)
		if err != nil {
			return out, fmt.Errorf("ingest %s: %w", u.Filename, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// IngestAndSchedule ingests uploads and schedules one batch over them.
func (s *CurationService) IngestAndSchedule(ctx context.Context, uploads []Upload) (models.BatchProgress, error) {
	results, err := s.IngestMany(ctx, uploads)
	if err != nil {
		return models.BatchProgress{}, err
	}
	ids := make([]uint, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.DocumentID)
	}
	return s.ScheduleParse(ctx, ids)
}

// pageCount returns 0 for anything pdfcpu cannot read.
func pageCount(data []byte) (n int) {
	defer func() {
		if recover() != nil {
			n = 0
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0
	}
	return n
}
