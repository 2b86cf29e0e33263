package models

import (
	"encoding/json"
	"time"
)

// ElementView is the API representation of an element.
type ElementView struct {
	ID         uint            `json:"id"`
	Type       ElementType     `json:"type"`
	Label      string          `json:"label"`
	Caption    *string         `json:"caption"`
	Content    json.RawMessage `json:"content"`
	OrderIndex int             `json:"order_index"`
}

// NewElementViews converts elements ordered by OrderIndex.
func NewElementViews(elements []Element) []ElementView {
	out := make([]ElementView, 0, len(elements))
	for _, e := range SortElements(elements) {
		content := json.RawMessage(e.Content)
		if len(content) == 0 {
			content = json.RawMessage("{}")
		}
		out = append(out, ElementView{
			ID:         e.ID,
			Type:       e.Type,
			Label:      e.Label,
			Caption:    e.Caption,
			Content:    content,
			OrderIndex: e.OrderIndex,
		})
	}
	return out
}

// RunDetail is a run with its metadata and elements.
type RunDetail struct {
	ID           uint          `json:"id"`
	DocumentID   uint          `json:"document_id"`
	BatchID      *uint         `json:"batch_id"`
	ReviewStatus ReviewStatus  `json:"review_status"`
	JobStatus    JobStatus     `json:"job_status"`
	Metadata     *Metadata     `json:"metadata"`
	ErrorMsg     *string       `json:"error_msg"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	AnnotatedAt  *time.Time    `json:"annotated_at"`
	ReviewedAt   *time.Time    `json:"reviewed_at"`
	Elements     []ElementView `json:"elements"`
}

// NewRunDetail builds the detail view of r with the given elements.
func NewRunDetail(r Run, elements []Element) RunDetail {
	d := RunDetail{
		ID:           r.ID,
		DocumentID:   r.DocumentID,
		BatchID:      r.BatchID,
		ReviewStatus: r.ReviewStatus,
		JobStatus:    r.JobStatus,
		Metadata:     r.Result().Metadata,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		AnnotatedAt:  r.AnnotatedAt,
		ReviewedAt:   r.ReviewedAt,
		Elements:     NewElementViews(elements),
	}
	if r.ErrorMsg != "" {
		msg := r.ErrorMsg
		d.ErrorMsg = &msg
	}
	return d
}

// DocumentView is the official or draft rendering of a document. Run is nil
// for staff looking at a document that has no official run yet.
type DocumentView struct {
	DocumentID    uint       `json:"paper_id"`
	Filename      string     `json:"filename"`
	OfficialRunID *uint      `json:"official_run_id"`
	Run           *RunDetail `json:"run"`
}

// DocumentSummary is a list entry of the registry.
type DocumentSummary struct {
	ID            uint      `json:"id"`
	Filename      string    `json:"filename"`
	PageCount     int       `json:"page_count"`
	OfficialRunID *uint     `json:"official_run_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewDocumentSummary converts d.
func NewDocumentSummary(d Document) DocumentSummary {
	return DocumentSummary{
		ID:            d.ID,
		Filename:      d.Filename,
		PageCount:     d.PageCount,
		OfficialRunID: d.OfficialRunID,
		CreatedAt:     d.CreatedAt,
	}
}

// ExportTable is the simplified table of an export record.
type ExportTable struct {
	Number  *string       `json:"number"`
	Caption *string       `json:"caption"`
	Rows    [][]TableCell `json:"rows"`
}

// ExportFigure is the simplified figure of an export record.
type ExportFigure struct {
	Number  *string `json:"number"`
	Caption *string `json:"caption"`
}

// ExportRecord is one approved run in the data export.
type ExportRecord struct {
	DocumentID uint           `json:"paper_id"`
	Filename   string         `json:"filename"`
	RunID      uint           `json:"run_id"`
	OmipID     *string        `json:"omip_id"`
	Title      *string        `json:"title"`
	Authors    []string       `json:"authors"`
	Year       *int           `json:"year"`
	ApprovedAt *time.Time     `json:"approved_at"`
	Tables     []ExportTable  `json:"tables"`
	Figures    []ExportFigure `json:"figures"`
}

// NewExportRecord builds the export record of an approved run.
func NewExportRecord(d Document, r Run, elements []Element) (ExportRecord, error) {
	rec := ExportRecord{
		DocumentID: d.ID,
		Filename:   d.Filename,
		RunID:      r.ID,
		Authors:    []string{},
		ApprovedAt: r.ReviewedAt,
		Tables:     []ExportTable{},
		Figures:    []ExportFigure{},
	}
	if r.HasMetadata {
		rec.OmipID = r.Metadata.OmipID
		rec.Title = r.Metadata.Title
		rec.Year = r.Metadata.Year
		if r.Metadata.Authors != nil {
			rec.Authors = r.Metadata.Authors
		}
	}
	for _, e := range SortElements(elements) {
		switch e.Type {
		case ElementTable:
			tc, err := e.Table()
			if err != nil {
				return ExportRecord{}, err
			}
			rec.Tables = append(rec.Tables, ExportTable{Number: tc.Number, Caption: tc.Caption, Rows: tc.Rows})
		case ElementFigure:
			fc, err := e.Figure()
			if err != nil {
				return ExportRecord{}, err
			}
			rec.Figures = append(rec.Figures, ExportFigure{Number: fc.Number, Caption: fc.Caption})
		}
	}
	return rec, nil
}
