package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ParserPayload is the canonical external shape of a parse result:
// {omip_id, title, authors[], year, tables[], figures[]}. The parse engine
// returns it, editors re-import it, and the parser view renders it.
type ParserPayload struct {
	OmipID  *string        `json:"omip_id"`
	Title   *string        `json:"title"`
	Authors []string       `json:"authors"`
	Year    *int           `json:"year"`
	Tables  []ParserTable  `json:"tables"`
	Figures []ParserFigure `json:"figures"`
}

// ParserTable is one entry of ParserPayload.Tables.
type ParserTable struct {
	Number     *string       `json:"number"`
	Caption    *string       `json:"caption"`
	Rows       [][]TableCell `json:"rows"`
	Confidence *float64      `json:"confidence"`
}

// ParserFigure is one entry of ParserPayload.Figures.
type ParserFigure struct {
	Number     *string      `json:"number"`
	Caption    *string      `json:"caption"`
	Image      *FigureImage `json:"image"`
	Confidence *float64     `json:"confidence"`
}

// DecodeParserPayload parses raw bytes into a payload.
func DecodeParserPayload(raw []byte) (ParserPayload, error) {
	var p ParserPayload
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&p); err != nil {
		return ParserPayload{}, fmt.Errorf("decode parser payload: %w", err)
	}
	return p, nil
}

// Metadata returns the derived metadata fields of the payload.
func (p ParserPayload) Metadata() Metadata {
	authors := p.Authors
	if authors == nil {
		authors = []string{}
	}
	return Metadata{
		OmipID:  p.OmipID,
		Title:   p.Title,
		Authors: append([]string{}, authors...),
		Year:    p.Year,
		Journal: DefaultJournal,
	}
}

// Elements converts the payload into unsaved elements of run runID. Order
// indexes are 0..n-1 in input order, all tables before all figures.
// manual marks the content as edited by a person (re-import).
func (p ParserPayload) Elements(runID uint, manual bool) ([]Element, error) {
	out := make([]Element, 0, len(p.Tables)+len(p.Figures))
	order := 0
	for _, t := range p.Tables {
		tc := TableContent{
			Number:           t.Number,
			Caption:          t.Caption,
			Rows:             t.Rows,
			Confidence:       t.Confidence,
			IsManuallyEdited: manual,
		}
		el, err := NewTableElement(runID, elementLabel("Table", t.Number, order), tc, order)
		if err != nil {
			return nil, err
		}
		out = append(out, el)
		order++
	}
	for _, f := range p.Figures {
		fc := FigureContent{
			Number:           f.Number,
			Caption:          f.Caption,
			Image:            f.Image,
			Confidence:       f.Confidence,
			IsManuallyEdited: manual,
		}
		el, err := NewFigureElement(runID, elementLabel("Figure", f.Number, order), fc, order)
		if err != nil {
			return nil, err
		}
		out = append(out, el)
		order++
	}
	return out, nil
}

func elementLabel(kind string, number *string, order int) string {
	if number != nil && *number != "" {
		return kind + " " + *number
	}
	return fmt.Sprintf("%s %d", kind, order+1)
}

// Result is the tagged result document of a run: derived metadata plus,
// optionally, the verbatim upstream payload it came from.
type Result struct {
	Metadata *Metadata
	Verbatim []byte
}

// HasVerbatim reports whether the upstream payload was preserved.
func (r Result) HasVerbatim() bool {
	trimmed := bytes.TrimSpace(r.Verbatim)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// RenderParserView renders r in the canonical shape. A preserved payload is
// returned byte-for-byte; otherwise the view is rebuilt from the derived
// metadata and the given elements.
func RenderParserView(r Result, elements []Element) (json.RawMessage, error) {
	if r.HasVerbatim() {
		return json.RawMessage(r.Verbatim), nil
	}
	var m Metadata
	if r.Metadata != nil {
		m = *r.Metadata
	}
	p, err := ReconstructPayload(m, elements)
	if err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// ReconstructPayload builds the canonical shape field by field.
func ReconstructPayload(m Metadata, elements []Element) (ParserPayload, error) {
	authors := m.Authors
	if authors == nil {
		authors = []string{}
	}
	p := ParserPayload{
		OmipID:  m.OmipID,
		Title:   m.Title,
		Authors: authors,
		Year:    m.Year,
		Tables:  []ParserTable{},
		Figures: []ParserFigure{},
	}
	for _, e := range SortElements(elements) {
		switch e.Type {
		case ElementTable:
			tc, err := e.Table()
			if err != nil {
				return ParserPayload{}, err
			}
			caption := tc.Caption
			if caption == nil {
				caption = e.Caption
			}
			p.Tables = append(p.Tables, ParserTable{Number: tc.Number, Caption: caption, Rows: tc.Rows, Confidence: tc.Confidence})
		case ElementFigure:
			fc, err := e.Figure()
			if err != nil {
				return ParserPayload{}, err
			}
			caption := fc.Caption
			if caption == nil {
				caption = e.Caption
			}
			p.Figures = append(p.Figures, ParserFigure{Number: fc.Number, Caption: caption, Image: fc.Image, Confidence: fc.Confidence})
		}
	}
	return p, nil
}

// SortElements returns a copy ordered by OrderIndex, then ID.
func SortElements(elements []Element) []Element {
	out := append([]Element(nil), elements...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// VersionInfo identifies the historical version a view was built from.
type VersionInfo struct {
	ID        uint      `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// VersionView is a historical metadata version combined with the run's
// current elements. Elements are not versioned.
type VersionView struct {
	ParserPayload
	VersionInfo VersionInfo `json:"version_info"`
}

// NewVersionView builds the rendered view of version v.
func NewVersionView(v MetadataVersion, currentElements []Element) (VersionView, error) {
	p, err := ReconstructPayload(v.Metadata(), currentElements)
	if err != nil {
		return VersionView{}, err
	}
	return VersionView{
		ParserPayload: p,
		VersionInfo:   VersionInfo{ID: v.ID, CreatedAt: v.CreatedAt},
	}, nil
}
