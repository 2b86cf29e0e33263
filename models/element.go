package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Element is a table or figure extracted for a run. OrderIndex is assigned
// at creation and never renumbered when siblings are deleted.
type Element struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RunID      uint           `json:"run_id" gorm:"index;not null"`
	Type       ElementType    `json:"type" gorm:"size:16;not null"`
	Label      string         `json:"label" gorm:"size:50"`
	Caption    *string        `json:"caption" gorm:"type:text"`
	Content    datatypes.JSON `json:"content" gorm:"not null"`
	OrderIndex int            `json:"order_index" gorm:"not null"`
}

// TableName gibt explizit den Tabellennamen an.
func (Element) TableName() string {
	return "elements"
}

// TableCell is a single cell of a table grid.
type TableCell struct {
	Text    string `json:"text"`
	Colspan *int   `json:"colspan,omitempty"`
	Rowspan *int   `json:"rowspan,omitempty"`
}

// TableContent is the structured content of a table element.
type TableContent struct {
	Number           *string       `json:"number"`
	Caption          *string       `json:"caption"`
	Rows             [][]TableCell `json:"rows"`
	Confidence       *float64      `json:"confidence"`
	IsManuallyEdited bool          `json:"is_manually_edited"`
}

// FigureImage locates a figure inside the source document.
type FigureImage struct {
	Page *int      `json:"page"`
	BBox []float64 `json:"bbox"`
	Path *string   `json:"path"`
}

// FigureContent is the structured content of a figure element.
type FigureContent struct {
	Number           *string      `json:"number"`
	Caption          *string      `json:"caption"`
	Image            *FigureImage `json:"image"`
	Confidence       *float64     `json:"confidence"`
	StorageKey       string       `json:"storage_key,omitempty"`
	IsManuallyEdited bool         `json:"is_manually_edited"`
}

// Width is the widest row of the grid.
func (t *TableContent) Width() int {
	w := 0
	for _, row := range t.Rows {
		if len(row) > w {
			w = len(row)
		}
	}
	return w
}

// Bounds of a cell index in a manual edit.
const (
	MaxTableRows = 2000
	MaxTableCols = 200
)

func checkCellIndex(row, col int) error {
	if row < 0 || col < 0 {
		return fmt.Errorf("cell index (%d, %d) must not be negative", row, col)
	}
	if row >= MaxTableRows || col >= MaxTableCols {
		return fmt.Errorf("cell index (%d, %d) outside the %dx%d table limit", row, col, MaxTableRows, MaxTableCols)
	}
	return nil
}

// SetCell writes value at (row, col). Missing rows and columns are created
// first: the grid is grown to at least row+1 rows and col+1 columns, every
// row is padded to the common width, and new cells hold empty text.
func (t *TableContent) SetCell(row, col int, value string) error {
	if err := checkCellIndex(row, col); err != nil {
		return err
	}
	for len(t.Rows) <= row {
		t.Rows = append(t.Rows, []TableCell{})
	}
	width := t.Width()
	if col+1 > width {
		width = col + 1
	}
	for i := range t.Rows {
		for len(t.Rows[i]) < width {
			t.Rows[i] = append(t.Rows[i], TableCell{})
		}
	}
	t.Rows[row][col].Text = value
	t.IsManuallyEdited = true
	return nil
}

// Cell returns the text at (row, col) and whether it exists.
func (t *TableContent) Cell(row, col int) (string, bool) {
	if row < 0 || row >= len(t.Rows) || col < 0 || col >= len(t.Rows[row]) {
		return "", false
	}
	return t.Rows[row][col].Text, true
}

// Table decodes the content of a table element.
func (e *Element) Table() (*TableContent, error) {
	if e.Type != ElementTable {
		return nil, fmt.Errorf("element %d is a %s, not a table", e.ID, e.Type)
	}
	var tc TableContent
	if len(e.Content) > 0 {
		if err := json.Unmarshal(e.Content, &tc); err != nil {
			return nil, fmt.Errorf("decode table content of element %d: %w", e.ID, err)
		}
	}
	if tc.Rows == nil {
		tc.Rows = [][]TableCell{}
	}
	return &tc, nil
}

// Figure decodes the content of a figure element.
func (e *Element) Figure() (*FigureContent, error) {
	if e.Type != ElementFigure {
		return nil, fmt.Errorf("element %d is a %s, not a figure", e.ID, e.Type)
	}
	var fc FigureContent
	if len(e.Content) > 0 {
		if err := json.Unmarshal(e.Content, &fc); err != nil {
			return nil, fmt.Errorf("decode figure content of element %d: %w", e.ID, err)
		}
	}
	return &fc, nil
}

// SetContent encodes v (TableContent or FigureContent) into the element.
func (e *Element) SetContent(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e.Content = datatypes.JSON(b)
	return nil
}

// NewTableElement builds an unsaved table element.
func NewTableElement(runID uint, label string, tc TableContent, order int) (Element, error) {
	el := Element{RunID: runID, Type: ElementTable, Label: label, Caption: tc.Caption, OrderIndex: order}
	if tc.Rows == nil {
		tc.Rows = [][]TableCell{}
	}
	err := el.SetContent(tc)
	return el, err
}

// NewFigureElement builds an unsaved figure element.
func NewFigureElement(runID uint, label string, fc FigureContent, order int) (Element, error) {
	el := Element{RunID: runID, Type: ElementFigure, Label: label, Caption: fc.Caption, OrderIndex: order}
	err := el.SetContent(fc)
	return el, err
}

// ElementEdit is a manual change to one element. A caption edit applies to
// tables and figures; a cell edit needs Row, Col and Value together.
type ElementEdit struct {
	Caption *string `json:"caption"`
	Row     *int    `json:"row_index"`
	Col     *int    `json:"col_index"`
	Value   *string `json:"new_value"`
}

// HasCell reports whether the edit writes a cell.
func (e ElementEdit) HasCell() bool { return e.Row != nil && e.Col != nil && e.Value != nil }

// Validate rejects empty or half-specified edits.
func (e ElementEdit) Validate() error {
	partial := (e.Row != nil || e.Col != nil || e.Value != nil) && !e.HasCell()
	if partial {
		return fmt.Errorf("cell edits need row_index, col_index and new_value")
	}
	if e.HasCell() {
		if err := checkCellIndex(*e.Row, *e.Col); err != nil {
			return err
		}
	}
	if e.Caption == nil && !e.HasCell() {
		return fmt.Errorf("nothing to edit")
	}
	return nil
}
