package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

var omipIDPattern = regexp.MustCompile(`^OMIP-\d{3}$`)

// DefaultJournal is recorded for results coming from the parse engine.
const DefaultJournal = "Cytometry Part A"

// Metadata is the derived paper metadata of a run.
type Metadata struct {
	OmipID          *string  `json:"omip_id"`
	Title           *string  `json:"title"`
	Authors         []string `json:"authors"`
	Year            *int     `json:"year"`
	Journal         string   `json:"journal,omitempty"`
	ConfidenceScore float64  `json:"confidence_score"`
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	if m.OmipID != nil {
		v := *m.OmipID
		out.OmipID = &v
	}
	if m.Title != nil {
		v := *m.Title
		out.Title = &v
	}
	if m.Year != nil {
		v := *m.Year
		out.Year = &v
	}
	if m.Authors != nil {
		out.Authors = append([]string(nil), m.Authors...)
	}
	return &out
}

// Validate checks field formats.
func (m *Metadata) Validate() error {
	if m.OmipID != nil && *m.OmipID != "" && !omipIDPattern.MatchString(*m.OmipID) {
		return fmt.Errorf("omip_id %q does not match OMIP-NNN", *m.OmipID)
	}
	if m.Year != nil && (*m.Year < 0 || *m.Year > 9999) {
		return fmt.Errorf("year %d out of range", *m.Year)
	}
	if m.ConfidenceScore < 0 || m.ConfidenceScore > 1 {
		return fmt.Errorf("confidence_score %v out of range", m.ConfidenceScore)
	}
	return nil
}

// MetadataFields is a partial edit of the derived fields. Nil means unchanged.
type MetadataFields struct {
	OmipID  *string   `json:"omip_id"`
	Title   *string   `json:"title"`
	Authors *[]string `json:"authors"`
	Year    *int      `json:"year"`
}

// Empty reports whether the edit changes nothing.
func (f MetadataFields) Empty() bool {
	return f.OmipID == nil && f.Title == nil && f.Authors == nil && f.Year == nil
}

// Apply returns a copy of m with the edit applied.
func (f MetadataFields) Apply(m *Metadata) *Metadata {
	out := m.Clone()
	if out == nil {
		out = &Metadata{Authors: []string{}}
	}
	if f.OmipID != nil {
		v := *f.OmipID
		out.OmipID = &v
	}
	if f.Title != nil {
		v := *f.Title
		out.Title = &v
	}
	if f.Authors != nil {
		out.Authors = append([]string{}, (*f.Authors)...)
	}
	if f.Year != nil {
		v := *f.Year
		out.Year = &v
	}
	return out
}

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New(fmt.Sprint("failed to unmarshal metadata value:", value))
	}
	return json.Unmarshal(raw, m)
}

// GormDataType implements schema.GormDataTypeInterface.
func (Metadata) GormDataType() string { return "json" }

// GormDBDataType picks the column type per dialect.
func (Metadata) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "JSONB"
	case "sqlite":
		return "JSON"
	}
	return "TEXT"
}
