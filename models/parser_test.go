package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = `{"omip_id": "OMIP-042",  "title":"Panel", "authors":["A","B"], "year":2020,
 "tables":[{"number":"1","caption":"first","rows":[[{"text":"x"}]],"confidence":0.8},{"number":null,"caption":null,"rows":[],"confidence":null}],
 "figures":[{"number":"3","caption":"fig","image":{"page":2,"bbox":[1,2,3,4],"path":null},"confidence":null}]}`

func TestPayloadElementsOrderAndLabels(t *testing.T) {
	p, err := DecodeParserPayload([]byte(samplePayload))
	require.NoError(t, err)

	els, err := p.Elements(7, false)
	require.NoError(t, err)
	require.Len(t, els, 3)

	assert.Equal(t, ElementTable, els[0].Type)
	assert.Equal(t, "Table 1", els[0].Label)
	assert.Equal(t, 0, els[0].OrderIndex)
	assert.Equal(t, "Table 2", els[1].Label)
	assert.Equal(t, ElementFigure, els[2].Type)
	assert.Equal(t, "Figure 3", els[2].Label)
	assert.Equal(t, 2, els[2].OrderIndex)
	for _, e := range els {
		assert.Equal(t, uint(7), e.RunID)
	}

	m := p.Metadata()
	assert.Equal(t, "OMIP-042", *m.OmipID)
	assert.Equal(t, DefaultJournal, m.Journal)
	assert.Equal(t, []string{"A", "B"}, m.Authors)
}

func TestRenderParserViewVerbatim(t *testing.T) {
	res := Result{Verbatim: []byte(samplePayload)}
	out, err := RenderParserView(res, nil)
	require.NoError(t, err)
	assert.Equal(t, samplePayload, string(out))
}

func TestRenderParserViewReconstructs(t *testing.T) {
	p, err := DecodeParserPayload([]byte(samplePayload))
	require.NoError(t, err)
	els, err := p.Elements(1, false)
	require.NoError(t, err)
	m := p.Metadata()

	out, err := RenderParserView(Result{Metadata: &m}, els)
	require.NoError(t, err)

	var back ParserPayload
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "Panel", *back.Title)
	assert.Len(t, back.Tables, 2)
	assert.Len(t, back.Figures, 1)
	assert.Equal(t, 2, *back.Figures[0].Image.Page)
}

func TestRenderParserViewEmpty(t *testing.T) {
	out, err := RenderParserView(Result{Verbatim: []byte("null")}, nil)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(out, &raw))
	assert.Equal(t, []any{}, raw["authors"])
	assert.Equal(t, []any{}, raw["tables"])
	assert.Equal(t, []any{}, raw["figures"])
	assert.Nil(t, raw["omip_id"])
}

func TestVersionViewUsesCurrentElements(t *testing.T) {
	title := "old"
	v := NewMetadataVersion(3, Metadata{Title: &title, Authors: []string{"A"}})
	v.ID = 11

	num := "9"
	el, err := NewTableElement(3, "Table 9", TableContent{Number: &num}, 0)
	require.NoError(t, err)

	view, err := NewVersionView(v, []Element{el})
	require.NoError(t, err)
	assert.Equal(t, "old", *view.Title)
	assert.Equal(t, uint(11), view.VersionInfo.ID)
	require.Len(t, view.Tables, 1)
	assert.Equal(t, "9", *view.Tables[0].Number)
}

func TestMetadataValidate(t *testing.T) {
	good, bad := "OMIP-001", "OMIP-1"
	assert.NoError(t, (&Metadata{OmipID: &good}).Validate())
	assert.Error(t, (&Metadata{OmipID: &bad}).Validate())
}
