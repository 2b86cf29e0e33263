package repository_test

import (
	"context"
	"testing"

	"omip-curator/apperr"
	"omip-curator/models"
	"omip-curator/repository/repotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestDocumentGetByHash(t *testing.T) {
	ctx := context.Background()
	store := repotest.OpenStore(t)

	none, err := store.Documents.GetByHash(ctx, nil, "abc")
	require.NoError(t, err)
	assert.Nil(t, none)

	d, err := store.Documents.Create(ctx, nil, "a.pdf", "abc", "pdfs/abc_a.pdf", 3)
	require.NoError(t, err)

	got, err := store.Documents.GetByHash(ctx, nil, "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, d.ID, got.ID)

	_, err = store.Documents.Create(ctx, nil, "b.pdf", "abc", "pdfs/abc_b.pdf", 3)
	assert.Error(t, err, "content hash is unique")
}

func TestDocumentDeleteCascades(t *testing.T) {
	ctx := context.Background()
	store := repotest.OpenStore(t)

	keep, err := store.Documents.Create(ctx, nil, "keep.pdf", "h1", "k1", 1)
	require.NoError(t, err)
	doomed, err := store.Documents.Create(ctx, nil, "gone.pdf", "h2", "k2", 1)
	require.NoError(t, err)

	keepRun := seedRun(t, store, keep.ID)
	doomedRun := seedRun(t, store, doomed.ID)

	for _, r := range []*models.Run{keepRun, doomedRun} {
		el, err := models.NewTableElement(r.ID, "Table 1", models.TableContent{}, 0)
		require.NoError(t, err)
		_, err = store.Elements.CreateMany(ctx, nil, []models.Element{el})
		require.NoError(t, err)
		_, err = store.Versions.Append(ctx, nil, r.ID, models.Metadata{})
		require.NoError(t, err)
	}

	require.NoError(t, store.Documents.Delete(ctx, nil, doomed.ID))

	_, err = store.Documents.Get(ctx, nil, doomed.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = store.Runs.Get(ctx, nil, doomedRun.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	els, err := store.Elements.ListByRun(ctx, nil, doomedRun.ID)
	require.NoError(t, err)
	assert.Empty(t, els)
	versions, err := store.Versions.List(ctx, doomedRun.ID)
	require.NoError(t, err)
	assert.Empty(t, versions)

	els, err = store.Elements.ListByRun(ctx, nil, keepRun.ID)
	require.NoError(t, err)
	assert.Len(t, els, 1)

	assert.ErrorIs(t, store.Documents.Delete(ctx, nil, doomed.ID), apperr.ErrNotFound)

	n, err := store.Documents.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	count, err := store.Documents.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDocumentSetOfficialRunInTransaction(t *testing.T) {
	ctx := context.Background()
	store := repotest.OpenStore(t)

	d, err := store.Documents.Create(ctx, nil, "a.pdf", "h", "k", 1)
	require.NoError(t, err)

	err = store.Transaction(ctx, func(tx *gorm.DB) error {
		return store.Documents.SetOfficialRun(ctx, tx, d.ID, 77)
	})
	require.NoError(t, err)

	got, err := store.Documents.Get(ctx, nil, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.OfficialRunID)
	assert.Equal(t, uint(77), *got.OfficialRunID)

	assert.ErrorIs(t, store.Documents.SetOfficialRun(ctx, nil, 999, 1), apperr.ErrNotFound)
}

func TestElementsReplaceAndVersions(t *testing.T) {
	ctx := context.Background()
	store := repotest.OpenStore(t)
	run := seedRun(t, store, 1)

	mk := func(kind models.ElementType, order int) models.Element {
		if kind == models.ElementTable {
			el, err := models.NewTableElement(run.ID, "T", models.TableContent{}, order)
			require.NoError(t, err)
			return el
		}
		el, err := models.NewFigureElement(run.ID, "F", models.FigureContent{}, order)
		require.NoError(t, err)
		return el
	}
	first, err := store.Elements.CreateMany(ctx, nil, []models.Element{mk(models.ElementTable, 0), mk(models.ElementTable, 1)})
	require.NoError(t, err)
	require.Len(t, first, 2)

	replaced, err := store.Elements.ReplaceForRun(ctx, nil, run.ID, []models.Element{
		mk(models.ElementTable, 9), mk(models.ElementFigure, 9), mk(models.ElementFigure, 9),
	})
	require.NoError(t, err)
	require.Len(t, replaced, 3)

	els, err := store.Elements.ListByRun(ctx, nil, run.ID)
	require.NoError(t, err)
	require.Len(t, els, 3)
	for i, e := range els {
		assert.Equal(t, i, e.OrderIndex)
	}
	_, err = store.Elements.Get(ctx, nil, first[0].ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	t1, t2 := "one", "two"
	v1, err := store.Versions.Append(ctx, nil, run.ID, models.Metadata{Title: &t1})
	require.NoError(t, err)
	v2, err := store.Versions.Append(ctx, nil, run.ID, models.Metadata{Title: &t2})
	require.NoError(t, err)

	list, err := store.Versions.List(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, v2.ID, list[0].ID)
	assert.Equal(t, v1.ID, list[1].ID)

	got, err := store.Versions.Get(ctx, run.ID, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, "one", *got.Title)

	_, err = store.Versions.Get(ctx, run.ID+1, v1.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
