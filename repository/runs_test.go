package repository_test

import (
	"context"
	"testing"
	"time"

	"omip-curator/apperr"
	"omip-curator/models"
	"omip-curator/repository"
	"omip-curator/repository/repotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRun(t *testing.T, store *repository.Store, documentID uint) *models.Run {
	t.Helper()
	run := &models.Run{DocumentID: documentID, ReviewStatus: models.ReviewDraft, JobStatus: models.JobPending}
	require.NoError(t, store.Runs.Create(context.Background(), nil, []*models.Run{run}))
	return run
}

func TestRunStaleDeliveryIsIgnored(t *testing.T) {
	ctx := context.Background()
	store := repotest.OpenStore(t)
	run := seedRun(t, store, 1)

	ok, err := store.Runs.MarkProcessing(ctx, nil, run.ID, run.DispatchSeq)
	require.NoError(t, err)
	require.True(t, ok)

	title := "T"
	ok, err = store.Runs.Complete(ctx, nil, run.ID, run.DispatchSeq, models.Metadata{Title: &title}, []byte(`{"title":"T"}`))
	require.NoError(t, err)
	require.True(t, ok)

	// a duplicate delivery of the same dispatch changes nothing
	ok, err = store.Runs.MarkProcessing(ctx, nil, run.ID, run.DispatchSeq)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = store.Runs.MarkFailed(ctx, nil, run.ID, run.DispatchSeq, "boom")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Runs.Get(ctx, nil, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.JobStatus)
	assert.Equal(t, models.ReviewDraft, got.ReviewStatus)
	assert.True(t, got.HasMetadata)
	assert.Equal(t, "T", *got.Metadata.Title)
	assert.JSONEq(t, `{"title":"T"}`, string(got.ParserRaw))
}

func TestRunFailAndRetry(t *testing.T) {
	ctx := context.Background()
	store := repotest.OpenStore(t)
	run := seedRun(t, store, 1)

	_, err := store.Runs.ResetForRetry(ctx, nil, run.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	ok, err := store.Runs.MarkFailed(ctx, nil, run.ID, run.DispatchSeq, "parser returned HTTP 500")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := store.Runs.Get(ctx, nil, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.JobStatus)
	assert.Equal(t, models.ReviewFailed, got.ReviewStatus)
	assert.Equal(t, "parser returned HTTP 500", got.ErrorMsg)

	reset, err := store.Runs.ResetForRetry(ctx, nil, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, reset.JobStatus)
	assert.Equal(t, models.ReviewDraft, reset.ReviewStatus)
	assert.Empty(t, reset.ErrorMsg)
	assert.Equal(t, run.DispatchSeq+1, reset.DispatchSeq)

	// the old dispatch can no longer touch the run
	ok, err = store.Runs.MarkProcessing(ctx, nil, run.ID, run.DispatchSeq)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Runs.ResetForRetry(ctx, nil, 4242)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRunReviewStatusOnlyFromDraft(t *testing.T) {
	ctx := context.Background()
	store := repotest.OpenStore(t)
	run := seedRun(t, store, 1)

	ok, err := store.Runs.SetReviewStatus(ctx, nil, run.ID, models.ReviewApproved)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Runs.SetReviewStatus(ctx, nil, run.ID, models.ReviewRejected)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Runs.UpdateResult(ctx, nil, run.ID, models.Metadata{}, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Runs.Get(ctx, nil, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewApproved, got.ReviewStatus)
	assert.NotNil(t, got.ReviewedAt)
}

func TestLatestDraftForDocument(t *testing.T) {
	ctx := context.Background()
	store := repotest.OpenStore(t)

	none, err := store.Runs.LatestDraftForDocument(ctx, nil, 1)
	require.NoError(t, err)
	assert.Nil(t, none)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mk := func(created time.Time, review models.ReviewStatus, hasMeta bool) *models.Run {
		r := &models.Run{
			CreatedAt:    created,
			DocumentID:   1,
			ReviewStatus: review,
			JobStatus:    models.JobCompleted,
			HasMetadata:  hasMeta,
		}
		require.NoError(t, store.Runs.Create(ctx, nil, []*models.Run{r}))
		return r
	}
	mk(ts.Add(-time.Hour), models.ReviewDraft, true)
	tieLow := mk(ts, models.ReviewDraft, true)
	tieHigh := mk(ts, models.ReviewDraft, true)
	mk(ts.Add(time.Hour), models.ReviewDraft, false)
	mk(ts.Add(2*time.Hour), models.ReviewApproved, true)

	got, err := store.Runs.LatestDraftForDocument(ctx, nil, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tieHigh.ID, got.ID)
	assert.Greater(t, tieHigh.ID, tieLow.ID)
}

func TestRunCountOutcomes(t *testing.T) {
	ctx := context.Background()
	store := repotest.OpenStore(t)

	b, err := store.Batches.Create(ctx, nil, 3)
	require.NoError(t, err)
	outcomes := []models.Outcome{models.OutcomeSuccess, models.OutcomeFailed, models.OutcomeNone}
	for _, o := range outcomes {
		r := &models.Run{DocumentID: 1, BatchID: &b.ID, ReviewStatus: models.ReviewDraft, JobStatus: models.JobPending, CountedOutcome: o}
		require.NoError(t, store.Runs.Create(ctx, nil, []*models.Run{r}))
	}

	c, err := store.Runs.CountOutcomes(ctx, nil, b.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.OutcomeCounts{Runs: 3, Success: 1, Failed: 1}, c)

	n, err := store.Runs.Count(ctx, repository.RunFilter{BatchID: b.ID, JobStatus: models.JobPending})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}
