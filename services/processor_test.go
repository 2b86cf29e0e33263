package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"omip-curator/apperr"
	"omip-curator/models"
	"omip-curator/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestDeduplicatesByContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := []byte("%PDF-1.4\n% same bytes\n")

	first, err := env.svc.Ingest(ctx, data, "a.pdf")
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := env.svc.Ingest(ctx, data, "renamed.pdf")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, "a.pdf", second.Filename)
	assert.Equal(t, 1, env.objects.Len())

	n, err := env.svc.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = env.svc.Ingest(ctx, nil, "empty.pdf")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestIngestStoresObjectBeforeRegistering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.objects.PutErr = apperr.NewTransient(errors.New("s3 unavailable"))

	_, err := env.svc.Ingest(ctx, []byte("%PDF-1.4"), "a.pdf")
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))

	n, err := env.svc.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScheduleParseValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.ScheduleParse(ctx, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	res, err := env.svc.Ingest(ctx, []byte("%PDF-1.4 x"), "x.pdf")
	require.NoError(t, err)
	_, err = env.svc.ScheduleParse(ctx, []uint{res.DocumentID, 999})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	batches, err := env.svc.ListBatches(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, batches, "nothing is created when a document is unknown")
}

func TestScheduleEnqueueFailureCountsRunAsFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	results, err := env.svc.IngestMany(ctx, uploads(2))
	require.NoError(t, err)
	env.queue.EnqueueErr = errors.New("connection refused")

	progress, err := env.svc.ScheduleParse(ctx, []uint{results[0].DocumentID, results[1].DocumentID})
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, progress.Status)
	assert.Equal(t, 2, progress.FailedCount)
	assert.Zero(t, progress.ProcessingCount)

	runs, err := env.svc.BatchRuns(ctx, progress.BatchID)
	require.NoError(t, err)
	for _, r := range runs {
		assert.Equal(t, models.JobFailed, r.JobStatus)
		require.NotNil(t, r.ErrorMsg)
		assert.Contains(t, *r.ErrorMsg, "failed to dispatch")
	}
}

func TestReviewFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	progress, err := env.svc.IngestAndSchedule(ctx, uploads(3))
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, progress.Status)
	assert.Equal(t, 3, progress.TotalCount)
	assert.Equal(t, 3, progress.ProcessingCount)

	assert.Equal(t, 3, env.drain(t))

	progress, err = env.svc.BatchProgress(ctx, progress.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, progress.Status)
	assert.Equal(t, 3, progress.SuccessCount)
	assert.Zero(t, progress.FailedCount)
	assert.Zero(t, progress.ProcessingCount)

	runs, err := env.svc.BatchRuns(ctx, progress.BatchID)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	run := runs[0]
	assert.Equal(t, models.ReviewDraft, run.ReviewStatus)
	assert.Equal(t, models.JobCompleted, run.JobStatus)

	detail, err := env.svc.RunDetail(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, detail.Elements, 2)
	table := detail.Elements[0]
	assert.Equal(t, models.ElementTable, table.Type)
	assert.Equal(t, "Table 1", table.Label)
	assert.Equal(t, "Figure 1", detail.Elements[1].Label)
	require.NotNil(t, detail.Metadata)
	assert.Equal(t, "OMIP-001", *detail.Metadata.OmipID)
	assert.Equal(t, models.DefaultJournal, detail.Metadata.Journal)

	view, err := env.svc.EditElement(ctx, table.ID, models.ElementTable, models.ElementEdit{Row: ptr(3), Col: ptr(2), Value: ptr("edited")})
	require.NoError(t, err)
	var tc models.TableContent
	require.NoError(t, json.Unmarshal(view.Content, &tc))
	require.Len(t, tc.Rows, 4)
	for _, row := range tc.Rows {
		assert.Len(t, row, 3)
	}
	assert.Equal(t, "edited", tc.Rows[3][2].Text)
	assert.Equal(t, "UCHT1", tc.Rows[1][1].Text)
	assert.True(t, tc.IsManuallyEdited)

	_, err = env.svc.EditElement(ctx, table.ID, models.ElementFigure, models.ElementEdit{Caption: ptr("x")})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = env.svc.Approve(ctx, run.ID)
	require.NoError(t, err)

	official, err := env.svc.OfficialView(ctx, run.DocumentID)
	require.NoError(t, err)
	require.NotNil(t, official.Run)
	require.NotNil(t, official.OfficialRunID)
	assert.Equal(t, run.ID, *official.OfficialRunID)
	assert.Equal(t, models.ReviewApproved, official.Run.ReviewStatus)
	require.NoError(t, json.Unmarshal(official.Run.Elements[0].Content, &tc))
	assert.Equal(t, "edited", tc.Rows[3][2].Text)

	_, err = env.svc.EditElement(ctx, table.ID, models.ElementTable, models.ElementEdit{Caption: ptr("late")})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = env.svc.EditMetadata(ctx, run.ID, models.MetadataFields{Title: ptr("late")})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = env.svc.Approve(ctx, run.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = env.svc.Reject(ctx, run.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	rejected, err := env.svc.Reject(ctx, runs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewRejected, rejected.ReviewStatus)
	other, err := env.svc.OfficialView(ctx, runs[1].DocumentID)
	require.NoError(t, err)
	assert.Nil(t, other.Run)
}

func TestPendingRunCannotBeReviewedOrEdited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	progress, err := env.svc.IngestAndSchedule(ctx, uploads(1))
	require.NoError(t, err)
	runs, err := env.svc.BatchRuns(ctx, progress.BatchID)
	require.NoError(t, err)

	_, err = env.svc.Approve(ctx, runs[0].ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = env.svc.EditMetadata(ctx, runs[0].ID, models.MetadataFields{Title: ptr("x")})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = env.svc.Approve(ctx, 12345)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStaleDeliveryChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	progress, err := env.svc.IngestAndSchedule(ctx, uploads(1))
	require.NoError(t, err)

	d, err := env.queue.Reserve(ctx, "w0")
	require.NoError(t, err)
	require.NotNil(t, d)

	require.NoError(t, env.svc.ProcessDocument(ctx, d.Job))
	assert.Equal(t, 1, env.parser.callsFor("paper-001.pdf"))

	// the same message delivered again, e.g. after a crash before the ack
	require.NoError(t, env.svc.ProcessDocument(ctx, d.Job))
	assert.Equal(t, 1, env.parser.callsFor("paper-001.pdf"))
	require.NoError(t, env.svc.FailRun(ctx, d.Job, errors.New("late failure")))

	run, err := env.svc.RunDetail(ctx, d.Job.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, run.JobStatus)
	assert.Nil(t, run.ErrorMsg)

	progress, err = env.svc.BatchProgress(ctx, progress.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.SuccessCount)
	assert.Zero(t, progress.FailedCount)
	assert.Equal(t, models.JobCompleted, progress.Status)
}

func TestProcessDocumentClassifiesFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.parser.setFn(func(doc providers.Document, call int) (json.RawMessage, error) {
		switch {
		case doc.Filename == "paper-001.pdf" && call == 1:
			return nil, &apperr.UpstreamStatusError{Service: "parser", StatusCode: 503}
		case doc.Filename == "paper-002.pdf":
			return json.RawMessage(`{"title": `), nil
		}
		return payloadFor(doc.Filename), nil
	})
	_, err := env.svc.IngestAndSchedule(ctx, uploads(2))
	require.NoError(t, err)

	first, err := env.queue.Reserve(ctx, "w0")
	require.NoError(t, err)
	second, err := env.queue.Reserve(ctx, "w0")
	require.NoError(t, err)

	err = env.svc.ProcessDocument(ctx, first.Job)
	require.Error(t, err)
	assert.Equal(t, apperr.Transient, apperr.Classify(err))
	run, err := env.svc.RunDetail(ctx, first.Job.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, run.JobStatus)

	// the retry of the same dispatch goes through
	retry := first.Job
	retry.Attempt++
	require.NoError(t, env.svc.ProcessDocument(ctx, retry))

	err = env.svc.ProcessDocument(ctx, second.Job)
	require.Error(t, err)
	assert.Equal(t, apperr.Permanent, apperr.Classify(err))
}

func TestProcessDocumentMissingObjectIsPermanent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.IngestAndSchedule(ctx, uploads(1))
	require.NoError(t, err)
	d, err := env.queue.Reserve(ctx, "w0")
	require.NoError(t, err)

	job := d.Job
	job.StorageKey = "pdfs/missing.pdf"
	err = env.svc.ProcessDocument(ctx, job)
	require.Error(t, err)
	assert.Equal(t, apperr.Permanent, apperr.Classify(err))
}
