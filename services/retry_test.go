package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"omip-curator/apperr"
	"omip-curator/models"
	"omip-curator/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func assertProgress(t *testing.T, env *testEnv, batchID uint, status models.BatchStatus, success, failed int) {
	t.Helper()
	p, err := env.svc.BatchProgress(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, status, p.Status)
	assert.Equal(t, success, p.SuccessCount, "success_count")
	assert.Equal(t, failed, p.FailedCount, "failed_count")
	assert.LessOrEqual(t, p.SuccessCount+p.FailedCount, p.TotalCount)
}

func TestRetryRevisesBatchCounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.parser.setFn(func(doc providers.Document, call int) (json.RawMessage, error) {
		if doc.Filename == "paper-002.pdf" && call == 1 {
			return nil, apperr.NewPermanent(errors.New("unreadable document"))
		}
		return payloadFor(doc.Filename), nil
	})

	progress, err := env.svc.IngestAndSchedule(ctx, uploads(2))
	require.NoError(t, err)
	env.drain(t)
	assertProgress(t, env, progress.BatchID, models.JobFailed, 1, 1)

	runs, err := env.svc.BatchRuns(ctx, progress.BatchID)
	require.NoError(t, err)
	failed := runs[1]
	assert.Equal(t, models.JobFailed, failed.JobStatus)
	assert.Equal(t, models.ReviewFailed, failed.ReviewStatus)
	require.NotNil(t, failed.ErrorMsg)
	assert.Contains(t, *failed.ErrorMsg, "unreadable document")

	retried, err := env.svc.RetryRun(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, retried.JobStatus)
	assert.Equal(t, models.ReviewDraft, retried.ReviewStatus)
	assert.Nil(t, retried.ErrorMsg)
	// the batch keeps its terminal status while the retry is outstanding
	assertProgress(t, env, progress.BatchID, models.JobFailed, 1, 1)

	_, err = env.svc.RetryRun(ctx, failed.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.Equal(t, 1, env.drain(t))
	assertProgress(t, env, progress.BatchID, models.JobCompleted, 2, 0)

	_, err = env.svc.RetryRun(ctx, failed.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = env.svc.RetryRun(ctx, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRetryAllFailedWithDispatchFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.parser.setFn(func(providers.Document, int) (json.RawMessage, error) {
		return nil, apperr.NewPermanent(errors.New("unreadable document"))
	})

	progress, err := env.svc.IngestAndSchedule(ctx, uploads(2))
	require.NoError(t, err)
	env.drain(t)
	assertProgress(t, env, progress.BatchID, models.JobFailed, 0, 2)

	env.queue.EnqueueErr = errors.New("connection refused")
	sum, err := env.svc.RetryAllFailed(ctx)
	require.NoError(t, err)
	assert.Empty(t, sum.Retried)
	assert.Len(t, sum.Failed, 2)

	runs, err := env.svc.BatchRuns(ctx, progress.BatchID)
	require.NoError(t, err)
	for _, r := range runs {
		assert.Equal(t, models.JobFailed, r.JobStatus)
		assert.Equal(t, models.ReviewFailed, r.ReviewStatus)
		require.NotNil(t, r.ErrorMsg)
		assert.Contains(t, *r.ErrorMsg, "failed to dispatch retry")
	}
	assertProgress(t, env, progress.BatchID, models.JobFailed, 0, 2)

	_, err = env.svc.RetryRun(ctx, runs[0].ID)
	assert.ErrorIs(t, err, ErrDispatch)

	env.queue.EnqueueErr = nil
	env.parser.setFn(nil)
	sum, err = env.svc.RetryAllFailed(ctx)
	require.NoError(t, err)
	assert.Len(t, sum.Retried, 2)
	assert.Empty(t, sum.Failed)

	assert.Equal(t, 2, env.drain(t))
	assertProgress(t, env, progress.BatchID, models.JobCompleted, 2, 0)
}

func TestReconcileCountsDeletedRunsAsFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	results, err := env.svc.IngestMany(ctx, uploads(2))
	require.NoError(t, err)
	progress, err := env.svc.ScheduleParse(ctx, []uint{results[0].DocumentID, results[1].DocumentID})
	require.NoError(t, err)

	d, err := env.queue.Reserve(ctx, "w0")
	require.NoError(t, err)
	require.NoError(t, env.svc.ProcessDocument(ctx, d.Job))
	require.NoError(t, env.queue.Ack(ctx, "w0", d))

	require.NoError(t, env.svc.DeleteDocument(ctx, results[1].DocumentID))
	assertProgress(t, env, progress.BatchID, models.JobProcessing, 1, 0)

	n, err := env.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assertProgress(t, env, progress.BatchID, models.JobFailed, 1, 1)

	n, err = env.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// the deleted run's job is still queued and is dropped as stale
	assert.Equal(t, 1, env.drain(t))
	assertProgress(t, env, progress.BatchID, models.JobFailed, 1, 1)
}

func TestRetryInOpenBatchWithdrawsCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	progress, err := env.svc.IngestAndSchedule(ctx, uploads(2))
	require.NoError(t, err)

	first, err := env.queue.Reserve(ctx, "test-0")
	require.NoError(t, err)
	second, err := env.queue.Reserve(ctx, "test-0")
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NotNil(t, second)

	env.parser.setFn(func(doc providers.Document, call int) (json.RawMessage, error) {
		if doc.Filename == first.Job.Filename && call == 1 {
			return nil, apperr.NewPermanent(errors.New("unreadable document"))
		}
		return payloadFor(doc.Filename), nil
	})

	perr := env.svc.ProcessDocument(ctx, first.Job)
	require.Error(t, perr)
	require.NoError(t, env.svc.FailRun(ctx, first.Job, perr))
	require.NoError(t, env.queue.Ack(ctx, "test-0", first))
	assertProgress(t, env, progress.BatchID, models.JobProcessing, 0, 1)

	_, err = env.svc.RetryRun(ctx, first.Job.RunID)
	require.NoError(t, err)
	assertProgress(t, env, progress.BatchID, models.JobProcessing, 0, 0)

	// the other run finishing must not close the batch while the retry is queued
	require.NoError(t, env.svc.ProcessDocument(ctx, second.Job))
	require.NoError(t, env.queue.Ack(ctx, "test-0", second))
	assertProgress(t, env, progress.BatchID, models.JobProcessing, 1, 0)

	n, err := env.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, 1, env.drain(t))
	assertProgress(t, env, progress.BatchID, models.JobCompleted, 2, 0)
}

func TestReconcileLocksBatchBeforeCounting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	progress, err := env.svc.IngestAndSchedule(ctx, uploads(2))
	require.NoError(t, err)
	d, err := env.queue.Reserve(ctx, "test-0")
	require.NoError(t, err)
	require.NoError(t, env.svc.ProcessDocument(ctx, d.Job))
	require.NoError(t, env.queue.Ack(ctx, "test-0", d))

	var statements []string
	record := func(db *gorm.DB) {
		sql := strings.NewReplacer("`", "", `"`, "").Replace(db.Statement.SQL.String())
		statements = append(statements, sql)
	}
	cb := env.svc.Store.DB().Callback()
	require.NoError(t, cb.Query().After("gorm:query").Register("test:record_query", record))
	require.NoError(t, cb.Row().After("gorm:row").Register("test:record_row", record))

	n, err := env.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assertProgress(t, env, progress.BatchID, models.JobProcessing, 1, 0)

	lockAt, countAt := -1, -1
	for i, sql := range statements {
		if lockAt < 0 && strings.Contains(sql, "FROM batches WHERE batches.id =") {
			lockAt = i
		}
		if countAt < 0 && strings.Contains(sql, "counted_outcome") {
			countAt = i
		}
	}
	require.GreaterOrEqual(t, lockAt, 0, "batch row read: %v", statements)
	require.GreaterOrEqual(t, countAt, 0, "outcome count: %v", statements)
	assert.Less(t, lockAt, countAt, "the batch must be read before its runs are counted")
}
