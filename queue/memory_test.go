package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueReserveAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(20 * time.Millisecond)

	none, err := q.Reserve(ctx, "w0")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, q.Enqueue(ctx, Job{RunID: 1, Filename: "a.pdf"}))
	require.NoError(t, q.Enqueue(ctx, Job{RunID: 2, Filename: "b.pdf"}))

	d, err := q.Reserve(ctx, "w0")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, uint(1), d.Job.RunID)
	assert.NotEmpty(t, d.ID)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, Depth{Ready: 1, Processing: 1}, depth)

	require.NoError(t, q.Ack(ctx, "w0", d))
	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, Depth{Ready: 1}, depth)
}

func TestMemoryQueueRecoverRedelivers(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, Job{RunID: 7}))

	first, err := q.Reserve(ctx, "w0")
	require.NoError(t, err)
	require.NotNil(t, first)

	// the consumer dies without acking; on restart its job comes back
	n, err := q.Recover(ctx, "w0")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := q.Reserve(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, uint(7), again.Job.RunID)
}

func TestMemoryQueueRequeueDelay(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(10 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, Job{RunID: 3}))

	d, err := q.Reserve(ctx, "w0")
	require.NoError(t, err)
	require.NotNil(t, d)

	next := d.Job
	next.Attempt++
	require.NoError(t, q.Requeue(ctx, "w0", d, next, 80*time.Millisecond))

	early, err := q.Reserve(ctx, "w0")
	require.NoError(t, err)
	assert.Nil(t, early, "delayed job must not be visible before it is due")

	require.Eventually(t, func() bool {
		got, err := q.Reserve(ctx, "w0")
		if err != nil || got == nil {
			return false
		}
		return got.Job.Attempt == 1 && got.Job.RunID == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryQueueReserveHonoursContext(t *testing.T) {
	q := NewMemoryQueue(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Reserve(ctx, "w0")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	batch := uint(4)
	raw, err := encode(Job{BatchID: &batch, RunID: 9, StorageKey: "pdfs/x", DispatchSeq: 2, Attempt: 1})
	require.NoError(t, err)
	d, err := decode(raw)
	require.NoError(t, err)
	assert.Equal(t, uint(4), *d.Job.BatchID)
	assert.Equal(t, 2, d.Job.DispatchSeq)
	assert.Equal(t, raw, d.raw)

	_, err = decode("{not json")
	assert.Error(t, err)
}
