// Package queue carries parse jobs from the API to the workers with
// at-least-once delivery: a reserved job stays owned by its consumer until it
// is acknowledged or requeued, and a consumer that crashed gets its jobs
// back on restart.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is the message for one run. DispatchSeq ties the message to one
// dispatch of the run; Attempt counts automatic retries of that dispatch.
type Job struct {
	BatchID     *uint  `json:"batch_id"`
	RunID       uint   `json:"run_id"`
	Filename    string `json:"filename"`
	StorageKey  string `json:"storage_key"`
	DispatchSeq int    `json:"dispatch_seq"`
	Attempt     int    `json:"attempt"`
}

// Delivery is a reserved job.
type Delivery struct {
	ID         string
	Job        Job
	EnqueuedAt time.Time

	raw string
}

// Depth is a snapshot of queue sizes.
type Depth struct {
	Ready      int64 `json:"ready"`
	Delayed    int64 `json:"delayed"`
	Processing int64 `json:"processing"`
}

// Queue is a durable job queue.
type Queue interface {
	// Enqueue makes job available immediately.
	Enqueue(ctx context.Context, job Job) error
	// Reserve blocks for up to the queue's poll window and returns the next
	// job, now owned by consumer, or nil if none arrived.
	Reserve(ctx context.Context, consumer string) (*Delivery, error)
	// Ack removes a finished delivery.
	Ack(ctx context.Context, consumer string, d *Delivery) error
	// Requeue atomically replaces a delivery with job, due after delay.
	Requeue(ctx context.Context, consumer string, d *Delivery, job Job, delay time.Duration) error
	// Recover hands a consumer's unacknowledged deliveries back to the queue.
	Recover(ctx context.Context, consumer string) (int, error)
	// Depth reports queue sizes.
	Depth(ctx context.Context) (Depth, error)
}

type envelope struct {
	ID         string    `json:"id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Job        Job       `json:"job"`
}

func encode(job Job) (string, error) {
	b, err := json.Marshal(envelope{ID: uuid.NewString(), EnqueuedAt: time.Now().UTC(), Job: job})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decode(raw string) (*Delivery, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode queue message: %w", err)
	}
	return &Delivery{ID: env.ID, Job: env.Job, EnqueuedAt: env.EnqueuedAt, raw: raw}, nil
}
