package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue with the same ownership rules as
// RedisQueue. Used by tests and single-binary local runs.
type MemoryQueue struct {
	mu         sync.Mutex
	ready      []string
	delayed    []delayedMsg
	processing map[string][]string
	notify     chan struct{}
	pollWindow time.Duration

	// EnqueueErr, when set, is returned by every Enqueue.
	EnqueueErr error
}

type delayedMsg struct {
	due time.Time
	raw string
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue returns an empty queue whose Reserve waits up to pollWindow.
func NewMemoryQueue(pollWindow time.Duration) *MemoryQueue {
	if pollWindow <= 0 {
		pollWindow = 50 * time.Millisecond
	}
	return &MemoryQueue{
		processing: map[string][]string{},
		notify:     make(chan struct{}, 1),
		pollWindow: pollWindow,
	}
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	raw, err := encode(job)
	if err != nil {
		return err
	}
	q.mu.Lock()
	if q.EnqueueErr != nil {
		err := q.EnqueueErr
		q.mu.Unlock()
		return err
	}
	q.ready = append(q.ready, raw)
	q.mu.Unlock()
	q.signal()
	return nil
}

// take promotes due delayed messages and moves the oldest ready message to
// the consumer's processing list.
func (q *MemoryQueue) take(consumer string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	kept := q.delayed[:0]
	for _, m := range q.delayed {
		if !m.due.After(now) {
			q.ready = append(q.ready, m.raw)
			continue
		}
		kept = append(kept, m)
	}
	q.delayed = kept

	if len(q.ready) == 0 {
		return "", false
	}
	raw := q.ready[0]
	q.ready = q.ready[1:]
	q.processing[consumer] = append(q.processing[consumer], raw)
	return raw, true
}

// nextDue is the time until the earliest delayed message, capped at max.
func (q *MemoryQueue) nextDue(max time.Duration) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	wait := max
	for _, m := range q.delayed {
		if d := time.Until(m.due); d < wait {
			wait = d
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

func (q *MemoryQueue) Reserve(ctx context.Context, consumer string) (*Delivery, error) {
	deadline := time.Now().Add(q.pollWindow)
	for {
		if raw, ok := q.take(consumer); ok {
			return decode(raw)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(q.nextDue(remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *MemoryQueue) removeProcessing(consumer, raw string) {
	list := q.processing[consumer]
	for i, r := range list {
		if r == raw {
			q.processing[consumer] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (q *MemoryQueue) Ack(_ context.Context, consumer string, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeProcessing(consumer, d.raw)
	return nil
}

func (q *MemoryQueue) Requeue(_ context.Context, consumer string, d *Delivery, job Job, delay time.Duration) error {
	raw, err := encode(job)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.removeProcessing(consumer, d.raw)
	q.delayed = append(q.delayed, delayedMsg{due: time.Now().Add(delay), raw: raw})
	sort.SliceStable(q.delayed, func(i, j int) bool { return q.delayed[i].due.Before(q.delayed[j].due) })
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *MemoryQueue) Recover(_ context.Context, consumer string) (int, error) {
	q.mu.Lock()
	list := q.processing[consumer]
	delete(q.processing, consumer)
	q.ready = append(append([]string(nil), list...), q.ready...)
	q.mu.Unlock()
	if len(list) > 0 {
		q.signal()
	}
	return len(list), nil
}

func (q *MemoryQueue) Depth(_ context.Context) (Depth, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var processing int64
	for _, list := range q.processing {
		processing += int64(len(list))
	}
	return Depth{Ready: int64(len(q.ready)), Delayed: int64(len(q.delayed)), Processing: processing}, nil
}
