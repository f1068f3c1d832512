package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memItem struct {
	msg       Message
	visibleAt time.Time
}

// Memory is an in-process Queue with visibility-timeout redelivery
type Memory struct {
	name       string
	visibility time.Duration
	now        func() time.Time

	mu    sync.Mutex
	items map[string]*memItem
}

// NewMemory creates an in-process queue
func NewMemory(name string, visibility time.Duration) *Memory {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &Memory{
		name:       name,
		visibility: visibility,
		now:        time.Now,
		items:      make(map[string]*memItem),
	}
}

// WithClock replaces the queue's clock
func (q *Memory) WithClock(now func() time.Time) *Memory {
	q.now = now
	return q
}

func (q *Memory) Name() string { return q.name }

func (q *Memory) Publish(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := q.now()
	b := make([]byte, len(body))
	copy(b, body)

	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	q.items[id] = &memItem{
		msg:       Message{ID: id, Body: b, EnqueuedAt: now},
		visibleAt: now,
	}
	return nil
}

// Receive leases up to max visible messages, oldest first
func (q *Memory) Receive(ctx context.Context, max int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	ready := make([]*memItem, 0)
	for _, it := range q.items {
		if !it.visibleAt.After(now) {
			ready = append(ready, it)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].msg.EnqueuedAt.Before(ready[j].msg.EnqueuedAt)
	})
	if max > 0 && len(ready) > max {
		ready = ready[:max]
	}

	out := make([]Message, 0, len(ready))
	for _, it := range ready {
		it.msg.Attempts++
		it.visibleAt = now.Add(q.visibility)
		out = append(out, it.msg)
	}
	return out, nil
}

func (q *Memory) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.items, id)
	return nil
}

func (q *Memory) Nack(ctx context.Context, id string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if it, ok := q.items[id]; ok {
		it.visibleAt = q.now().Add(delay)
	}
	return nil
}

// Len returns the number of unacknowledged messages
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
