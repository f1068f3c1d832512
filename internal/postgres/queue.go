package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dandantas/sentinel/internal/queue"
)

// Queue is a durable at-least-once queue over the queue_messages table.
// Receive leases rows with FOR UPDATE SKIP LOCKED so concurrent consumers
// never block on, or double-lease, the same message.
type Queue struct {
	db         *DB
	name       string
	visibility time.Duration
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue creates a queue backed by the queue_messages table
func NewQueue(db *DB, name string, visibility time.Duration) *Queue {
	return &Queue{db: db, name: name, visibility: visibility}
}

// Name returns the queue name
func (q *Queue) Name() string { return q.name }

// Publish enqueues body, visible immediately
func (q *Queue) Publish(ctx context.Context, body []byte) error {
	now := q.db.now().UTC()
	_, err := q.db.pool.Exec(ctx,
		`INSERT INTO queue_messages (id, queue, body, enqueued_at, visible_at) VALUES ($1, $2, $3, $4, $4)`,
		uuid.NewString(), q.name, body, now,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	return nil
}

// Receive leases up to max visible messages for the visibility timeout
func (q *Queue) Receive(ctx context.Context, max int) ([]queue.Message, error) {
	now := q.db.now().UTC()
	rows, err := q.db.pool.Query(ctx,
		`UPDATE queue_messages SET visible_at = $3, attempts = attempts + 1
		 WHERE id IN (
		   SELECT id FROM queue_messages
		   WHERE queue = $1 AND visible_at <= $2
		   ORDER BY visible_at
		   LIMIT $4
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, body, attempts, enqueued_at`,
		q.name, now, now.Add(q.visibility), max,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to receive from %s: %w", q.name, err)
	}
	defer rows.Close()

	msgs := make([]queue.Message, 0, max)
	for rows.Next() {
		var m queue.Message
		if err := rows.Scan(&m.ID, &m.Body, &m.Attempts, &m.EnqueuedAt); err != nil {
			return msgs, fmt.Errorf("failed to scan %s message: %w", q.name, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Ack deletes a processed message
func (q *Queue) Ack(ctx context.Context, id string) error {
	if _, err := q.db.pool.Exec(ctx, `DELETE FROM queue_messages WHERE id = $1 AND queue = $2`, id, q.name); err != nil {
		return fmt.Errorf("failed to ack %s: %w", id, err)
	}
	return nil
}

// Nack makes a message visible again after delay
func (q *Queue) Nack(ctx context.Context, id string, delay time.Duration) error {
	_, err := q.db.pool.Exec(ctx,
		`UPDATE queue_messages SET visible_at = $3 WHERE id = $1 AND queue = $2`,
		id, q.name, q.db.now().UTC().Add(delay),
	)
	if err != nil {
		return fmt.Errorf("failed to nack %s: %w", id, err)
	}
	return nil
}
