package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dandantas/sentinel/internal/queue"
)

type queueDoc struct {
	ID         string    `bson:"_id"`
	Queue      string    `bson:"queue"`
	Body       []byte    `bson:"body"`
	Attempts   int       `bson:"attempts"`
	EnqueuedAt time.Time `bson:"enqueued_at"`
	VisibleAt  time.Time `bson:"visible_at"`
}

// Queue is a durable at-least-once queue stored in one shared collection.
// Receiving a message pushes its visible_at forward by the visibility
// timeout; a consumer that dies without acking lets it resurface.
type Queue struct {
	db         *MongoDB
	collection *mongo.Collection
	name       string
	visibility time.Duration
	now        func() time.Time
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue creates a queue handle
func NewQueue(db *MongoDB, name string, visibility time.Duration) *Queue {
	return &Queue{
		db:         db,
		collection: db.GetCollection(CollectionQueueMessages),
		name:       name,
		visibility: visibility,
		now:        time.Now,
	}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) Publish(ctx context.Context, body []byte) error {
	ctxTimeout, cancel := q.db.withTimeout(ctx)
	defer cancel()

	now := q.now().UTC()
	doc := queueDoc{
		ID:         uuid.NewString(),
		Queue:      q.name,
		Body:       body,
		EnqueuedAt: now,
		VisibleAt:  now,
	}
	if _, err := q.collection.InsertOne(ctxTimeout, doc); err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	return nil
}

// Receive leases up to max visible messages, one atomic claim each
func (q *Queue) Receive(ctx context.Context, max int) ([]queue.Message, error) {
	ctxTimeout, cancel := q.db.withTimeout(ctx)
	defer cancel()

	msgs := make([]queue.Message, 0, max)
	for len(msgs) < max {
		now := q.now().UTC()
		filter := bson.M{"queue": q.name, "visible_at": bson.M{"$lte": now}}
		update := bson.M{
			"$set": bson.M{"visible_at": now.Add(q.visibility)},
			"$inc": bson.M{"attempts": 1},
		}
		opts := options.FindOneAndUpdate().
			SetSort(bson.D{{Key: "visible_at", Value: 1}}).
			SetReturnDocument(options.After)

		var doc queueDoc
		err := q.collection.FindOneAndUpdate(ctxTimeout, filter, update, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}
		if err != nil {
			return msgs, fmt.Errorf("failed to receive from %s: %w", q.name, err)
		}
		msgs = append(msgs, queue.Message{
			ID:         doc.ID,
			Body:       doc.Body,
			Attempts:   doc.Attempts,
			EnqueuedAt: doc.EnqueuedAt,
		})
	}
	return msgs, nil
}

func (q *Queue) Ack(ctx context.Context, id string) error {
	ctxTimeout, cancel := q.db.withTimeout(ctx)
	defer cancel()

	if _, err := q.collection.DeleteOne(ctxTimeout, bson.M{"_id": id, "queue": q.name}); err != nil {
		return fmt.Errorf("failed to ack %s: %w", id, err)
	}
	return nil
}

func (q *Queue) Nack(ctx context.Context, id string, delay time.Duration) error {
	ctxTimeout, cancel := q.db.withTimeout(ctx)
	defer cancel()

	update := bson.M{"$set": bson.M{"visible_at": q.now().UTC().Add(delay)}}
	if _, err := q.collection.UpdateOne(ctxTimeout, bson.M{"_id": id, "queue": q.name}, update); err != nil {
		return fmt.Errorf("failed to nack %s: %w", id, err)
	}
	return nil
}
