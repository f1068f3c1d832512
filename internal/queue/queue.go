// Package queue defines the at-least-once message queue contract and the
// consumer loop that drives handlers from it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Logical queue names
const (
	CheckJobs = "check_jobs"
	AlertJobs = "alert_jobs"
)

// Message is one delivery of a queued body
type Message struct {
	ID         string
	Body       []byte
	Attempts   int // deliveries so far, including this one
	EnqueuedAt time.Time
}

// Queue is an at-least-once, unordered queue with per-message ack.
// A received message that is neither acked nor nacked becomes visible
// again once its visibility timeout lapses. Receive may return the
// messages it already leased together with an error.
type Queue interface {
	Name() string
	Publish(ctx context.Context, body []byte) error
	Receive(ctx context.Context, max int) ([]Message, error)
	Ack(ctx context.Context, id string) error
	Nack(ctx context.Context, id string, delay time.Duration) error
}

// PublishJSON marshals v and publishes it
func PublishJSON(ctx context.Context, q Queue, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", q.Name(), err)
	}
	if err := q.Publish(ctx, body); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", q.Name(), err)
	}
	return nil
}

// Decode unmarshals a message body into T
func Decode[T any](msg Message) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Body, &v); err != nil {
		return v, fmt.Errorf("failed to decode message %s: %w", msg.ID, err)
	}
	return v, nil
}

var errDeadLetter = errors.New("message exceeded max attempts")
