package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dandantas/sentinel/internal/metrics"
	"github.com/dandantas/sentinel/internal/worker"
)

// Handler processes one message; a returned error leaves it for redelivery
type Handler func(ctx context.Context, msg Message) error

// ConsumerConfig tunes a consumer loop
type ConsumerConfig struct {
	Workers      int
	MaxAttempts  int
	RetryDelay   time.Duration
	PollInterval time.Duration
}

func (c *ConsumerConfig) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
}

// Consumer pulls messages from a queue onto a worker pool
type Consumer struct {
	q       Queue
	handler Handler
	cfg     ConsumerConfig
	pool    *worker.WorkerPool
	metrics *metrics.Registry
	wg      sync.WaitGroup
}

// NewConsumer creates a consumer for q
func NewConsumer(q Queue, handler Handler, cfg ConsumerConfig, reg *metrics.Registry) *Consumer {
	cfg.setDefaults()
	return &Consumer{
		q:       q,
		handler: handler,
		cfg:     cfg,
		pool:    worker.NewWorkerPool(q.Name(), cfg.Workers),
		metrics: reg,
	}
}

// Run polls until ctx is cancelled, then waits for in-flight messages
func (c *Consumer) Run(ctx context.Context) {
	c.pool.Start()
	defer c.pool.Stop()

	slog.Info("Queue consumer started", "queue", c.q.Name(), "workers", c.cfg.Workers)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		n := c.Poll(ctx)
		if n == 0 {
			select {
			case <-ctx.Done():
				c.wg.Wait()
				slog.Info("Queue consumer stopped", "queue", c.q.Name())
				return
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			c.wg.Wait()
			return
		}
	}
}

// Poll receives one batch sized to the idle workers and dispatches it.
// It returns how many messages were dispatched.
func (c *Consumer) Poll(ctx context.Context) int {
	free := c.pool.Available()
	if free == 0 || ctx.Err() != nil {
		return 0
	}

	// a partial batch is already leased, so it is dispatched despite the error
	msgs, err := c.q.Receive(ctx, free)
	if err != nil && ctx.Err() == nil {
		slog.Error("Failed to receive messages", "queue", c.q.Name(), "leased", len(msgs), "error", err)
	}

	dispatched := 0
	for _, msg := range msgs {
		msg := msg
		c.wg.Add(1)
		err := c.pool.Submit(ctx, worker.Job{
			ID:      msg.ID,
			Context: context.WithoutCancel(ctx),
			Run:     func(jobCtx context.Context) error { return c.process(jobCtx, msg) },
			OnDone:  func(err error) { c.settle(msg, err) },
		})
		if err != nil {
			// never reached a worker; hand it straight back
			c.wg.Done()
			c.release(msg)
			continue
		}
		dispatched++
	}
	return dispatched
}

func (c *Consumer) release(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.q.Nack(ctx, msg.ID, 0); err != nil {
		slog.Warn("Failed to release undispatched message", "queue", c.q.Name(), "message_id", msg.ID, "error", err)
	}
}

// Wait blocks until every dispatched message has been settled
func (c *Consumer) Wait() {
	c.wg.Wait()
}

// Start runs the pool without the polling loop; callers drive Poll
func (c *Consumer) Start() { c.pool.Start() }

// Stop stops the pool
func (c *Consumer) Stop() { c.pool.Stop() }

func (c *Consumer) process(ctx context.Context, msg Message) error {
	if msg.Attempts > c.cfg.MaxAttempts {
		return errDeadLetter
	}
	return c.handler(ctx, msg)
}

func (c *Consumer) settle(msg Message, err error) {
	defer c.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch {
	case err == errDeadLetter:
		slog.Error("Dropping message after max attempts",
			"queue", c.q.Name(),
			"message_id", msg.ID,
			"attempts", msg.Attempts,
			"body", string(msg.Body),
		)
		c.metrics.Inc(metrics.QueueDeadLettersTotal, "queue", c.q.Name())
		if ackErr := c.q.Ack(ctx, msg.ID); ackErr != nil {
			slog.Error("Failed to ack dead-lettered message", "queue", c.q.Name(), "message_id", msg.ID, "error", ackErr)
		}
	case err != nil:
		slog.Warn("Message processing failed, will redeliver",
			"queue", c.q.Name(),
			"message_id", msg.ID,
			"attempts", msg.Attempts,
			"error", err,
		)
		if nackErr := c.q.Nack(ctx, msg.ID, c.cfg.RetryDelay); nackErr != nil {
			slog.Error("Failed to nack message", "queue", c.q.Name(), "message_id", msg.ID, "error", nackErr)
		}
	default:
		if ackErr := c.q.Ack(ctx, msg.ID); ackErr != nil {
			slog.Error("Failed to ack message", "queue", c.q.Name(), "message_id", msg.ID, "error", ackErr)
		}
	}
}
