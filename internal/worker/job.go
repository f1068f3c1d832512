package worker

import "context"

// Job is one unit of work run by the pool
type Job struct {
	ID      string
	Context context.Context
	Run     func(ctx context.Context) error
	// OnDone receives Run's error, or a panic converted to an error
	OnDone func(err error)
}
