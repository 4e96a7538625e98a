package core

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"AegisVault/internal/event"
)

// Submission is one call handed to the core goroutine. Done, when set,
// receives the outcome.
type Submission struct {
	Event event.Event
	Done  chan<- Result
}

// Result is the outcome of a submission. Sequenced is false for duplicates
// and for calls rejected before sequencing.
type Result struct {
	Sequenced bool
	Sequence  int64
	Err       error
}

// Loop owns the core goroutine: calls and snapshot requests are served from
// the same select, so a snapshot never observes a half-applied call.
type Loop struct {
	core    *DeterministicCore
	in      <-chan Submission
	snapReq chan chan *SnapshotState
	logger  zerolog.Logger
}

func NewLoop(c *DeterministicCore, in <-chan Submission, logger zerolog.Logger) *Loop {
	return &Loop{
		core:    c,
		in:      in,
		snapReq: make(chan chan *SnapshotState),
		logger:  logger,
	}
}

// Run processes submissions until ctx is cancelled or in is closed.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case reply := <-l.snapReq:
			reply <- l.core.CreateSnapshotState()

		case sub, ok := <-l.in:
			if !ok {
				return nil
			}
			res := l.apply(sub.Event)
			if sub.Done != nil {
				sub.Done <- res
			}
		}
	}
}

func (l *Loop) apply(evt event.Event) Result {
	before := l.core.GetSequence()
	err := l.core.ProcessEvent(evt)
	res := Result{Sequenced: l.core.GetSequence() > before, Sequence: before, Err: err}

	var callErr *CallError
	switch {
	case err == nil:
	case errors.As(err, &callErr):
		// Logged by the core; the call is in the event log.
	default:
		l.logger.Error().
			Str("call", evt.EventType().String()).
			Str("key", evt.IdempotencyKey()).
			Err(err).
			Msg("call rejected")
	}
	return res
}

// Snapshot captures state between two calls.
func (l *Loop) Snapshot(ctx context.Context) (*SnapshotState, error) {
	reply := make(chan *SnapshotState, 1)
	select {
	case l.snapReq <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
