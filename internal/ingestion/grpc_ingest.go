package ingestion

import (
	"context"
	"errors"
	"fmt"

	"AegisVault/internal/core"
	"AegisVault/internal/event"
)

// ErrUnknownCall is returned for a call name that maps to no call type.
var ErrUnknownCall = errors.New("unknown call")

// GRPCIngestService submits single calls on behalf of gRPC and HTTP clients
// and waits for the core's verdict. Bulk traffic belongs on NATS.
type GRPCIngestService struct {
	eventChan chan<- core.Submission
}

func NewGRPCIngestService(eventChan chan<- core.Submission) *GRPCIngestService {
	return &GRPCIngestService{eventChan: eventChan}
}

// Submit parses payload as call callName and waits until the core has
// sequenced, reverted or rejected it.
func (s *GRPCIngestService) Submit(ctx context.Context, callName string, payload []byte) (core.Result, error) {
	et := event.ParseEventType(callName)
	if et == event.EventTypeUnknown {
		return core.Result{}, fmt.Errorf("%w: %s", ErrUnknownCall, callName)
	}
	evt, err := event.Unmarshal(et, payload)
	if err != nil {
		return core.Result{}, err
	}

	done := make(chan core.Result, 1)
	select {
	case s.eventChan <- core.Submission{Event: evt, Done: done}:
	case <-ctx.Done():
		return core.Result{}, ctx.Err()
	}

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		// The call may still be applied; the client retries with the same
		// tx_id and gets deduplicated.
		return core.Result{}, ctx.Err()
	}
}
