package ingestion

import (
	"context"

	"github.com/rs/zerolog"

	"AegisVault/internal/core"
	"AegisVault/internal/observability"
)

// RunNATSBridge parses raw NATS messages and forwards them to the core loop.
// Messages are acked after the hand-off, not after core processing, so a slow
// core never trips AckWait and backpressure reaches NATS through the blocking
// send. Unparseable messages are acked and dropped; redelivery cannot fix them.
func RunNATSBridge(
	ctx context.Context,
	rawChan <-chan RawEvent,
	out chan<- core.Submission,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}
			if metrics != nil {
				metrics.IngestReceived.WithLabelValues("nats").Inc()
			}

			callName := raw.CallName
			if callName == "" {
				var err error
				if callName, err = CallFromSubject(raw.Subject); err != nil {
					logger.Warn().Str("subject", raw.Subject).Err(err).Msg("unroutable subject")
					raw.AckFunc()
					continue
				}
			}

			evt, err := ParseRawEvent(raw, callName)
			if err != nil {
				logger.Warn().Str("subject", raw.Subject).Err(err).Msg("parse call failed")
				if metrics != nil {
					metrics.IngestParseError.WithLabelValues("nats").Inc()
				}
				raw.AckFunc()
				continue
			}

			select {
			case out <- core.Submission{Event: evt}:
				raw.AckFunc()
			case <-ctx.Done():
				raw.NakFunc()
				return
			}
		}
	}
}
