package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"AegisVault/internal/event"
	"AegisVault/internal/observability"
	"AegisVault/internal/state"
)

// LedgerEventStream holds sequenced calls for downstream consumers.
const LedgerEventStream = "VAULT_LEDGER_EVENTS"

const ledgerSubjectPrefix = "vault.ledger.events."

// OutboundPublisher publishes sequenced calls to NATS for downstream
// consumers on vault.ledger.events.{call}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is a sequenced call ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64             `json:"sequence"`
	Call           string            `json:"call"`
	IdempotencyKey string            `json:"idempotency_key"`
	Sender         string            `json:"sender"`
	Nonce          int64             `json:"nonce"`
	BlockTime      uint64            `json:"block_time"`
	Status         string            `json:"status"`
	Error          string            `json:"error,omitempty"`
	Payload        json.RawMessage   `json:"payload"`
	Logs           []event.LogRecord `json:"logs"`
	StateHash      string            `json:"state_hash"`
}

// NewPublishableEvent flattens an envelope and its logs.
func NewPublishableEvent(env *event.EventEnvelope, logs []state.Log) PublishableEvent {
	return PublishableEvent{
		Sequence:       env.Sequence,
		Call:           env.EventType.Subject(),
		IdempotencyKey: env.IdempotencyKey,
		Sender:         env.Sender.Hex(),
		Nonce:          env.SourceSequence,
		BlockTime:      env.BlockTime,
		Status:         env.Status.String(),
		Error:          env.Error,
		Payload:        json.RawMessage(env.Payload),
		Logs:           event.EncodeLogs(logs),
		StateHash:      "0x" + hex.EncodeToString(env.StateHash[:]),
	}
}

// Subject is the outbound subject of the event.
func (p PublishableEvent) Subject() string {
	return ledgerSubjectPrefix + p.Call
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can read the event log
				op.logger.Warn().Int64("seq", evt.Sequence).Err(err).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Dedup window on the stream drops republished sequences after a restart.
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(fmt.Sprintf("seq-%d", evt.Sequence)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       LedgerEventStream,
		Subjects:   []string{ledgerSubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", LedgerEventStream).Msg("ensured outbound stream")
	return nil
}
