package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"AegisVault/internal/event"
	"AegisVault/internal/ledger"
	"AegisVault/internal/state"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes calls, journals and logs to Postgres using
// multi-row INSERTs inside the caller's transaction.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	CallType       string
	IdempotencyKey string
	Sender         string
	Nonce          int64
	BlockTime      int64
	Status         string
	Error          string
	Payload        []byte // wire-format JSON of the call
	StateHash      []byte
	PrevHash       []byte
}

// JournalRow represents a row in event_log.journal. Amount is a base-10
// string bound to NUMERIC(78,0).
type JournalRow struct {
	JournalID   string
	BatchID     string
	EventRef    string
	Sequence    int64
	Token       string
	FromAccount string
	ToAccount   string
	Amount      string
	JournalType string
	Timestamp   int64
}

// LogRow represents a row in event_log.logs
type LogRow struct {
	Sequence int64
	LogIndex int
	Name     string
	Fields   []byte // JSON object of string fields
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// NewEventRow flattens a sequenced envelope.
func NewEventRow(env *event.EventEnvelope) EventRow {
	return EventRow{
		Sequence:       env.Sequence,
		CallType:       env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Sender:         env.Sender.Hex(),
		Nonce:          env.SourceSequence,
		BlockTime:      int64(env.BlockTime),
		Status:         env.Status.String(),
		Error:          env.Error,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
	}
}

// NewJournalRows flattens a batch. A nil batch yields no rows.
func NewJournalRows(batch *ledger.Batch) []JournalRow {
	if batch == nil {
		return nil
	}
	rows := make([]JournalRow, 0, len(batch.Journals))
	for _, j := range batch.Journals {
		rows = append(rows, JournalRow{
			JournalID:   j.JournalID.String(),
			BatchID:     j.BatchID.String(),
			EventRef:    j.EventRef,
			Sequence:    j.Sequence,
			Token:       j.Token.Hex(),
			FromAccount: j.From.Hex(),
			ToAccount:   j.To.Hex(),
			Amount:      j.Amount.Dec(),
			JournalType: j.JournalType.String(),
			Timestamp:   j.Timestamp,
		})
	}
	return rows
}

// NewLogRows encodes the logs of the call at sequence.
func NewLogRows(sequence int64, logs []state.Log) ([]LogRow, error) {
	records := event.EncodeLogs(logs)
	rows := make([]LogRow, 0, len(records))
	for _, r := range records {
		fields, err := json.Marshal(r.Fields)
		if err != nil {
			return nil, fmt.Errorf("encode log %s: %w", r.Name, err)
		}
		rows = append(rows, LogRow{Sequence: sequence, LogIndex: r.Index, Name: r.Name, Fields: fields})
	}
	return rows, nil
}

// WriteEventBatch writes a batch of calls to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, events []EventRow, ex execer) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, call_type, idempotency_key, sender, nonce, block_time, status, error, payload, state_hash, prev_hash)
		VALUES `

	const cols = 11
	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)

	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.CallType, e.IdempotencyKey, e.Sender, e.Nonce, e.BlockTime,
			e.Status, e.Error, e.Payload, e.StateHash, e.PrevHash,
		)
	}

	// Replay re-emits calls that are already stored.
	query += strings.Join(values, ", ") + " ON CONFLICT DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, journals []JournalRow, ex execer) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, token, from_account, to_account, amount, journal_type, timestamp)
		VALUES `

	const cols = 10
	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*cols)

	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence, j.Token,
			j.FromAccount, j.ToAccount, j.Amount, j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ") + " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteLogBatch writes a batch of logs to event_log.logs.
func (w *EventLogWriter) WriteLogBatch(ctx context.Context, logs []LogRow, ex execer) error {
	if len(logs) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.logs (sequence, log_index, name, fields) VALUES `

	const cols = 4
	values := make([]string, 0, len(logs))
	args := make([]interface{}, 0, len(logs)*cols)

	for i, l := range logs {
		values = append(values, placeholders(i*cols, cols))
		args = append(args, l.Sequence, l.LogIndex, l.Name, l.Fields)
	}

	query += strings.Join(values, ", ") + " ON CONFLICT (sequence, log_index) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+i)
	}
	b.WriteByte(')')
	return b.String()
}
