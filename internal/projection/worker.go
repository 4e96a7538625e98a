package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"AegisVault/internal/event"
	"AegisVault/internal/ledger"
	"AegisVault/internal/observability"
	"AegisVault/internal/state"
)

const workerID = "main"

var zeroAccount = common.Address{}.Hex()

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence  int64
	CallType  string
	Status    string
	BlockTime int64
	Journals  []JournalEntry
	Logs      []event.LogRecord
}

// JournalEntry is a token movement in projection form. Mints come from and
// burns go to the zero address, which has no balance row.
type JournalEntry struct {
	Token  string
	From   string
	To     string
	Amount string
}

// NewProjectionOutput flattens one sequenced call.
func NewProjectionOutput(env *event.EventEnvelope, batch *ledger.Batch, logs []state.Log) ProjectionOutput {
	out := ProjectionOutput{
		Sequence:  env.Sequence,
		CallType:  env.EventType.String(),
		Status:    env.Status.String(),
		BlockTime: int64(env.BlockTime),
		Logs:      event.EncodeLogs(logs),
	}
	if batch != nil {
		out.Journals = make([]JournalEntry, 0, len(batch.Journals))
		for _, j := range batch.Journals {
			out.Journals = append(out.Journals, JournalEntry{
				Token:  j.Token.Hex(),
				From:   j.From.Hex(),
				To:     j.To.Hex(),
				Amount: j.Amount.Dec(),
			})
		}
	}
	return out
}

// ProjectionWorker updates projection tables from processed calls.
// The projection channel is non-blocking with drop: if projections fall
// behind they are rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Seed records the genesis cooldown duration unless a summary row exists.
func (pw *ProjectionWorker) Seed(ctx context.Context, cooldownDuration uint64) error {
	_, err := pw.db.ExecContext(ctx, `
		INSERT INTO projections.vault_summary (id, cooldown_duration, last_sequence, updated_at)
		VALUES (1, $1, 0, NOW())
		ON CONFLICT (id) DO NOTHING
	`, int64(cooldownDuration))
	return err
}

// Run loads the watermark and applies outputs until ctx is cancelled.
// Outputs at or below the watermark were already applied and are skipped,
// which makes replay after a restart safe.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	last, err := LoadWatermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq = last

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Sequence <= pw.lastSeq {
				continue
			}
			if pw.lastSeq > 0 && output.Sequence != pw.lastSeq+1 {
				pw.logger.Warn().
					Int64("last", pw.lastSeq).
					Int64("seq", output.Sequence).
					Msg("projection gap: outputs were dropped, rebuild projections")
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent and can be rebuilt
				pw.logger.Warn().Int64("seq", output.Sequence).Err(err).Msg("projection update failed")
				continue
			}
			pw.lastSeq = output.Sequence

			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("vault").Observe(time.Since(start).Seconds())
				pw.metrics.ProjectionLastSeq.Set(float64(output.Sequence))
			}
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// A rebuild running alongside the worker may already cover this sequence.
	var applied int64
	err = tx.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = $1 FOR UPDATE`, workerID,
	).Scan(&applied)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lock watermark: %w", err)
	}
	if applied >= output.Sequence {
		return nil
	}

	for _, j := range output.Journals {
		if err := applyJournal(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}
	for _, l := range output.Logs {
		if err := applyLog(ctx, tx, l, output.Sequence, output.BlockTime); err != nil {
			return fmt.Errorf("log projection %s: %w", l.Name, err)
		}
	}

	if err := setWatermark(ctx, tx, output.Sequence); err != nil {
		return err
	}
	return tx.Commit()
}

func applyJournal(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	if j.From != zeroAccount {
		if err := addBalance(ctx, tx, j.Token, j.From, "-"+j.Amount, seq); err != nil {
			return err
		}
	}
	if j.To != zeroAccount {
		if err := addBalance(ctx, tx, j.Token, j.To, j.Amount, seq); err != nil {
			return err
		}
	}
	return nil
}

func addBalance(ctx context.Context, tx *sql.Tx, token, account, delta string, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (token, account, balance, last_sequence)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (token, account)
		DO UPDATE SET balance = projections.balances.balance + $3::numeric, last_sequence = $4
	`, token, account, delta, seq)
	return err
}

func applyLog(ctx context.Context, tx *sql.Tx, l event.LogRecord, seq, blockTime int64) error {
	f := l.Fields
	switch l.Name {
	case "CooldownStarted":
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.cooldowns (account, cooldown_end, underlying_amount, last_sequence)
			VALUES ($1, $2, $3::numeric, $4)
			ON CONFLICT (account) DO UPDATE
				SET cooldown_end = $2,
				    underlying_amount = projections.cooldowns.underlying_amount + $3::numeric,
				    last_sequence = $4
		`, f["account"], f["cooldown_end"], f["assets"], seq); err != nil {
			return err
		}
		return recordHistory(ctx, tx, HistoryEntry{
			Sequence:    seq,
			LogIndex:    l.Index,
			Account:     f["account"],
			Kind:        HistoryCooldownStarted,
			Assets:      f["assets"],
			Shares:      f["shares"],
			CooldownEnd: f["cooldown_end"],
			BlockTime:   blockTime,
		})

	case "Unstaked":
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM projections.cooldowns WHERE account = $1`, f["account"],
		); err != nil {
			return err
		}
		return recordHistory(ctx, tx, HistoryEntry{
			Sequence:  seq,
			LogIndex:  l.Index,
			Account:   f["account"],
			Kind:      HistoryUnstaked,
			Assets:    f["assets"],
			Receiver:  f["receiver"],
			BlockTime: blockTime,
		})

	case "CooldownDurationUpdated":
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.vault_summary (id, cooldown_duration, last_sequence, updated_at)
			VALUES (1, $1, $2, NOW())
			ON CONFLICT (id) DO UPDATE SET cooldown_duration = $1, last_sequence = $2, updated_at = NOW()
		`, f["new"], seq)
		return err
	}
	return nil
}

func setWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, workerID, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

// LoadWatermark returns the last applied sequence, or 0 before the first.
func LoadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = $1`, workerID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
