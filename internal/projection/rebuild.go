package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"AegisVault/internal/event"
)

// RebuildProjections rebuilds every projection table from the event log.
// Balances are aggregated in SQL; cooldown state is replayed from the logs
// in sequence order because extensions accumulate.
func RebuildProjections(ctx context.Context, db *sql.DB, genesisCooldown uint64, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	truncate := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.cooldowns`,
		`TRUNCATE projections.cooldown_history`,
		`TRUNCATE projections.vault_summary`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncate {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (token, account, balance, last_sequence)
		SELECT token, account, SUM(delta), MAX(sequence)
		FROM (
			SELECT token, to_account AS account, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT token, from_account AS account, -amount AS delta, sequence FROM event_log.journal
		) moves
		WHERE account <> $1
		GROUP BY token, account
	`, zeroAccount); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.vault_summary (id, cooldown_duration, last_sequence, updated_at)
		VALUES (1, $1, 0, NOW())
	`, int64(genesisCooldown)); err != nil {
		return fmt.Errorf("seed summary: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT l.sequence, l.log_index, l.name, l.fields, e.block_time
		FROM event_log.logs l
		JOIN event_log.events e ON e.sequence = l.sequence
		WHERE l.name IN ('CooldownStarted', 'Unstaked', 'CooldownDurationUpdated')
		ORDER BY l.sequence, l.log_index
	`)
	if err != nil {
		return fmt.Errorf("load logs: %w", err)
	}

	type pending struct {
		seq, blockTime int64
		rec            event.LogRecord
	}
	var logs []pending
	for rows.Next() {
		var (
			p      pending
			fields []byte
		)
		if err := rows.Scan(&p.seq, &p.rec.Index, &p.rec.Name, &fields, &p.blockTime); err != nil {
			rows.Close()
			return err
		}
		if err := json.Unmarshal(fields, &p.rec.Fields); err != nil {
			rows.Close()
			return fmt.Errorf("decode log at seq=%d: %w", p.seq, err)
		}
		logs = append(logs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range logs {
		if err := applyLog(ctx, tx, p.rec, p.seq, p.blockTime); err != nil {
			return fmt.Errorf("replay %s at seq=%d: %w", p.rec.Name, p.seq, err)
		}
	}

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&maxSeq); err != nil {
		return err
	}
	if maxSeq.Valid {
		if err := setWatermark(ctx, tx, maxSeq.Int64); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Int("cooldown_logs", len(logs)).Int64("watermark", maxSeq.Int64).Msg("projection rebuild complete")
	return nil
}
