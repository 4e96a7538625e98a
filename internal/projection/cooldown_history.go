package projection

import (
	"context"
	"database/sql"
)

// HistoryKind tags a cooldown history row.
type HistoryKind string

const (
	HistoryCooldownStarted HistoryKind = "cooldown_started"
	HistoryUnstaked        HistoryKind = "unstaked"
)

// HistoryEntry is one step of an account's exit: a cooldown started or
// extended, or the matured cooldown claimed.
type HistoryEntry struct {
	Sequence    int64
	LogIndex    int
	Account     string
	Kind        HistoryKind
	Assets      string
	Shares      string // empty for unstakes
	CooldownEnd string // empty for unstakes
	Receiver    string // empty for cooldown starts
	BlockTime   int64
}

func recordHistory(ctx context.Context, tx *sql.Tx, e HistoryEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.cooldown_history
			(sequence, log_index, account, kind, assets, shares, cooldown_end, receiver, block_time)
		VALUES ($1, $2, $3, $4, $5::numeric, NULLIF($6, '')::numeric, NULLIF($7, '')::bigint, NULLIF($8, ''), $9)
		ON CONFLICT (sequence, log_index) DO NOTHING
	`, e.Sequence, e.LogIndex, e.Account, string(e.Kind), e.Assets, e.Shares, e.CooldownEnd, e.Receiver, e.BlockTime)
	return err
}
