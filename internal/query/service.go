package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	vmath "AegisVault/internal/math"
)

// Addresses locates the vault's accounts in the projections. The share token
// lives at the vault address.
type Addresses struct {
	Vault common.Address
	Silo  common.Address
	Asset common.Address
}

// QueryService provides read-only access to projection tables. Queries are
// served via gRPC and HTTP/JSON; all responses include as_of_sequence.
type QueryService struct {
	db    *sql.DB
	addrs Addresses
	now   func() uint64
}

func NewQueryService(db *sql.DB, addrs Addresses) *QueryService {
	return &QueryService{
		db:    db,
		addrs: addrs,
		now:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// GetBalance returns an account's balance of token. Unknown accounts have a
// zero balance.
func (qs *QueryService) GetBalance(ctx context.Context, account, token common.Address) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	bal, err := qs.getProjectedBalance(ctx, token, account)
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		Account:      account.Hex(),
		Token:        token.Hex(),
		Balance:      bal.Dec(),
		AsOfSequence: asOfSeq,
	}, nil
}

// GetCooldown returns the pending cooldown of account.
func (qs *QueryService) GetCooldown(ctx context.Context, account common.Address) (*CooldownResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &CooldownResponse{
		Account:          account.Hex(),
		UnderlyingAmount: "0",
		State:            "none",
		AsOfSequence:     asOfSeq,
	}

	var amount string
	err = qs.db.QueryRowContext(ctx, `
		SELECT cooldown_end, underlying_amount FROM projections.cooldowns WHERE account = $1
	`, account.Hex()).Scan(&resp.CooldownEnd, &amount)
	if errors.Is(err, sql.ErrNoRows) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	resp.UnderlyingAmount = amount

	duration, err := qs.getCooldownDuration(ctx)
	if err != nil {
		return nil, err
	}
	resp.State = "cooling"
	if duration == 0 || qs.now() >= resp.CooldownEnd {
		resp.State = "ready"
	}
	return resp, nil
}

// GetVaultSummary aggregates TVL, share supply, silo custody and pending
// cooldowns.
func (qs *QueryService) GetVaultSummary(ctx context.Context) (*VaultSummary, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	totalAssets, err := qs.getProjectedBalance(ctx, qs.addrs.Asset, qs.addrs.Vault)
	if err != nil {
		return nil, err
	}
	siloBalance, err := qs.getProjectedBalance(ctx, qs.addrs.Asset, qs.addrs.Silo)
	if err != nil {
		return nil, err
	}

	var supplyStr string
	if err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(balance), 0)::text FROM projections.balances WHERE token = $1
	`, qs.addrs.Vault.Hex()).Scan(&supplyStr); err != nil {
		return nil, err
	}
	totalSupply, err := vmath.ParseAmount(supplyStr)
	if err != nil {
		return nil, fmt.Errorf("share supply: %w", err)
	}

	var (
		pendingStr string
		count      int64
	)
	if err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(underlying_amount), 0)::text, COUNT(*) FROM projections.cooldowns
	`).Scan(&pendingStr, &count); err != nil {
		return nil, err
	}

	duration, err := qs.getCooldownDuration(ctx)
	if err != nil {
		return nil, err
	}

	perShare, err := vmath.ConvertToAssets(vmath.Units(1), totalSupply, totalAssets, vmath.RoundDown)
	if err != nil {
		return nil, fmt.Errorf("share price: %w", err)
	}

	return &VaultSummary{
		Vault:            qs.addrs.Vault.Hex(),
		Silo:             qs.addrs.Silo.Hex(),
		Asset:            qs.addrs.Asset.Hex(),
		TotalAssets:      totalAssets.Dec(),
		TotalSupply:      totalSupply.Dec(),
		SiloBalance:      siloBalance.Dec(),
		PendingCooldowns: pendingStr,
		CooldownCount:    count,
		CooldownDuration: duration,
		AssetsPerShare:   perShare.Dec(),
		AsOfSequence:     asOfSeq,
	}, nil
}

// GetCooldownHistory returns an account's cooldown starts and unstakes,
// newest first. beforeSequence, when set, pages past earlier results.
func (qs *QueryService) GetCooldownHistory(
	ctx context.Context,
	account common.Address,
	limit int,
	beforeSequence *int64,
) ([]CooldownHistoryEntry, error) {
	query := `
		SELECT sequence, kind, assets::text, COALESCE(shares::text, ''),
		       COALESCE(cooldown_end, 0), COALESCE(receiver, ''), block_time
		FROM projections.cooldown_history
		WHERE account = $1
	`
	args := []interface{}{account.Hex()}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, log_index DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []CooldownHistoryEntry
	for rows.Next() {
		var h CooldownHistoryEntry
		if err := rows.Scan(
			&h.Sequence, &h.Kind, &h.Assets, &h.Shares,
			&h.CooldownEnd, &h.Receiver, &h.BlockTime,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetJournalHistory returns token movements touching account, newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	account common.Address,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       token, from_account, to_account, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE (from_account = $1 OR to_account = $1)
	`
	args := []interface{}{account.Hex()}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.Token, &e.From, &e.To, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and that
// every token's projected balances add up to its journaled supply.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	supplyRows, err := qs.db.QueryContext(ctx, `
		WITH journaled AS (
			SELECT token,
			       SUM(CASE WHEN journal_type = 'mint' THEN amount
			                WHEN journal_type = 'burn' THEN -amount
			                ELSE 0 END) AS supply
			FROM event_log.journal
			GROUP BY token
		), projected AS (
			SELECT token, SUM(balance) AS supply FROM projections.balances GROUP BY token
		)
		SELECT j.token, COALESCE(p.supply, 0)::text, j.supply::text
		FROM journaled j
		LEFT JOIN projected p ON p.token = j.token
		WHERE COALESCE(p.supply, 0) <> j.supply
	`)
	if err != nil {
		return nil, err
	}
	defer supplyRows.Close()

	for supplyRows.Next() {
		var m SupplyMismatch
		if err := supplyRows.Scan(&m.Token, &m.Projected, &m.Journaled); err != nil {
			return nil, err
		}
		report.SupplyMismatch = append(report.SupplyMismatch, m)
	}
	if err := supplyRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.SupplyMismatch) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, token, account common.Address) (*uint256.Int, error) {
	var s string
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance::text FROM projections.balances WHERE token = $1 AND account = $2
	`, token.Hex(), account.Hex()).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	v, err := vmath.ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("balance of %s in %s: %w", account.Hex(), token.Hex(), err)
	}
	return v, nil
}

func (qs *QueryService) getCooldownDuration(ctx context.Context) (uint64, error) {
	var d int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT cooldown_duration FROM projections.vault_summary WHERE id = 1
	`).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return uint64(d), err
}
