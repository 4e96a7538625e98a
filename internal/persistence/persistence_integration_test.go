package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"AegisVault/internal/core"
	"AegisVault/internal/event"
	vmath "AegisVault/internal/math"
	"AegisVault/internal/persistence"
	"AegisVault/internal/testutil"
)

func lifecycle() []event.Event {
	c := testutil.NewCalls()
	t0 := testutil.GenesisTime
	return []event.Event{
		&event.TokenMint{Call: c.Next(testutil.Minter, t0), Token: testutil.AssetAddress, To: testutil.User1, Amount: vmath.Units(1000)},
		&event.TokenApprove{Call: c.Next(testutil.User1, t0+1), Token: testutil.AssetAddress, Spender: testutil.VaultAddress, Amount: vmath.Units(1000)},
		&event.Deposit{Call: c.Next(testutil.User1, t0+2), Assets: vmath.Units(600), Receiver: testutil.User1},
		&event.CooldownShares{Call: c.Next(testutil.User1, t0+3), Shares: vmath.Units(100), Owner: testutil.User1},
		// Reverts: the cooldown has not ended.
		&event.Unstake{Call: c.Next(testutil.User1, t0+4), Receiver: testutil.User1},
	}
}

func toPersistence(t *testing.T, outs []core.CoreOutput) []persistence.CoreOutput {
	t.Helper()
	rows := make([]persistence.CoreOutput, 0, len(outs))
	for _, o := range outs {
		logs, err := persistence.NewLogRows(o.Envelope.Sequence, o.Logs)
		require.NoError(t, err)
		rows = append(rows, persistence.CoreOutput{
			EventRow:    persistence.NewEventRow(o.Envelope),
			JournalRows: persistence.NewJournalRows(o.Batch),
			LogRows:     logs,
		})
	}
	return rows
}

func writeAll(t *testing.T, w *persistence.PersistenceWorker, ch chan persistence.CoreOutput, rows []persistence.CoreOutput) {
	t.Helper()
	for _, r := range rows {
		ch <- r
	}
	close(ch)
	require.NoError(t, w.Run(context.Background()))
}

// ============================================================================
// Event log
// ============================================================================

func TestEventLog_WriteIsIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	rows := toPersistence(t, testutil.RunCalls(t, lifecycle()))
	require.Len(t, rows, 5)

	// Written twice, as replay after a crash would.
	for i := 0; i < 2; i++ {
		ch := make(chan persistence.CoreOutput, len(rows))
		w := persistence.NewPersistenceWorker(db, ch, 2, 5*time.Millisecond, nil, zerolog.Nop())
		writeAll(t, w, ch, rows)
	}

	snapMgr := persistence.NewSnapshotManager(db)
	head, err := snapMgr.GetLatestSequence(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 5, head)

	loaded, err := snapMgr.LoadEventsFrom(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	require.EqualValues(t, 3, loaded[0].Sequence)
	require.Equal(t, "Deposit", loaded[0].CallType)
	require.Equal(t, rows[2].EventRow.StateHash, loaded[0].StateHash)
	require.Equal(t, "reverted", loaded[2].Status)
	require.NotEmpty(t, loaded[2].Error)

	// Stored payloads decode back into the same call.
	evt, err := event.Unmarshal(event.ParseEventType(loaded[0].CallType), loaded[0].Payload)
	require.NoError(t, err)
	require.Equal(t, rows[2].EventRow.IdempotencyKey, evt.IdempotencyKey())

	var journals, logs int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log.journal`).Scan(&journals))
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log.logs`).Scan(&logs))
	wantJournals, wantLogs := 0, 0
	for _, r := range rows {
		wantJournals += len(r.JournalRows)
		wantLogs += len(r.LogRows)
	}
	require.Equal(t, wantJournals, journals)
	require.Equal(t, wantLogs, logs)
}

func TestPostgresIdempotencyChecker(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	rows := toPersistence(t, testutil.RunCalls(t, lifecycle()[:1]))
	ch := make(chan persistence.CoreOutput, 1)
	writeAll(t, persistence.NewPersistenceWorker(db, ch, 10, 5*time.Millisecond, nil, zerolog.Nop()), ch, rows)

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("TokenMint", rows[0].EventRow.IdempotencyKey)
	require.NoError(t, err)
	require.True(t, dup)

	dup, err = checker.IsDuplicate("Deposit", rows[0].EventRow.IdempotencyKey)
	require.NoError(t, err)
	require.False(t, dup, "keys are scoped by call type")
}

// ============================================================================
// Snapshots and migrations
// ============================================================================

func TestSnapshot_OnlyVerifiedLoads(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	snapMgr := persistence.NewSnapshotManager(db)
	snap := &persistence.SnapshotData{
		FormatVersion: core.SnapshotFormatVersion,
		Sequence:      5,
		StateHash:     []byte{1, 2, 3},
		SequenceState: map[string]int64{"sender:0x01": 4},
		CreatedAt:     time.Now().UTC(),
	}
	size, err := snapMgr.SaveSnapshot(ctx, snap)
	require.NoError(t, err)
	require.Positive(t, size)

	loaded, err := snapMgr.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.Nil(t, loaded, "unverified snapshots are never loaded")

	require.NoError(t, snapMgr.MarkVerified(ctx, 5))
	loaded, err = snapMgr.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.EqualValues(t, 5, loaded.Sequence)
	require.Equal(t, snap.StateHash, loaded.StateHash)
	require.Equal(t, snap.SequenceState, loaded.SequenceState)
}

func TestMigrator_AppliedIsComplete(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	m := persistence.NewMigrator(db, testutil.MigrationsDir(t), zerolog.Nop())
	n, err := m.Up(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "SetupTestDB already migrated")

	applied, err := m.Applied(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	require.Equal(t, "000001", applied[0].Version)
	require.Equal(t, "000002_projections.up.sql", applied[1].Filename)
}
