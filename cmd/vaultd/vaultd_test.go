package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"AegisVault/internal/core"
	"AegisVault/internal/event"
	"AegisVault/internal/ingestion"
	vmath "AegisVault/internal/math"
	"AegisVault/internal/persistence"
	"AegisVault/internal/projection"
	"AegisVault/internal/testutil"
	"AegisVault/internal/vault"
)

type fakeSnapshotStore struct {
	mu       sync.Mutex
	head     []int64 // successive GetLatestSequence answers; the last repeats
	saved    []*persistence.SnapshotData
	verified []int64
}

func (f *fakeSnapshotStore) SaveSnapshot(_ context.Context, snap *persistence.SnapshotData) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, snap)
	return 123, nil
}

func (f *fakeSnapshotStore) MarkVerified(_ context.Context, seq int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verified = append(f.verified, seq)
	return nil
}

func (f *fakeSnapshotStore) GetLatestSequence(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.head[0]
	if len(f.head) > 1 {
		f.head = f.head[1:]
	}
	return h, nil
}

// mintedCore returns a core that has sequenced one mint, plus its outputs.
func mintedCore(t *testing.T) (*core.DeterministicCore, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	world, err := core.NewWorld(core.Genesis{
		AssetAddress:     testutil.AssetAddress,
		AssetName:        "YUSD",
		AssetSymbol:      "YUSD",
		AssetDecimals:    18,
		Minter:           testutil.Minter,
		VaultAddress:     testutil.VaultAddress,
		SiloAddress:      testutil.SiloAddress,
		Admin:            testutil.Admin,
		CooldownDuration: vault.DefaultCooldownDuration,
	})
	require.NoError(t, err)

	persistCh := make(chan core.CoreOutput, 16)
	projCh := make(chan core.CoreOutput, 16)
	c := core.NewDeterministicCore(1, world, persistCh, projCh, nil, nil)

	require.NoError(t, c.ProcessEvent(&event.TokenMint{
		Call: event.Call{
			TxID:      uuid.NewSHA1(uuid.NameSpaceOID, []byte("mint-1")),
			Sender:    testutil.Minter,
			BlockTime: testutil.GenesisTime,
		},
		Token:  testutil.AssetAddress,
		To:     testutil.User1,
		Amount: vmath.Units(100),
	}))
	return c, persistCh, projCh
}

// ============================================================================
// Snapshots
// ============================================================================

func TestSnapshotData_RoundTripVerifies(t *testing.T) {
	c, _, _ := mintedCore(t)
	cs := c.CreateSnapshotState()
	require.EqualValues(t, 1, cs.Sequence)

	data := toSnapshotData(cs)
	require.NoError(t, verifySnapshot(data))

	back := toCoreSnapshot(data)
	require.Equal(t, cs.StateHash, back.StateHash)
	require.Equal(t, cs.StateRoot, back.StateRoot)
}

func TestVerifySnapshot_RejectsTamperedState(t *testing.T) {
	c, _, _ := mintedCore(t)
	data := toSnapshotData(c.CreateSnapshotState())
	data.Vault.CooldownDuration = 60

	require.ErrorContains(t, verifySnapshot(data), "root mismatch")
}

func TestSnapshotter_WaitsForEventLog(t *testing.T) {
	c, _, _ := mintedCore(t)
	store := &fakeSnapshotStore{head: []int64{0, 0, 1}}
	s := newSnapshotter(store, 1, nil, zerolog.Nop())

	seq, err := s.save(context.Background(), c.CreateSnapshotState())
	require.NoError(t, err)
	require.EqualValues(t, 1, seq)
	require.Len(t, store.saved, 1)
	require.Equal(t, []int64{1}, store.verified)
}

func TestSnapshotter_GivesUpWhenLogLags(t *testing.T) {
	c, _, _ := mintedCore(t)
	store := &fakeSnapshotStore{head: []int64{0}}
	s := newSnapshotter(store, 1, nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_, err := s.save(ctx, c.CreateSnapshotState())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, store.saved)
}

func TestSnapshotter_ScheduledSkipsWithoutProgress(t *testing.T) {
	c, _, _ := mintedCore(t)
	store := &fakeSnapshotStore{head: []int64{1}}
	s := newSnapshotter(store, 1, nil, zerolog.Nop())
	capture := func(context.Context) (*core.SnapshotState, error) { return c.CreateSnapshotState(), nil }

	s.scheduled(context.Background(), capture)
	s.scheduled(context.Background(), capture)
	require.Len(t, store.saved, 1)
}

func TestSnapshotter_SkipsGenesis(t *testing.T) {
	store := &fakeSnapshotStore{head: []int64{0}}
	s := newSnapshotter(store, 1, nil, zerolog.Nop())

	seq, err := s.save(context.Background(), &core.SnapshotState{Sequence: 0})
	require.NoError(t, err)
	require.Zero(t, seq)
	require.Empty(t, store.saved)
}

// ============================================================================
// Output bridge
// ============================================================================

func TestBridgeCoreOutputs_FansOutAndCloses(t *testing.T) {
	_, persistCh, projCh := mintedCore(t)
	close(persistCh)
	close(projCh)

	persistOut := make(chan persistence.CoreOutput, 4)
	projOut := make(chan projection.ProjectionOutput, 4)
	publishOut := make(chan ingestion.PublishableEvent, 4)

	bridgeCoreOutputs(persistCh, projCh, persistOut, projOut, publishOut, nil, zerolog.Nop())

	p, ok := <-persistOut
	require.True(t, ok)
	require.EqualValues(t, 1, p.EventRow.Sequence)
	require.Equal(t, "applied", p.EventRow.Status)
	require.NotEmpty(t, p.JournalRows)
	_, ok = <-persistOut
	require.False(t, ok, "persist output should be closed")

	proj := <-projOut
	require.EqualValues(t, 1, proj.Sequence)
	require.NotEmpty(t, proj.Journals)

	pub := <-publishOut
	require.Equal(t, "vault.ledger.events."+event.EventTypeTokenMint.Subject(), pub.Subject())
}
