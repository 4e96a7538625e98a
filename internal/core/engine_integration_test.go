package core_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"AegisVault/internal/access"
	"AegisVault/internal/core"
	"AegisVault/internal/event"
	"AegisVault/internal/ledger"
	vmath "AegisVault/internal/math"
	"AegisVault/internal/testutil"
	"AegisVault/internal/vault"
)

// --- Test helpers ---

func testGenesis() core.Genesis {
	return core.Genesis{
		AssetAddress:     testutil.AssetAddress,
		AssetName:        "YUSD",
		AssetSymbol:      "YUSD",
		AssetDecimals:    18,
		Minter:           testutil.Minter,
		VaultAddress:     testutil.VaultAddress,
		SiloAddress:      testutil.SiloAddress,
		Admin:            testutil.Admin,
		CooldownDuration: vault.DefaultCooldownDuration,
	}
}

// newTestCore creates a DeterministicCore with buffered channels and no DB checker.
func newTestCore(t *testing.T) (*core.DeterministicCore, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	world, err := core.NewWorld(testGenesis())
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c := core.NewDeterministicCore(0, world, persistChan, projChan, nil, nil)
	return c, persistChan, projChan
}

// calls hands out headers with per-sender nonces and stable tx ids, so two
// runs of the same script produce identical calls.
type calls struct {
	nonces map[common.Address]int64
	n      int
}

func newCalls() *calls {
	return &calls{nonces: make(map[common.Address]int64)}
}

func (s *calls) next(sender common.Address, at uint64) event.Call {
	nonce := s.nonces[sender]
	s.nonces[sender]++
	s.n++
	return event.Call{
		TxID:      uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("tx-%d", s.n))),
		Sender:    sender,
		Nonce:     nonce,
		BlockTime: at,
	}
}

func at(offset uint64) uint64 { return testutil.GenesisTime + offset }

func units(n uint64) *uint256.Int { return vmath.Units(n) }

func (s *calls) mint(to common.Address, amount *uint256.Int, t uint64) *event.TokenMint {
	return &event.TokenMint{Call: s.next(testutil.Minter, t), Token: testutil.AssetAddress, To: to, Amount: amount}
}

func (s *calls) approve(owner common.Address, amount *uint256.Int, t uint64) *event.TokenApprove {
	return &event.TokenApprove{Call: s.next(owner, t), Token: testutil.AssetAddress, Spender: testutil.VaultAddress, Amount: amount}
}

func (s *calls) deposit(owner common.Address, amount *uint256.Int, t uint64) *event.Deposit {
	return &event.Deposit{Call: s.next(owner, t), Assets: amount, Receiver: owner}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// apply processes evts and returns the state hash of each output. Reverted
// calls are expected in scripts; anything else fails the test.
func apply(t *testing.T, c *core.DeterministicCore, ch chan core.CoreOutput, evts []event.Event) [][32]byte {
	t.Helper()
	var hashes [][32]byte
	for i, evt := range evts {
		err := c.ProcessEvent(evt)
		var callErr *core.CallError
		if err != nil && !errors.As(err, &callErr) {
			t.Fatalf("call %d (%s) rejected: %v", i, evt.EventType(), err)
		}
		for _, o := range drainOutputs(ch) {
			hashes = append(hashes, o.Envelope.StateHash)
		}
	}
	return hashes
}

// script is a full lifecycle split in two halves for snapshot tests.
func script() (first, second []event.Event) {
	s := newCalls()
	first = []event.Event{
		s.mint(testutil.User1, units(1000), at(1)),
		s.mint(testutil.User2, units(500), at(1)),
		s.approve(testutil.User1, units(1000), at(2)),
		s.approve(testutil.User2, units(500), at(2)),
		s.deposit(testutil.User1, units(600), at(3)),
		s.deposit(testutil.User2, units(500), at(4)),
		s.mint(testutil.VaultAddress, units(110), at(5)),
	}
	second = []event.Event{
		&event.CooldownShares{Call: s.next(testutil.User1, at(6)), Shares: units(100), Owner: testutil.User1},
		&event.Unstake{Call: s.next(testutil.User1, at(7)), Receiver: testutil.User1},
		&event.TokenTransfer{Call: s.next(testutil.User2, at(8)), Token: testutil.VaultAddress, To: testutil.User1, Amount: units(50)},
		&event.Unstake{Call: s.next(testutil.User1, at(6)+vault.DefaultCooldownDuration), Receiver: testutil.User1},
	}
	return first, second
}

// ============================================================================
// Test: Deposit Flow
// ============================================================================

func TestDeposit_EmitsBalancedBatch(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	s := newCalls()

	for _, evt := range []event.Event{
		s.mint(testutil.User1, units(100), at(1)),
		s.approve(testutil.User1, units(100), at(1)),
		s.deposit(testutil.User1, units(100), at(2)),
	} {
		if err := c.ProcessEvent(evt); err != nil {
			t.Fatalf("ProcessEvent %s failed: %v", evt.EventType(), err)
		}
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(outputs))
	}

	if outputs[1].Batch != nil {
		t.Errorf("approve moved tokens: %+v", outputs[1].Batch)
	}

	batch := outputs[2].Batch
	if batch == nil || len(batch.Journals) != 2 {
		t.Fatalf("expected 2 journals for deposit, got %+v", batch)
	}
	var sawTransfer, sawMint bool
	for _, j := range batch.Journals {
		if j.Amount.Cmp(units(100)) != 0 {
			t.Errorf("journal amount %s, want 100e18", j.Amount.Dec())
		}
		switch {
		case j.JournalType == ledger.JournalTypeTransfer && j.Token == testutil.AssetAddress && j.To == testutil.VaultAddress:
			sawTransfer = true
		case j.JournalType == ledger.JournalTypeMint && j.Token == testutil.VaultAddress && j.To == testutil.User1:
			sawMint = true
		}
	}
	if !sawTransfer || !sawMint {
		t.Errorf("deposit journals incomplete: transfer=%v mint=%v", sawTransfer, sawMint)
	}

	if got := c.World().Vault.BalanceOf(testutil.User1); got.Cmp(units(100)) != 0 {
		t.Errorf("shares = %s, want 100e18", got.Dec())
	}

	var names []string
	for _, l := range outputs[2].Logs {
		names = append(names, l.LogName())
	}
	if len(names) != 3 || names[2] != "Deposit" {
		t.Errorf("deposit logs = %v, want [Transfer Transfer Deposit]", names)
	}
}

// ============================================================================
// Test: Reverted Calls
// ============================================================================

func TestRevertedCall_ConsumesNonceAndIsLogged(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	s := newCalls()

	if err := c.ProcessEvent(s.mint(testutil.User1, units(100), at(1))); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	drainOutputs(persistCh)

	// No approval: the vault reverts.
	err := c.ProcessEvent(s.deposit(testutil.User1, units(100), at(2)))
	var callErr *core.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if !errors.Is(err, ledger.ErrInsufficientAllowance) {
		t.Errorf("expected insufficient allowance, got %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("reverted call must still be persisted, got %d outputs", len(outputs))
	}
	env := outputs[0].Envelope
	if env.Status != event.StatusReverted || env.Error == "" {
		t.Errorf("envelope status=%s error=%q", env.Status, env.Error)
	}
	if outputs[0].Batch != nil || len(outputs[0].Logs) != 0 {
		t.Errorf("reverted call leaked effects: batch=%v logs=%v", outputs[0].Batch, outputs[0].Logs)
	}

	if got := c.World().Tokens; got == nil {
		t.Fatal("world lost")
	}
	asset, _ := c.World().Tokens.Token(testutil.AssetAddress)
	if asset.BalanceOf(testutil.User1).Cmp(units(100)) != 0 {
		t.Errorf("balance changed by reverted call: %s", asset.BalanceOf(testutil.User1).Dec())
	}

	// Nonce 0 is spent; the next call from User1 must carry nonce 1.
	if err := c.ProcessEvent(s.approve(testutil.User1, units(100), at(3))); err != nil {
		t.Fatalf("approve with nonce 1 failed: %v", err)
	}
}

func TestSystemCaller_Reverted(t *testing.T) {
	c, _, _ := newTestCore(t)
	s := newCalls()

	for _, sender := range []common.Address{testutil.VaultAddress, testutil.SiloAddress, {}} {
		evt := &event.TokenTransfer{Call: s.next(sender, at(1)), Token: testutil.AssetAddress, To: testutil.Attacker, Amount: units(1)}
		if err := c.ProcessEvent(evt); !errors.Is(err, core.ErrContractCaller) {
			t.Errorf("sender %s: expected ErrContractCaller, got %v", sender.Hex(), err)
		}
	}
}

// ============================================================================
// Test: Idempotency & Sequencing
// ============================================================================

func TestIdempotency_DuplicateCall_Ignored(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	s := newCalls()

	mint := s.mint(testutil.User1, units(1), at(1))
	if err := c.ProcessEvent(mint); err != nil {
		t.Fatalf("first mint failed: %v", err)
	}
	if n := len(drainOutputs(persistCh)); n != 1 {
		t.Fatalf("expected 1 output on first process, got %d", n)
	}

	if err := c.ProcessEvent(mint); err != nil {
		t.Fatalf("duplicate should not error: %v", err)
	}
	if n := len(drainOutputs(persistCh)); n != 0 {
		t.Errorf("expected 0 outputs for duplicate, got %d", n)
	}
}

func TestSequenceValidation_GapDetected(t *testing.T) {
	c, _, _ := newTestCore(t)

	evt := &event.TokenMint{
		Call:   event.Call{TxID: uuid.New(), Sender: testutil.Minter, Nonce: 1, BlockTime: at(1)},
		Token:  testutil.AssetAddress,
		To:     testutil.User1,
		Amount: units(1),
	}
	if err := c.ProcessEvent(evt); err == nil {
		t.Fatal("expected nonce gap error, got nil")
	}
}

func TestSequenceValidation_NoncesArePerSender(t *testing.T) {
	c, _, _ := newTestCore(t)
	s := newCalls()

	if err := c.ProcessEvent(s.approve(testutil.User1, units(1), at(1))); err != nil {
		t.Fatalf("user1 nonce 0: %v", err)
	}
	if err := c.ProcessEvent(s.approve(testutil.User2, units(1), at(1))); err != nil {
		t.Fatalf("user2 nonce 0: %v", err)
	}
}

func TestBlockTime_RegressionRejectedWithoutConsumingNonce(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	s := newCalls()

	if err := c.ProcessEvent(s.approve(testutil.User1, units(1), at(10))); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	stale := s.approve(testutil.User2, units(1), at(9))
	if err := c.ProcessEvent(stale); !errors.Is(err, core.ErrTimeWentBackwards) {
		t.Fatalf("expected ErrTimeWentBackwards, got %v", err)
	}

	// Same nonce, fresh tx, current time: accepted.
	retry := &event.TokenApprove{
		Call:    event.Call{TxID: uuid.New(), Sender: testutil.User2, Nonce: stale.Nonce, BlockTime: at(10)},
		Token:   testutil.AssetAddress,
		Spender: testutil.VaultAddress,
		Amount:  units(1),
	}
	if err := c.ProcessEvent(retry); err != nil {
		t.Fatalf("retry with the unconsumed nonce failed: %v", err)
	}
	if n := len(drainOutputs(persistCh)); n != 2 {
		t.Errorf("expected 2 outputs, got %d", n)
	}
}

// ============================================================================
// Test: Cooldown Through The Core
// ============================================================================

func TestCooldownLifecycle_ThroughCore(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	first, second := script()

	apply(t, c, persistCh, first)

	// Cooldown 100 shares, try to unstake early.
	if err := c.ProcessEvent(second[0]); err != nil {
		t.Fatalf("cooldown failed: %v", err)
	}
	err := c.ProcessEvent(second[1])
	if !errors.Is(err, vault.ErrCooldownNotEnded) {
		t.Fatalf("expected ErrCooldownNotEnded, got %v", err)
	}

	end, amount := c.World().Vault.GetUserCooldownStatus(testutil.User1)
	if end != at(6)+vault.DefaultCooldownDuration {
		t.Errorf("cooldown end = %d", end)
	}
	if amount.IsZero() {
		t.Fatal("cooldown amount is zero")
	}
	if c.World().Vault.Silo().Balance().Cmp(amount) != 0 {
		t.Errorf("silo holds %s, cooldown records %s", c.World().Vault.Silo().Balance().Dec(), amount.Dec())
	}

	if err := c.ProcessEvent(second[2]); err != nil {
		t.Fatalf("share transfer failed: %v", err)
	}
	if err := c.ProcessEvent(second[3]); err != nil {
		t.Fatalf("unstake after cooldown failed: %v", err)
	}
	if !c.World().Vault.Silo().Balance().IsZero() {
		t.Errorf("silo not drained: %s", c.World().Vault.Silo().Balance().Dec())
	}
	if err := c.World().CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

// ============================================================================
// Test: State Hash Chain
// ============================================================================

func TestStateHashChain_Deterministic(t *testing.T) {
	run := func() ([][32]byte, common.Hash) {
		c, persistCh, _ := newTestCore(t)
		first, second := script()
		hashes := apply(t, c, persistCh, append(first, second...))
		return hashes, c.World().Root()
	}

	hashes1, root1 := run()
	hashes2, root2 := run()

	if len(hashes1) != len(hashes2) {
		t.Fatalf("different number of outputs: %d vs %d", len(hashes1), len(hashes2))
	}
	for i := range hashes1 {
		if hashes1[i] != hashes2[i] {
			t.Errorf("hash %d differs: %x vs %x", i, hashes1[i], hashes2[i])
		}
	}
	if root1 != root2 {
		t.Errorf("roots differ: %s vs %s", root1.Hex(), root2.Hex())
	}
}

func TestEnvelope_ChainsPrevHash(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	first, _ := script()
	apply(t, c, persistCh, first[:2])

	c2, persistCh2, _ := newTestCore(t)
	for _, evt := range first[:2] {
		if err := c2.ProcessEvent(evt); err != nil {
			t.Fatalf("ProcessEvent failed: %v", err)
		}
	}
	outputs := drainOutputs(persistCh2)
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}
	if outputs[1].Envelope.PrevHash != outputs[0].Envelope.StateHash {
		t.Error("envelope 1 does not chain to envelope 0")
	}
	if outputs[1].Envelope.Sequence != 1 || outputs[1].Envelope.SourceSequence != 1 {
		t.Errorf("seq=%d nonce=%d", outputs[1].Envelope.Sequence, outputs[1].Envelope.SourceSequence)
	}
	if outputs[0].Envelope.Sender != testutil.Minter {
		t.Errorf("sender = %s", outputs[0].Envelope.Sender.Hex())
	}
	if c.GetStateHash() != c2.GetStateHash() {
		t.Error("same calls, different chain tip")
	}
}

// ============================================================================
// Test: Snapshot & Restore
// ============================================================================

func TestSnapshotRestore_ResumesChain(t *testing.T) {
	first, second := script()

	full, fullCh, _ := newTestCore(t)
	fullHashes := apply(t, full, fullCh, append(append([]event.Event{}, first...), second...))

	head, headCh, _ := newTestCore(t)
	apply(t, head, headCh, first)

	data, err := json.Marshal(head.CreateSnapshotState())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	tail, tailCh, _ := newTestCore(t)
	if err := tail.RestoreFromSnapshot(&snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if tail.GetSequence() != int64(len(first)) {
		t.Errorf("restored sequence = %d, want %d", tail.GetSequence(), len(first))
	}

	// Replaying an already applied call after restore is a duplicate.
	if err := tail.ProcessEvent(first[len(first)-1]); err != nil {
		t.Fatalf("duplicate after restore: %v", err)
	}
	if n := len(drainOutputs(tailCh)); n != 0 {
		t.Fatalf("duplicate produced %d outputs", n)
	}

	tailHashes := apply(t, tail, tailCh, second)
	want := fullHashes[len(first):]
	if len(tailHashes) != len(want) {
		t.Fatalf("got %d hashes, want %d", len(tailHashes), len(want))
	}
	for i := range want {
		if tailHashes[i] != want[i] {
			t.Errorf("hash %d after restore differs", i)
		}
	}
	if tail.World().Root() != full.World().Root() {
		t.Error("restored world diverged")
	}
}

func TestSnapshotRestore_RejectsTamperedRoot(t *testing.T) {
	c, ch, _ := newTestCore(t)
	first, _ := script()
	apply(t, c, ch, first)

	snap := c.CreateSnapshotState()
	snap.Vault.CooldownDuration = 60

	if _, err := core.RestoreWorld(snap); err == nil {
		t.Fatal("expected root mismatch")
	}
}

func TestSnapshotRestore_MigratesV1(t *testing.T) {
	c, ch, _ := newTestCore(t)
	first, _ := script()
	apply(t, c, ch, first)

	snap := c.CreateSnapshotState()
	snap.FormatVersion = 1
	snap.Roles = nil
	snap.StateRoot = common.Hash{}

	w, err := core.RestoreWorld(snap)
	if err != nil {
		t.Fatalf("restore v1: %v", err)
	}
	for _, role := range []common.Hash{access.DefaultAdminRole, access.AdminRole, access.UpgraderRole} {
		if !w.Roles.HasRole(role, testutil.Admin) {
			t.Errorf("admin missing %s after migration", access.RoleName(role))
		}
	}
	if w.Root() != c.World().Root() {
		t.Error("migrated world differs from the live one")
	}
}

// ============================================================================
// Test: Backpressure
// ============================================================================

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	world, err := core.NewWorld(testGenesis())
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1) // fills after one output
	c := core.NewDeterministicCore(0, world, persistCh, projCh, nil, nil)

	s := newCalls()
	for i := uint64(0); i < 5; i++ {
		if err := c.ProcessEvent(s.mint(testutil.User1, units(1), at(i))); err != nil {
			t.Fatalf("ProcessEvent %d failed: %v", i, err)
		}
	}

	if n := len(drainOutputs(persistCh)); n != 5 {
		t.Errorf("expected 5 persist outputs, got %d", n)
	}
	if n := len(drainOutputs(projCh)); n != 1 {
		t.Errorf("expected 1 projection output, got %d", n)
	}
}
