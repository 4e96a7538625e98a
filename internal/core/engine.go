package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"AegisVault/internal/access"
	"AegisVault/internal/event"
	"AegisVault/internal/ledger"
	"AegisVault/internal/observability"
	"AegisVault/internal/state"
	"AegisVault/internal/vault"
)

// ErrTimeWentBackwards rejects a call whose block time is older than the last
// sequenced call.
var ErrTimeWentBackwards = errors.New("block time went backwards")

// ErrContractCaller reverts calls that claim to come from the zero address, the
// vault or the silo. Those accounts only act through vault logic.
var ErrContractCaller = errors.New("caller is a system account")

// invariantCheckInterval is how often the full-scan invariants run.
const invariantCheckInterval = 1000

// dedupCacheSize bounds the recent tx ids kept in memory and in snapshots.
const dedupCacheSize = 1_000_000

// CallError reports a call that was sequenced and logged but reverted by the
// vault. State is unchanged and the caller's nonce is consumed.
type CallError struct {
	Sequence int64
	Call     event.EventType
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s reverted at seq %d: %v", e.Call, e.Sequence, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// DeterministicCore is the single-threaded call processor
type DeterministicCore struct {
	sequence          int64
	lastBlockTime     uint64
	hasher            *StateHasher
	world             *World
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	dedup             *callDeduper
	nonces            *nonceTracker
	metrics           *observability.Metrics
	logger            zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need for one sequenced call.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch // nil when no tokens moved
	Logs       []state.Log
	StateDelta []byte
}

func NewDeterministicCore(
	startSequence int64,
	world *World,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		world:             world,
		journalGen:        ledger.NewJournalGenerator(world.Tokens),
		validator:         ledger.NewInvariantValidator(world.Tokens),
		dedup:             newCallDeduper(dedupCacheSize, dbChecker),
		nonces:            newNonceTracker(),
		metrics:           metrics,
		logger:            zerolog.Nop(),
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// SetLogger attaches a logger. The core logs only reverts and rejects.
func (c *DeterministicCore) SetLogger(l zerolog.Logger) {
	c.logger = l
}

// ProcessEvent is the main processing pipeline. It returns nil for applied
// calls and silently skipped duplicates, a *CallError for sequenced calls the
// vault reverted, and any other error for calls rejected before sequencing.
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	callName := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Dedup against recent tx ids, then the event log
	hit, err := c.dedup.check(callName, idempotencyKey)
	if err != nil {
		c.reject(callName, "dedup_unavailable")
		return err
	}
	isDuplicate := hit != hitNone

	// Step 2: Block time must not regress. Checked before sequencing so a
	// rejected call does not burn the caller's nonce.
	if !isDuplicate && evt.Timestamp() < c.lastBlockTime {
		c.reject(callName, "time_regression")
		return fmt.Errorf("%w: got %d, last %d", ErrTimeWentBackwards, evt.Timestamp(), c.lastBlockTime)
	}

	// Step 3: Per-sender nonce
	partition := senderPartition(evt.Caller())
	if err := c.nonces.check(partition, evt.SourceSequence(), isDuplicate); err != nil {
		c.reject(callName, "nonce")
		return err
	}

	if isDuplicate {
		c.reject(callName, string(hit))
		return nil
	}

	c.nonces.spend(partition, evt.SourceSequence())
	c.lastBlockTime = evt.Timestamp()

	// Step 4: Dispatch inside a journal snapshot
	snap := c.world.Journal.Snapshot()
	callErr := c.dispatchEvent(evt)

	var (
		logs  []state.Log
		batch *ledger.Batch
	)
	if callErr != nil {
		c.world.Journal.RevertToSnapshot(snap)
		c.world.Journal.Commit()
		c.journalGen.Discard()
	} else {
		logs = c.world.Journal.Commit()

		var err error
		batch, err = c.journalGen.Generate(idempotencyKey, c.sequence, int64(evt.Timestamp()))
		if err != nil {
			panic(fmt.Sprintf("FATAL: journal generation: %v", err))
		}
		if batch != nil {
			if err := c.validator.ValidateBatchBalance(batch); err != nil {
				panic(fmt.Sprintf("FATAL: malformed batch: %v", err))
			}
		}

		// Step 5: Post-checks
		if err := c.postCheckInvariants(); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
		}
	}

	// Step 6: State digest and hash chain
	hashStart := time.Now()
	stateDigest := c.computeStateDigest(batch, logs, callErr)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := event.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot encode sequenced call: %v", err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Sender:         evt.Caller(),
		BlockTime:      evt.Timestamp(),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	if callErr != nil {
		envelope.Status = event.StatusReverted
		envelope.Error = callErr.Error()
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		Logs:       logs,
		StateDelta: stateDigest,
	}
	seq := c.sequence
	c.sequence++

	// Step 7: Emit. Persistence blocks (no call is lost); projections drop
	// when full and catch up from the event log.
	c.persistChan <- output
	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.Inc()
		}
	}

	// Step 8: Mark as processed
	c.dedup.remember(callName, idempotencyKey)

	c.recordMetrics(callName, batch, callErr, start)

	if callErr != nil {
		c.logger.Warn().
			Int64("seq", seq).
			Str("call", callName).
			Str("sender", evt.Caller().Hex()).
			Err(callErr).
			Msg("call reverted")
		return &CallError{Sequence: seq, Call: evt.EventType(), Err: callErr}
	}
	return nil
}

func (c *DeterministicCore) reject(callName, reason string) {
	if c.metrics != nil {
		c.metrics.CoreCallsRejected.WithLabelValues(callName, reason).Inc()
	}
}

func (c *DeterministicCore) recordMetrics(callName string, batch *ledger.Batch, callErr error, start time.Time) {
	if c.metrics == nil {
		return
	}
	if callErr != nil {
		c.metrics.CoreCallsReverted.WithLabelValues(callName).Inc()
	} else {
		c.metrics.CoreCallsApplied.WithLabelValues(callName).Inc()
	}
	if batch != nil {
		for _, j := range batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	c.metrics.CoreCallDuration.WithLabelValues(callName).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))
	c.metrics.CoreBlockTime.Set(float64(c.lastBlockTime))

	v := c.world.Vault
	observability.SetAmount(c.metrics.VaultTotalAssets, v.TotalAssets())
	observability.SetAmount(c.metrics.VaultTotalSupply, v.TotalSupply())
	observability.SetAmount(c.metrics.VaultSiloBalance, v.Silo().Balance())
	observability.SetAmount(c.metrics.VaultPendingCooldown, v.PendingCooldowns())
	c.metrics.VaultCooldownCount.Set(float64(v.CooldownCount()))
	c.metrics.VaultCooldownSeconds.Set(float64(v.CooldownDuration()))
}

// senderPartition keys nonce validation by caller.
func senderPartition(sender common.Address) string {
	return "sender:" + sender.Hex()
}

// computeStateDigest creates canonical bytes for the state hash: the balances
// the call touched, the cooldowns of those accounts, the vault parameters and
// the names of emitted logs.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, logs []state.Log, callErr error) []byte {
	if callErr != nil {
		return []byte{byte(event.StatusReverted)}
	}

	type slot struct {
		token, account common.Address
	}
	touched := make(map[slot]bool)
	accounts := make(map[common.Address]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			for _, a := range []common.Address{j.From, j.To} {
				if a == (common.Address{}) {
					continue
				}
				touched[slot{j.Token, a}] = true
				accounts[a] = true
			}
		}
	}

	slots := make([]slot, 0, len(touched))
	for s := range touched {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool {
		if d := bytes.Compare(slots[i].token[:], slots[j].token[:]); d != 0 {
			return d < 0
		}
		return bytes.Compare(slots[i].account[:], slots[j].account[:]) < 0
	})

	digest := make([]byte, 0, len(slots)*72+64)
	digest = append(digest, byte(event.StatusApplied))

	for _, s := range slots {
		tok, err := c.world.Tokens.Token(s.token)
		if err != nil {
			panic(fmt.Sprintf("FATAL: journal references unknown token %s", s.token.Hex()))
		}
		bal := tok.BalanceOf(s.account).Bytes32()
		digest = append(digest, s.token[:]...)
		digest = append(digest, s.account[:]...)
		digest = append(digest, bal[:]...)
	}

	owners := make([]common.Address, 0, len(accounts))
	for a := range accounts {
		owners = append(owners, a)
	}
	sort.Slice(owners, func(i, j int) bool { return bytes.Compare(owners[i][:], owners[j][:]) < 0 })
	for _, a := range owners {
		end, amount := c.world.Vault.GetUserCooldownStatus(a)
		amt := amount.Bytes32()
		digest = append(digest, a[:]...)
		digest = binary.LittleEndian.AppendUint64(digest, end)
		digest = append(digest, amt[:]...)
	}

	supply := c.world.Vault.TotalSupply().Bytes32()
	assets := c.world.Vault.TotalAssets().Bytes32()
	digest = append(digest, supply[:]...)
	digest = append(digest, assets[:]...)
	digest = binary.LittleEndian.AppendUint64(digest, c.world.Vault.CooldownDuration())

	for _, l := range logs {
		name := l.LogName()
		digest = append(digest, byte(len(name)))
		digest = append(digest, name...)
	}

	return digest
}

// postCheckInvariants validates invariants after a committed call. The
// full scans run periodically.
func (c *DeterministicCore) postCheckInvariants() error {
	if c.sequence > 0 && c.sequence%invariantCheckInterval == 0 {
		if err := c.world.CheckInvariants(); err != nil {
			return fmt.Errorf("post-check at seq %d: %w", c.sequence, err)
		}
	}
	return nil
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) error {
	env := vault.Env{Sender: evt.Caller(), BlockTime: evt.Timestamp()}
	v := c.world.Vault

	switch env.Sender {
	case common.Address{}, v.Address(), v.Silo().Address():
		return fmt.Errorf("%w: %s", ErrContractCaller, env.Sender.Hex())
	}

	switch e := evt.(type) {
	case *event.Deposit:
		_, err := v.Deposit(env, e.Assets, e.Receiver)
		return err
	case *event.Mint:
		_, err := v.Mint(env, e.Shares, e.Receiver)
		return err
	case *event.Withdraw:
		_, err := v.Withdraw(env, e.Assets, e.Receiver, e.Owner)
		return err
	case *event.Redeem:
		_, err := v.Redeem(env, e.Shares, e.Receiver, e.Owner)
		return err
	case *event.CooldownAssets:
		_, err := v.CooldownAssets(env, e.Assets, e.Owner)
		return err
	case *event.CooldownShares:
		_, err := v.CooldownShares(env, e.Shares, e.Owner)
		return err
	case *event.Unstake:
		_, err := v.Unstake(env, e.Receiver)
		return err
	case *event.SetCooldownDuration:
		return v.SetCooldownDuration(env, e.Duration)
	case *event.RescueTokens:
		return v.RescueTokens(env, e.Token, e.Amount, e.To)
	case *event.GrantRole:
		return v.GrantRole(env, e.Role, e.Account)
	case *event.RevokeRole:
		return v.RevokeRole(env, e.Role, e.Account)
	case *event.RenounceRole:
		return v.RenounceRole(env, e.Role, e.Account)
	case *event.TokenTransfer:
		if e.Token == v.Address() {
			return v.TransferShares(env, e.To, e.Amount)
		}
		return c.withToken(e.Token, func(t *ledger.Token) error {
			return t.Transfer(env.Sender, e.To, e.Amount)
		})
	case *event.TokenTransferFrom:
		if e.Token == v.Address() {
			return v.TransferSharesFrom(env, e.From, e.To, e.Amount)
		}
		return c.withToken(e.Token, func(t *ledger.Token) error {
			return t.TransferFrom(env.Sender, e.From, e.To, e.Amount)
		})
	case *event.TokenApprove:
		if e.Token == v.Address() {
			return v.ApproveShares(env, e.Spender, e.Amount)
		}
		return c.withToken(e.Token, func(t *ledger.Token) error {
			return t.Approve(env.Sender, e.Spender, e.Amount)
		})
	case *event.TokenMint:
		return c.withToken(e.Token, func(t *ledger.Token) error {
			return t.MintAs(env.Sender, e.To, e.Amount)
		})
	default:
		return fmt.Errorf("unknown event type: %T", evt)
	}
}

// withToken runs fn against a registered token. Token methods are not
// atomic on their own; ProcessEvent's snapshot covers them.
func (c *DeterministicCore) withToken(addr common.Address, fn func(*ledger.Token) error) error {
	tok, err := c.world.Tokens.Token(addr)
	if err != nil {
		return err
	}
	return fn(tok)
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotFormatVersion is written into every snapshot. Version 1 predates
// the role table; restoring it re-runs the role initializer.
const SnapshotFormatVersion = 2

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	FormatVersion   int
	Sequence        int64
	StateHash       [32]byte
	StateRoot       common.Hash
	LastBlockTime   uint64
	Tokens          []ledger.TokenState
	Roles           []access.Assignment
	Vault           vault.State
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot replaces the core's world with the one in snap and
// resumes the hash chain, nonces and dedup cache.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	world, err := RestoreWorld(snap)
	if err != nil {
		return err
	}

	c.world = world
	c.journalGen = ledger.NewJournalGenerator(world.Tokens)
	c.validator = ledger.NewInvariantValidator(world.Tokens)

	// Next sequence to assign
	c.sequence = snap.Sequence + 1
	c.lastBlockTime = snap.LastBlockTime
	c.hasher.SetPrevHash(snap.StateHash)

	c.nonces.restore(snap.SequenceState)
	c.dedup.recent.restore(snap.IdempotencyKeys)
	return nil
}

// RestoreWorld rebuilds a world from a snapshot and checks it against the
// recorded root.
func RestoreWorld(snap *SnapshotState) (*World, error) {
	if snap.FormatVersion < 1 || snap.FormatVersion > SnapshotFormatVersion {
		return nil, fmt.Errorf("unsupported snapshot format %d", snap.FormatVersion)
	}

	j := state.NewJournal()
	tokens := ledger.NewRegistry(j)
	if err := tokens.Import(snap.Tokens); err != nil {
		return nil, fmt.Errorf("restore tokens: %w", err)
	}
	roles := access.NewRoles(j)
	roles.Import(snap.Roles)

	v, err := vault.Restore(vault.Config{Tokens: tokens, Roles: roles, Journal: j}, snap.Vault)
	if err != nil {
		return nil, err
	}
	if snap.FormatVersion == 1 {
		if err := v.InitializeV2(snap.Vault.Admin); err != nil {
			return nil, fmt.Errorf("migrate v1 snapshot: %w", err)
		}
	}
	j.Commit()

	w := &World{Journal: j, Tokens: tokens, Roles: roles, Vault: v, admin: snap.Vault.Admin}
	if snap.FormatVersion == SnapshotFormatVersion && snap.StateRoot != (common.Hash{}) && w.Root() != snap.StateRoot {
		return nil, fmt.Errorf("snapshot root mismatch: restored %s, recorded %s", w.Root().Hex(), snap.StateRoot.Hex())
	}
	return w, nil
}

// SetDBChecker enables the Postgres tier of duplicate detection. Replay runs
// without it: every replayed call is already in the event log.
func (c *DeterministicCore) SetDBChecker(db DBIdempotencyChecker) {
	c.dedup.db = db
}

// GetSequence returns the next sequence number to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// World exposes the ledger state for read-only use from the core goroutine.
func (c *DeterministicCore) World() *World {
	return c.world
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		FormatVersion:   SnapshotFormatVersion,
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		StateRoot:       c.world.Root(),
		LastBlockTime:   c.lastBlockTime,
		Tokens:          c.world.Tokens.Export(),
		Roles:           c.world.Roles.Export(),
		Vault:           c.world.Vault.Export(c.world.Admin()),
		SequenceState:   c.nonces.export(),
		IdempotencyKeys: c.dedup.recent.snapshot(),
	}
}
