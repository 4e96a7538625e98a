package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"AegisVault/internal/core"
	"AegisVault/internal/observability"
	"AegisVault/internal/persistence"
)

// snapshotStore is the part of persistence.SnapshotManager snapshots need.
type snapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *persistence.SnapshotData) (int, error)
	MarkVerified(ctx context.Context, sequence int64) error
	GetLatestSequence(ctx context.Context) (int64, error)
}

// snapshotter saves core state once the event log has caught up with it and
// marks it verified only after the stored form restores to the same root.
type snapshotter struct {
	store     snapshotStore
	metrics   *observability.Metrics
	logger    zerolog.Logger
	minEvents int64

	mu      sync.Mutex
	lastSeq int64
}

func newSnapshotter(store snapshotStore, minEvents int64, metrics *observability.Metrics, logger zerolog.Logger) *snapshotter {
	return &snapshotter{store: store, minEvents: minEvents, metrics: metrics, logger: logger}
}

// scheduled is the cron job body. It skips when fewer than minEvents calls
// were sequenced since the last snapshot.
func (s *snapshotter) scheduled(ctx context.Context, capture func(context.Context) (*core.SnapshotState, error)) {
	snap, err := capture(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("snapshot capture failed")
		return
	}

	s.mu.Lock()
	due := snap.Sequence-s.lastSeq >= s.minEvents
	s.mu.Unlock()
	if !due {
		return
	}

	if _, err := s.save(ctx, snap); err != nil {
		s.logger.Warn().Err(err).Msg("periodic snapshot failed")
	}
}

// save persists snap and returns its sequence. A snapshot of the genesis
// world is skipped: the genesis config rebuilds it.
func (s *snapshotter) save(ctx context.Context, snap *core.SnapshotState) (int64, error) {
	if snap.Sequence <= 0 {
		return 0, nil
	}
	start := time.Now()

	if err := s.waitPersisted(ctx, snap.Sequence); err != nil {
		return 0, err
	}

	data := toSnapshotData(snap)
	size, err := s.store.SaveSnapshot(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}

	if err := verifySnapshot(data); err != nil {
		return 0, fmt.Errorf("verify snapshot %d: %w", snap.Sequence, err)
	}
	if err := s.store.MarkVerified(ctx, snap.Sequence); err != nil {
		return 0, fmt.Errorf("mark snapshot verified: %w", err)
	}

	s.mu.Lock()
	s.lastSeq = snap.Sequence
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	s.logger.Info().Int64("seq", snap.Sequence).Int("bytes", size).Msg("snapshot saved")
	return snap.Sequence, nil
}

// waitPersisted blocks until the event log holds seq. A snapshot ahead of
// the log would hide calls that replay can no longer find.
func (s *snapshotter) waitPersisted(ctx context.Context, seq int64) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		persisted, err := s.store.GetLatestSequence(ctx)
		if err != nil {
			return fmt.Errorf("read event log head: %w", err)
		}
		if persisted >= seq {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("event log at %d, snapshot at %d: %w", persisted, seq, ctx.Err())
		case <-ticker.C:
		}
	}
}

// verifySnapshot round-trips data through its stored encoding and rebuilds
// the world from it. RestoreWorld rejects a root mismatch.
func verifySnapshot(data *persistence.SnapshotData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var decoded persistence.SnapshotData
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	_, err = core.RestoreWorld(toCoreSnapshot(&decoded))
	return err
}

func toSnapshotData(s *core.SnapshotState) *persistence.SnapshotData {
	return &persistence.SnapshotData{
		FormatVersion:   s.FormatVersion,
		Sequence:        s.Sequence,
		StateHash:       append([]byte(nil), s.StateHash[:]...),
		StateRoot:       s.StateRoot,
		LastBlockTime:   s.LastBlockTime,
		Tokens:          s.Tokens,
		Roles:           s.Roles,
		Vault:           s.Vault,
		SequenceState:   s.SequenceState,
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       time.Now().UTC(),
	}
}

func toCoreSnapshot(d *persistence.SnapshotData) *core.SnapshotState {
	s := &core.SnapshotState{
		FormatVersion:   d.FormatVersion,
		Sequence:        d.Sequence,
		StateRoot:       d.StateRoot,
		LastBlockTime:   d.LastBlockTime,
		Tokens:          d.Tokens,
		Roles:           d.Roles,
		Vault:           d.Vault,
		SequenceState:   d.SequenceState,
		IdempotencyKeys: d.IdempotencyKeys,
	}
	copy(s.StateHash[:], d.StateHash)
	return s
}
