package core

import (
	"errors"
	"testing"
)

type stubLog struct {
	dup   bool
	err   error
	calls int
}

func (s *stubLog) IsDuplicate(string, string) (bool, error) {
	s.calls++
	return s.dup, s.err
}

func TestRecentKeys_EvictsLeastRecent(t *testing.T) {
	r := newRecentKeys(2)
	r.insert("a")
	r.insert("b")
	r.touch("a")
	r.insert("c")

	if r.touch("b") {
		t.Error("b should have been evicted")
	}
	if !r.touch("a") || !r.touch("c") {
		t.Error("a and c should remain")
	}
	if r.size() != 2 {
		t.Errorf("size = %d, want 2", r.size())
	}
}

func TestRecentKeys_SnapshotRestoresOrder(t *testing.T) {
	r := newRecentKeys(3)
	for _, k := range []string{"a", "b", "c"} {
		r.insert(k)
	}
	r.touch("a")

	keys := r.snapshot()
	want := []string{"b", "c", "a"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("snapshot = %v, want %v", keys, want)
		}
	}

	back := newRecentKeys(3)
	back.restore(keys)
	back.insert("d") // evicts b, the oldest
	if back.touch("b") {
		t.Error("restore lost recency order")
	}
}

func TestCallDeduper_FallsBackToLog(t *testing.T) {
	log := &stubLog{dup: true}
	d := newCallDeduper(8, log)

	hit, err := d.check("Deposit", "tx-1")
	if err != nil || hit != hitLog {
		t.Fatalf("check = %q, %v; want log hit", hit, err)
	}

	// Cached now: the log is not asked again.
	hit, _ = d.check("Deposit", "tx-1")
	if hit != hitCache || log.calls != 1 {
		t.Errorf("hit = %q after %d log calls", hit, log.calls)
	}
}

func TestCallDeduper_RefusesWhenLogFails(t *testing.T) {
	d := newCallDeduper(8, &stubLog{err: errors.New("connection refused")})

	if _, err := d.check("Deposit", "tx-1"); !errors.Is(err, ErrDedupUnavailable) {
		t.Fatalf("err = %v, want ErrDedupUnavailable", err)
	}

	// A remembered call never needs the log.
	d.remember("Deposit", "tx-2")
	if hit, err := d.check("Deposit", "tx-2"); err != nil || hit != hitCache {
		t.Errorf("check = %q, %v", hit, err)
	}
}

func TestNonceTracker(t *testing.T) {
	n := newNonceTracker()
	const p = "sender:0x01"

	if err := n.check(p, 1, false); !errors.Is(err, ErrNonceGap) {
		t.Errorf("gap: err = %v", err)
	}
	if err := n.check(p, 0, false); err != nil {
		t.Fatalf("first nonce: %v", err)
	}
	// Checking does not spend.
	if err := n.check(p, 0, false); err != nil {
		t.Errorf("unspent nonce rejected: %v", err)
	}
	n.spend(p, 0)

	if err := n.check(p, 0, false); !errors.Is(err, ErrNonceUsed) {
		t.Errorf("reuse: err = %v", err)
	}
	if err := n.check(p, 0, true); err != nil {
		t.Errorf("duplicate delivery rejected: %v", err)
	}

	back := newNonceTracker()
	back.restore(n.export())
	if err := back.check(p, 1, false); err != nil {
		t.Errorf("restored table: %v", err)
	}
}
