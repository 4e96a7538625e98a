package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNonceUsed rejects a new call carrying a nonce its sender already spent.
	ErrNonceUsed = errors.New("nonce already used")
	// ErrNonceGap rejects a call that skips ahead of its sender's next nonce.
	ErrNonceGap = errors.New("nonce gap")
)

// nonceTracker holds the next expected nonce per sender partition. A nonce is
// spent only when its call is sequenced, reverted calls included. Only the
// core goroutine touches it.
type nonceTracker struct {
	next map[string]int64
}

func newNonceTracker() *nonceTracker {
	return &nonceTracker{next: make(map[string]int64)}
}

// check validates nonce for partition without spending it. A duplicate
// delivery of an already sequenced call passes so it can be dropped quietly.
func (n *nonceTracker) check(partition string, nonce int64, duplicate bool) error {
	want := n.next[partition]
	switch {
	case nonce == want:
		return nil
	case nonce < want:
		if duplicate {
			return nil
		}
		return fmt.Errorf("%w: %s expected %d, got %d", ErrNonceUsed, partition, want, nonce)
	default:
		return fmt.Errorf("%w: %s expected %d, got %d", ErrNonceGap, partition, want, nonce)
	}
}

// spend advances partition past nonce.
func (n *nonceTracker) spend(partition string, nonce int64) {
	if nonce >= n.next[partition] {
		n.next[partition] = nonce + 1
	}
}

func (n *nonceTracker) restore(table map[string]int64) {
	for p, next := range table {
		n.next[p] = next
	}
}

// export copies the table for snapshots.
func (n *nonceTracker) export() map[string]int64 {
	out := make(map[string]int64, len(n.next))
	for p, next := range n.next {
		out[p] = next
	}
	return out
}
