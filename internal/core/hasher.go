package core

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
)

// chainSeed is hashed into the tip before the first call.
const chainSeed = "AegisVault:genesis:v1"

// StateHasher links every sequenced call into a hash chain:
//
//	tip[N] = keccak256(tip[N-1] || uint64be(N) || digest[N])
//
// Replaying the event log must reproduce each stored tip.
type StateHasher struct {
	tip [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: crypto.Keccak256Hash([]byte(chainSeed))}
}

// ComputeHash extends the chain with call sequence and returns the new tip.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(sequence))
	h.tip = crypto.Keccak256Hash(h.tip[:], seq[:], stateDigest)
	return h.tip
}

// GetPrevHash returns the current tip.
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.tip
}

// SetPrevHash resumes the chain from a snapshot's tip.
func (h *StateHasher) SetPrevHash(tip [32]byte) {
	h.tip = tip
}
