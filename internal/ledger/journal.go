package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeTransfer JournalType = iota
	JournalTypeMint
	JournalTypeBurn
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeMint:
		return "mint"
	case JournalTypeBurn:
		return "burn"
	default:
		return "unknown"
	}
}

// Journal is one token movement. Mints credit from the zero address and burns
// debit to it, so every entry is a balanced transfer by construction.
type Journal struct {
	JournalID   uuid.UUID
	BatchID     uuid.UUID
	EventRef    string // Idempotency key of source call
	Sequence    int64  // Global event sequence
	Token       common.Address
	From        common.Address
	To          common.Address
	Amount      *uint256.Int
	JournalType JournalType
	Timestamp   int64 // Block time of the call (unix seconds)
}

// Batch groups every movement produced by one call.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		switch j.JournalType {
		case JournalTypeMint:
			if j.From != (common.Address{}) || j.To == (common.Address{}) {
				return fmt.Errorf("journal %s: mint must move from the zero address", j.JournalID)
			}
		case JournalTypeBurn:
			if j.To != (common.Address{}) || j.From == (common.Address{}) {
				return fmt.Errorf("journal %s: burn must move to the zero address", j.JournalID)
			}
		default:
			if j.From == (common.Address{}) || j.To == (common.Address{}) {
				return fmt.Errorf("journal %s: transfer touches the zero address", j.JournalID)
			}
		}
	}

	return nil
}

// movement is the undecorated form recorded while a call executes. IDs and
// sequence are only known once the call commits.
type movement struct {
	token  common.Address
	from   common.Address
	to     common.Address
	amount *uint256.Int
	kind   JournalType
}
