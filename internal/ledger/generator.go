package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// journalNamespace seeds deterministic journal and batch ids, so replaying a
// call produces the same rows and the writer's ON CONFLICT skips them.
var journalNamespace = uuid.MustParse("6f1d8a8e-3b0c-4e57-9a0a-5cf1d2b7e0a4")

// JournalGenerator turns the movements of a committed call into a batch.
type JournalGenerator struct {
	registry *Registry
}

func NewJournalGenerator(registry *Registry) *JournalGenerator {
	return &JournalGenerator{registry: registry}
}

// Generate drains pending movements. It returns nil when the call moved no
// tokens (role changes, cooldown duration updates).
func (jg *JournalGenerator) Generate(eventRef string, sequence, timestamp int64) (*Batch, error) {
	moves := jg.registry.drainMovements()
	if len(moves) == 0 {
		return nil, nil
	}

	batchID := uuid.NewSHA1(journalNamespace, []byte(fmt.Sprintf("batch:%s:%d", eventRef, sequence)))
	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, len(moves)),
	}

	for i, m := range moves {
		batch.Journals = append(batch.Journals, Journal{
			JournalID:   uuid.NewSHA1(batchID, []byte(fmt.Sprintf("%d", i))),
			BatchID:     batchID,
			EventRef:    eventRef,
			Sequence:    sequence,
			Token:       m.token,
			From:        m.from,
			To:          m.to,
			Amount:      m.amount,
			JournalType: m.kind,
			Timestamp:   timestamp,
		})
	}

	if err := batch.Validate(); err != nil {
		return nil, fmt.Errorf("generated batch invalid: %w", err)
	}
	return batch, nil
}

// Discard drops movements of a call that did not commit. The journal revert
// already removes them; this guards against callers that skipped it.
func (jg *JournalGenerator) Discard() {
	jg.registry.drainMovements()
}
