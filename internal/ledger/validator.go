package ledger

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	registry *Registry
}

func NewInvariantValidator(registry *Registry) *InvariantValidator {
	return &InvariantValidator{
		registry: registry,
	}
}

// ValidateBatchBalance verifies batch shape
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateSupply verifies total supply equals the sum of balances for every
// token.
func (v *InvariantValidator) ValidateSupply() error {
	drift := v.registry.ComputeSupplyDrift()
	if len(drift) == 0 {
		return nil
	}

	addrs := make([]common.Address, 0, len(drift))
	for a := range drift {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Hex() < addrs[j].Hex() })

	return fmt.Errorf("supply drift for token %s: %s", addrs[0].Hex(), drift[addrs[0]])
}
