package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"AegisVault/internal/ledger"
)

// Silo holds assets for accounts in cooldown. It keeps no accounting of its
// own; the vault is the only caller allowed to move what it holds.
type Silo struct {
	address      common.Address
	stakingVault common.Address
	asset        *ledger.Token
}

func newSilo(address, stakingVault common.Address, asset *ledger.Token) *Silo {
	return &Silo{address: address, stakingVault: stakingVault, asset: asset}
}

func (s *Silo) Address() common.Address      { return s.address }
func (s *Silo) StakingVault() common.Address { return s.stakingVault }
func (s *Silo) Asset() common.Address        { return s.asset.Address() }

// Balance is the amount of the asset currently held.
func (s *Silo) Balance() *uint256.Int {
	return s.asset.BalanceOf(s.address)
}

// Withdraw sends amount of the asset to `to`. Only the owning vault may call
// it, whatever roles the caller holds elsewhere.
func (s *Silo) Withdraw(caller, to common.Address, amount *uint256.Int) error {
	if caller != s.stakingVault {
		return fmt.Errorf("%w: %s", ErrOnlyStakingVault, caller.Hex())
	}
	return s.asset.Transfer(s.address, to, amount)
}
