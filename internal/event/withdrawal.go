package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Withdraw burns Owner's shares for exactly Assets, paid to Receiver.
type Withdraw struct {
	Call
	Assets   *uint256.Int
	Receiver common.Address
	Owner    common.Address
}

func (w *Withdraw) EventType() EventType {
	return EventTypeWithdraw
}

// Redeem burns exactly Shares of Owner, paying the assets to Receiver.
type Redeem struct {
	Call
	Shares   *uint256.Int
	Receiver common.Address
	Owner    common.Address
}

func (r *Redeem) EventType() EventType {
	return EventTypeRedeem
}

// CooldownAssets starts a cooldown for Assets of Owner's position.
type CooldownAssets struct {
	Call
	Assets *uint256.Int
	Owner  common.Address
}

func (c *CooldownAssets) EventType() EventType {
	return EventTypeCooldownAssets
}

// CooldownShares starts a cooldown for Shares of Owner's position.
type CooldownShares struct {
	Call
	Shares *uint256.Int
	Owner  common.Address
}

func (c *CooldownShares) EventType() EventType {
	return EventTypeCooldownShares
}

// Unstake claims the sender's matured cooldown to Receiver.
type Unstake struct {
	Call
	Receiver common.Address
}

func (u *Unstake) EventType() EventType {
	return EventTypeUnstake
}
