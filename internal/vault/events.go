package vault

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Deposited is logged by Deposit and Mint.
type Deposited struct {
	Sender common.Address
	Owner  common.Address
	Assets *uint256.Int
	Shares *uint256.Int
}

func (Deposited) LogName() string { return "Deposit" }

// Withdrawn is logged whenever shares are burned for assets, including the
// vault-to-silo leg of a cooldown (Receiver is then the silo).
type Withdrawn struct {
	Sender   common.Address
	Receiver common.Address
	Owner    common.Address
	Assets   *uint256.Int
	Shares   *uint256.Int
}

func (Withdrawn) LogName() string { return "Withdraw" }

type CooldownStarted struct {
	Account     common.Address
	Assets      *uint256.Int
	Shares      *uint256.Int
	CooldownEnd uint64
}

func (CooldownStarted) LogName() string { return "CooldownStarted" }

type Unstaked struct {
	Account  common.Address
	Receiver common.Address
	Assets   *uint256.Int
}

func (Unstaked) LogName() string { return "Unstaked" }

type CooldownDurationUpdated struct {
	Previous uint64
	New      uint64
}

func (CooldownDurationUpdated) LogName() string { return "CooldownDurationUpdated" }

type TokensRescued struct {
	Token  common.Address
	To     common.Address
	Amount *uint256.Int
}

func (TokensRescued) LogName() string { return "TokensRescued" }
