// internal/event/deposit.go
package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Deposit pulls Assets from the sender into the vault and mints shares to
// Receiver.
type Deposit struct {
	Call
	Assets   *uint256.Int
	Receiver common.Address
}

func (d *Deposit) EventType() EventType {
	return EventTypeDeposit
}

// Mint mints exactly Shares to Receiver.
type Mint struct {
	Call
	Shares   *uint256.Int
	Receiver common.Address
}

func (m *Mint) EventType() EventType {
	return EventTypeMint
}
