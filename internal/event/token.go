package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenTransfer moves Amount of Token from the sender. Transfers of the
// underlying asset to the vault address are how yield arrives.
type TokenTransfer struct {
	Call
	Token  common.Address
	To     common.Address
	Amount *uint256.Int
}

func (t *TokenTransfer) EventType() EventType {
	return EventTypeTokenTransfer
}

type TokenTransferFrom struct {
	Call
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

func (t *TokenTransferFrom) EventType() EventType {
	return EventTypeTokenTransferFrom
}

type TokenApprove struct {
	Call
	Token   common.Address
	Spender common.Address
	Amount  *uint256.Int
}

func (t *TokenApprove) EventType() EventType {
	return EventTypeTokenApprove
}

// TokenMint is issued by a token's minter, standing in for the mint gateway.
type TokenMint struct {
	Call
	Token  common.Address
	To     common.Address
	Amount *uint256.Int
}

func (t *TokenMint) EventType() EventType {
	return EventTypeTokenMint
}
