package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type SetCooldownDuration struct {
	Call
	Duration uint64 // seconds
}

func (s *SetCooldownDuration) EventType() EventType {
	return EventTypeSetCooldownDuration
}

type RescueTokens struct {
	Call
	Token  common.Address
	Amount *uint256.Int
	To     common.Address
}

func (r *RescueTokens) EventType() EventType {
	return EventTypeRescueTokens
}

type GrantRole struct {
	Call
	Role    common.Hash
	Account common.Address
}

func (g *GrantRole) EventType() EventType {
	return EventTypeGrantRole
}

type RevokeRole struct {
	Call
	Role    common.Hash
	Account common.Address
}

func (r *RevokeRole) EventType() EventType {
	return EventTypeRevokeRole
}

// RenounceRole drops Role from the sender; Account must equal the sender.
type RenounceRole struct {
	Call
	Role    common.Hash
	Account common.Address
}

func (r *RenounceRole) EventType() EventType {
	return EventTypeRenounceRole
}
