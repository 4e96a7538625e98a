package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventType discriminator for call payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDeposit
	EventTypeMint
	EventTypeWithdraw
	EventTypeRedeem
	EventTypeCooldownAssets
	EventTypeCooldownShares
	EventTypeUnstake
	EventTypeSetCooldownDuration
	EventTypeRescueTokens
	EventTypeGrantRole
	EventTypeRevokeRole
	EventTypeRenounceRole
	EventTypeTokenTransfer
	EventTypeTokenTransferFrom
	EventTypeTokenApprove
	EventTypeTokenMint
)

var eventTypeNames = map[EventType][2]string{
	EventTypeDeposit:             {"Deposit", "deposit"},
	EventTypeMint:                {"Mint", "mint"},
	EventTypeWithdraw:            {"Withdraw", "withdraw"},
	EventTypeRedeem:              {"Redeem", "redeem"},
	EventTypeCooldownAssets:      {"CooldownAssets", "cooldown_assets"},
	EventTypeCooldownShares:      {"CooldownShares", "cooldown_shares"},
	EventTypeUnstake:             {"Unstake", "unstake"},
	EventTypeSetCooldownDuration: {"SetCooldownDuration", "set_cooldown_duration"},
	EventTypeRescueTokens:        {"RescueTokens", "rescue_tokens"},
	EventTypeGrantRole:           {"GrantRole", "grant_role"},
	EventTypeRevokeRole:          {"RevokeRole", "revoke_role"},
	EventTypeRenounceRole:        {"RenounceRole", "renounce_role"},
	EventTypeTokenTransfer:       {"TokenTransfer", "token_transfer"},
	EventTypeTokenTransferFrom:   {"TokenTransferFrom", "token_transfer_from"},
	EventTypeTokenApprove:        {"TokenApprove", "token_approve"},
	EventTypeTokenMint:           {"TokenMint", "token_mint"},
}

func (et EventType) String() string {
	if n, ok := eventTypeNames[et]; ok {
		return n[0]
	}
	return "Unknown"
}

// Subject is the snake_case token used in NATS subjects and HTTP paths.
func (et EventType) Subject() string {
	if n, ok := eventTypeNames[et]; ok {
		return n[1]
	}
	return "unknown"
}

// ParseEventType accepts either the CamelCase name or the subject token.
func ParseEventType(s string) EventType {
	for et, n := range eventTypeNames {
		if n[0] == s || n[1] == s {
			return et
		}
	}
	return EventTypeUnknown
}

// AllEventTypes lists every known call type in declaration order.
func AllEventTypes() []EventType {
	out := make([]EventType, 0, len(eventTypeNames))
	for et := EventTypeDeposit; et <= EventTypeTokenMint; et++ {
		out = append(out, et)
	}
	return out
}

// EventEnvelope wraps every sequenced call in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream (the call's tx id)
	IdempotencyKey string

	EventType EventType

	// Caller of the call; also the sequence partition
	Sender common.Address

	// Block time of the call in unix seconds (NOT wall-clock)
	BlockTime uint64

	// Caller nonce
	SourceSequence int64

	// JSON-encoded call
	Payload []byte

	// SHA-256 of state AFTER applying this call
	StateHash [32]byte

	// Previous call's state hash (chain integrity)
	PrevHash [32]byte

	// Reverted calls are logged too: they consumed the caller's nonce
	Status CallStatus

	// Revert reason, empty when applied
	Error string
}

// CallStatus is the outcome of a call that passed sequencing.
type CallStatus int32

const (
	StatusApplied CallStatus = iota
	StatusReverted
)

func (s CallStatus) String() string {
	if s == StatusReverted {
		return "reverted"
	}
	return "applied"
}

// Event is the interface all call payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// Caller returns the account the call acts as
	Caller() common.Address

	// SourceSequence returns the caller's nonce
	SourceSequence() int64

	// Timestamp returns the block time in unix seconds
	Timestamp() uint64

	header() *Call
}

// Call is the header shared by every call.
type Call struct {
	TxID      uuid.UUID
	Sender    common.Address
	Nonce     int64
	BlockTime uint64
}

func (c *Call) IdempotencyKey() string { return c.TxID.String() }
func (c *Call) Caller() common.Address { return c.Sender }
func (c *Call) SourceSequence() int64  { return c.Nonce }
func (c *Call) Timestamp() uint64      { return c.BlockTime }
func (c *Call) header() *Call          { return c }
