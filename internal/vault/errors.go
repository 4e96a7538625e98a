package vault

import "errors"

var (
	ErrZeroAddress         = errors.New("vault: zero address")
	ErrInvalidToken        = errors.New("vault: invalid token")
	ErrExpectedCooldownOff = errors.New("vault: operation requires cooldown to be off")
	ErrExpectedCooldownOn  = errors.New("vault: operation requires cooldown to be on")
	ErrCooldownNotEnded    = errors.New("vault: cooldown has not ended")
	ErrNoCooldown          = errors.New("vault: no pending cooldown")
	ErrOnlyStakingVault    = errors.New("silo: caller is not the staking vault")
	ErrInvalidCooldown     = errors.New("vault: cooldown duration exceeds maximum")
	ErrZeroAmount          = errors.New("vault: zero amount")
	ErrZeroShares          = errors.New("vault: deposit converts to zero shares")
	ErrExceededMaxWithdraw = errors.New("vault: withdraw exceeds max")
	ErrExceededMaxRedeem   = errors.New("vault: redeem exceeds max")
	ErrReentrantCall       = errors.New("vault: reentrant call")
)
