package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	vmath "AegisVault/internal/math"
)

var maxUint256 = new(uint256.Int).SetAllOne()

// ConvertToShares is the share amount assets are worth, rounded down.
func (v *Vault) ConvertToShares(assets *uint256.Int) (*uint256.Int, error) {
	return v.toShares(assets, vmath.RoundDown)
}

// ConvertToAssets is the asset amount shares are worth, rounded down.
func (v *Vault) ConvertToAssets(shares *uint256.Int) (*uint256.Int, error) {
	return v.toAssets(shares, vmath.RoundDown)
}

func (v *Vault) MaxDeposit(common.Address) *uint256.Int { return new(uint256.Int).Set(maxUint256) }
func (v *Vault) MaxMint(common.Address) *uint256.Int    { return new(uint256.Int).Set(maxUint256) }

// MaxWithdraw is zero while cooldown is on: exits go through CooldownAssets.
func (v *Vault) MaxWithdraw(owner common.Address) (*uint256.Int, error) {
	if v.cooldownDuration > 0 {
		return new(uint256.Int), nil
	}
	return v.maxWithdraw(owner)
}

// MaxRedeem is zero while cooldown is on: exits go through CooldownShares.
func (v *Vault) MaxRedeem(owner common.Address) *uint256.Int {
	if v.cooldownDuration > 0 {
		return new(uint256.Int)
	}
	return v.shares.BalanceOf(owner)
}

func (v *Vault) maxWithdraw(owner common.Address) (*uint256.Int, error) {
	return v.toAssets(v.shares.BalanceOf(owner), vmath.RoundDown)
}

func (v *Vault) PreviewDeposit(assets *uint256.Int) (*uint256.Int, error) {
	return v.toShares(assets, vmath.RoundDown)
}

func (v *Vault) PreviewMint(shares *uint256.Int) (*uint256.Int, error) {
	return v.toAssets(shares, vmath.RoundUp)
}

func (v *Vault) PreviewWithdraw(assets *uint256.Int) (*uint256.Int, error) {
	return v.toShares(assets, vmath.RoundUp)
}

func (v *Vault) PreviewRedeem(shares *uint256.Int) (*uint256.Int, error) {
	return v.toAssets(shares, vmath.RoundDown)
}

// Deposit pulls assets from the caller and mints shares to receiver. The
// caller must have approved the vault on the asset token.
func (v *Vault) Deposit(env Env, assets *uint256.Int, receiver common.Address) (shares *uint256.Int, err error) {
	err = v.atomic(func() error {
		if assets.IsZero() {
			return ErrZeroAmount
		}
		if receiver == (common.Address{}) {
			return ErrZeroAddress
		}
		s, err := v.PreviewDeposit(assets)
		if err != nil {
			return err
		}
		if s.IsZero() {
			return ErrZeroShares
		}
		if err := v.deposit(env.Sender, receiver, assets, s); err != nil {
			return err
		}
		shares = s
		return nil
	})
	return shares, err
}

// Mint mints exactly shares to receiver, pulling the assets they cost.
func (v *Vault) Mint(env Env, shares *uint256.Int, receiver common.Address) (assets *uint256.Int, err error) {
	err = v.atomic(func() error {
		if shares.IsZero() {
			return ErrZeroAmount
		}
		if receiver == (common.Address{}) {
			return ErrZeroAddress
		}
		a, err := v.PreviewMint(shares)
		if err != nil {
			return err
		}
		if err := v.deposit(env.Sender, receiver, a, shares); err != nil {
			return err
		}
		assets = a
		return nil
	})
	return assets, err
}

// Withdraw burns the shares needed to pay out assets. Only available while
// cooldown is off.
func (v *Vault) Withdraw(env Env, assets *uint256.Int, receiver, owner common.Address) (shares *uint256.Int, err error) {
	err = v.atomic(func() error {
		if v.cooldownDuration > 0 {
			return ErrExpectedCooldownOff
		}
		if assets.IsZero() {
			return ErrZeroAmount
		}
		if receiver == (common.Address{}) {
			return ErrZeroAddress
		}
		limit, err := v.MaxWithdraw(owner)
		if err != nil {
			return err
		}
		if assets.Gt(limit) {
			return fmt.Errorf("%w: %s > %s", ErrExceededMaxWithdraw, assets, limit)
		}
		s, err := v.PreviewWithdraw(assets)
		if err != nil {
			return err
		}
		if err := v.withdraw(env.Sender, receiver, owner, assets, s); err != nil {
			return err
		}
		shares = s
		return nil
	})
	return shares, err
}

// Redeem burns shares and pays out what they are worth. Only available while
// cooldown is off.
func (v *Vault) Redeem(env Env, shares *uint256.Int, receiver, owner common.Address) (assets *uint256.Int, err error) {
	err = v.atomic(func() error {
		if v.cooldownDuration > 0 {
			return ErrExpectedCooldownOff
		}
		if shares.IsZero() {
			return ErrZeroAmount
		}
		if receiver == (common.Address{}) {
			return ErrZeroAddress
		}
		if limit := v.MaxRedeem(owner); shares.Gt(limit) {
			return fmt.Errorf("%w: %s > %s", ErrExceededMaxRedeem, shares, limit)
		}
		a, err := v.PreviewRedeem(shares)
		if err != nil {
			return err
		}
		if a.IsZero() {
			return ErrZeroAmount
		}
		if err := v.withdraw(env.Sender, receiver, owner, a, shares); err != nil {
			return err
		}
		assets = a
		return nil
	})
	return assets, err
}

// deposit moves assets in before minting so a failed pull mints nothing.
func (v *Vault) deposit(caller, receiver common.Address, assets, shares *uint256.Int) error {
	if err := v.asset.TransferFrom(v.address, caller, v.address, assets); err != nil {
		return err
	}
	if err := v.shares.Mint(receiver, shares); err != nil {
		return err
	}
	v.journal.AddLog(Deposited{Sender: caller, Owner: receiver, Assets: clone(assets), Shares: clone(shares)})
	return nil
}

// withdraw burns before paying out. receiver is the silo for cooldown exits.
func (v *Vault) withdraw(caller, receiver, owner common.Address, assets, shares *uint256.Int) error {
	if caller != owner {
		if err := v.shares.SpendAllowance(owner, caller, shares); err != nil {
			return err
		}
	}
	if err := v.shares.Burn(owner, shares); err != nil {
		return err
	}
	v.journal.AddLog(Withdrawn{Sender: caller, Receiver: receiver, Owner: owner, Assets: clone(assets), Shares: clone(shares)})
	return v.asset.Transfer(v.address, receiver, assets)
}

func clone(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Set(x)
}
