package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CooldownAssets burns the shares worth assets and parks assets in the silo
// until the cooldown ends. A second cooldown before unstaking adds to the
// pending amount and restarts the clock for the whole amount.
func (v *Vault) CooldownAssets(env Env, assets *uint256.Int, owner common.Address) (shares *uint256.Int, err error) {
	err = v.atomic(func() error {
		if v.cooldownDuration == 0 {
			return ErrExpectedCooldownOn
		}
		if assets.IsZero() {
			return ErrZeroAmount
		}
		limit, err := v.maxWithdraw(owner)
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
		if err := v.startCooldown(env, owner, assets, s); err != nil {
			return err
		}
		shares = s
		return nil
	})
	return shares, err
}

// CooldownShares burns shares and parks what they are worth in the silo.
func (v *Vault) CooldownShares(env Env, shares *uint256.Int, owner common.Address) (assets *uint256.Int, err error) {
	err = v.atomic(func() error {
		if v.cooldownDuration == 0 {
			return ErrExpectedCooldownOn
		}
		if shares.IsZero() {
			return ErrZeroAmount
		}
		if limit := v.shares.BalanceOf(owner); shares.Gt(limit) {
			return fmt.Errorf("%w: %s > %s", ErrExceededMaxRedeem, shares, limit)
		}
		a, err := v.PreviewRedeem(shares)
		if err != nil {
			return err
		}
		if a.IsZero() {
			return ErrZeroAmount
		}
		if err := v.startCooldown(env, owner, a, shares); err != nil {
			return err
		}
		assets = a
		return nil
	})
	return assets, err
}

func (v *Vault) startCooldown(env Env, owner common.Address, assets, shares *uint256.Int) error {
	end := env.BlockTime + v.cooldownDuration

	_, pending := v.GetUserCooldownStatus(owner)
	total, overflow := new(uint256.Int).AddOverflow(pending, assets)
	if overflow {
		return fmt.Errorf("cooldown amount overflow for %s", owner.Hex())
	}
	v.setCooldown(owner, &UserCooldown{CooldownEnd: end, UnderlyingAmount: total})

	if err := v.withdraw(env.Sender, v.silo.Address(), owner, assets, shares); err != nil {
		return err
	}
	v.journal.AddLog(CooldownStarted{Account: owner, Assets: clone(assets), Shares: clone(shares), CooldownEnd: end})
	return nil
}

// Unstake pays the caller's matured cooldown to receiver. If the admin has
// since turned cooldown off, pending amounts are released immediately.
func (v *Vault) Unstake(env Env, receiver common.Address) (assets *uint256.Int, err error) {
	err = v.atomic(func() error {
		c, ok := v.cooldowns[env.Sender]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoCooldown, env.Sender.Hex())
		}
		if env.BlockTime < c.CooldownEnd && v.cooldownDuration != 0 {
			return fmt.Errorf("%w: now=%d end=%d", ErrCooldownNotEnded, env.BlockTime, c.CooldownEnd)
		}
		if receiver == (common.Address{}) {
			return ErrZeroAddress
		}

		amount := clone(c.UnderlyingAmount)
		v.setCooldown(env.Sender, nil)

		if err := v.silo.Withdraw(v.address, receiver, amount); err != nil {
			return err
		}
		v.journal.AddLog(Unstaked{Account: env.Sender, Receiver: receiver, Assets: clone(amount)})
		assets = amount
		return nil
	})
	return assets, err
}
