package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"AegisVault/internal/access"
)

// SetCooldownDuration switches between the direct exit (0) and the cooldown
// exit (non-zero). Pending cooldowns keep their recorded end.
func (v *Vault) SetCooldownDuration(env Env, duration uint64) error {
	return v.atomic(func() error {
		if err := v.roles.CheckRole(access.AdminRole, env.Sender); err != nil {
			return err
		}
		if duration > MaxCooldownDuration {
			return fmt.Errorf("%w: %d > %d", ErrInvalidCooldown, duration, MaxCooldownDuration)
		}
		prev := v.cooldownDuration
		v.setCooldownDuration(duration)
		v.journal.AddLog(CooldownDurationUpdated{Previous: prev, New: duration})
		return nil
	})
}

// RescueTokens sends tokens held by the vault address to `to`. The underlying
// asset backs shares and can never be rescued.
func (v *Vault) RescueTokens(env Env, token common.Address, amount *uint256.Int, to common.Address) error {
	return v.atomic(func() error {
		if err := v.roles.CheckRole(access.AdminRole, env.Sender); err != nil {
			return err
		}
		if token == v.asset.Address() {
			return ErrInvalidToken
		}
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		tok, err := v.tokens.Token(token)
		if err != nil {
			return err
		}
		if err := tok.Transfer(v.address, to, amount); err != nil {
			return err
		}
		v.journal.AddLog(TokensRescued{Token: token, To: to, Amount: clone(amount)})
		return nil
	})
}

func (v *Vault) GrantRole(env Env, role common.Hash, account common.Address) error {
	return v.atomic(func() error {
		return v.roles.GrantRole(env.Sender, role, account)
	})
}

func (v *Vault) RevokeRole(env Env, role common.Hash, account common.Address) error {
	return v.atomic(func() error {
		return v.roles.RevokeRole(env.Sender, role, account)
	})
}

func (v *Vault) RenounceRole(env Env, role common.Hash, confirmation common.Address) error {
	return v.atomic(func() error {
		return v.roles.RenounceRole(env.Sender, role, confirmation)
	})
}

// TransferShares moves sYUSD between accounts.
func (v *Vault) TransferShares(env Env, to common.Address, amount *uint256.Int) error {
	return v.atomic(func() error {
		return v.shares.Transfer(env.Sender, to, amount)
	})
}

func (v *Vault) ApproveShares(env Env, spender common.Address, amount *uint256.Int) error {
	return v.atomic(func() error {
		return v.shares.Approve(env.Sender, spender, amount)
	})
}

func (v *Vault) TransferSharesFrom(env Env, from, to common.Address, amount *uint256.Int) error {
	return v.atomic(func() error {
		return v.shares.TransferFrom(env.Sender, from, to, amount)
	})
}
