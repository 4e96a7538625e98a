package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"AegisVault/internal/access"
	"AegisVault/internal/ledger"
	vmath "AegisVault/internal/math"
	"AegisVault/internal/state"
)

const (
	ShareName     = "Staked YUSD"
	ShareSymbol   = "sYUSD"
	ShareDecimals = 18

	DefaultCooldownDuration uint64 = 7 * 24 * 60 * 60
	MaxCooldownDuration     uint64 = 90 * 24 * 60 * 60
)

// Env carries the caller and the block time of a call. The vault never reads
// the wall clock.
type Env struct {
	Sender    common.Address
	BlockTime uint64
}

// UserCooldown is the pending exit of one account.
type UserCooldown struct {
	CooldownEnd      uint64
	UnderlyingAmount *uint256.Int
}

// CooldownState is the position of an account in the cooldown lifecycle.
type CooldownState int

const (
	CooldownNone CooldownState = iota
	CooldownCooling
	CooldownReady
)

func (s CooldownState) String() string {
	switch s {
	case CooldownNone:
		return "none"
	case CooldownCooling:
		return "cooling"
	case CooldownReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Config wires a vault into the shared ledger state.
type Config struct {
	Address     common.Address // vault and share token address
	SiloAddress common.Address
	Asset       common.Address
	Admin       common.Address
	Tokens      *ledger.Registry
	Roles       *access.Roles
	Journal     *state.Journal
}

// Vault issues sYUSD shares against deposits of the asset and runs the
// cooldown exit. Each mutating method is atomic: on error every change it made
// is reverted.
type Vault struct {
	address common.Address
	asset   *ledger.Token
	shares  *ledger.Token
	silo    *Silo
	tokens  *ledger.Registry
	roles   *access.Roles
	journal *state.Journal

	cooldownDuration uint64
	cooldowns        map[common.Address]*UserCooldown

	entered bool
}

// New deploys a vault: registers the share token, creates its silo, grants the
// admin roles and sets the default cooldown.
func New(cfg Config) (*Vault, error) {
	if cfg.Admin == (common.Address{}) || cfg.Asset == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if cfg.Address == (common.Address{}) || cfg.SiloAddress == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if cfg.Address == cfg.SiloAddress || cfg.Address == cfg.Asset || cfg.SiloAddress == cfg.Asset {
		return nil, fmt.Errorf("vault, silo and asset addresses must be distinct")
	}

	asset, err := cfg.Tokens.Token(cfg.Asset)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", cfg.Asset.Hex(), err)
	}
	shares, err := cfg.Tokens.Register(cfg.Address, ledger.Metadata{
		Name:     ShareName,
		Symbol:   ShareSymbol,
		Decimals: ShareDecimals,
	})
	if err != nil {
		return nil, fmt.Errorf("register share token: %w", err)
	}

	v := newVault(cfg, asset, shares)
	v.cooldownDuration = DefaultCooldownDuration

	for _, role := range []common.Hash{access.DefaultAdminRole, access.AdminRole, access.UpgraderRole} {
		cfg.Roles.Grant(role, cfg.Admin, cfg.Admin)
	}

	return v, nil
}

func newVault(cfg Config, asset, shares *ledger.Token) *Vault {
	v := &Vault{
		address:   cfg.Address,
		asset:     asset,
		shares:    shares,
		tokens:    cfg.Tokens,
		roles:     cfg.Roles,
		journal:   cfg.Journal,
		cooldowns: make(map[common.Address]*UserCooldown),
	}
	v.silo = newSilo(cfg.SiloAddress, cfg.Address, asset)
	return v
}

func (v *Vault) Address() common.Address { return v.address }
func (v *Vault) Asset() common.Address   { return v.asset.Address() }
func (v *Vault) Silo() *Silo             { return v.silo }
func (v *Vault) Shares() *ledger.Token   { return v.shares }
func (v *Vault) Roles() *access.Roles    { return v.roles }

func (v *Vault) CooldownDuration() uint64 { return v.cooldownDuration }

// TotalAssets is the asset balance of the vault. Assets parked in the silo do
// not back shares.
func (v *Vault) TotalAssets() *uint256.Int {
	return v.asset.BalanceOf(v.address)
}

func (v *Vault) TotalSupply() *uint256.Int {
	return v.shares.TotalSupply()
}

func (v *Vault) BalanceOf(account common.Address) *uint256.Int {
	return v.shares.BalanceOf(account)
}

// GetUserCooldownStatus returns the pending cooldown of account. Both values
// are zero when nothing is pending.
func (v *Vault) GetUserCooldownStatus(account common.Address) (uint64, *uint256.Int) {
	c, ok := v.cooldowns[account]
	if !ok {
		return 0, new(uint256.Int)
	}
	return c.CooldownEnd, new(uint256.Int).Set(c.UnderlyingAmount)
}

// CooldownState reports where account stands at time now.
func (v *Vault) CooldownState(account common.Address, now uint64) CooldownState {
	c, ok := v.cooldowns[account]
	if !ok {
		return CooldownNone
	}
	if now >= c.CooldownEnd || v.cooldownDuration == 0 {
		return CooldownReady
	}
	return CooldownCooling
}

// PendingCooldowns sums every pending cooldown.
func (v *Vault) PendingCooldowns() *uint256.Int {
	sum := new(uint256.Int)
	for _, c := range v.cooldowns {
		sum.Add(sum, c.UnderlyingAmount)
	}
	return sum
}

// CooldownCount is the number of accounts with a pending cooldown.
func (v *Vault) CooldownCount() int {
	return len(v.cooldowns)
}

// atomic runs fn under the reentrancy guard and reverts every change when fn
// fails.
func (v *Vault) atomic(fn func() error) (err error) {
	if v.entered {
		return ErrReentrantCall
	}
	v.entered = true
	snap := v.journal.Snapshot()
	defer func() {
		v.entered = false
		if err != nil {
			v.journal.RevertToSnapshot(snap)
		}
	}()
	return fn()
}

func (v *Vault) setCooldown(account common.Address, c *UserCooldown) {
	prev, had := v.cooldowns[account]
	if c == nil {
		delete(v.cooldowns, account)
	} else {
		v.cooldowns[account] = c
	}
	v.journal.Append(state.ChangeFunc(func() {
		if had {
			v.cooldowns[account] = prev
		} else {
			delete(v.cooldowns, account)
		}
	}))
}

func (v *Vault) setCooldownDuration(d uint64) {
	prev := v.cooldownDuration
	v.cooldownDuration = d
	v.journal.Append(state.ChangeFunc(func() { v.cooldownDuration = prev }))
}

// CheckInvariants verifies that the silo covers every pending cooldown and that
// no empty cooldown record exists.
func (v *Vault) CheckInvariants() error {
	for account, c := range v.cooldowns {
		if c.CooldownEnd == 0 || c.UnderlyingAmount == nil || c.UnderlyingAmount.IsZero() {
			return fmt.Errorf("cooldown of %s is half-empty: end=%d amount=%v", account.Hex(), c.CooldownEnd, c.UnderlyingAmount)
		}
	}
	pending := v.PendingCooldowns()
	held := v.silo.Balance()
	if held.Lt(pending) {
		return fmt.Errorf("silo holds %s but %s is pending", held, pending)
	}
	return nil
}

func (v *Vault) toShares(assets *uint256.Int, mode vmath.RoundingMode) (*uint256.Int, error) {
	return vmath.ConvertToShares(assets, v.shares.TotalSupply(), v.TotalAssets(), mode)
}

func (v *Vault) toAssets(shares *uint256.Int, mode vmath.RoundingMode) (*uint256.Int, error) {
	return vmath.ConvertToAssets(shares, v.shares.TotalSupply(), v.TotalAssets(), mode)
}
