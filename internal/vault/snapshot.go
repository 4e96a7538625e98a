package vault

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"AegisVault/internal/access"
)

// CooldownRecord is the serialisable form of a pending cooldown.
type CooldownRecord struct {
	Account          common.Address `json:"account"`
	CooldownEnd      uint64         `json:"cooldown_end"`
	UnderlyingAmount string         `json:"underlying_amount"`
}

// State is the serialisable form of the vault. Token balances live in the
// ledger snapshot.
type State struct {
	Address          common.Address   `json:"address"`
	SiloAddress      common.Address   `json:"silo_address"`
	Asset            common.Address   `json:"asset"`
	Admin            common.Address   `json:"admin"`
	CooldownDuration uint64           `json:"cooldown_duration"`
	Cooldowns        []CooldownRecord `json:"cooldowns"`
}

// Export captures the vault with cooldowns sorted by account.
func (v *Vault) Export(admin common.Address) State {
	st := State{
		Address:          v.address,
		SiloAddress:      v.silo.Address(),
		Asset:            v.asset.Address(),
		Admin:            admin,
		CooldownDuration: v.cooldownDuration,
		Cooldowns:        make([]CooldownRecord, 0, len(v.cooldowns)),
	}
	for _, account := range v.cooldownAccounts() {
		c := v.cooldowns[account]
		st.Cooldowns = append(st.Cooldowns, CooldownRecord{
			Account:          account,
			CooldownEnd:      c.CooldownEnd,
			UnderlyingAmount: c.UnderlyingAmount.Dec(),
		})
	}
	return st
}

// Restore rebuilds a vault from st. The share token and the asset must already
// be present in cfg.Tokens.
func Restore(cfg Config, st State) (*Vault, error) {
	asset, err := cfg.Tokens.Token(st.Asset)
	if err != nil {
		return nil, fmt.Errorf("restore asset: %w", err)
	}
	shares, err := cfg.Tokens.Token(st.Address)
	if err != nil {
		return nil, fmt.Errorf("restore share token: %w", err)
	}
	if st.CooldownDuration > MaxCooldownDuration {
		return nil, fmt.Errorf("restore: %w: %d", ErrInvalidCooldown, st.CooldownDuration)
	}

	cfg.Address = st.Address
	cfg.SiloAddress = st.SiloAddress
	cfg.Asset = st.Asset
	v := newVault(cfg, asset, shares)
	v.cooldownDuration = st.CooldownDuration

	for _, rec := range st.Cooldowns {
		amount, err := uint256.FromDecimal(rec.UnderlyingAmount)
		if err != nil {
			return nil, fmt.Errorf("restore cooldown of %s: %w", rec.Account.Hex(), err)
		}
		v.cooldowns[rec.Account] = &UserCooldown{CooldownEnd: rec.CooldownEnd, UnderlyingAmount: amount}
	}
	return v, nil
}

// InitializeV2 grants the admin roles to admin. Snapshots written before the
// role table existed carry only the admin address; restoring them runs this
// once.
func (v *Vault) InitializeV2(admin common.Address) error {
	if admin == (common.Address{}) {
		return ErrZeroAddress
	}
	for _, role := range []common.Hash{access.DefaultAdminRole, access.AdminRole, access.UpgraderRole} {
		v.roles.Grant(role, admin, admin)
	}
	return nil
}

// CanonicalBytes serialises the vault deterministically for state hashing.
func (v *Vault) CanonicalBytes() []byte {
	var buf bytes.Buffer
	buf.Write(v.address.Bytes())
	buf.Write(v.silo.Address().Bytes())
	buf.Write(v.asset.Address().Bytes())

	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v.cooldownDuration)
	buf.Write(b[:])

	accounts := v.cooldownAccounts()
	binary.LittleEndian.PutUint64(b[:], uint64(len(accounts)))
	buf.Write(b[:])
	for _, account := range accounts {
		c := v.cooldowns[account]
		buf.Write(account.Bytes())
		binary.LittleEndian.PutUint64(b[:], c.CooldownEnd)
		buf.Write(b[:])
		amt := c.UnderlyingAmount.Bytes32()
		buf.Write(amt[:])
	}
	return buf.Bytes()
}

func (v *Vault) cooldownAccounts() []common.Address {
	out := make([]common.Address, 0, len(v.cooldowns))
	for a := range v.cooldowns {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
