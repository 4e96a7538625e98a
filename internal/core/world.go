package core

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AegisVault/internal/access"
	"AegisVault/internal/ledger"
	"AegisVault/internal/state"
	"AegisVault/internal/vault"
)

// Genesis describes the deployment the core starts from on a cold start.
type Genesis struct {
	AssetAddress  common.Address
	AssetName     string
	AssetSymbol   string
	AssetDecimals uint8
	Minter        common.Address

	VaultAddress     common.Address
	SiloAddress      common.Address
	Admin            common.Address
	CooldownDuration uint64
}

// World is every piece of ledger state the core mutates. All components share
// one revert journal.
type World struct {
	Journal *state.Journal
	Tokens  *ledger.Registry
	Roles   *access.Roles
	Vault   *vault.Vault

	admin common.Address
}

// NewWorld deploys the asset token and the vault described by g.
func NewWorld(g Genesis) (*World, error) {
	j := state.NewJournal()
	tokens := ledger.NewRegistry(j)
	roles := access.NewRoles(j)

	if _, err := tokens.Register(g.AssetAddress, ledger.Metadata{
		Name:     g.AssetName,
		Symbol:   g.AssetSymbol,
		Decimals: g.AssetDecimals,
		Minter:   g.Minter,
	}); err != nil {
		return nil, fmt.Errorf("register asset: %w", err)
	}

	v, err := vault.New(vault.Config{
		Address:     g.VaultAddress,
		SiloAddress: g.SiloAddress,
		Asset:       g.AssetAddress,
		Admin:       g.Admin,
		Tokens:      tokens,
		Roles:       roles,
		Journal:     j,
	})
	if err != nil {
		return nil, fmt.Errorf("deploy vault: %w", err)
	}

	if g.CooldownDuration != v.CooldownDuration() {
		if err := v.SetCooldownDuration(vault.Env{Sender: g.Admin}, g.CooldownDuration); err != nil {
			return nil, fmt.Errorf("genesis cooldown: %w", err)
		}
	}

	// Genesis is not a call: no logs, no journal rows.
	j.Commit()
	ledger.NewJournalGenerator(tokens).Discard()

	return &World{Journal: j, Tokens: tokens, Roles: roles, Vault: v, admin: g.Admin}, nil
}

// Admin is the account the vault was deployed with.
func (w *World) Admin() common.Address {
	return w.admin
}

// Digest is the canonical encoding of the whole world.
func (w *World) Digest() []byte {
	var buf bytes.Buffer
	buf.Write(w.Tokens.CanonicalBytes())
	for _, a := range w.Roles.Export() {
		buf.Write(a.Role.Bytes())
		buf.Write(a.Account.Bytes())
	}
	buf.Write(w.Vault.CanonicalBytes())
	return buf.Bytes()
}

// Root is the keccak256 of Digest. Snapshots carry it so a restore can prove
// it rebuilt the same world.
func (w *World) Root() common.Hash {
	return crypto.Keccak256Hash(w.Digest())
}

// CheckInvariants verifies supply conservation for every token and the vault's
// own accounting.
func (w *World) CheckInvariants() error {
	if err := ledger.NewInvariantValidator(w.Tokens).ValidateSupply(); err != nil {
		return err
	}
	return w.Vault.CheckInvariants()
}
