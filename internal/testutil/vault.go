package testutil

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"AegisVault/internal/access"
	"AegisVault/internal/ledger"
	"AegisVault/internal/state"
	"AegisVault/internal/vault"
)

// Well-known addresses used across tests.
var (
	AssetAddress = common.HexToAddress("0x000000000000000000000000000000000000a55e")
	VaultAddress = common.HexToAddress("0x000000000000000000000000000000000000fa17")
	SiloAddress  = common.HexToAddress("0x0000000000000000000000000000000000005170")
	Admin        = common.HexToAddress("0x000000000000000000000000000000000000ad31")
	Minter       = common.HexToAddress("0x000000000000000000000000000000000000a1a7")
	User1        = common.HexToAddress("0x0000000000000000000000000000000000000001")
	User2        = common.HexToAddress("0x0000000000000000000000000000000000000002")
	Attacker     = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

// GenesisTime is the block time tests start from.
const GenesisTime uint64 = 1_700_000_000

// VaultFixture is a deployed vault on a fresh ledger.
type VaultFixture struct {
	Journal *state.Journal
	Tokens  *ledger.Registry
	Roles   *access.Roles
	Asset   *ledger.Token
	Vault   *vault.Vault
}

// NewVaultFixture registers the asset token, deploys the vault and commits the
// genesis journal.
func NewVaultFixture(t testing.TB) *VaultFixture {
	t.Helper()

	j := state.NewJournal()
	tokens := ledger.NewRegistry(j)
	roles := access.NewRoles(j)

	asset, err := tokens.Register(AssetAddress, ledger.Metadata{Name: "YUSD", Symbol: "YUSD", Decimals: 18, Minter: Minter})
	if err != nil {
		t.Fatalf("register asset: %v", err)
	}
	v, err := vault.New(vault.Config{
		Address:     VaultAddress,
		SiloAddress: SiloAddress,
		Asset:       AssetAddress,
		Admin:       Admin,
		Tokens:      tokens,
		Roles:       roles,
		Journal:     j,
	})
	if err != nil {
		t.Fatalf("deploy vault: %v", err)
	}
	j.Commit()
	ledger.NewJournalGenerator(tokens).Discard()

	return &VaultFixture{Journal: j, Tokens: tokens, Roles: roles, Asset: asset, Vault: v}
}

// Env builds a call environment.
func Env(sender common.Address, at uint64) vault.Env {
	return vault.Env{Sender: sender, BlockTime: at}
}

// Fund mints amount of the asset to account and approves the vault for it.
func (f *VaultFixture) Fund(t testing.TB, account common.Address, amount *uint256.Int) {
	t.Helper()
	if err := f.Asset.MintAs(Minter, account, amount); err != nil {
		t.Fatalf("fund %s: %v", account.Hex(), err)
	}
	allowance := new(uint256.Int).Add(f.Asset.Allowance(account, VaultAddress), amount)
	if err := f.Asset.Approve(account, VaultAddress, allowance); err != nil {
		t.Fatalf("approve %s: %v", account.Hex(), err)
	}
	f.Journal.Commit()
}

// FundAndDeposit funds account and deposits amount for it.
func (f *VaultFixture) FundAndDeposit(t testing.TB, account common.Address, amount *uint256.Int, at uint64) *uint256.Int {
	t.Helper()
	f.Fund(t, account, amount)
	shares, err := f.Vault.Deposit(Env(account, at), amount, account)
	if err != nil {
		t.Fatalf("deposit for %s: %v", account.Hex(), err)
	}
	f.Journal.Commit()
	return shares
}

// SetCooldown sets the cooldown duration as admin.
func (f *VaultFixture) SetCooldown(t testing.TB, duration uint64, at uint64) {
	t.Helper()
	if err := f.Vault.SetCooldownDuration(Env(Admin, at), duration); err != nil {
		t.Fatalf("set cooldown: %v", err)
	}
	f.Journal.Commit()
}
