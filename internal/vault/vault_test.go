package vault_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"AegisVault/internal/access"
	"AegisVault/internal/ledger"
	vmath "AegisVault/internal/math"
	"AegisVault/internal/state"
	"AegisVault/internal/testutil"
	"AegisVault/internal/vault"
)

var t0 = testutil.GenesisTime

func units(n uint64) *uint256.Int { return vmath.Units(n) }

func requireConserved(t *testing.T, f *testutil.VaultFixture) {
	t.Helper()
	require.NoError(t, ledger.NewInvariantValidator(f.Tokens).ValidateSupply())
	require.NoError(t, f.Vault.CheckInvariants())
}

// ============================================================================
// Construction
// ============================================================================

func TestNew_DefaultsAndRoles(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	v := f.Vault

	require.Equal(t, vault.DefaultCooldownDuration, v.CooldownDuration())
	require.Equal(t, uint64(604800), v.CooldownDuration())
	require.Equal(t, "Staked YUSD", v.Shares().Name())
	require.Equal(t, "sYUSD", v.Shares().Symbol())
	require.Equal(t, uint8(18), v.Shares().Decimals())

	require.Equal(t, testutil.VaultAddress, v.Silo().StakingVault())
	require.Equal(t, testutil.AssetAddress, v.Silo().Asset())

	for _, role := range []common.Hash{access.DefaultAdminRole, access.AdminRole, access.UpgraderRole} {
		require.True(t, f.Roles.HasRole(role, testutil.Admin), access.RoleName(role))
	}
}

func TestNew_RejectsZeroAddresses(t *testing.T) {
	newCfg := func() vault.Config {
		j := state.NewJournal()
		tokens := ledger.NewRegistry(j)
		_, err := tokens.Register(testutil.AssetAddress, ledger.Metadata{Symbol: "YUSD", Decimals: 18})
		require.NoError(t, err)
		return vault.Config{
			Address:     testutil.VaultAddress,
			SiloAddress: testutil.SiloAddress,
			Asset:       testutil.AssetAddress,
			Admin:       testutil.Admin,
			Tokens:      tokens,
			Roles:       access.NewRoles(j),
			Journal:     j,
		}
	}

	cfg := newCfg()
	cfg.Admin = common.Address{}
	_, err := vault.New(cfg)
	require.ErrorIs(t, err, vault.ErrZeroAddress)

	cfg = newCfg()
	cfg.Asset = common.Address{}
	_, err = vault.New(cfg)
	require.ErrorIs(t, err, vault.ErrZeroAddress)

	cfg = newCfg()
	cfg.Asset = common.HexToAddress("0x1234")
	_, err = vault.New(cfg)
	require.ErrorIs(t, err, ledger.ErrUnknownToken)
}

// ============================================================================
// Share accounting
// ============================================================================

func TestDeposit_GenesisIsOneToOne(t *testing.T) {
	f := testutil.NewVaultFixture(t)

	for _, x := range []*uint256.Int{uint256.NewInt(1), uint256.NewInt(1_000), units(1_000_000)} {
		s, err := f.Vault.ConvertToShares(x)
		require.NoError(t, err)
		require.True(t, s.Eq(x))
		a, err := f.Vault.ConvertToAssets(x)
		require.NoError(t, err)
		require.True(t, a.Eq(x))
	}

	shares := f.FundAndDeposit(t, testutil.User1, units(100), t0)
	require.True(t, shares.Eq(units(100)))
	require.True(t, f.Vault.TotalAssets().Eq(units(100)))
	require.True(t, f.Vault.TotalSupply().Eq(units(100)))
	requireConserved(t, f)
}

func TestDeposit_EmitsLogs(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	f.Fund(t, testutil.User1, units(5))

	_, err := f.Vault.Deposit(testutil.Env(testutil.User1, t0), units(5), testutil.User2)
	require.NoError(t, err)

	logs := f.Journal.Commit()
	var dep *vault.Deposited
	for _, l := range logs {
		if d, ok := l.(vault.Deposited); ok {
			dep = &d
		}
	}
	require.NotNil(t, dep)
	require.Equal(t, testutil.User1, dep.Sender)
	require.Equal(t, testutil.User2, dep.Owner)
	require.True(t, dep.Shares.Eq(units(5)))
	require.True(t, f.Vault.BalanceOf(testutil.User2).Eq(units(5)))
}

func TestMint_RoundsAssetsUp(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	f.FundAndDeposit(t, testutil.User1, units(100), t0)
	// 100 of yield: each share is now worth about 2 assets.
	require.NoError(t, f.Asset.MintAs(testutil.Minter, testutil.VaultAddress, units(100)))
	f.Journal.Commit()

	preview, err := f.Vault.PreviewMint(uint256.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, uint64(2), preview.Uint64())

	f.Fund(t, testutil.User2, uint256.NewInt(2))
	assets, err := f.Vault.Mint(testutil.Env(testutil.User2, t0), uint256.NewInt(1), testutil.User2)
	require.NoError(t, err)
	require.Equal(t, uint64(2), assets.Uint64())
	require.Equal(t, uint64(1), f.Vault.BalanceOf(testutil.User2).Uint64())
	requireConserved(t, f)
}

func TestDeposit_YieldMovesSharePrice(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	f.FundAndDeposit(t, testutil.User1, units(100), t0)

	require.NoError(t, f.Asset.MintAs(testutil.Minter, testutil.VaultAddress, units(100)))
	f.Journal.Commit()

	shares := f.FundAndDeposit(t, testutil.User2, units(100), t0)
	require.True(t, shares.Eq(units(50)), "got %s", shares)

	worth, err := f.Vault.ConvertToAssets(f.Vault.BalanceOf(testutil.User1))
	require.NoError(t, err)
	// 200 minus the wei kept by the virtual share.
	require.Equal(t, "199999999999999999999", worth.Dec())
	requireConserved(t, f)
}

func TestDeposit_ZeroAndZeroShares(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	f.Fund(t, testutil.User1, units(1))

	_, err := f.Vault.Deposit(testutil.Env(testutil.User1, t0), new(uint256.Int), testutil.User1)
	require.ErrorIs(t, err, vault.ErrZeroAmount)

	_, err = f.Vault.Deposit(testutil.Env(testutil.User1, t0), units(1), common.Address{})
	require.ErrorIs(t, err, vault.ErrZeroAddress)
}

func TestDeposit_InsufficientAllowanceRevertsEverything(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	require.NoError(t, f.Asset.MintAs(testutil.Minter, testutil.User1, units(100)))
	require.NoError(t, f.Asset.Approve(testutil.User1, testutil.VaultAddress, units(50)))
	f.Journal.Commit()
	before := string(f.Tokens.CanonicalBytes())

	_, err := f.Vault.Deposit(testutil.Env(testutil.User1, t0), units(100), testutil.User1)
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)

	require.Equal(t, before, string(f.Tokens.CanonicalBytes()))
	require.True(t, f.Vault.TotalSupply().IsZero())
	require.True(t, f.Asset.BalanceOf(testutil.User1).Eq(units(100)))
	require.Empty(t, f.Journal.Logs())
	require.Zero(t, f.Journal.Length())
}

func TestDeposit_DonationAttackIsUnprofitable(t *testing.T) {
	f := testutil.NewVaultFixture(t)

	// Attacker takes the first share for 1 wei, then donates.
	f.FundAndDeposit(t, testutil.Attacker, uint256.NewInt(1), t0)
	donation := units(10_000)
	f.Fund(t, testutil.Attacker, donation)
	require.NoError(t, f.Asset.Transfer(testutil.Attacker, testutil.VaultAddress, donation))
	f.Journal.Commit()
	cost := new(uint256.Int).AddUint64(donation, 1)

	// A small deposit that would round to zero shares is refused, not swallowed.
	f.Fund(t, testutil.User1, units(1))
	_, err := f.Vault.Deposit(testutil.Env(testutil.User1, t0), units(1), testutil.User1)
	require.ErrorIs(t, err, vault.ErrZeroShares)
	require.True(t, f.Asset.BalanceOf(testutil.User1).Eq(units(1)))

	f.FundAndDeposit(t, testutil.User2, units(20_000), t0)

	f.SetCooldown(t, 0, t0)
	attackerValue, err := f.Vault.MaxWithdraw(testutil.Attacker)
	require.NoError(t, err)
	require.True(t, attackerValue.Lt(cost), "attacker recovers %s of %s", attackerValue, cost)
	requireConserved(t, f)
}

// ============================================================================
// Direct exit (cooldown off)
// ============================================================================

func TestWithdraw_GatedByCooldown(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	f.FundAndDeposit(t, testutil.User1, units(100), t0)
	env := testutil.Env(testutil.User1, t0)

	_, err := f.Vault.Withdraw(env, units(10), testutil.User1, testutil.User1)
	require.ErrorIs(t, err, vault.ErrExpectedCooldownOff)
	_, err = f.Vault.Redeem(env, units(10), testutil.User1, testutil.User1)
	require.ErrorIs(t, err, vault.ErrExpectedCooldownOff)

	limit, err := f.Vault.MaxWithdraw(testutil.User1)
	require.NoError(t, err)
	require.True(t, limit.IsZero())
	require.True(t, f.Vault.MaxRedeem(testutil.User1).IsZero())

	f.SetCooldown(t, 0, t0)

	shares, err := f.Vault.Withdraw(env, units(10), testutil.User1, testutil.User1)
	require.NoError(t, err)
	require.True(t, shares.Eq(units(10)))

	assets, err := f.Vault.Redeem(env, units(90), testutil.User2, testutil.User1)
	require.NoError(t, err)
	require.True(t, assets.Eq(units(90)))

	require.True(t, f.Asset.BalanceOf(testutil.User1).Eq(units(10)))
	require.True(t, f.Asset.BalanceOf(testutil.User2).Eq(units(90)))
	require.True(t, f.Vault.TotalSupply().IsZero())
	requireConserved(t, f)
}

func TestWithdraw_ExceedsMax(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	f.FundAndDeposit(t, testutil.User1, units(100), t0)
	f.SetCooldown(t, 0, t0)
	env := testutil.Env(testutil.User1, t0)

	_, err := f.Vault.Withdraw(env, units(101), testutil.User1, testutil.User1)
	require.ErrorIs(t, err, vault.ErrExceededMaxWithdraw)
	_, err = f.Vault.Redeem(env, units(101), testutil.User1, testutil.User1)
	require.ErrorIs(t, err, vault.ErrExceededMaxRedeem)
}

func TestRedeem_ThirdPartyNeedsAllowance(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	f.FundAndDeposit(t, testutil.User1, units(100), t0)
	f.SetCooldown(t, 0, t0)

	_, err := f.Vault.Redeem(testutil.Env(testutil.User2, t0), units(10), testutil.User2, testutil.User1)
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)
	require.True(t, f.Vault.BalanceOf(testutil.User1).Eq(units(100)))

	require.NoError(t, f.Vault.ApproveShares(testutil.Env(testutil.User1, t0), testutil.User2, units(10)))
	_, err = f.Vault.Redeem(testutil.Env(testutil.User2, t0), units(10), testutil.User2, testutil.User1)
	require.NoError(t, err)
	require.True(t, f.Asset.BalanceOf(testutil.User2).Eq(units(10)))
}

// ============================================================================
// Admin
// ============================================================================

func TestSetCooldownDuration_BoundAndEvent(t *testing.T) {
	f := testutil.NewVaultFixture(t)

	err := f.Vault.SetCooldownDuration(testutil.Env(testutil.Admin, t0), vault.MaxCooldownDuration+1)
	require.ErrorIs(t, err, vault.ErrInvalidCooldown)
	require.Equal(t, vault.DefaultCooldownDuration, f.Vault.CooldownDuration())

	err = f.Vault.SetCooldownDuration(testutil.Env(testutil.User1, t0), 60)
	require.ErrorIs(t, err, access.ErrUnauthorized)

	require.NoError(t, f.Vault.SetCooldownDuration(testutil.Env(testutil.Admin, t0), vault.MaxCooldownDuration))
	logs := f.Journal.Commit()
	require.Len(t, logs, 1)
	require.Equal(t, vault.CooldownDurationUpdated{Previous: vault.DefaultCooldownDuration, New: vault.MaxCooldownDuration}, logs[0])
	require.Equal(t, vault.MaxCooldownDuration, f.Vault.CooldownDuration())
}

func TestRescueTokens_Boundary(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	f.FundAndDeposit(t, testutil.User1, units(100), t0)

	stray := common.HexToAddress("0x000000000000000000000000000000000000beef")
	tok, err := f.Tokens.Register(stray, ledger.Metadata{Symbol: "TEST", Decimals: 18, Minter: testutil.Minter})
	require.NoError(t, err)
	require.NoError(t, tok.MintAs(testutil.Minter, testutil.VaultAddress, units(7)))
	f.Journal.Commit()

	err = f.Vault.RescueTokens(testutil.Env(testutil.Admin, t0), testutil.AssetAddress, units(1), testutil.Admin)
	require.ErrorIs(t, err, vault.ErrInvalidToken)

	err = f.Vault.RescueTokens(testutil.Env(testutil.User1, t0), stray, units(7), testutil.User1)
	require.ErrorIs(t, err, access.ErrUnauthorized)

	require.NoError(t, f.Vault.RescueTokens(testutil.Env(testutil.Admin, t0), stray, units(7), testutil.Admin))
	require.True(t, tok.BalanceOf(testutil.Admin).Eq(units(7)))
	require.True(t, tok.BalanceOf(testutil.VaultAddress).IsZero())
	require.True(t, f.Vault.TotalAssets().Eq(units(100)))

	err = f.Vault.RescueTokens(testutil.Env(testutil.Admin, t0), common.HexToAddress("0xdead"), units(1), testutil.Admin)
	require.ErrorIs(t, err, ledger.ErrUnknownToken)
}

func TestRoles_GrantedAdminCanConfigure(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	operator := common.HexToAddress("0x0000000000000000000000000000000000000abc")

	require.NoError(t, f.Vault.GrantRole(testutil.Env(testutil.Admin, t0), access.AdminRole, operator))
	require.NoError(t, f.Vault.SetCooldownDuration(testutil.Env(operator, t0), 3600))

	require.NoError(t, f.Vault.RevokeRole(testutil.Env(testutil.Admin, t0), access.AdminRole, operator))
	require.ErrorIs(t, f.Vault.SetCooldownDuration(testutil.Env(operator, t0), 0), access.ErrUnauthorized)
}

// ============================================================================
// Snapshot
// ============================================================================

func TestExportRestore_PreservesDigest(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	f.FundAndDeposit(t, testutil.User1, units(100), t0)
	_, err := f.Vault.CooldownShares(testutil.Env(testutil.User1, t0), units(40), testutil.User1)
	require.NoError(t, err)
	f.Journal.Commit()

	st := f.Vault.Export(testutil.Admin)

	j := state.NewJournal()
	tokens := ledger.NewRegistry(j)
	require.NoError(t, tokens.Import(f.Tokens.Export()))
	roles := access.NewRoles(j)
	roles.Import(f.Roles.Export())

	restored, err := vault.Restore(vault.Config{Tokens: tokens, Roles: roles, Journal: j}, st)
	require.NoError(t, err)
	require.Equal(t, f.Vault.CanonicalBytes(), restored.CanonicalBytes())

	end, amount := restored.GetUserCooldownStatus(testutil.User1)
	require.Equal(t, t0+vault.DefaultCooldownDuration, end)
	require.True(t, amount.Eq(units(40)))
	require.NoError(t, restored.CheckInvariants())
}
