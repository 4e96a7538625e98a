package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"AegisVault/internal/state"
)

var (
	ErrInsufficientBalance   = errors.New("ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
	ErrInvalidReceiver       = errors.New("ledger: invalid receiver")
	ErrInvalidSender         = errors.New("ledger: invalid sender")
	ErrInvalidSpender        = errors.New("ledger: invalid spender")
	ErrUnknownToken          = errors.New("ledger: unknown token")
	ErrNotMinter             = errors.New("ledger: caller is not the minter")
	ErrSupplyOverflow        = errors.New("ledger: total supply overflow")
)

// ReceiveHook runs after tokens land on a hooked address. A non-nil error
// fails the transfer that triggered it.
type ReceiveHook func(token, from common.Address, amount *uint256.Int) error

// TransferLog is emitted for every balance movement, mints and burns included.
type TransferLog struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

func (TransferLog) LogName() string { return "Transfer" }

// ApprovalLog is emitted when an allowance is set.
type ApprovalLog struct {
	Token   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *uint256.Int
}

func (ApprovalLog) LogName() string { return "Approval" }

// Metadata describes a token.
type Metadata struct {
	Name     string
	Symbol   string
	Decimals uint8
	// Minter may call MintAs. Zero means nobody outside the owning component.
	Minter common.Address
}

// Token is a fungible token with ERC-20 semantics. Every mutation is recorded
// in the shared journal; a reverted call leaves no trace.
type Token struct {
	address common.Address
	meta    Metadata
	journal *state.Journal
	rec     *recorder

	totalSupply *uint256.Int
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int
	hooks       map[common.Address]ReceiveHook
}

func newToken(addr common.Address, meta Metadata, j *state.Journal, rec *recorder) *Token {
	return &Token{
		address:     addr,
		meta:        meta,
		journal:     j,
		rec:         rec,
		totalSupply: new(uint256.Int),
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
		hooks:       make(map[common.Address]ReceiveHook),
	}
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Name() string            { return t.meta.Name }
func (t *Token) Symbol() string          { return t.meta.Symbol }
func (t *Token) Decimals() uint8         { return t.meta.Decimals }
func (t *Token) Minter() common.Address  { return t.meta.Minter }

func (t *Token) TotalSupply() *uint256.Int {
	return new(uint256.Int).Set(t.totalSupply)
}

func (t *Token) BalanceOf(account common.Address) *uint256.Int {
	if b, ok := t.balances[account]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	if m, ok := t.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return new(uint256.Int).Set(a)
		}
	}
	return new(uint256.Int)
}

// SetReceiveHook installs fn for tokens arriving at account. Hooks are runtime
// wiring and are not part of the persisted state.
func (t *Token) SetReceiveHook(account common.Address, fn ReceiveHook) {
	if fn == nil {
		delete(t.hooks, account)
		return
	}
	t.hooks[account] = fn
}

// Transfer moves amount from `from` to `to`. The caller is trusted to have
// authenticated `from`.
func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) {
		return ErrInvalidSender
	}
	if to == (common.Address{}) {
		return ErrInvalidReceiver
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	return t.notify(from, to, amount)
}

// TransferFrom spends spender's allowance over from, then transfers.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	if err := t.SpendAllowance(from, spender, amount); err != nil {
		return err
	}
	return t.Transfer(from, to, amount)
}

func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if owner == (common.Address{}) {
		return ErrInvalidSender
	}
	if spender == (common.Address{}) {
		return ErrInvalidSpender
	}
	t.setAllowance(owner, spender, amount)
	t.journal.AddLog(ApprovalLog{Token: t.address, Owner: owner, Spender: spender, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// SpendAllowance lowers spender's allowance over owner by amount. An owner
// spending its own balance needs no allowance; a max allowance is never
// lowered.
func (t *Token) SpendAllowance(owner, spender common.Address, amount *uint256.Int) error {
	if owner == spender {
		return nil
	}
	current := t.Allowance(owner, spender)
	if current.Eq(maxAllowance) {
		return nil
	}
	if current.Lt(amount) {
		return fmt.Errorf("%w: spender %s has %s, needs %s", ErrInsufficientAllowance, spender.Hex(), current, amount)
	}
	t.setAllowance(owner, spender, new(uint256.Int).Sub(current, amount))
	return nil
}

var maxAllowance = new(uint256.Int).SetAllOne()

// Mint creates amount tokens for to. Only owning components call it directly.
func (t *Token) Mint(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrInvalidReceiver
	}
	supply, overflow := new(uint256.Int).AddOverflow(t.totalSupply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	t.setSupply(supply)
	t.setBalance(to, new(uint256.Int).Add(t.BalanceOf(to), amount))
	t.record(common.Address{}, to, amount, JournalTypeMint)
	return t.notify(common.Address{}, to, amount)
}

// MintAs mints on behalf of an external caller, which must be the minter.
func (t *Token) MintAs(caller, to common.Address, amount *uint256.Int) error {
	if t.meta.Minter == (common.Address{}) || caller != t.meta.Minter {
		return ErrNotMinter
	}
	return t.Mint(to, amount)
}

// Burn destroys amount tokens held by from.
func (t *Token) Burn(from common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) {
		return ErrInvalidSender
	}
	bal := t.BalanceOf(from)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	t.setBalance(from, new(uint256.Int).Sub(bal, amount))
	t.setSupply(new(uint256.Int).Sub(t.totalSupply, amount))
	t.record(from, common.Address{}, amount, JournalTypeBurn)
	return nil
}

func (t *Token) move(from, to common.Address, amount *uint256.Int) error {
	bal := t.BalanceOf(from)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	if from != to {
		t.setBalance(from, new(uint256.Int).Sub(bal, amount))
		t.setBalance(to, new(uint256.Int).Add(t.BalanceOf(to), amount))
	}
	t.record(from, to, amount, JournalTypeTransfer)
	return nil
}

func (t *Token) notify(from, to common.Address, amount *uint256.Int) error {
	hook, ok := t.hooks[to]
	if !ok || amount.IsZero() {
		return nil
	}
	return hook(t.address, from, new(uint256.Int).Set(amount))
}

func (t *Token) record(from, to common.Address, amount *uint256.Int, kind JournalType) {
	amt := new(uint256.Int).Set(amount)
	t.journal.AddLog(TransferLog{Token: t.address, From: from, To: to, Amount: amt})
	if amount.IsZero() {
		return
	}
	t.rec.add(movement{token: t.address, from: from, to: to, amount: amt, kind: kind})
}

func (t *Token) setBalance(account common.Address, v *uint256.Int) {
	prev, had := t.balances[account]
	if v.IsZero() {
		delete(t.balances, account)
	} else {
		t.balances[account] = v
	}
	t.journal.Append(state.ChangeFunc(func() {
		if had {
			t.balances[account] = prev
		} else {
			delete(t.balances, account)
		}
	}))
}

func (t *Token) setSupply(v *uint256.Int) {
	prev := t.totalSupply
	t.totalSupply = v
	t.journal.Append(state.ChangeFunc(func() { t.totalSupply = prev }))
}

func (t *Token) setAllowance(owner, spender common.Address, v *uint256.Int) {
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		t.allowances[owner] = m
	}
	prev, had := m[spender]
	if v.IsZero() {
		delete(m, spender)
		if len(m) == 0 {
			delete(t.allowances, owner)
		}
	} else {
		m[spender] = new(uint256.Int).Set(v)
	}
	t.journal.Append(state.ChangeFunc(func() {
		if had {
			m[spender] = prev
		} else {
			delete(m, spender)
		}
		if len(m) == 0 {
			delete(t.allowances, owner)
		} else {
			t.allowances[owner] = m
		}
	}))
}
