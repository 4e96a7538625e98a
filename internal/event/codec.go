package event

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	vmath "AegisVault/internal/math"
)

// callJSON is the wire format of every call. Amounts are base-10 strings,
// addresses are 0x-prefixed hex. Field names use snake_case to match upstream
// producers.
type callJSON struct {
	TxID      string  `json:"tx_id"`
	Sender    string  `json:"sender"`
	Nonce     int64   `json:"nonce"`
	BlockTime uint64  `json:"block_time"`
	Assets    string  `json:"assets,omitempty"`
	Shares    string  `json:"shares,omitempty"`
	Amount    string  `json:"amount,omitempty"`
	Receiver  string  `json:"receiver,omitempty"`
	Owner     string  `json:"owner,omitempty"`
	Token     string  `json:"token,omitempty"`
	From      string  `json:"from,omitempty"`
	To        string  `json:"to,omitempty"`
	Spender   string  `json:"spender,omitempty"`
	Account   string  `json:"account,omitempty"`
	Role      string  `json:"role,omitempty"`
	Duration  *uint64 `json:"duration,omitempty"`
}

// Marshal encodes a call in its wire format.
func Marshal(evt Event) ([]byte, error) {
	h := evt.header()
	j := callJSON{
		TxID:      h.TxID.String(),
		Sender:    h.Sender.Hex(),
		Nonce:     h.Nonce,
		BlockTime: h.BlockTime,
	}

	switch e := evt.(type) {
	case *Deposit:
		j.Assets, j.Receiver = dec(e.Assets), e.Receiver.Hex()
	case *Mint:
		j.Shares, j.Receiver = dec(e.Shares), e.Receiver.Hex()
	case *Withdraw:
		j.Assets, j.Receiver, j.Owner = dec(e.Assets), e.Receiver.Hex(), e.Owner.Hex()
	case *Redeem:
		j.Shares, j.Receiver, j.Owner = dec(e.Shares), e.Receiver.Hex(), e.Owner.Hex()
	case *CooldownAssets:
		j.Assets, j.Owner = dec(e.Assets), e.Owner.Hex()
	case *CooldownShares:
		j.Shares, j.Owner = dec(e.Shares), e.Owner.Hex()
	case *Unstake:
		j.Receiver = e.Receiver.Hex()
	case *SetCooldownDuration:
		d := e.Duration
		j.Duration = &d
	case *RescueTokens:
		j.Token, j.Amount, j.To = e.Token.Hex(), dec(e.Amount), e.To.Hex()
	case *GrantRole:
		j.Role, j.Account = e.Role.Hex(), e.Account.Hex()
	case *RevokeRole:
		j.Role, j.Account = e.Role.Hex(), e.Account.Hex()
	case *RenounceRole:
		j.Role, j.Account = e.Role.Hex(), e.Account.Hex()
	case *TokenTransfer:
		j.Token, j.To, j.Amount = e.Token.Hex(), e.To.Hex(), dec(e.Amount)
	case *TokenTransferFrom:
		j.Token, j.From, j.To, j.Amount = e.Token.Hex(), e.From.Hex(), e.To.Hex(), dec(e.Amount)
	case *TokenApprove:
		j.Token, j.Spender, j.Amount = e.Token.Hex(), e.Spender.Hex(), dec(e.Amount)
	case *TokenMint:
		j.Token, j.To, j.Amount = e.Token.Hex(), e.To.Hex(), dec(e.Amount)
	default:
		return nil, fmt.Errorf("marshal: unknown call %T", evt)
	}

	return json.Marshal(j)
}

// Unmarshal decodes a call of type et. Every field the call needs must be
// present and well-formed.
func Unmarshal(et EventType, data []byte) (Event, error) {
	var j callJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse %s: %w", et, err)
	}
	p := &fieldParser{j: j}
	h := p.header()

	var evt Event
	switch et {
	case EventTypeDeposit:
		evt = &Deposit{Call: h, Assets: p.amount("assets", j.Assets), Receiver: p.addr("receiver", j.Receiver)}
	case EventTypeMint:
		evt = &Mint{Call: h, Shares: p.amount("shares", j.Shares), Receiver: p.addr("receiver", j.Receiver)}
	case EventTypeWithdraw:
		evt = &Withdraw{Call: h, Assets: p.amount("assets", j.Assets), Receiver: p.addr("receiver", j.Receiver), Owner: p.addr("owner", j.Owner)}
	case EventTypeRedeem:
		evt = &Redeem{Call: h, Shares: p.amount("shares", j.Shares), Receiver: p.addr("receiver", j.Receiver), Owner: p.addr("owner", j.Owner)}
	case EventTypeCooldownAssets:
		evt = &CooldownAssets{Call: h, Assets: p.amount("assets", j.Assets), Owner: p.addr("owner", j.Owner)}
	case EventTypeCooldownShares:
		evt = &CooldownShares{Call: h, Shares: p.amount("shares", j.Shares), Owner: p.addr("owner", j.Owner)}
	case EventTypeUnstake:
		evt = &Unstake{Call: h, Receiver: p.addr("receiver", j.Receiver)}
	case EventTypeSetCooldownDuration:
		if j.Duration == nil {
			p.fail("duration", "missing")
			evt = &SetCooldownDuration{Call: h}
		} else {
			evt = &SetCooldownDuration{Call: h, Duration: *j.Duration}
		}
	case EventTypeRescueTokens:
		evt = &RescueTokens{Call: h, Token: p.addr("token", j.Token), Amount: p.amount("amount", j.Amount), To: p.addr("to", j.To)}
	case EventTypeGrantRole:
		evt = &GrantRole{Call: h, Role: p.role(j.Role), Account: p.addr("account", j.Account)}
	case EventTypeRevokeRole:
		evt = &RevokeRole{Call: h, Role: p.role(j.Role), Account: p.addr("account", j.Account)}
	case EventTypeRenounceRole:
		evt = &RenounceRole{Call: h, Role: p.role(j.Role), Account: p.addr("account", j.Account)}
	case EventTypeTokenTransfer:
		evt = &TokenTransfer{Call: h, Token: p.addr("token", j.Token), To: p.addr("to", j.To), Amount: p.amount("amount", j.Amount)}
	case EventTypeTokenTransferFrom:
		evt = &TokenTransferFrom{Call: h, Token: p.addr("token", j.Token), From: p.addr("from", j.From), To: p.addr("to", j.To), Amount: p.amount("amount", j.Amount)}
	case EventTypeTokenApprove:
		evt = &TokenApprove{Call: h, Token: p.addr("token", j.Token), Spender: p.addr("spender", j.Spender), Amount: p.amount("amount", j.Amount)}
	case EventTypeTokenMint:
		evt = &TokenMint{Call: h, Token: p.addr("token", j.Token), To: p.addr("to", j.To), Amount: p.amount("amount", j.Amount)}
	default:
		return nil, fmt.Errorf("unknown event type: %s", et)
	}

	if p.err != nil {
		return nil, fmt.Errorf("parse %s: %w", et, p.err)
	}
	return evt, nil
}

// fieldParser keeps the first error so Unmarshal can build calls in one
// expression per type.
type fieldParser struct {
	j   callJSON
	err error
}

func (p *fieldParser) fail(field, reason string) {
	if p.err == nil {
		p.err = fmt.Errorf("%s: %s", field, reason)
	}
}

func (p *fieldParser) header() Call {
	txID, err := uuid.Parse(p.j.TxID)
	if err != nil {
		p.fail("tx_id", err.Error())
	}
	if p.j.BlockTime == 0 {
		p.fail("block_time", "missing")
	}
	if p.j.Nonce < 0 {
		p.fail("nonce", "negative")
	}
	return Call{
		TxID:      txID,
		Sender:    p.addr("sender", p.j.Sender),
		Nonce:     p.j.Nonce,
		BlockTime: p.j.BlockTime,
	}
}

func (p *fieldParser) addr(field, s string) common.Address {
	if !common.IsHexAddress(s) {
		p.fail(field, fmt.Sprintf("invalid address %q", s))
		return common.Address{}
	}
	return common.HexToAddress(s)
}

func (p *fieldParser) amount(field, s string) *uint256.Int {
	v, err := vmath.ParseAmount(s)
	if err != nil {
		p.fail(field, err.Error())
		return new(uint256.Int)
	}
	return v
}

// role accepts a 32-byte hex id or a role name such as ADMIN_ROLE.
func (p *fieldParser) role(s string) common.Hash {
	switch {
	case s == "":
		p.fail("role", "missing")
		return common.Hash{}
	case s == "DEFAULT_ADMIN_ROLE":
		return common.Hash{}
	case strings.HasPrefix(s, "0x") && len(s) == 66:
		return common.HexToHash(s)
	default:
		return crypto.Keccak256Hash([]byte(s))
	}
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
