package event

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"AegisVault/internal/access"
	"AegisVault/internal/ledger"
	"AegisVault/internal/state"
	"AegisVault/internal/vault"
)

// LogRecord is the wire and storage form of a log emitted by a call.
// Amounts are base-10 strings, addresses and role ids are hex.
type LogRecord struct {
	Index  int               `json:"index"`
	Name   string            `json:"name"`
	Fields map[string]string `json:"fields"`
}

// EncodeLogs converts committed logs in emission order.
func EncodeLogs(logs []state.Log) []LogRecord {
	out := make([]LogRecord, 0, len(logs))
	for i, l := range logs {
		out = append(out, LogRecord{Index: i, Name: l.LogName(), Fields: logFields(l)})
	}
	return out
}

func logFields(l state.Log) map[string]string {
	switch e := l.(type) {
	case vault.Deposited:
		return map[string]string{
			"sender": hex(e.Sender), "owner": hex(e.Owner),
			"assets": dec(e.Assets), "shares": dec(e.Shares),
		}
	case vault.Withdrawn:
		return map[string]string{
			"sender": hex(e.Sender), "receiver": hex(e.Receiver), "owner": hex(e.Owner),
			"assets": dec(e.Assets), "shares": dec(e.Shares),
		}
	case vault.CooldownStarted:
		return map[string]string{
			"account": hex(e.Account), "assets": dec(e.Assets), "shares": dec(e.Shares),
			"cooldown_end": strconv.FormatUint(e.CooldownEnd, 10),
		}
	case vault.Unstaked:
		return map[string]string{"account": hex(e.Account), "receiver": hex(e.Receiver), "assets": dec(e.Assets)}
	case vault.CooldownDurationUpdated:
		return map[string]string{
			"previous": strconv.FormatUint(e.Previous, 10),
			"new":      strconv.FormatUint(e.New, 10),
		}
	case vault.TokensRescued:
		return map[string]string{"token": hex(e.Token), "to": hex(e.To), "amount": dec(e.Amount)}
	case ledger.TransferLog:
		return map[string]string{"token": hex(e.Token), "from": hex(e.From), "to": hex(e.To), "amount": dec(e.Amount)}
	case ledger.ApprovalLog:
		return map[string]string{"token": hex(e.Token), "owner": hex(e.Owner), "spender": hex(e.Spender), "amount": dec(e.Amount)}
	case access.RoleGranted:
		return map[string]string{"role": access.RoleName(e.Role), "account": hex(e.Account), "sender": hex(e.Sender)}
	case access.RoleRevoked:
		return map[string]string{"role": access.RoleName(e.Role), "account": hex(e.Account), "sender": hex(e.Sender)}
	default:
		return map[string]string{}
	}
}

func hex(a common.Address) string { return a.Hex() }
