package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenState is the serialisable form of a token. Amounts are decimal strings.
type TokenState struct {
	Address     common.Address                               `json:"address"`
	Name        string                                       `json:"name"`
	Symbol      string                                       `json:"symbol"`
	Decimals    uint8                                        `json:"decimals"`
	Minter      common.Address                               `json:"minter"`
	TotalSupply string                                       `json:"total_supply"`
	Balances    map[common.Address]string                    `json:"balances"`
	Allowances  map[common.Address]map[common.Address]string `json:"allowances,omitempty"`
}

// Export captures every registered token.
func (r *Registry) Export() []TokenState {
	out := make([]TokenState, 0, len(r.tokens))
	for _, addr := range r.Addresses() {
		tok := r.tokens[addr]
		ts := TokenState{
			Address:     addr,
			Name:        tok.meta.Name,
			Symbol:      tok.meta.Symbol,
			Decimals:    tok.meta.Decimals,
			Minter:      tok.meta.Minter,
			TotalSupply: tok.totalSupply.Dec(),
			Balances:    make(map[common.Address]string, len(tok.balances)),
		}
		for h, b := range tok.balances {
			ts.Balances[h] = b.Dec()
		}
		if len(tok.allowances) > 0 {
			ts.Allowances = make(map[common.Address]map[common.Address]string, len(tok.allowances))
			for o, m := range tok.allowances {
				inner := make(map[common.Address]string, len(m))
				for s, a := range m {
					inner[s] = a.Dec()
				}
				ts.Allowances[o] = inner
			}
		}
		out = append(out, ts)
	}
	return out
}

// Import registers tokens from a snapshot. The registry must be empty of the
// imported addresses; receive hooks are not restored.
func (r *Registry) Import(states []TokenState) error {
	for _, ts := range states {
		tok, err := r.Register(ts.Address, Metadata{
			Name:     ts.Name,
			Symbol:   ts.Symbol,
			Decimals: ts.Decimals,
			Minter:   ts.Minter,
		})
		if err != nil {
			return err
		}

		supply, err := uint256.FromDecimal(ts.TotalSupply)
		if err != nil {
			return fmt.Errorf("token %s supply: %w", ts.Address.Hex(), err)
		}
		tok.totalSupply = supply

		for h, s := range ts.Balances {
			v, err := uint256.FromDecimal(s)
			if err != nil {
				return fmt.Errorf("token %s balance of %s: %w", ts.Address.Hex(), h.Hex(), err)
			}
			if !v.IsZero() {
				tok.balances[h] = v
			}
		}
		for o, m := range ts.Allowances {
			for s, a := range m {
				v, err := uint256.FromDecimal(a)
				if err != nil {
					return fmt.Errorf("token %s allowance: %w", ts.Address.Hex(), err)
				}
				if v.IsZero() {
					continue
				}
				if tok.allowances[o] == nil {
					tok.allowances[o] = make(map[common.Address]*uint256.Int)
				}
				tok.allowances[o][s] = v
			}
		}
	}
	return nil
}
