package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"AegisVault/internal/state"
)

// recorder collects token movements for the call in progress.
type recorder struct {
	journal   *state.Journal
	movements []movement
}

func (r *recorder) add(m movement) {
	prev := len(r.movements)
	r.movements = append(r.movements, m)
	r.journal.Append(state.ChangeFunc(func() {
		r.movements = r.movements[:prev]
	}))
}

func (r *recorder) drain() []movement {
	out := r.movements
	r.movements = nil
	return out
}

// Registry holds every token known to the ledger, keyed by address.
type Registry struct {
	journal *state.Journal
	rec     *recorder
	tokens  map[common.Address]*Token
}

func NewRegistry(j *state.Journal) *Registry {
	return &Registry{
		journal: j,
		rec:     &recorder{journal: j},
		tokens:  make(map[common.Address]*Token),
	}
}

// Register creates a token at addr. Registration happens at genesis or
// construction time and is not journaled.
func (r *Registry) Register(addr common.Address, meta Metadata) (*Token, error) {
	if addr == (common.Address{}) {
		return nil, fmt.Errorf("register %s: %w", meta.Symbol, ErrInvalidReceiver)
	}
	if _, exists := r.tokens[addr]; exists {
		return nil, fmt.Errorf("token %s already registered", addr.Hex())
	}
	tok := newToken(addr, meta, r.journal, r.rec)
	r.tokens[addr] = tok
	return tok, nil
}

func (r *Registry) Token(addr common.Address) (*Token, error) {
	tok, ok := r.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return tok, nil
}

// Addresses returns token addresses in byte order.
func (r *Registry) Addresses() []common.Address {
	out := make([]common.Address, 0, len(r.tokens))
	for addr := range r.tokens {
		out = append(out, addr)
	}
	sortAddresses(out)
	return out
}

// drainMovements returns and clears the movements recorded since the last
// drain. Call it only after the journal committed.
func (r *Registry) drainMovements() []movement {
	return r.rec.drain()
}

// ComputeSupplyDrift returns, per token, the difference between total supply
// and the sum of balances. An empty map means the ledger is consistent.
func (r *Registry) ComputeSupplyDrift() map[common.Address]string {
	drift := make(map[common.Address]string)
	for addr, tok := range r.tokens {
		sum := new(uint256.Int)
		for _, b := range tok.balances {
			sum.Add(sum, b)
		}
		if !sum.Eq(tok.totalSupply) {
			drift[addr] = fmt.Sprintf("supply=%s sum=%s", tok.totalSupply, sum)
		}
	}
	return drift
}

// CanonicalBytes serialises every token deterministically for state hashing.
func (r *Registry) CanonicalBytes() []byte {
	var buf bytes.Buffer
	for _, addr := range r.Addresses() {
		tok := r.tokens[addr]
		buf.Write(addr.Bytes())
		writeAmount(&buf, tok.totalSupply)

		holders := sortedKeys(tok.balances)
		writeUint32(&buf, uint32(len(holders)))
		for _, h := range holders {
			buf.Write(h.Bytes())
			writeAmount(&buf, tok.balances[h])
		}

		owners := make([]common.Address, 0, len(tok.allowances))
		for o := range tok.allowances {
			owners = append(owners, o)
		}
		sortAddresses(owners)
		writeUint32(&buf, uint32(len(owners)))
		for _, o := range owners {
			spenders := sortedKeys(tok.allowances[o])
			buf.Write(o.Bytes())
			writeUint32(&buf, uint32(len(spenders)))
			for _, s := range spenders {
				buf.Write(s.Bytes())
				writeAmount(&buf, tok.allowances[o][s])
			}
		}
	}
	return buf.Bytes()
}

func writeAmount(buf *bytes.Buffer, v *uint256.Int) {
	b := v.Bytes32()
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func sortedKeys(m map[common.Address]*uint256.Int) []common.Address {
	out := make([]common.Address, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sortAddresses(out)
	return out
}

func sortAddresses(addrs []common.Address) {
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
}
