package testutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"AegisVault/internal/core"
	"AegisVault/internal/event"
	"AegisVault/internal/vault"
)

// CoreGenesis deploys the well-known test addresses with the default
// cooldown.
func CoreGenesis() core.Genesis {
	return core.Genesis{
		AssetAddress:     AssetAddress,
		AssetName:        "YUSD",
		AssetSymbol:      "YUSD",
		AssetDecimals:    18,
		Minter:           Minter,
		VaultAddress:     VaultAddress,
		SiloAddress:      SiloAddress,
		Admin:            Admin,
		CooldownDuration: vault.DefaultCooldownDuration,
	}
}

// Calls hands out call headers with per-sender nonces and stable tx ids.
type Calls struct {
	nonces map[common.Address]int64
	n      int
}

func NewCalls() *Calls {
	return &Calls{nonces: make(map[common.Address]int64)}
}

// Next returns the header of sender's next call at block time at.
func (c *Calls) Next(sender common.Address, at uint64) event.Call {
	nonce := c.nonces[sender]
	c.nonces[sender]++
	c.n++
	return event.Call{
		TxID:      uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("call-%d", c.n))),
		Sender:    sender,
		Nonce:     nonce,
		BlockTime: at,
	}
}

// RunCalls applies evts to a fresh core starting at sequence 1 and returns
// every output in order. Reverted calls are allowed; rejected ones fail t.
func RunCalls(t testing.TB, evts []event.Event) []core.CoreOutput {
	t.Helper()

	world, err := core.NewWorld(CoreGenesis())
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	persistCh := make(chan core.CoreOutput, len(evts))
	projCh := make(chan core.CoreOutput, len(evts))
	c := core.NewDeterministicCore(1, world, persistCh, projCh, nil, nil)

	for i, evt := range evts {
		var callErr *core.CallError
		if err := c.ProcessEvent(evt); err != nil && !errors.As(err, &callErr) {
			t.Fatalf("call %d (%s) rejected: %v", i, evt.EventType(), err)
		}
	}
	close(persistCh)

	outputs := make([]core.CoreOutput, 0, len(evts))
	for o := range persistCh {
		outputs = append(outputs, o)
	}
	return outputs
}
