package state_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"AegisVault/internal/state"
)

type testLog string

func (l testLog) LogName() string { return string(l) }

func TestJournal_RevertRestoresInReverseOrder(t *testing.T) {
	j := state.NewJournal()
	balances := map[string]int{"a": 1}

	set := func(k string, v int) {
		prev, had := balances[k]
		balances[k] = v
		j.Append(state.ChangeFunc(func() {
			if had {
				balances[k] = prev
			} else {
				delete(balances, k)
			}
		}))
	}

	snap := j.Snapshot()
	set("a", 2)
	set("a", 3)
	set("b", 7)
	j.AddLog(testLog("moved"))
	require.Len(t, j.Logs(), 1)

	j.RevertToSnapshot(snap)
	require.Equal(t, map[string]int{"a": 1}, balances)
	require.Empty(t, j.Logs())
	require.Zero(t, j.Length())
}

func TestJournal_NestedSnapshots(t *testing.T) {
	j := state.NewJournal()
	counter := 0
	inc := func() {
		counter++
		j.Append(state.ChangeFunc(func() { counter-- }))
	}

	outer := j.Snapshot()
	inc()
	inner := j.Snapshot()
	inc()
	inc()
	j.RevertToSnapshot(inner)
	require.Equal(t, 1, counter)

	inc()
	j.RevertToSnapshot(outer)
	require.Equal(t, 0, counter)
}

func TestJournal_CommitReturnsLogs(t *testing.T) {
	j := state.NewJournal()
	j.Snapshot()
	j.AddLog(testLog("one"))
	j.AddLog(testLog("two"))

	logs := j.Commit()
	require.Len(t, logs, 2)
	require.Equal(t, "two", logs[1].LogName())
	require.Zero(t, j.Length())
	require.Empty(t, j.Logs())
}

func TestJournal_RevertUnknownRevisionPanics(t *testing.T) {
	j := state.NewJournal()
	require.Panics(t, func() { j.RevertToSnapshot(42) })
}
