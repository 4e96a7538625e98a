package state

import (
	"fmt"
	"sort"
)

// Change is a single undoable state mutation.
type Change interface {
	Revert()
}

// ChangeFunc adapts a closure to Change.
type ChangeFunc func()

func (f ChangeFunc) Revert() { f() }

// Log is a structured record emitted by a call. Logs are buffered in the
// journal and dropped when the call reverts.
type Log interface {
	LogName() string
}

type revision struct {
	id           int
	journalIndex int
}

// Journal records every mutation made while a call executes so the whole
// call can be undone. It is shared by the token ledger, the role table and
// the vault, so a revert covers all of them at once.
type Journal struct {
	entries        []Change
	logs           []Log
	validRevisions []revision
	nextRevisionID int
}

func NewJournal() *Journal {
	return &Journal{}
}

// Append records a change. The mutation it undoes must already be applied.
func (j *Journal) Append(c Change) {
	j.entries = append(j.entries, c)
}

// AddLog buffers a log for the current call.
func (j *Journal) AddLog(l Log) {
	prev := len(j.logs)
	j.logs = append(j.logs, l)
	j.entries = append(j.entries, ChangeFunc(func() {
		j.logs = j.logs[:prev]
	}))
}

// Snapshot returns a revision id that RevertToSnapshot can rewind to.
func (j *Journal) Snapshot() int {
	id := j.nextRevisionID
	j.nextRevisionID++
	j.validRevisions = append(j.validRevisions, revision{id, len(j.entries)})
	return id
}

// RevertToSnapshot undoes every change made since the snapshot was taken, in
// reverse order. Reverting to an unknown revision is a programming error.
func (j *Journal) RevertToSnapshot(id int) {
	idx := sort.Search(len(j.validRevisions), func(i int) bool {
		return j.validRevisions[i].id >= id
	})
	if idx == len(j.validRevisions) || j.validRevisions[idx].id != id {
		panic(fmt.Sprintf("FATAL: revision id %d cannot be reverted", id))
	}
	target := j.validRevisions[idx].journalIndex

	for i := len(j.entries) - 1; i >= target; i-- {
		j.entries[i].Revert()
	}
	j.entries = j.entries[:target]
	j.validRevisions = j.validRevisions[:idx]
}

// Commit discards undo information and returns the logs of the finished call.
func (j *Journal) Commit() []Log {
	logs := j.logs
	j.entries = j.entries[:0]
	j.logs = nil
	j.validRevisions = j.validRevisions[:0]
	return logs
}

// Logs returns the logs buffered so far without committing.
func (j *Journal) Logs() []Log {
	out := make([]Log, len(j.logs))
	copy(out, j.logs)
	return out
}

// Length returns the number of pending undo entries.
func (j *Journal) Length() int {
	return len(j.entries)
}
