package core

import (
	"container/list"
	"errors"
	"fmt"
)

// ErrDedupUnavailable rejects a call whose tx id missed the cache while the
// event log could not be asked. The call is not sequenced and its nonce stays
// unspent, so the sender can resubmit it.
var ErrDedupUnavailable = errors.New("duplicate check unavailable")

// DBIdempotencyChecker looks a call up in the durable event log.
type DBIdempotencyChecker interface {
	IsDuplicate(callType string, idempotencyKey string) (bool, error)
}

// callDeduper answers "was this tx already sequenced?" from a bounded cache of
// recent tx ids, falling back to the event log on a miss. A deposit applied
// twice mints twice, so a failed fallback refuses the call instead of
// guessing.
type callDeduper struct {
	recent *recentKeys
	db     DBIdempotencyChecker
}

// dedupHit tells where a duplicate was found.
type dedupHit string

const (
	hitNone  dedupHit = ""
	hitCache dedupHit = "duplicate"
	hitLog   dedupHit = "duplicate_log"
)

func newCallDeduper(capacity int, db DBIdempotencyChecker) *callDeduper {
	return &callDeduper{recent: newRecentKeys(capacity), db: db}
}

func dedupKey(callName, txID string) string {
	return callName + ":" + txID
}

func (d *callDeduper) check(callName, txID string) (dedupHit, error) {
	key := dedupKey(callName, txID)
	if d.recent.touch(key) {
		return hitCache, nil
	}
	if d.db == nil {
		return hitNone, nil
	}

	dup, err := d.db.IsDuplicate(callName, txID)
	if err != nil {
		return hitNone, fmt.Errorf("%w: %v", ErrDedupUnavailable, err)
	}
	if dup {
		d.recent.insert(key)
		return hitLog, nil
	}
	return hitNone, nil
}

func (d *callDeduper) remember(callName, txID string) {
	d.recent.insert(dedupKey(callName, txID))
}

// recentKeys is a fixed-capacity LRU set of dedup keys. Only the core
// goroutine touches it.
type recentKeys struct {
	capacity int
	index    map[string]*list.Element
	order    *list.List // front is most recent
}

func newRecentKeys(capacity int) *recentKeys {
	return &recentKeys{
		capacity: capacity,
		index:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// touch reports whether key is present and marks it most recent.
func (r *recentKeys) touch(key string) bool {
	el, ok := r.index[key]
	if ok {
		r.order.MoveToFront(el)
	}
	return ok
}

func (r *recentKeys) insert(key string) {
	if r.touch(key) {
		return
	}
	r.index[key] = r.order.PushFront(key)
	for r.order.Len() > r.capacity {
		oldest := r.order.Back()
		r.order.Remove(oldest)
		delete(r.index, oldest.Value.(string))
	}
}

// restore loads keys given oldest first, as snapshot returns them.
func (r *recentKeys) restore(keys []string) {
	for _, k := range keys {
		r.insert(k)
	}
}

// snapshot lists keys oldest first.
func (r *recentKeys) snapshot() []string {
	keys := make([]string, 0, r.order.Len())
	for el := r.order.Back(); el != nil; el = el.Prev() {
		keys = append(keys, el.Value.(string))
	}
	return keys
}

func (r *recentKeys) size() int { return r.order.Len() }
