package session

import "sync"

type dedupKey struct {
	sender    string
	timestamp int64
}

// DedupLedger records every (sender, timestamp) pair already surfaced so a
// replayed delivery (history load followed by a live re-broadcast, a relay
// retransmit) renders exactly once.
//
// The ledger has no eviction: keys accumulate for the lifetime of the session
// scope. That is fine for a single run but becomes a scaling limit the moment
// anyone adds persistence; clear-on-scope-change is the only bound.
type DedupLedger struct {
	mu   sync.Mutex
	seen map[dedupKey]struct{}
}

func NewDedupLedger() *DedupLedger {
	return &DedupLedger{seen: make(map[dedupKey]struct{})}
}

// ShouldAccept atomically checks and inserts the pair. The first caller wins;
// every later call with the same pair reports false.
func (l *DedupLedger) ShouldAccept(senderID string, timestamp int64) bool {
	key := dedupKey{sender: senderID, timestamp: timestamp}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[key]; ok {
		return false
	}
	l.seen[key] = struct{}{}
	return true
}

// Clear drops all keys. Called when the displayed channel scope changes,
// since pairs are only meaningful within one scope.
func (l *DedupLedger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = make(map[dedupKey]struct{})
}

// Len reports the number of tracked pairs.
func (l *DedupLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
