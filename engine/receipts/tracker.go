package receipts

import (
	"sync"

	"github.com/citadel-wallet/keysync/model/kel"
)

// Tracker remembers, per identifier, the witnesses that did not receipt its
// latest solicited event.
type Tracker struct {
	mu      sync.RWMutex
	missing map[kel.Prefix]kel.PrefixList
}

func NewTracker() *Tracker {
	return &Tracker{missing: make(map[kel.Prefix]kel.PrefixList)}
}

// Remember replaces the missing witnesses of prefix. An empty list forgets prefix.
func (t *Tracker) Remember(prefix kel.Prefix, witnesses kel.PrefixList) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(witnesses) == 0 {
		delete(t.missing, prefix)
		return
	}
	t.missing[prefix] = append(kel.PrefixList(nil), witnesses...)
}

// Missing returns the witnesses of prefix that did not receipt.
func (t *Tracker) Missing(prefix kel.Prefix) kel.PrefixList {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append(kel.PrefixList(nil), t.missing[prefix]...)
}
