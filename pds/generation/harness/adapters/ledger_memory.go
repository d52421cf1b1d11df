package adapters

import (
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness/ports"
)

// MemoryLedger remembers claimed persona/post pairs for ttl within one process.
type MemoryLedger struct {
	mu     sync.Mutex
	ttl    time.Duration
	claims map[string]time.Time // key -> expiry
	now    func() time.Time
}

// NewMemoryLedger keeps claims for ttl; ttl <= 0 keeps them forever.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		ttl:    ttl,
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Claim returns true for the first claim of the pair.
func (l *MemoryLedger) Claim(ctx context.Context, personaID, postID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := ledgerKey(personaID, postID)
	if expiry, ok := l.claims[key]; ok && (expiry.IsZero() || now.Before(expiry)) {
		return false, nil
	}

	var expiry time.Time
	if l.ttl > 0 {
		expiry = now.Add(l.ttl)
		l.sweep(now)
	}
	l.claims[key] = expiry
	return true, nil
}

// sweep drops expired claims so the map stays bounded by traffic within ttl.
func (l *MemoryLedger) sweep(now time.Time) {
	for k, expiry := range l.claims {
		if !expiry.IsZero() && !now.Before(expiry) {
			delete(l.claims, k)
		}
	}
}

func ledgerKey(personaID, postID string) string {
	return "pds:dispatch:" + personaID + ":" + postID
}

var _ ports.DispatchLedger = (*MemoryLedger)(nil)
