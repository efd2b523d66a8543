// Package lock provides an in-process domain.LockManager for single-node
// deployments and tests.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

type holder struct {
	token   uint64
	expires time.Time
}

// Keyed is a map of try-locks with expiry. It never blocks: a held key fails
// with domain.ErrLockHeld. It is safe for concurrent use.
type Keyed struct {
	mu   sync.Mutex
	held map[string]holder
	next uint64
	now  func() time.Time
}

// NewKeyed returns an empty Keyed lock set.
func NewKeyed() *Keyed {
	return &Keyed{
		held: make(map[string]holder),
		now:  time.Now,
	}
}

// Acquire takes key for at most ttl. A non-positive ttl never expires. The
// returned release func is idempotent and only releases this holder.
func (k *Keyed) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if h, ok := k.held[key]; ok && (h.expires.IsZero() || now.Before(h.expires)) {
		return nil, fmt.Errorf("lock: %s: %w", key, domain.ErrLockHeld)
	}

	k.next++
	h := holder{token: k.next}
	if ttl > 0 {
		h.expires = now.Add(ttl)
	}
	k.held[key] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			defer k.mu.Unlock()
			if cur, ok := k.held[key]; ok && cur.token == h.token {
				delete(k.held, key)
			}
		})
	}, nil
}

// Len reports how many keys are currently recorded, expired or not.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.held)
}

var _ domain.LockManager = (*Keyed)(nil)
