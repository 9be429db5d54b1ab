package auth

import (
	"sync"
	"time"

	"github.com/strukta/bastion/internal/logger"
	"github.com/strukta/bastion/internal/metrics"
	"github.com/strukta/bastion/internal/store"
)

const revocationKeyPrefix = "revoked:"

// RevocationList tracks revoked token IDs until their natural expiry.
// Entries carry a TTL equal to the token's remaining validity so the
// set never grows unbounded. Reads are frequent (every verification);
// writes are rare. Losing the list on restart is an accepted
// degradation, so the optional store spill is best effort.
type RevocationList struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	spill   store.Store // optional, may be nil
	log     logger.Logger
	now     func() time.Time
}

// NewRevocationList creates a revocation list. spill may be nil for a
// purely in-memory list.
func NewRevocationList(spill store.Store, log logger.Logger) *RevocationList {
	if log == nil {
		log = logger.GetDefault()
	}
	return &RevocationList{
		entries: make(map[string]time.Time),
		spill:   spill,
		log:     log,
		now:     time.Now,
	}
}

// Revoke marks a JTI revoked for the given TTL. Idempotent.
func (r *RevocationList) Revoke(jti string, ttl time.Duration) {
	r.RevokeOnce(jti, ttl)
}

// RevokeOnce marks a JTI revoked and reports whether this call was the
// first to do so. Rotation uses this to serialize concurrent attempts
// on the same token.
func (r *RevocationList) RevokeOnce(jti string, ttl time.Duration) bool {
	if jti == "" || ttl <= 0 {
		return false
	}

	r.mu.Lock()
	expiry, exists := r.entries[jti]
	live := exists && r.now().Before(expiry)
	if !live {
		r.entries[jti] = r.now().Add(ttl)
	}
	r.mu.Unlock()

	if live {
		return false
	}

	metrics.TokensRevokedTotal.Inc()
	r.gauge()

	if r.spill != nil {
		if err := r.spill.PutTTL(revocationKeyPrefix+jti, []byte("1"), ttl); err != nil {
			r.log.Warn("failed to spill revocation entry",
				logger.String("jti", jti),
				logger.Error(err))
		}
	}
	return true
}

// IsRevoked reports whether the JTI is currently revoked.
func (r *RevocationList) IsRevoked(jti string) bool {
	if jti == "" {
		return false
	}

	r.mu.RLock()
	expiry, exists := r.entries[jti]
	r.mu.RUnlock()

	if exists {
		if r.now().Before(expiry) {
			return true
		}
		// Lazily drop the expired entry.
		r.mu.Lock()
		if cur, ok := r.entries[jti]; ok && !r.now().Before(cur) {
			delete(r.entries, jti)
		}
		r.mu.Unlock()
		r.gauge()
		return false
	}

	if r.spill != nil {
		if _, err := r.spill.Get(revocationKeyPrefix + jti); err == nil {
			return true
		}
	}
	return false
}

// Len returns the number of live entries.
func (r *RevocationList) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	now := r.now()
	for _, expiry := range r.entries {
		if now.Before(expiry) {
			n++
		}
	}
	return n
}

func (r *RevocationList) gauge() {
	metrics.RevocationListSize.Set(float64(r.Len()))
}
