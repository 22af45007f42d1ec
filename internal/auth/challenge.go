package auth

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

// ChallengeStore holds outstanding EMAIL 2FA codes. Codes live for a fixed
// TTL and are consumed on the first successful match; a wrong guess leaves
// the code in place until expiry.
//
// The in-memory implementation is only correct for single-instance
// deployments: a multi-instance deployment must either pin a login's
// challenge-and-verify pair to one process or use the Redis-backed store.
type ChallengeStore interface {
	Put(ctx context.Context, key, code string, ttl time.Duration) error
	// TakeIfMatch deletes and returns true iff the stored, unexpired code
	// matches. A mismatch leaves the entry untouched.
	TakeIfMatch(ctx context.Context, key, code string) (bool, error)
}

type challengeEntry struct {
	code      string
	expiresAt time.Time
}

// MemoryChallengeStore is a process-local ChallengeStore with a background
// sweep for expired entries.
type MemoryChallengeStore struct {
	mu      sync.Mutex
	entries map[string]challengeEntry
	stopCh  chan struct{}
}

// NewMemoryChallengeStore creates the store and starts its sweep loop.
func NewMemoryChallengeStore(sweepInterval time.Duration) *MemoryChallengeStore {
	s := &MemoryChallengeStore{
		entries: make(map[string]challengeEntry),
		stopCh:  make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

// Put stores a code under the key, replacing any outstanding challenge.
func (s *MemoryChallengeStore) Put(_ context.Context, key, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = challengeEntry{code: code, expiresAt: time.Now().Add(ttl)}
	return nil
}

// TakeIfMatch implements ChallengeStore.
func (s *MemoryChallengeStore) TakeIfMatch(_ context.Context, key, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.entries, key)
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(entry.code), []byte(code)) != 1 {
		return false, nil
	}

	delete(s.entries, key)
	return true, nil
}

// Stop terminates the sweep loop.
func (s *MemoryChallengeStore) Stop() {
	close(s.stopCh)
}

func (s *MemoryChallengeStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryChallengeStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}
