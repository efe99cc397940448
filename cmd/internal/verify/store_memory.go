package verify

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"evacom/cmd/security/challenge"
)

// MemoryStore is the in-process Store.
//
// Each user has its own entry guarded by its own mutex; the sync.Map only
// serializes entry creation and deletion. An entry that has been unlinked
// from the map is marked gone so late lockers retry with a fresh entry.
type MemoryStore struct {
	ttl         time.Duration
	cooldown    time.Duration
	maxAttempts int
	rand        io.Reader

	entries sync.Map // userID -> *entry
	size    atomic.Int64
}

type entry struct {
	mu   sync.Mutex
	sess *Session
	gone bool
}

// NewMemoryStore constructs a MemoryStore using cfg's TTL, cooldown and
// attempt cap. rand is the nonce source; nil means crypto/rand.
func NewMemoryStore(cfg Config, rand io.Reader) *MemoryStore {
	return &MemoryStore{
		ttl:         cfg.TTL(),
		cooldown:    cfg.Cooldown(),
		maxAttempts: cfg.MaxAttempts,
		rand:        rand,
	}
}

// acquire returns the user's entry locked, or nil when it does not exist and
// create is false.
func (s *MemoryStore) acquire(userID string, create bool) *entry {
	for {
		var e *entry
		if create {
			v, _ := s.entries.LoadOrStore(userID, &entry{})
			e = v.(*entry)
		} else {
			v, ok := s.entries.Load(userID)
			if !ok {
				return nil
			}
			e = v.(*entry)
		}

		e.mu.Lock()
		if e.gone {
			e.mu.Unlock()
			continue
		}
		return e
	}
}

// dropLocked unlinks e. Caller holds e.mu.
func (s *MemoryStore) dropLocked(userID string, e *entry) {
	if e.sess != nil {
		s.size.Add(-1)
	}
	e.sess = nil
	e.gone = true
	s.entries.CompareAndDelete(userID, e)
}

// Get implements Store.
func (s *MemoryStore) Get(userID string) (Session, bool) {
	e := s.acquire(userID, false)
	if e == nil {
		return Session{}, false
	}
	defer e.mu.Unlock()

	if e.sess == nil {
		return Session{}, false
	}
	return *e.sess, true
}

// BeginOrResume implements Store. The cooldown is checked before anything is
// refreshed so a throttled call leaves the session untouched.
func (s *MemoryStore) BeginOrResume(userID string, now time.Time) (Session, bool, error) {
	e := s.acquire(userID, true)
	defer e.mu.Unlock()

	if cur := e.sess; cur != nil {
		if cur.CooldownUntil.After(now) {
			return Session{}, false, ThrottleError{RetryAfter: cur.CooldownUntil.Sub(now)}
		}
		if !cur.Expired(now, s.ttl) {
			cur.CooldownUntil = now.Add(s.cooldown)
			return *cur, false, nil
		}
	}

	nonce, err := challenge.NewNonce(s.rand)
	if err != nil {
		if e.sess == nil {
			s.dropLocked(userID, e)
		}
		return Session{}, false, err
	}

	if e.sess == nil {
		s.size.Add(1)
	}
	e.sess = &Session{
		UserID:        userID,
		Nonce:         nonce,
		CreatedAt:     now,
		CooldownUntil: now.Add(s.cooldown),
	}
	return *e.sess, true, nil
}

// Inspect implements Store.
func (s *MemoryStore) Inspect(userID string, now time.Time) (Session, error) {
	e := s.acquire(userID, false)
	if e == nil {
		return Session{}, ErrNoSession
	}
	defer e.mu.Unlock()

	switch {
	case e.sess == nil:
		return Session{}, ErrNoSession
	case e.sess.Expired(now, s.ttl):
		s.dropLocked(userID, e)
		return Session{}, ErrSessionExpired
	case e.sess.Attempts >= s.maxAttempts:
		s.dropLocked(userID, e)
		return Session{}, ErrAttemptsExhausted
	case e.sess.Granting:
		return Session{}, ErrGrantInProgress
	}
	return *e.sess, nil
}

// Claim implements Store.
func (s *MemoryStore) Claim(userID, nonce string, now time.Time) (Session, error) {
	e := s.acquire(userID, false)
	if e == nil {
		return Session{}, ErrNoSession
	}
	defer e.mu.Unlock()

	switch {
	case e.sess == nil || e.sess.Nonce != nonce:
		return Session{}, ErrNoSession
	case e.sess.Expired(now, s.ttl):
		s.dropLocked(userID, e)
		return Session{}, ErrSessionExpired
	case e.sess.Granting:
		return Session{}, ErrGrantInProgress
	}
	e.sess.Granting = true
	return *e.sess, nil
}

// Release implements Store.
func (s *MemoryStore) Release(userID, nonce string) {
	e := s.acquire(userID, false)
	if e == nil {
		return
	}
	defer e.mu.Unlock()

	if e.sess != nil && e.sess.Nonce == nonce {
		e.sess.Granting = false
	}
}

// RemoveIf implements Store.
func (s *MemoryStore) RemoveIf(userID, nonce string) bool {
	e := s.acquire(userID, false)
	if e == nil {
		return false
	}
	defer e.mu.Unlock()

	if e.sess == nil || e.sess.Nonce != nonce {
		return false
	}
	s.dropLocked(userID, e)
	return true
}

// RecordFailure implements Store. A session replaced since the caller read
// it (different nonce) is left alone and reported as ErrNoSession.
func (s *MemoryStore) RecordFailure(userID, nonce string) (int, error) {
	e := s.acquire(userID, false)
	if e == nil {
		return 0, ErrNoSession
	}
	defer e.mu.Unlock()

	if e.sess == nil || e.sess.Nonce != nonce {
		return 0, ErrNoSession
	}

	e.sess.Attempts++
	attempts := e.sess.Attempts
	if attempts >= s.maxAttempts {
		s.dropLocked(userID, e)
	}
	return attempts, nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(userID string) {
	e := s.acquire(userID, false)
	if e == nil {
		return
	}
	defer e.mu.Unlock()

	if e.sess != nil {
		s.dropLocked(userID, e)
	}
}

// Sweep implements Store. now is a single snapshot for the whole pass;
// entries are locked one at a time so concurrent calls keep running.
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	s.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if !e.gone && e.sess != nil && e.sess.Expired(now, s.ttl) {
			s.dropLocked(k.(string), e)
			removed++
		}
		e.mu.Unlock()
		return true
	})
	return removed
}

// Len implements Store.
func (s *MemoryStore) Len() int {
	return int(s.size.Load())
}
