package store

import (
	"sync/atomic"
	"time"

	"github.com/azmonbridge/azmonbridge/pkg/snapshot"
)

// Entry is a snapshot together with the time it was published.
type Entry struct {
	Snapshot  *snapshot.Snapshot
	UpdatedAt time.Time
}

// Store is a lock-free holder for the latest published Entry plus the time of
// the last refresh attempt, successful or not.
type Store struct {
	cur     atomic.Pointer[Entry]
	attempt atomic.Int64 // unix nanos of the last refresh attempt
	now     func() time.Time // injectable for deterministic tests
}

// New creates an empty Store.
func New() *Store {
	return &Store{now: time.Now}
}

// Put publishes snap as the current snapshot. Callers must not modify snap
// after calling Put. A nil snap is ignored so the previous value survives.
func (s *Store) Put(snap *snapshot.Snapshot) {
	if snap == nil {
		return
	}
	s.cur.Store(&Entry{Snapshot: snap, UpdatedAt: s.now()})
}

// Current returns the latest published entry, or false before the first Put.
func (s *Store) Current() (*Entry, bool) {
	e := s.cur.Load()
	return e, e != nil
}

// MarkAttempt records that a refresh was attempted now.
func (s *Store) MarkAttempt() {
	s.attempt.Store(s.now().UnixNano())
}

// LastAttempt returns the time of the last refresh attempt, zero if none.
func (s *Store) LastAttempt() time.Time {
	n := s.attempt.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Fresh reports whether a snapshot was published within maxAge.
func (s *Store) Fresh(maxAge time.Duration) bool {
	e, ok := s.Current()
	if !ok {
		return false
	}
	return s.now().Sub(e.UpdatedAt) <= maxAge
}
