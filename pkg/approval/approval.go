// Package approval implements the out-of-band second-phase authorization
// store: pending calls keyed by single-use opaque tokens.
package approval

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rigproject/rig/pkg/rtp"
)

// DefaultTTL bounds how long an unconsumed token stays valid. Abandoned
// approvals age out instead of growing the table forever.
const DefaultTTL = time.Hour

// Record is the pending call captured when the runtime refuses for
// approval. It is consumed exactly once.
type Record struct {
	ToolName  string
	Args      map[string]any
	Ctx       rtp.CallContext
	CreatedAt time.Time
}

// Store is a thread-safe in-memory token table.
type Store struct {
	mu      sync.Mutex
	pending map[string]Record
	ttl     time.Duration
	clock   func() time.Time
}

func NewStore() *Store {
	return &Store{
		pending: make(map[string]Record),
		ttl:     DefaultTTL,
		clock:   time.Now,
	}
}

// WithTTL overrides the expiry interval. Zero or negative disables aging.
func (s *Store) WithTTL(ttl time.Duration) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = ttl
	return s
}

// WithClock overrides the clock for testing.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
	return s
}

// Create stores a pending call and returns a fresh token.
func (s *Store) Create(toolName string, args map[string]any, ctx rtp.CallContext) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := uuid.New().String()
	s.pending[token] = Record{
		ToolName:  toolName,
		Args:      args,
		Ctx:       ctx,
		CreatedAt: s.clock(),
	}
	return token
}

// Pop atomically returns and removes the record for a token. A second Pop
// on the same token, or a Pop of an expired token, reports not-present.
func (s *Store) Pop(token string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.pending[token]
	if !ok {
		return Record{}, false
	}
	delete(s.pending, token)
	if s.expired(rec) {
		return Record{}, false
	}
	return rec, true
}

// Sweep removes aged-out records and returns how many were dropped.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for token, rec := range s.pending {
		if s.expired(rec) {
			delete(s.pending, token)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of pending records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Store) expired(rec Record) bool {
	return s.ttl > 0 && s.clock().Sub(rec.CreatedAt) > s.ttl
}
