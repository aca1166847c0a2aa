package audit

import (
	"context"
	"sort"
	"sync"
)

// MemorySink is a thread-safe in-memory sink, used for tests and for
// deployments that do not persist audit state.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemorySink) QueryByRunID(ctx context.Context, runID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, e := range s.events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemorySink) QueryByTenantID(ctx context.Context, tenantID string, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].TenantID == tenantID {
			out = append(out, s.events[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Size returns the number of stored events.
func (s *MemorySink) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
