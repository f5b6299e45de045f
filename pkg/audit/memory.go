package audit

import (
	"context"
	"fmt"
	"sync"
)

// MemorySink records events in memory for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event

	// FailEmits makes every emit return an error, for verifying the
	// fire-and-forget contract.
	FailEmits bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) EmitEvent(ctx context.Context, event Event) error {
	if s.FailEmits {
		return fmt.Errorf("emit failed: sink unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of everything emitted so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// EventTypes returns emitted event names in order.
func (s *MemorySink) EventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}
