package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/pharmalink/pharmagate/internal/domain/audit"
)

const defaultRecentCap = 1000

// EventStore implements audit.EventStore with a bounded ring buffer of the
// most recent events. When a writer is set, every event is also written
// to it as one JSON line.
type EventStore struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
	recent  []audit.SecurityEvent
	cap     int
}

// NewEventStore creates a store keeping up to capacity events (default 1000).
func NewEventStore(capacity int) *EventStore {
	return NewEventStoreWithWriter(nil, capacity)
}

// NewEventStoreWithWriter creates a store that also writes JSON lines to w.
func NewEventStoreWithWriter(w io.Writer, capacity int) *EventStore {
	if capacity <= 0 {
		capacity = defaultRecentCap
	}
	s := &EventStore{
		writer: w,
		recent: make([]audit.SecurityEvent, 0, capacity),
		cap:    capacity,
	}
	if w != nil {
		s.encoder = json.NewEncoder(w)
	}
	return s
}

// Append implements audit.EventStore.
func (s *EventStore) Append(_ context.Context, events ...audit.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if s.encoder != nil {
			if err := s.encoder.Encode(e); err != nil {
				return err
			}
		}
		if len(s.recent) >= s.cap {
			// Shift left, drop oldest.
			copy(s.recent, s.recent[1:])
			s.recent[len(s.recent)-1] = e
		} else {
			s.recent = append(s.recent, e)
		}
	}
	return nil
}

// Query implements audit.EventStore. Events are returned newest first.
func (s *EventStore) Query(_ context.Context, filter audit.Filter) ([]audit.SecurityEvent, error) {
	filter = filter.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	result := []audit.SecurityEvent{}
	for i := len(s.recent) - 1; i >= 0 && len(result) < filter.Limit; i-- {
		if filter.Matches(s.recent[i]) {
			result = append(result, s.recent[i])
		}
	}
	return result, nil
}

// Len returns the number of buffered events.
func (s *EventStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recent)
}

// Ping always succeeds; it only checks the buffer lock is free.
func (s *EventStore) Ping(context.Context) error {
	_ = s.Len()
	return nil
}

// Close closes the writer when it is a file other than stdout/stderr.
func (s *EventStore) Close() error {
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// Compile-time interface verification.
var _ audit.EventStore = (*EventStore)(nil)
