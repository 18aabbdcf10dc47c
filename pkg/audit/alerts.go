package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// AlertStore holds the live alert set. A raised alert stays active until
// cleared; acknowledging marks it seen without removing it.
type AlertStore struct {
	mu     sync.Mutex
	alerts map[string]*Alert
	order  []string
	pub    Publisher
}

// NewAlertStore creates an empty alert store. pub may be nil.
func NewAlertStore(pub Publisher) *AlertStore {
	return &AlertStore{
		alerts: make(map[string]*Alert),
		pub:    pub,
	}
}

// Raise adds an alert and returns its ID. A missing ID or timestamp is
// assigned here so callers can hand in partially filled alerts.
func (s *AlertStore) Raise(a Alert) string {
	if a.ID == "" {
		a.ID = ulid.Make().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	s.mu.Lock()
	if _, exists := s.alerts[a.ID]; !exists {
		s.order = append(s.order, a.ID)
	}
	stored := a
	s.alerts[a.ID] = &stored
	s.mu.Unlock()

	if s.pub != nil {
		if data, err := json.Marshal(a); err == nil {
			_ = s.pub.Publish(context.Background(), SubjectAlert, data)
		}
	}
	return a.ID
}

// Acknowledge marks an alert as seen.
func (s *AlertStore) Acknowledge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return fmt.Errorf("unknown alert: %s", id)
	}
	a.IsAcknowledged = true
	return nil
}

// Clear removes an alert from the live set.
func (s *AlertStore) Clear(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[id]; !ok {
		return fmt.Errorf("unknown alert: %s", id)
	}
	delete(s.alerts, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns a copy of an alert.
func (s *AlertStore) Get(id string) (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return Alert{}, false
	}
	return *a, true
}

// Active returns all live alerts in raise order.
func (s *AlertStore) Active() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, 0, len(s.order))
	for _, id := range s.order {
		if a, ok := s.alerts[id]; ok {
			out = append(out, *a)
		}
	}
	return out
}

// AtLeast returns live alerts with severity >= level, in raise order.
func (s *AlertStore) AtLeast(level ThreatLevel) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Alert
	for _, id := range s.order {
		if a, ok := s.alerts[id]; ok && a.Severity >= level {
			out = append(out, *a)
		}
	}
	return out
}

// Unacknowledged reports how many live alerts have not been seen.
func (s *AlertStore) Unacknowledged() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.alerts {
		if !a.IsAcknowledged {
			n++
		}
	}
	return n
}
