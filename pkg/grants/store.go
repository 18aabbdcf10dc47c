// Package grants tracks which capabilities each conversation has been
// authorized to use, and for how long.
//
// A conversation's active capability set only grows while grants are
// active; it shrinks through exactly two paths: Once grants consumed by a
// successful execution, and explicit revocation.
package grants

import (
	"sync"
	"time"

	"github.com/halcyonchat/sentinel/pkg/capability"
)

// Persister stores Always-duration grants across sessions. Once and
// Session grants never touch it.
type Persister interface {
	SaveGrant(conversationID string, caps []capability.Capability, grantedAt time.Time) error
	DeleteGrants(conversationID string) error
	LoadGrants() (map[string][]capability.Capability, error)
}

// Grant is a snapshot of one conversation's authorization state.
type Grant struct {
	ConversationID string
	Capabilities   capability.Set
	GrantedAt      time.Time
}

type conversationGrants struct {
	mu        sync.Mutex
	caps      map[capability.Capability]capability.Duration
	grantedAt time.Time
}

// Store is the capability grant store. Mutations for a single
// conversation are linearized under that conversation's lock, so a
// Check immediately followed by Consume cannot interleave with another
// request's Consume for the same conversation.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversationGrants
	persist       Persister
}

// NewStore creates an empty grant store. persist may be nil; without it,
// Always grants behave like Session grants.
func NewStore(persist Persister) (*Store, error) {
	s := &Store{
		conversations: make(map[string]*conversationGrants),
		persist:       persist,
	}
	if persist != nil {
		saved, err := persist.LoadGrants()
		if err != nil {
			return nil, err
		}
		for conv, caps := range saved {
			entry := s.entry(conv)
			entry.mu.Lock()
			for _, c := range caps {
				entry.caps[c] = capability.DurationAlways
			}
			entry.mu.Unlock()
		}
	}
	return s, nil
}

func (s *Store) entry(conversationID string) *conversationGrants {
	s.mu.RLock()
	e, ok := s.conversations[conversationID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.conversations[conversationID]; ok {
		return e
	}
	e = &conversationGrants{caps: make(map[capability.Capability]capability.Duration)}
	s.conversations[conversationID] = e
	return e
}

// Grant authorizes capabilities for a conversation. Granting is
// idempotent; re-granting an already-held capability with a longer-lived
// duration upgrades it, while a shorter-lived re-grant leaves the
// existing one untouched (the active set never weakens on grant).
func (s *Store) Grant(conversationID string, caps capability.Set, duration capability.Duration) error {
	e := s.entry(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	if e.grantedAt.IsZero() {
		e.grantedAt = now
	}
	for c := range caps {
		if existing, ok := e.caps[c]; !ok || duration > existing {
			e.caps[c] = duration
		}
	}

	if duration == capability.DurationAlways && s.persist != nil {
		return s.persist.SaveGrant(conversationID, s.alwaysCapsLocked(e), now)
	}
	return nil
}

// alwaysCapsLocked returns the Always-duration capabilities of an entry.
// Caller holds e.mu.
func (s *Store) alwaysCapsLocked(e *conversationGrants) []capability.Capability {
	var out []capability.Capability
	for _, c := range capability.All() {
		if d, ok := e.caps[c]; ok && d == capability.DurationAlways {
			out = append(out, c)
		}
	}
	return out
}

// Check returns the subset of required not covered by the conversation's
// active grant, in capability declaration order. An empty result means
// fully authorized.
func (s *Store) Check(conversationID string, required capability.Set) []capability.Capability {
	e := s.entry(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()

	var missing []capability.Capability
	for _, c := range capability.All() {
		if !required.Has(c) {
			continue
		}
		if _, ok := e.caps[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// Consume removes used capabilities whose originating grant was Once.
// Called only after a successful execution; Session and Always grants
// are untouched.
func (s *Store) Consume(conversationID string, used capability.Set) {
	e := s.entry(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()

	for c := range used {
		if d, ok := e.caps[c]; ok && d == capability.DurationOnce {
			delete(e.caps, c)
		}
	}
}

// Revoke removes every grant for a conversation immediately. In-flight
// executions that already passed Check are not cancelled; checked-then-run
// is snapshot semantics.
func (s *Store) Revoke(conversationID string) error {
	e := s.entry(conversationID)
	e.mu.Lock()
	e.caps = make(map[capability.Capability]capability.Duration)
	e.grantedAt = time.Time{}
	e.mu.Unlock()

	if s.persist != nil {
		return s.persist.DeleteGrants(conversationID)
	}
	return nil
}

// Active returns a snapshot of the conversation's current grant.
func (s *Store) Active(conversationID string) Grant {
	e := s.entry(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()

	set := capability.NewSet()
	for c := range e.caps {
		set = set.Add(c)
	}
	return Grant{
		ConversationID: conversationID,
		Capabilities:   set,
		GrantedAt:      e.grantedAt,
	}
}
