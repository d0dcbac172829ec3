package server

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"codebreaker-server/internal/mastermind"
)

var ErrSessionExists = errors.New("SESSION_EXISTS: Game id already in use")

// SessionStore maps game ids to live sessions. Lock order is store before
// session.
type SessionStore struct {
	sessions map[string]*mastermind.Session
	// departed holds connections already torn down by RemoveAllFor. Create
	// refuses them so a session cannot outlive its participant.
	departed map[mastermind.ConnectionID]time.Time
	mu       sync.RWMutex
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*mastermind.Session),
		departed: make(map[mastermind.ConnectionID]time.Time),
	}
}

func (ss *SessionStore) Create(id string, playerA, playerB mastermind.ConnectionID, now time.Time) (*mastermind.Session, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}

	session, err := mastermind.NewSession(id, playerA, playerB, now)
	if err != nil {
		return nil, err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	for _, player := range []mastermind.ConnectionID{playerA, playerB} {
		if _, gone := ss.departed[player]; gone {
			return nil, fmt.Errorf("create %s: %s: %w", id, player, mastermind.ErrTargetNotPresent)
		}
	}
	if _, exists := ss.sessions[id]; exists {
		return nil, fmt.Errorf("create %s: %w", id, ErrSessionExists)
	}
	ss.sessions[id] = session
	return session, nil
}

func (ss *SessionStore) Get(id string) (*mastermind.Session, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	session, exists := ss.sessions[id]
	if !exists {
		return nil, mastermind.ErrSessionNotFound
	}
	return session, nil
}

func (ss *SessionStore) Exists(id string) bool {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	_, exists := ss.sessions[id]
	return exists
}

// RemoveAllFor removes and abandons every session conn takes part in,
// oldest first. A guess that reaches one of them afterwards fails with
// ErrSessionNotFound, and conn can no longer join a new session.
func (ss *SessionStore) RemoveAllFor(conn mastermind.ConnectionID) []*mastermind.Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	ss.departed[conn] = time.Now()

	var removed []*mastermind.Session
	for id, session := range ss.sessions {
		if !session.IsParticipant(conn) {
			continue
		}
		delete(ss.sessions, id)
		session.Abandon()
		removed = append(removed, session)
	}

	sortByCreation(removed)
	return removed
}

// ForgetDeparted drops departure marks older than maxAge and returns how
// many it dropped. Connection ids are never reused, so the marks only
// need to outlive an accept already in flight.
func (ss *SessionStore) ForgetDeparted(maxAge time.Duration) int {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	dropped := 0
	for conn, at := range ss.departed {
		if at.Before(cutoff) {
			delete(ss.departed, conn)
			dropped++
		}
	}
	return dropped
}

func (ss *SessionStore) ForParticipant(conn mastermind.ConnectionID) []*mastermind.Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	var out []*mastermind.Session
	for _, session := range ss.sessions {
		if session.IsParticipant(conn) {
			out = append(out, session)
		}
	}

	sortByCreation(out)
	return out
}

func (ss *SessionStore) Count() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

// All returns every live session, oldest first.
func (ss *SessionStore) All() []*mastermind.Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	out := make([]*mastermind.Session, 0, len(ss.sessions))
	for _, session := range ss.sessions {
		out = append(out, session)
	}

	sortByCreation(out)
	return out
}

func sortByCreation(sessions []*mastermind.Session) {
	slices.SortFunc(sessions, func(a, b *mastermind.Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
