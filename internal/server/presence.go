package server

import (
	"slices"
	"strings"
	"sync"

	"codebreaker-server/internal/mastermind"
)

type ParticipantStatus string

const (
	StatusAvailable ParticipantStatus = "available"
	StatusInGame    ParticipantStatus = "in_game"
)

type Participant struct {
	ConnectionID mastermind.ConnectionID `json:"connectionId"`
	DisplayName  string                  `json:"username"`
	Status       ParticipantStatus       `json:"status"`
}

// PresenceListener receives the full snapshot after every change.
type PresenceListener func(snapshot []Participant)

// PresenceRegistry tracks registered connections and publishes a snapshot
// to its listeners whenever an entry is added, changed or removed.
type PresenceRegistry struct {
	participants map[mastermind.ConnectionID]Participant
	mu           sync.RWMutex

	listeners []PresenceListener
	// publishMu keeps snapshots delivered in the order changes were made.
	publishMu sync.Mutex
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		participants: make(map[mastermind.ConnectionID]Participant),
	}
}

// Subscribe must be called before the registry is shared.
func (p *PresenceRegistry) Subscribe(fn PresenceListener) {
	p.listeners = append(p.listeners, fn)
}

// Register upserts the display name for id. Status is kept on rename.
func (p *PresenceRegistry) Register(id mastermind.ConnectionID, name string) Participant {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.mu.Lock()
	entry, exists := p.participants[id]
	if !exists {
		entry = Participant{ConnectionID: id, Status: StatusAvailable}
	}
	entry.DisplayName = name
	p.participants[id] = entry
	p.mu.Unlock()

	p.publish()
	return entry
}

func (p *PresenceRegistry) Remove(id mastermind.ConnectionID) bool {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.mu.Lock()
	_, exists := p.participants[id]
	delete(p.participants, id)
	p.mu.Unlock()

	if exists {
		p.publish()
	}
	return exists
}

// SetStatus publishes only when the status actually changes.
func (p *PresenceRegistry) SetStatus(id mastermind.ConnectionID, status ParticipantStatus) bool {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.mu.Lock()
	entry, exists := p.participants[id]
	changed := exists && entry.Status != status
	if changed {
		entry.Status = status
		p.participants[id] = entry
	}
	p.mu.Unlock()

	if changed {
		p.publish()
	}
	return changed
}

func (p *PresenceRegistry) Get(id mastermind.ConnectionID) (Participant, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.participants[id]
	return entry, ok
}

func (p *PresenceRegistry) IsPresent(id mastermind.ConnectionID) bool {
	_, ok := p.Get(id)
	return ok
}

func (p *PresenceRegistry) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.participants)
}

// Snapshot is sorted by display name, then connection id.
func (p *PresenceRegistry) Snapshot() []Participant {
	p.mu.RLock()
	out := make([]Participant, 0, len(p.participants))
	for _, entry := range p.participants {
		out = append(out, entry)
	}
	p.mu.RUnlock()

	slices.SortFunc(out, func(a, b Participant) int {
		if c := strings.Compare(a.DisplayName, b.DisplayName); c != 0 {
			return c
		}
		return strings.Compare(string(a.ConnectionID), string(b.ConnectionID))
	})
	return out
}

func (p *PresenceRegistry) publish() {
	if len(p.listeners) == 0 {
		return
	}
	snapshot := p.Snapshot()
	for _, fn := range p.listeners {
		fn(snapshot)
	}
}

// syncStatus marks each id in_game while it has a session that is still
// awaiting secrets or in progress, and available otherwise.
func syncStatus(presence *PresenceRegistry, sessions *SessionStore, ids ...mastermind.ConnectionID) {
	for _, id := range ids {
		status := StatusAvailable
		for _, sess := range sessions.ForParticipant(id) {
			switch sess.State() {
			case mastermind.StateAwaitingSecrets, mastermind.StateInProgress:
				status = StatusInGame
			}
		}
		presence.SetStatus(id, status)
	}
}
