package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codebreaker-server/internal/mastermind"

	"github.com/rs/zerolog/log"
)

// Notifier delivers one message to one connection without blocking.
type Notifier interface {
	Send(id mastermind.ConnectionID, msg ServerMessage) bool
}

// ChallengeBroker turns challenges between present participants into
// sessions.
type ChallengeBroker struct {
	presence *PresenceRegistry
	sessions *SessionStore
	notifier Notifier
	recorder MatchRecorder
	now      func() time.Time
}

func NewChallengeBroker(presence *PresenceRegistry, sessions *SessionStore, notifier Notifier, recorder MatchRecorder) *ChallengeBroker {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &ChallengeBroker{
		presence: presence,
		sessions: sessions,
		notifier: notifier,
		recorder: recorder,
		now:      time.Now,
	}
}

// SendChallenge forwards a challenge from one participant to another.
// Nothing is stored: accepting only requires both sides to be present.
func (b *ChallengeBroker) SendChallenge(from, to mastermind.ConnectionID) error {
	if from == to {
		return fmt.Errorf("challenge %s: %w", to, mastermind.ErrTargetNotPresent)
	}

	if !b.presence.IsPresent(to) {
		return fmt.Errorf("challenge %s: %w", to, mastermind.ErrTargetNotPresent)
	}

	challenger, ok := b.presence.Get(from)
	if !ok {
		return fmt.Errorf("challenge from %s: %w", from, mastermind.ErrTargetNotPresent)
	}

	b.notifier.Send(to, ServerMessage{
		Type: NotifyChallengeReceived,
		Payload: ChallengeReceivedNotification{
			ChallengerID:   from,
			ChallengerName: challenger.DisplayName,
		},
	})
	return nil
}

// AcceptChallenge starts a session with the challenger as PlayerA and the
// accepter as PlayerB, then tells both sides their role.
func (b *ChallengeBroker) AcceptChallenge(ctx context.Context, accepter, challenger mastermind.ConnectionID) (*mastermind.Session, error) {
	if accepter == challenger {
		return nil, fmt.Errorf("accept %s: %w", challenger, mastermind.ErrTargetNotPresent)
	}

	challengerEntry, ok := b.presence.Get(challenger)
	if !ok {
		return nil, fmt.Errorf("accept %s: %w", challenger, mastermind.ErrTargetNotPresent)
	}
	accepterEntry, ok := b.presence.Get(accepter)
	if !ok {
		return nil, fmt.Errorf("accept by %s: %w", accepter, mastermind.ErrTargetNotPresent)
	}

	session, err := b.createSession(challenger, accepter)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("game", session.ID).
		Str("challenger", string(challenger)).
		Str("accepter", string(accepter)).
		Msg("game started")

	if err := b.recorder.RecordStart(ctx, MatchStart{
		ID:          session.ID,
		PlayerA:     challenger,
		PlayerB:     accepter,
		PlayerAName: challengerEntry.DisplayName,
		PlayerBName: accepterEntry.DisplayName,
		CreatedAt:   session.CreatedAt,
	}); err != nil {
		log.Warn().Err(err).Str("game", session.ID).Msg("failed to record match start")
	}

	// A disconnect that ran after Create already abandoned the session and
	// told the survivor.
	if session.State() == mastermind.StateAbandoned {
		syncStatus(b.presence, b.sessions, accepter)
		return nil, fmt.Errorf("accept %s: %w", challenger, mastermind.ErrTargetNotPresent)
	}

	syncStatus(b.presence, b.sessions, challenger, accepter)

	b.notifier.Send(challenger, ServerMessage{
		Type: NotifyChallengeAccepted,
		Payload: ChallengeAcceptedNotification{
			GameID:       session.ID,
			Role:         mastermind.RoleChallenger,
			OpponentID:   accepter,
			OpponentName: accepterEntry.DisplayName,
		},
	})
	b.notifier.Send(accepter, ServerMessage{
		Type: NotifyChallengeAccepted,
		Payload: ChallengeAcceptedNotification{
			GameID:       session.ID,
			Role:         mastermind.RoleAccepter,
			OpponentID:   challenger,
			OpponentName: challengerEntry.DisplayName,
		},
	})

	return session, nil
}

// createSession retries when another accept claimed the generated id
// between generation and insert.
func (b *ChallengeBroker) createSession(playerA, playerB mastermind.ConnectionID) (*mastermind.Session, error) {
	const maxAttempts = 5

	now := b.now()
	for i := 0; i < maxAttempts; i++ {
		id := GenerateSessionID(playerA, playerB, now, b.sessions.Exists)
		session, err := b.sessions.Create(id, playerA, playerB, now)
		if errors.Is(err, ErrSessionExists) {
			continue
		}
		return session, err
	}
	return nil, fmt.Errorf("accept %s: %w", playerA, ErrSessionExists)
}
