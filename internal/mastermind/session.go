// Package mastermind holds the state machine for a single two-player
// code-breaking match.
package mastermind

import (
	"fmt"
	"sync"
	"time"

	"codebreaker-server/internal/game"
)

// ConnectionID identifies one live connection. It is the only identity a
// player has.
type ConnectionID string

type State string

const (
	StateAwaitingSecrets State = "awaiting_secrets"
	StateInProgress      State = "in_progress"
	StateFinished        State = "finished"
	StateAbandoned       State = "abandoned"
)

type Role string

const (
	RoleChallenger Role = "challenger"
	RoleAccepter   Role = "accepter"
)

// GuessRecord is one submitted guess and the feedback it earned.
type GuessRecord struct {
	Code     game.Code     `json:"code"`
	Feedback game.Feedback `json:"feedback"`
}

type CommitResult struct {
	Opponent ConnectionID
	// BothCommitted reports the derived flag after this commit.
	BothCommitted bool
	// Started is true only for the commit that completed the second secret.
	Started bool
}

type GuessResult struct {
	Record       GuessRecord
	Opponent     ConnectionID
	Attempt      int
	AttemptsLeft int
	IsWin        bool
	IsOver       bool
	// Finished is true only for the guess that ended the row.
	Finished     bool
}

// row is one player's attempts against the opponent's secret.
type row struct {
	guesses []GuessRecord
	over    bool
	won     bool
}

// Session is one match between a challenger (PlayerA) and an accepter
// (PlayerB). All mutable state is guarded by mu.
type Session struct {
	ID        string
	PlayerA   ConnectionID
	PlayerB   ConnectionID
	CreatedAt time.Time

	mu        sync.Mutex
	secretA   game.Code
	secretB   game.Code
	rowA      row // PlayerA guessing secretB
	rowB      row // PlayerB guessing secretA
	abandoned bool
}

func NewSession(id string, playerA, playerB ConnectionID, now time.Time) (*Session, error) {
	if playerA == "" || playerB == "" {
		return nil, fmt.Errorf("new session %s: %w", id, ErrNotAParticipant)
	}
	if playerA == playerB {
		return nil, fmt.Errorf("new session %s: %w", id, ErrSamePlayer)
	}

	return &Session{
		ID:        id,
		PlayerA:   playerA,
		PlayerB:   playerB,
		CreatedAt: now,
	}, nil
}

func (s *Session) IsParticipant(player ConnectionID) bool {
	return player == s.PlayerA || player == s.PlayerB
}

func (s *Session) Opponent(player ConnectionID) (ConnectionID, bool) {
	switch player {
	case s.PlayerA:
		return s.PlayerB, true
	case s.PlayerB:
		return s.PlayerA, true
	}
	return "", false
}

func (s *Session) RoleOf(player ConnectionID) (Role, bool) {
	switch player {
	case s.PlayerA:
		return RoleChallenger, true
	case s.PlayerB:
		return RoleAccepter, true
	}
	return "", false
}

// CommitSecret stores player's secret. A player may replace their secret
// until the game is abandoned.
func (s *Session) CommitSecret(player ConnectionID, code game.Code) (CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.abandoned {
		return CommitResult{}, ErrSessionNotFound
	}

	opponent, ok := s.Opponent(player)
	if !ok {
		return CommitResult{}, ErrNotAParticipant
	}

	if err := game.ValidateCode(code); err != nil {
		return CommitResult{}, fmt.Errorf("%w: %w", ErrInvalidCode, err)
	}

	wasReady := s.bothSecretsCommitted()
	if player == s.PlayerA {
		s.secretA = code.Clone()
	} else {
		s.secretB = code.Clone()
	}
	ready := s.bothSecretsCommitted()

	return CommitResult{
		Opponent:      opponent,
		BothCommitted: ready,
		Started:       ready && !wasReady,
	}, nil
}

// SubmitGuess scores code against the opponent's secret and appends it to
// player's row.
func (s *Session) SubmitGuess(player ConnectionID, code game.Code) (GuessResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.abandoned {
		return GuessResult{}, ErrSessionNotFound
	}
	if !s.bothSecretsCommitted() {
		return GuessResult{}, ErrSecretsNotReady
	}

	opponent, ok := s.Opponent(player)
	if !ok {
		return GuessResult{}, ErrNotAParticipant
	}

	r, target := &s.rowA, s.secretB
	if player == s.PlayerB {
		r, target = &s.rowB, s.secretA
	}

	if len(r.guesses) >= game.MaxAttempts {
		return GuessResult{}, ErrAttemptsExhausted
	}

	if err := game.ValidateCode(code); err != nil {
		return GuessResult{}, fmt.Errorf("%w: %w", ErrInvalidCode, err)
	}

	feedback, err := game.Score(target, code)
	if err != nil {
		return GuessResult{}, fmt.Errorf("%w: %w", ErrInvalidCode, err)
	}

	record := GuessRecord{Code: code.Clone(), Feedback: feedback}
	r.guesses = append(r.guesses, record)

	attempt := len(r.guesses)
	isWin := code.Equal(target)
	isOver := isWin || attempt == game.MaxAttempts
	finished := isOver && !r.over
	if isOver {
		r.over = true
		r.won = r.won || isWin
	}

	return GuessResult{
		Record:       record,
		Opponent:     opponent,
		Attempt:      attempt,
		AttemptsLeft: game.MaxAttempts - attempt,
		IsWin:        isWin,
		IsOver:       isOver,
		Finished:     finished,
	}, nil
}

// Abandon marks the session as torn down. It returns false if it already was.
func (s *Session) Abandon() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.abandoned {
		return false
	}
	s.abandoned = true
	return true
}

func (s *Session) BothSecretsCommitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bothSecretsCommitted()
}

func (s *Session) bothSecretsCommitted() bool {
	return s.secretA != nil && s.secretB != nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

func (s *Session) state() State {
	switch {
	case s.abandoned:
		return StateAbandoned
	case !s.bothSecretsCommitted():
		return StateAwaitingSecrets
	case s.rowA.over || s.rowB.over:
		return StateFinished
	default:
		return StateInProgress
	}
}

// Guesses returns a copy of the row player has submitted.
func (s *Session) Guesses(player ConnectionID) []GuessRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch player {
	case s.PlayerA:
		return append([]GuessRecord(nil), s.rowA.guesses...)
	case s.PlayerB:
		return append([]GuessRecord(nil), s.rowB.guesses...)
	}
	return nil
}

// RowSummary describes one player's row.
type RowSummary struct {
	Player   ConnectionID `json:"player"`
	Attempts int          `json:"attempts"`
	Over     bool         `json:"over"`
	Won      bool         `json:"won"`
}

type Summary struct {
	ID        string     `json:"id"`
	State     State      `json:"state"`
	CreatedAt time.Time  `json:"createdAt"`
	RowA      RowSummary `json:"rowA"`
	RowB      RowSummary `json:"rowB"`
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Summary{
		ID:        s.ID,
		State:     s.state(),
		CreatedAt: s.CreatedAt,
		RowA:      RowSummary{Player: s.PlayerA, Attempts: len(s.rowA.guesses), Over: s.rowA.over, Won: s.rowA.won},
		RowB:      RowSummary{Player: s.PlayerB, Attempts: len(s.rowB.guesses), Over: s.rowB.over, Won: s.rowB.won},
	}
}
