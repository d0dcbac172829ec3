package server

import (
	"codebreaker-server/internal/game"
	"codebreaker-server/internal/mastermind"
)

// ============================================================================
// ERROR RESPONSES
// ============================================================================
type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type GuessErrorNotification struct {
	GameID  string `json:"gameId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ============================================================================
// CONNECTION (connected)
// ============================================================================
type ConnectedNotification struct {
	ConnectionID mastermind.ConnectionID `json:"connectionId"`
}

// ============================================================================
// PRESENCE (register_user, get_users, user_list broadcast)
// ============================================================================
type RegisterUserRequest struct {
	Username string `json:"username"`
}

type UserListNotification struct {
	Users []Participant `json:"users"`
}

// ============================================================================
// CHALLENGES (send_challenge, accept_challenge)
// ============================================================================
type SendChallengeRequest struct {
	TargetConnectionID mastermind.ConnectionID `json:"targetConnectionId"`
}

type AcceptChallengeRequest struct {
	ChallengerConnectionID mastermind.ConnectionID `json:"challengerConnectionId"`
}

type ChallengeReceivedNotification struct {
	ChallengerID   mastermind.ConnectionID `json:"challengerId"`
	ChallengerName string                  `json:"challengerName"`
}

type ChallengeAcceptedNotification struct {
	GameID       string                  `json:"gameId"`
	Role         mastermind.Role         `json:"role"`
	OpponentID   mastermind.ConnectionID `json:"opponentId"`
	OpponentName string                  `json:"opponentName"`
}

// ============================================================================
// SECRETS (set_secret_code)
// ============================================================================
type SetSecretCodeRequest struct {
	GameID     string    `json:"gameId"`
	SecretCode game.Code `json:"secretCode"`
}

// GameNotification carries only the game id. Used for secret_code_set,
// opponent_secret_set and both_secrets_ready.
type GameNotification struct {
	GameID string `json:"gameId"`
}

// ============================================================================
// GUESSES (submit_guess)
// ============================================================================
type SubmitGuessRequest struct {
	GameID string    `json:"gameId"`
	Guess  game.Code `json:"guess"`
}

type GuessResultNotification struct {
	GameID       string        `json:"gameId"`
	Guess        game.Code     `json:"guess"`
	Feedback     game.Feedback `json:"feedback"`
	Pegs         []game.Peg    `json:"pegs"`
	Attempt      int           `json:"attempt"`
	AttemptsLeft int           `json:"attemptsLeft"`
	IsWin        bool          `json:"isWin"`
	IsOver       bool          `json:"isOver"`
}

// OpponentGuessNotification lets the opponent render the guess without
// learning anything about their own secret beyond the feedback.
type OpponentGuessNotification struct {
	GameID   string        `json:"gameId"`
	Guess    game.Code     `json:"guess"`
	Feedback game.Feedback `json:"feedback"`
	Pegs     []game.Peg    `json:"pegs"`
	Attempt  int           `json:"attempt"`
}

type OpponentGameStatusNotification struct {
	GameID       string `json:"gameId"`
	OpponentWon  bool   `json:"opponentWon"`
	OpponentLost bool   `json:"opponentLost"`
}

// ============================================================================
// TEARDOWN (opponent_disconnected, server_shutdown)
// ============================================================================
type OpponentDisconnectedNotification struct {
	GameID     string                  `json:"gameId"`
	OpponentID mastermind.ConnectionID `json:"opponentId"`
}

type ServerShutdownNotification struct {
	Message string `json:"message"`
}
