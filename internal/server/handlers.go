package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"codebreaker-server/internal/game"
	"codebreaker-server/internal/mastermind"

	"github.com/rs/zerolog/log"
)

const recordTimeout = 5 * time.Second

func (s *Server) handlePing(c *Client) {
	s.send(c.ID, ServerMessage{Type: NotifyPong, Payload: struct{}{}})
}

// ============================================================================
// PRESENCE
// ============================================================================

func (s *Server) handleRegisterUser(c *Client, payload json.RawMessage) {
	var req RegisterUserRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(c.ID, "INVALID_PAYLOAD", "Invalid register_user payload")
		return
	}

	name, err := ValidateUsername(req.Username)
	if err != nil {
		s.sendErr(c.ID, err)
		return
	}

	// The registry publishes the new snapshot to every connection.
	s.presence.Register(c.ID, name)
	log.Info().Str("conn", string(c.ID)).Str("username", name).Msg("user registered")
}

func (s *Server) handleGetUsers(c *Client) {
	s.send(c.ID, ServerMessage{
		Type:    NotifyUserList,
		Payload: UserListNotification{Users: s.presence.Snapshot()},
	})
}

// ============================================================================
// CHALLENGES
// ============================================================================

func (s *Server) handleSendChallenge(c *Client, payload json.RawMessage) {
	var req SendChallengeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(c.ID, "INVALID_PAYLOAD", "Invalid send_challenge payload")
		return
	}

	if err := s.broker.SendChallenge(c.ID, req.TargetConnectionID); err != nil {
		log.Debug().Err(err).Str("conn", string(c.ID)).Msg("challenge dropped")
	}
}

func (s *Server) handleAcceptChallenge(ctx context.Context, c *Client, payload json.RawMessage) {
	var req AcceptChallengeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(c.ID, "INVALID_PAYLOAD", "Invalid accept_challenge payload")
		return
	}

	if _, err := s.broker.AcceptChallenge(ctx, c.ID, req.ChallengerConnectionID); err != nil {
		log.Debug().Err(err).Str("conn", string(c.ID)).Msg("accept dropped")
	}
}

// ============================================================================
// GAMEPLAY
// ============================================================================

func (s *Server) handleSetSecretCode(c *Client, payload json.RawMessage) {
	var req SetSecretCodeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(c.ID, "INVALID_PAYLOAD", "Invalid set_secret_code payload")
		return
	}

	session, err := s.sessions.Get(req.GameID)
	if err != nil {
		log.Debug().Err(err).Str("conn", string(c.ID)).Str("game", req.GameID).Msg("secret dropped")
		return
	}

	result, err := session.CommitSecret(c.ID, game.NormalizeCode(req.SecretCode))
	if err != nil {
		log.Debug().Err(err).Str("conn", string(c.ID)).Str("game", req.GameID).Msg("secret dropped")
		return
	}

	s.send(c.ID, ServerMessage{Type: NotifySecretCodeSet, Payload: GameNotification{GameID: session.ID}})

	switch {
	case result.Started:
		log.Info().Str("game", session.ID).Msg("both secrets committed")
		ready := ServerMessage{Type: NotifyBothSecretsReady, Payload: GameNotification{GameID: session.ID}}
		s.send(c.ID, ready)
		s.send(result.Opponent, ready)
	case !result.BothCommitted:
		s.send(result.Opponent, ServerMessage{Type: NotifyOpponentSecretSet, Payload: GameNotification{GameID: session.ID}})
	}
}

func (s *Server) handleSubmitGuess(ctx context.Context, c *Client, payload json.RawMessage) {
	var req SubmitGuessRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(c.ID, "INVALID_PAYLOAD", "Invalid submit_guess payload")
		return
	}

	session, err := s.sessions.Get(req.GameID)
	if err != nil {
		log.Debug().Err(err).Str("conn", string(c.ID)).Str("game", req.GameID).Msg("guess dropped")
		return
	}

	result, err := session.SubmitGuess(c.ID, game.NormalizeCode(req.Guess))
	switch {
	case errors.Is(err, mastermind.ErrSecretsNotReady), errors.Is(err, mastermind.ErrAttemptsExhausted):
		s.sendGuessError(c.ID, session.ID, err)
		return
	case err != nil:
		log.Debug().Err(err).Str("conn", string(c.ID)).Str("game", session.ID).Msg("guess dropped")
		return
	}

	record := result.Record
	s.send(c.ID, ServerMessage{
		Type: NotifyGuessResult,
		Payload: GuessResultNotification{
			GameID:       session.ID,
			Guess:        record.Code,
			Feedback:     record.Feedback,
			Pegs:         record.Feedback.Pegs(),
			Attempt:      result.Attempt,
			AttemptsLeft: result.AttemptsLeft,
			IsWin:        result.IsWin,
			IsOver:       result.IsOver,
		},
	})
	s.send(result.Opponent, ServerMessage{
		Type: NotifyOpponentGuess,
		Payload: OpponentGuessNotification{
			GameID:   session.ID,
			Guess:    record.Code,
			Feedback: record.Feedback,
			Pegs:     record.Feedback.Pegs(),
			Attempt:  result.Attempt,
		},
	})

	if !result.Finished {
		return
	}

	s.send(result.Opponent, ServerMessage{
		Type: NotifyOpponentGameStatus,
		Payload: OpponentGameStatusNotification{
			GameID:       session.ID,
			OpponentWon:  result.IsWin,
			OpponentLost: !result.IsWin,
		},
	})

	outcome := RowExhausted
	if result.IsWin {
		outcome = RowWon
	}
	log.Info().
		Str("game", session.ID).
		Str("conn", string(c.ID)).
		Str("outcome", string(outcome)).
		Int("attempts", result.Attempt).
		Msg("row finished")

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.recorder.RecordRow(recordCtx, session.ID, c.ID, outcome, result.Attempt); err != nil {
		log.Warn().Err(err).Str("game", session.ID).Msg("failed to record row")
	}

	syncStatus(s.presence, s.sessions, c.ID, result.Opponent)
}

// ============================================================================
// DISCONNECT
// ============================================================================

// handleDisconnect tears down everything the connection owned. Each
// opponent gets one opponent_disconnected per abandoned session.
func (s *Server) handleDisconnect(ctx context.Context, id mastermind.ConnectionID) {
	s.rateLimiter.RemoveConnection(id)
	s.connectionHealth.RemoveConnection(id)
	s.connectionManager.RemoveConnection(id)
	s.presence.Remove(id)

	removed := s.sessions.RemoveAllFor(id)
	if len(removed) == 0 {
		return
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	for _, session := range removed {
		opponent, _ := session.Opponent(id)
		s.send(opponent, ServerMessage{
			Type: NotifyOpponentDisconnected,
			Payload: OpponentDisconnectedNotification{
				GameID:     session.ID,
				OpponentID: id,
			},
		})

		if err := s.recorder.RecordAbandon(recordCtx, session.ID, id); err != nil {
			log.Warn().Err(err).Str("game", session.ID).Msg("failed to record abandon")
		}
		syncStatus(s.presence, s.sessions, opponent)
	}

	log.Info().Str("conn", string(id)).Int("games", len(removed)).Msg("games abandoned on disconnect")
}

// ============================================================================
// OUTBOUND HELPERS
// ============================================================================

func (s *Server) send(id mastermind.ConnectionID, msg ServerMessage) {
	s.connectionManager.Send(id, msg)
}

func (s *Server) sendError(id mastermind.ConnectionID, code, message string) {
	s.send(id, ServerMessage{
		Type:    NotifyError,
		Payload: ErrorMessage{Message: message, Code: code},
	})
}

// sendErr splits a "CODE: message" error into the error payload.
func (s *Server) sendErr(id mastermind.ConnectionID, err error) {
	code, message := splitErrorCode(err)
	s.sendError(id, code, message)
}

func (s *Server) sendGuessError(id mastermind.ConnectionID, gameID string, err error) {
	code, message := splitErrorCode(err)
	s.send(id, ServerMessage{
		Type: NotifyGuessError,
		Payload: GuessErrorNotification{
			GameID:  gameID,
			Code:    code,
			Message: message,
		},
	})
}

func splitErrorCode(err error) (string, string) {
	text := err.Error()
	if code := mastermind.Code(err); code != "" {
		if i := strings.Index(text, code+": "); i >= 0 {
			return code, text[i+len(code)+2:]
		}
		return code, text
	}

	code, message, found := strings.Cut(text, ": ")
	if !found || code == "" || strings.ToUpper(code) != code || strings.Contains(code, " ") {
		return "", text
	}
	return code, message
}
