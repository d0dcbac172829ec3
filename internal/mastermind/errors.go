package mastermind

import (
	"errors"
	"strings"
)

var (
	ErrSessionNotFound   = errors.New("SESSION_NOT_FOUND: Game not found")
	ErrNotAParticipant   = errors.New("NOT_A_PARTICIPANT: Player is not part of this game")
	ErrSecretsNotReady   = errors.New("SECRETS_NOT_READY: Both players must set a secret code first")
	ErrAttemptsExhausted = errors.New("ATTEMPTS_EXHAUSTED: No guesses left")
	ErrTargetNotPresent  = errors.New("TARGET_NOT_PRESENT: Player is not online")
	ErrInvalidCode       = errors.New("INVALID_CODE: Code is malformed")
	ErrSamePlayer        = errors.New("SAME_PLAYER: A game needs two different players")
)

// Code returns the CODE prefix of one of the package's errors, or "" when
// err is not one of them.
func Code(err error) string {
	for _, known := range []error{
		ErrSessionNotFound,
		ErrNotAParticipant,
		ErrSecretsNotReady,
		ErrAttemptsExhausted,
		ErrTargetNotPresent,
		ErrInvalidCode,
		ErrSamePlayer,
	} {
		if errors.Is(err, known) {
			code, _, _ := strings.Cut(known.Error(), ":")
			return code
		}
	}
	return ""
}
