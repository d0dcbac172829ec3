package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"codebreaker-server/internal/mastermind"
)

const maxSessionIDLength = 256

// GenerateSessionID derives a game id from both players and the creation
// time. If the id is taken the timestamp is bumped until it is free.
func GenerateSessionID(playerA, playerB mastermind.ConnectionID, now time.Time, inUse func(string) bool) string {
	ts := now.UnixNano()
	for {
		id := fmt.Sprintf("%s-%s-%d", playerA, playerB, ts)
		if inUse == nil || !inUse(id) {
			return id
		}
		ts++
	}
}

func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("Game id cannot be empty")
	}
	if len(id) > maxSessionIDLength {
		return fmt.Errorf("Game id too long (max %d characters)", maxSessionIDLength)
	}
	if strings.ContainsAny(id, " \t\r\n") {
		return errors.New("Game id cannot contain whitespace")
	}
	return nil
}
