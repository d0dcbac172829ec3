package server

import (
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"codebreaker-server/internal/mastermind"
)

const maxUsernameLength = 20

// RateLimiter is a per-connection sliding window limiter.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[mastermind.ConnectionID][]time.Time
	mu          sync.Mutex
}

func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[mastermind.ConnectionID][]time.Time),
	}
}

// Allow records one request for id and reports whether it fits the window.
// Rejected requests are not counted.
func (r *RateLimiter) Allow(id mastermind.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	timestamps := r.requests[id]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= r.maxRequests {
		r.requests[id] = valid
		return false
	}

	r.requests[id] = append(valid, now)
	return true
}

// Cleanup forgets connections with no request inside the window.
func (r *RateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.window)
	for id, timestamps := range r.requests {
		if len(timestamps) == 0 || !timestamps[len(timestamps)-1].After(cutoff) {
			delete(r.requests, id)
		}
	}
}

func (r *RateLimiter) RemoveConnection(id mastermind.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, id)
}

// ConnectionHealth tracks the last inbound frame per connection for the
// idle sweep.
type ConnectionHealth struct {
	lastActivity map[mastermind.ConnectionID]time.Time
	mu           sync.RWMutex
}

func NewConnectionHealth() *ConnectionHealth {
	return &ConnectionHealth{
		lastActivity: make(map[mastermind.ConnectionID]time.Time),
	}
}

func (h *ConnectionHealth) UpdateActivity(id mastermind.ConnectionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity[id] = time.Now()
}

// IsInactive is false for connections that were never tracked.
func (h *ConnectionHealth) IsInactive(id mastermind.ConnectionID, timeout time.Duration) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	last, exists := h.lastActivity[id]
	if !exists {
		return false
	}
	return time.Since(last) > timeout
}

func (h *ConnectionHealth) GetInactiveConnections(timeout time.Duration) []mastermind.ConnectionID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	inactive := make([]mastermind.ConnectionID, 0)
	now := time.Now()
	for id, last := range h.lastActivity {
		if now.Sub(last) > timeout {
			inactive = append(inactive, id)
		}
	}
	return inactive
}

func (h *ConnectionHealth) RemoveConnection(id mastermind.ConnectionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lastActivity, id)
}

var validMessageTypes = map[string]bool{
	EventPing:            true,
	EventRegisterUser:    true,
	EventGetUsers:        true,
	EventSendChallenge:   true,
	EventAcceptChallenge: true,
	EventSetSecretCode:   true,
	EventSubmitGuess:     true,
}

func ValidateMessageType(msgType string) error {
	if !validMessageTypes[msgType] {
		return fmt.Errorf("UNKNOWN_TYPE: Unknown message type '%s'", msgType)
	}
	return nil
}

// ValidateUsername returns the trimmed display name.
func ValidateUsername(username string) (string, error) {
	name := strings.TrimSpace(username)
	if name == "" {
		return "", fmt.Errorf("USERNAME_INVALID: Username cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxUsernameLength {
		return "", fmt.Errorf("USERNAME_INVALID: Username too long (max %d characters)", maxUsernameLength)
	}
	return name, nil
}

// corsMiddleware only echoes origins the websocket upgrade would accept.
func corsMiddleware(allowed func(origin string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// originAllowed matches the host of origin against host patterns using the
// same path.Match rules the websocket upgrader applies.
func originAllowed(patterns []string) func(string) bool {
	return func(origin string) bool {
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		host := strings.ToLower(u.Host)
		for _, p := range patterns {
			if ok, _ := path.Match(strings.ToLower(p), host); ok {
				return true
			}
		}
		return false
	}
}
