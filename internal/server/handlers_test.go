package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codebreaker-server/internal/config"
	"codebreaker-server/internal/game"
	"codebreaker-server/internal/mastermind"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Addr:            ":0",
		Mode:            config.ModeDevelopment,
		ClientOrigin:    "http://localhost:5173",
		LogLevel:        "disabled",
		RateLimitMax:    100,
		RateLimitWindow: time.Second,
		IdleTimeout:     time.Minute,
		ShutdownTimeout: 5 * time.Second,
	}
}

func setupTestServer() (*Server, string, func()) {
	return setupTestServerWith(nil)
}

func setupTestServerWith(configure func(*config.Config)) (*Server, string, func()) {
	cfg := testConfig()
	if configure != nil {
		configure(cfg)
	}

	s := newServer(cfg, nopRecorder{})
	server := httptest.NewServer(s.RegisterRoutes())
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	cleanup := func() {
		server.Close()
	}
	return s, url, cleanup
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// decodePayload re-marshals a generic payload into v.
func decodePayload(t *testing.T, msg ServerMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(mustMarshal(msg.Payload), v))
}

// testClient is one websocket client that already read its connected
// notification.
type testClient struct {
	t    *testing.T
	conn *websocket.Conn
	ID   mastermind.ConnectionID
}

func dialClient(t *testing.T, url string) *testClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	tc := &testClient{t: t, conn: conn}
	msg := tc.read()
	require.Equal(t, NotifyConnected, msg.Type)

	var connected ConnectedNotification
	decodePayload(t, msg, &connected)
	require.NotEmpty(t, connected.ConnectionID)
	tc.ID = connected.ConnectionID
	return tc
}

func (tc *testClient) send(msgType string, payload interface{}) {
	tc.t.Helper()
	msg := ClientMessage{Type: msgType}
	if payload != nil {
		msg.Payload = mustMarshal(payload)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(tc.t, tc.conn.Write(ctx, websocket.MessageText, mustMarshal(msg)))
}

func (tc *testClient) read() ServerMessage {
	tc.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := tc.conn.Read(ctx)
	require.NoError(tc.t, err)

	var msg ServerMessage
	require.NoError(tc.t, json.Unmarshal(data, &msg))
	return msg
}

// readUntil skips messages until one of the given type arrives.
func (tc *testClient) readUntil(msgType string) ServerMessage {
	tc.t.Helper()
	for {
		msg := tc.read()
		if msg.Type == msgType {
			return msg
		}
	}
}

// collectUntilPong sends a ping and returns everything queued before the
// pong, user_list broadcasts excluded.
func (tc *testClient) collectUntilPong() []ServerMessage {
	tc.t.Helper()
	tc.send(EventPing, nil)

	var out []ServerMessage
	for {
		msg := tc.read()
		switch msg.Type {
		case NotifyPong:
			return out
		case NotifyUserList:
			continue
		}
		out = append(out, msg)
	}
}

func (tc *testClient) register(name string) {
	tc.t.Helper()
	tc.send(EventRegisterUser, RegisterUserRequest{Username: name})
	for {
		var list UserListNotification
		decodePayload(tc.t, tc.readUntil(NotifyUserList), &list)
		for _, u := range list.Users {
			if u.ConnectionID == tc.ID {
				return
			}
		}
	}
}

// startGame challenges b from a and returns the game id once both sides
// have their challenge_accepted.
func startGame(t *testing.T, a, b *testClient) string {
	t.Helper()
	a.send(EventSendChallenge, SendChallengeRequest{TargetConnectionID: b.ID})

	var received ChallengeReceivedNotification
	decodePayload(t, b.readUntil(NotifyChallengeReceived), &received)
	require.Equal(t, a.ID, received.ChallengerID)

	b.send(EventAcceptChallenge, AcceptChallengeRequest{ChallengerConnectionID: a.ID})

	var toA, toB ChallengeAcceptedNotification
	decodePayload(t, a.readUntil(NotifyChallengeAccepted), &toA)
	decodePayload(t, b.readUntil(NotifyChallengeAccepted), &toB)
	require.Equal(t, toA.GameID, toB.GameID)
	return toA.GameID
}

// commitSecrets has a commit first, then b, and waits for both_secrets_ready
// on both sides.
func commitSecrets(t *testing.T, gameID string, a *testClient, secretA game.Code, b *testClient, secretB game.Code) {
	t.Helper()
	a.send(EventSetSecretCode, SetSecretCodeRequest{GameID: gameID, SecretCode: secretA})
	a.readUntil(NotifySecretCodeSet)
	b.readUntil(NotifyOpponentSecretSet)

	b.send(EventSetSecretCode, SetSecretCodeRequest{GameID: gameID, SecretCode: secretB})
	b.readUntil(NotifySecretCodeSet)
	b.readUntil(NotifyBothSecretsReady)
	a.readUntil(NotifyBothSecretsReady)
}

func twoPlayers(t *testing.T, url string) (*testClient, *testClient) {
	t.Helper()
	a := dialClient(t, url)
	a.register("Alice")
	b := dialClient(t, url)
	b.register("Bob")
	return a, b
}

var (
	secretAlice = game.Code{"red", "green", "blue", "yellow"}
	secretBob   = game.Code{"yellow", "blue", "green", "red"}
	missGuess   = game.Code{"orange", "orange", "orange", "orange"}
)

// ============================================================================
// PRESENCE TESTS
// ============================================================================

func TestHandleRegisterUser_BroadcastsToEveryone(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()

	a, _ := twoPlayers(t, url)

	// Alice sees Bob arrive
	var list UserListNotification
	for {
		decodePayload(t, a.readUntil(NotifyUserList), &list)
		if len(list.Users) == 2 {
			break
		}
	}

	names := []string{list.Users[0].DisplayName, list.Users[1].DisplayName}
	assert.Equal(t, []string{"Alice", "Bob"}, names)
	assert.Equal(t, StatusAvailable, list.Users[0].Status)
}

func TestHandleRegisterUser_InvalidUsername(t *testing.T) {
	s, url, cleanup := setupTestServer()
	defer cleanup()

	c := dialClient(t, url)
	c.send(EventRegisterUser, RegisterUserRequest{Username: "   "})

	msg := c.readUntil(NotifyError)
	var payload ErrorMessage
	decodePayload(t, msg, &payload)
	assert.Equal(t, "USERNAME_INVALID", payload.Code)
	assert.Equal(t, 0, s.presence.Count())
}

func TestHandleGetUsers(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()

	a, _ := twoPlayers(t, url)
	watcher := dialClient(t, url)

	watcher.send(EventGetUsers, nil)
	var list UserListNotification
	decodePayload(t, watcher.readUntil(NotifyUserList), &list)

	require.Len(t, list.Users, 2)
	assert.Equal(t, a.ID, list.Users[0].ConnectionID)
}

// ============================================================================
// CHALLENGE TESTS
// ============================================================================

func TestHandleAcceptChallenge_AssignsRoles(t *testing.T) {
	s, url, cleanup := setupTestServer()
	defer cleanup()

	a, b := twoPlayers(t, url)

	a.send(EventSendChallenge, SendChallengeRequest{TargetConnectionID: b.ID})
	var received ChallengeReceivedNotification
	decodePayload(t, b.readUntil(NotifyChallengeReceived), &received)
	assert.Equal(t, "Alice", received.ChallengerName)

	b.send(EventAcceptChallenge, AcceptChallengeRequest{ChallengerConnectionID: a.ID})

	var toA, toB ChallengeAcceptedNotification
	decodePayload(t, a.readUntil(NotifyChallengeAccepted), &toA)
	decodePayload(t, b.readUntil(NotifyChallengeAccepted), &toB)

	assert.Equal(t, mastermind.RoleChallenger, toA.Role)
	assert.Equal(t, b.ID, toA.OpponentID)
	assert.Equal(t, "Bob", toA.OpponentName)
	assert.Equal(t, mastermind.RoleAccepter, toB.Role)
	assert.Equal(t, a.ID, toB.OpponentID)
	assert.True(t, strings.HasPrefix(toA.GameID, string(a.ID)+"-"+string(b.ID)+"-"))

	session, err := s.sessions.Get(toA.GameID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, session.PlayerA)
}

func TestHandleSendChallenge_AbsentTargetIsSilent(t *testing.T) {
	s, url, cleanup := setupTestServer()
	defer cleanup()

	a := dialClient(t, url)
	a.register("Alice")

	a.send(EventSendChallenge, SendChallengeRequest{TargetConnectionID: "ghost"})
	assert.Empty(t, a.collectUntilPong())

	a.send(EventAcceptChallenge, AcceptChallengeRequest{ChallengerConnectionID: "ghost"})
	assert.Empty(t, a.collectUntilPong())
	assert.Equal(t, 0, s.sessions.Count())
}

// ============================================================================
// SECRET TESTS
// ============================================================================

func TestHandleSetSecretCode_Notifications(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()

	a, b := twoPlayers(t, url)
	gameID := startGame(t, a, b)

	a.send(EventSetSecretCode, SetSecretCodeRequest{GameID: gameID, SecretCode: secretAlice})
	var ack GameNotification
	decodePayload(t, a.readUntil(NotifySecretCodeSet), &ack)
	assert.Equal(t, gameID, ack.GameID)
	b.readUntil(NotifyOpponentSecretSet)

	// Replacing a secret before the opponent commits is allowed
	a.send(EventSetSecretCode, SetSecretCodeRequest{GameID: gameID, SecretCode: secretBob})
	a.readUntil(NotifySecretCodeSet)

	b.send(EventSetSecretCode, SetSecretCodeRequest{GameID: gameID, SecretCode: secretBob})
	b.readUntil(NotifySecretCodeSet)
	b.readUntil(NotifyBothSecretsReady)
	a.readUntil(NotifyBothSecretsReady)
}

func TestHandleSetSecretCode_InvalidCodeDropped(t *testing.T) {
	s, url, cleanup := setupTestServer()
	defer cleanup()

	a, b := twoPlayers(t, url)
	gameID := startGame(t, a, b)

	a.send(EventSetSecretCode, SetSecretCodeRequest{GameID: gameID, SecretCode: game.Code{"red", " ", "blue", "red"}})
	a.send(EventSetSecretCode, SetSecretCodeRequest{GameID: gameID, SecretCode: game.Code{"red"}})
	assert.Empty(t, a.collectUntilPong())

	session, err := s.sessions.Get(gameID)
	require.NoError(t, err)
	assert.Equal(t, mastermind.StateAwaitingSecrets, session.State())
}

// ============================================================================
// GUESS TESTS
// ============================================================================

func TestHandleSubmitGuess_SecretsNotReady(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()

	a, b := twoPlayers(t, url)
	gameID := startGame(t, a, b)

	a.send(EventSubmitGuess, SubmitGuessRequest{GameID: gameID, Guess: secretBob})

	var guessErr GuessErrorNotification
	decodePayload(t, a.readUntil(NotifyGuessError), &guessErr)
	assert.Equal(t, gameID, guessErr.GameID)
	assert.Equal(t, "SECRETS_NOT_READY", guessErr.Code)
}

// Test: A cracks Bob's code on the first try and Bob is told
func TestHandleSubmitGuess_Win(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()

	a, b := twoPlayers(t, url)
	gameID := startGame(t, a, b)
	commitSecrets(t, gameID, a, secretAlice, b, secretBob)

	a.send(EventSubmitGuess, SubmitGuessRequest{GameID: gameID, Guess: secretBob})

	var result GuessResultNotification
	decodePayload(t, a.readUntil(NotifyGuessResult), &result)
	assert.Equal(t, game.Feedback{Exact: 4, Color: 0}, result.Feedback)
	assert.Equal(t, []game.Peg{game.PegExact, game.PegExact, game.PegExact, game.PegExact}, result.Pegs)
	assert.Equal(t, 1, result.Attempt)
	assert.Equal(t, 9, result.AttemptsLeft)
	assert.True(t, result.IsWin)
	assert.True(t, result.IsOver)

	var seen OpponentGuessNotification
	decodePayload(t, b.readUntil(NotifyOpponentGuess), &seen)
	assert.Equal(t, secretBob, seen.Guess)
	assert.Equal(t, 1, seen.Attempt)

	var status OpponentGameStatusNotification
	decodePayload(t, b.readUntil(NotifyOpponentGameStatus), &status)
	assert.Equal(t, gameID, status.GameID)
	assert.True(t, status.OpponentWon)
	assert.False(t, status.OpponentLost)

	// Bob's own row is still open
	b.send(EventSubmitGuess, SubmitGuessRequest{GameID: gameID, Guess: missGuess})
	decodePayload(t, b.readUntil(NotifyGuessResult), &result)
	assert.Equal(t, 1, result.Attempt)
	assert.False(t, result.IsOver)
}

func TestHandleSubmitGuess_Feedback(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()

	a, b := twoPlayers(t, url)
	gameID := startGame(t, a, b)
	commitSecrets(t, gameID, a, secretAlice, b, game.Code{"red", "red", "green", "blue"})

	// Padding is trimmed
	a.send(EventSubmitGuess, SubmitGuessRequest{GameID: gameID, Guess: game.Code{"red", " green", "red", "red "}})

	var result GuessResultNotification
	decodePayload(t, a.readUntil(NotifyGuessResult), &result)
	assert.Equal(t, game.Feedback{Exact: 1, Color: 2}, result.Feedback)
	assert.False(t, result.IsWin)
	assert.False(t, result.IsOver)
}

// Test: Codes are opaque, numbers work as well as strings
func TestHandleSubmitGuess_NumericCodes(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()

	a, b := twoPlayers(t, url)
	gameID := startGame(t, a, b)

	a.send(EventSetSecretCode, map[string]any{"gameId": gameID, "secretCode": []int{1, 2, 3, 4}})
	a.readUntil(NotifySecretCodeSet)
	b.send(EventSetSecretCode, map[string]any{"gameId": gameID, "secretCode": []int{4, 3, 2, 1}})
	b.readUntil(NotifySecretCodeSet)
	a.readUntil(NotifyBothSecretsReady)
	b.readUntil(NotifyBothSecretsReady)

	// Bob misses with every value in the wrong position
	b.send(EventSubmitGuess, map[string]any{"gameId": gameID, "guess": []int{4, 3, 2, 1}})
	var result GuessResultNotification
	decodePayload(t, b.readUntil(NotifyGuessResult), &result)
	assert.Equal(t, game.Feedback{Exact: 0, Color: 4}, result.Feedback)
	assert.False(t, result.IsWin)

	a.send(EventSubmitGuess, map[string]any{"gameId": gameID, "guess": []int{4, 3, 2, 1}})
	decodePayload(t, a.readUntil(NotifyGuessResult), &result)
	assert.Equal(t, game.Code{"4", "3", "2", "1"}, result.Guess)
	assert.Equal(t, game.Feedback{Exact: 4, Color: 0}, result.Feedback)
	assert.True(t, result.IsWin)
	assert.True(t, result.IsOver)

	var status OpponentGameStatusNotification
	decodePayload(t, b.readUntil(NotifyOpponentGameStatus), &status)
	assert.True(t, status.OpponentWon)
}

// Test: Guesses after a win do not repeat the end-of-row notice
func TestHandleSubmitGuess_GameStatusSentOnce(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()

	a, b := twoPlayers(t, url)
	gameID := startGame(t, a, b)
	commitSecrets(t, gameID, a, secretAlice, b, secretBob)

	a.send(EventSubmitGuess, SubmitGuessRequest{GameID: gameID, Guess: secretBob})
	for range game.MaxAttempts - 1 {
		a.send(EventSubmitGuess, SubmitGuessRequest{GameID: gameID, Guess: missGuess})
	}

	var result GuessResultNotification
	for range game.MaxAttempts {
		decodePayload(t, a.readUntil(NotifyGuessResult), &result)
	}
	assert.Equal(t, game.MaxAttempts, result.Attempt)
	assert.True(t, result.IsOver)
	assert.False(t, result.IsWin)

	// Everything Bob sees up to the last opponent_guess, then whatever
	// might trail it.
	var msgs []ServerMessage
	for {
		msg := b.read()
		msgs = append(msgs, msg)
		if msg.Type != NotifyOpponentGuess {
			continue
		}
		var seen OpponentGuessNotification
		decodePayload(t, msg, &seen)
		if seen.Attempt == game.MaxAttempts {
			break
		}
	}
	msgs = append(msgs, b.collectUntilPong()...)

	var statuses []OpponentGameStatusNotification
	for _, msg := range msgs {
		if msg.Type != NotifyOpponentGameStatus {
			continue
		}
		var status OpponentGameStatusNotification
		decodePayload(t, msg, &status)
		statuses = append(statuses, status)
	}
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].OpponentWon)
	assert.False(t, statuses[0].OpponentLost)
}

// Test: Ten misses end the row, the eleventh is rejected
func TestHandleSubmitGuess_AttemptsExhausted(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()

	a, b := twoPlayers(t, url)
	gameID := startGame(t, a, b)
	commitSecrets(t, gameID, a, secretAlice, b, secretBob)

	var result GuessResultNotification
	for i := 1; i <= game.MaxAttempts; i++ {
		a.send(EventSubmitGuess, SubmitGuessRequest{GameID: gameID, Guess: missGuess})
		decodePayload(t, a.readUntil(NotifyGuessResult), &result)
		assert.Equal(t, i, result.Attempt)
	}
	assert.True(t, result.IsOver)
	assert.False(t, result.IsWin)
	assert.Equal(t, 0, result.AttemptsLeft)

	var status OpponentGameStatusNotification
	decodePayload(t, b.readUntil(NotifyOpponentGameStatus), &status)
	assert.False(t, status.OpponentWon)
	assert.True(t, status.OpponentLost)

	a.send(EventSubmitGuess, SubmitGuessRequest{GameID: gameID, Guess: missGuess})
	var guessErr GuessErrorNotification
	decodePayload(t, a.readUntil(NotifyGuessError), &guessErr)
	assert.Equal(t, "ATTEMPTS_EXHAUSTED", guessErr.Code)
}

func TestHandleSubmitGuess_UnknownGameIsSilent(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()

	a, b := twoPlayers(t, url)
	gameID := startGame(t, a, b)
	commitSecrets(t, gameID, a, secretAlice, b, secretBob)

	a.send(EventSubmitGuess, SubmitGuessRequest{GameID: "no-such-game", Guess: secretBob})
	assert.Empty(t, a.collectUntilPong())

	// Outsiders are dropped too
	c := dialClient(t, url)
	c.send(EventSubmitGuess, SubmitGuessRequest{GameID: gameID, Guess: secretBob})
	assert.Empty(t, c.collectUntilPong())

	// Malformed guesses are dropped without using an attempt
	a.send(EventSubmitGuess, SubmitGuessRequest{GameID: gameID, Guess: game.Code{"red"}})
	assert.Empty(t, a.collectUntilPong())
}

// ============================================================================
// DISCONNECT TESTS
// ============================================================================

// Test: One opponent_disconnected per abandoned game
func TestHandleDisconnect_AbandonsEverySession(t *testing.T) {
	s, url, cleanup := setupTestServer()
	defer cleanup()

	a, b := twoPlayers(t, url)
	first := startGame(t, a, b)
	second := startGame(t, a, b)
	require.NotEqual(t, first, second)
	require.Equal(t, 2, s.sessions.Count())

	require.NoError(t, a.conn.Close(websocket.StatusNormalClosure, "bye"))

	var got []OpponentDisconnectedNotification
	for len(got) < 2 {
		var n OpponentDisconnectedNotification
		decodePayload(t, b.readUntil(NotifyOpponentDisconnected), &n)
		assert.Equal(t, a.ID, n.OpponentID)
		got = append(got, n)
	}
	assert.ElementsMatch(t, []string{first, second}, []string{got[0].GameID, got[1].GameID})

	for _, msg := range b.collectUntilPong() {
		assert.NotEqual(t, NotifyOpponentDisconnected, msg.Type)
	}

	assert.Equal(t, 0, s.sessions.Count())
	assert.False(t, s.presence.IsPresent(a.ID))

	assert.Eventually(t, func() bool {
		entry, ok := s.presence.Get(b.ID)
		return ok && entry.Status == StatusAvailable
	}, time.Second, 10*time.Millisecond)

	// Guessing into an abandoned game is dropped
	b.send(EventSubmitGuess, SubmitGuessRequest{GameID: first, Guess: secretAlice})
	assert.Empty(t, b.collectUntilPong())
}

func TestHandleDisconnect_BroadcastsPresence(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()

	a, b := twoPlayers(t, url)
	require.NoError(t, a.conn.Close(websocket.StatusNormalClosure, "bye"))

	for {
		var list UserListNotification
		decodePayload(t, b.readUntil(NotifyUserList), &list)
		if len(list.Users) == 1 {
			assert.Equal(t, b.ID, list.Users[0].ConnectionID)
			return
		}
	}
}
