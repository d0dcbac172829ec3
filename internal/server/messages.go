package server

import "encoding/json"

// Inbound event types.
const (
	EventPing            = "ping"
	EventRegisterUser    = "register_user"
	EventGetUsers        = "get_users"
	EventSendChallenge   = "send_challenge"
	EventAcceptChallenge = "accept_challenge"
	EventSetSecretCode   = "set_secret_code"
	EventSubmitGuess     = "submit_guess"
)

// Outbound notification types.
const (
	NotifyConnected            = "connected"
	NotifyPong                 = "pong"
	NotifyError                = "error"
	NotifyUserList             = "user_list"
	NotifyChallengeReceived    = "challenge_received"
	NotifyChallengeAccepted    = "challenge_accepted"
	NotifySecretCodeSet        = "secret_code_set"
	NotifyOpponentSecretSet    = "opponent_secret_set"
	NotifyBothSecretsReady     = "both_secrets_ready"
	NotifyGuessResult          = "guess_result"
	NotifyOpponentGuess        = "opponent_guess"
	NotifyOpponentGameStatus   = "opponent_game_status"
	NotifyOpponentDisconnected = "opponent_disconnected"
	NotifyGuessError           = "guess_error"
	NotifyServerShutdown       = "server_shutdown"
)

type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
