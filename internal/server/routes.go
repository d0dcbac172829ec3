package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"codebreaker-server/internal/mastermind"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultMatchLimit = 20
	maxMatchLimit     = 100
	readLimit         = 16 << 10
)

func (s *Server) RegisterRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(corsMiddleware(originAllowed(s.originPatterns)))

	r.Get("/", s.HelloWorldHandler)
	r.Get("/health", s.healthHandler)
	r.Get("/games", s.listGamesHandler)
	r.Get("/matches", s.listMatchesHandler)
	r.Get("/matches/{id}", s.getMatchHandler)
	r.Get("/ws", s.websocketHandler)

	return r
}

func (s *Server) HelloWorldHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "codebreaker",
		"endpoints": []string{"/health", "/games", "/matches", "/ws"},
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{
		"status":      "up",
		"uptime":      time.Since(s.startedAt).Truncate(time.Second).String(),
		"connections": strconv.Itoa(s.connectionManager.Count()),
		"users":       strconv.Itoa(s.presence.Count()),
		"games":       strconv.Itoa(s.sessions.Count()),
	}
	for k, v := range s.recorder.Health(r.Context()) {
		resp[k] = v
	}
	writeJSON(w, http.StatusOK, resp)
}

// listGamesHandler reports live sessions without their secrets.
func (s *Server) listGamesHandler(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.All()
	summaries := make([]mastermind.Summary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, session.Summary())
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) listMatchesHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultMatchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorMessage{Code: "INVALID_LIMIT", Message: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxMatchLimit)
	}

	matches, err := s.recorder.ListRecent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list matches")
		writeJSON(w, http.StatusInternalServerError, ErrorMessage{Message: "failed to list matches"})
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) getMatchHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	match, err := s.recorder.LoadMatch(r.Context(), id)
	if errors.Is(err, ErrMatchNotFound) {
		code, message := splitErrorCode(err)
		writeJSON(w, http.StatusNotFound, ErrorMessage{Code: code, Message: message})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("game", id).Msg("failed to load match")
		writeJSON(w, http.StatusInternalServerError, ErrorMessage{Message: "failed to load match"})
		return
	}
	writeJSON(w, http.StatusOK, match)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		log.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("websocket upgrade rejected")
		return
	}
	socket.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	connectionID := mastermind.ConnectionID(uuid.NewString())
	client := NewClient(connectionID, socket)
	s.connectionManager.AddConnection(client)
	s.connectionHealth.UpdateActivity(connectionID)
	log.Info().Str("conn", string(connectionID)).Msg("connection opened")

	go client.writePump(ctx)

	defer func() {
		s.handleDisconnect(ctx, connectionID)
		client.Close(websocket.StatusNormalClosure, "")
		log.Info().Str("conn", string(connectionID)).Msg("connection closed")
	}()

	s.send(connectionID, ServerMessage{
		Type:    NotifyConnected,
		Payload: ConnectedNotification{ConnectionID: connectionID},
	})

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				log.Debug().Str("conn", string(connectionID)).Msg("client closed connection")
			} else {
				log.Debug().Err(err).Str("conn", string(connectionID)).Msg("read failed")
			}
			return
		}

		s.connectionHealth.UpdateActivity(connectionID)

		if !s.rateLimiter.Allow(connectionID) {
			s.sendError(connectionID, "RATE_LIMITED", "Too many messages, slow down")
			continue
		}

		if msgType != websocket.MessageText {
			log.Debug().Str("conn", string(connectionID)).Msg("non-text frame ignored")
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Str("conn", string(connectionID)).Msg("invalid json")
			s.sendError(connectionID, "INVALID_JSON", "Invalid JSON")
			continue
		}

		if err := ValidateMessageType(msg.Type); err != nil {
			log.Debug().Str("conn", string(connectionID)).Str("type", msg.Type).Msg("unknown message type")
			s.sendErr(connectionID, err)
			continue
		}

		log.Debug().Str("conn", string(connectionID)).Str("type", msg.Type).Msg("message received")
		s.dispatch(ctx, client, msg)
	}
}

func (s *Server) dispatch(ctx context.Context, c *Client, msg ClientMessage) {
	switch msg.Type {
	case EventPing:
		s.handlePing(c)
	case EventRegisterUser:
		s.handleRegisterUser(c, msg.Payload)
	case EventGetUsers:
		s.handleGetUsers(c)
	case EventSendChallenge:
		s.handleSendChallenge(c, msg.Payload)
	case EventAcceptChallenge:
		s.handleAcceptChallenge(ctx, c, msg.Payload)
	case EventSetSecretCode:
		s.handleSetSecretCode(c, msg.Payload)
	case EventSubmitGuess:
		s.handleSubmitGuess(ctx, c, msg.Payload)
	}
}
