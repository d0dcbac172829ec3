package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"codebreaker-server/internal/config"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

const (
	housekeepingInterval    = 30 * time.Second
	minHousekeepingInterval = time.Second
	departedRetention       = time.Minute
)

type Server struct {
	cfg               *config.Config
	connectionManager *ConnectionManager
	presence          *PresenceRegistry
	sessions          *SessionStore
	broker            *ChallengeBroker
	recorder          MatchRecorder
	rateLimiter       *RateLimiter
	connectionHealth  *ConnectionHealth
	originPatterns    []string
	startedAt         time.Time

	stopHousekeeping context.CancelFunc
	shutdownOnce     sync.Once
}

// NewServer wires the server from cfg. Match history is recorded only when
// a database URL is configured.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, *http.Server, error) {
	var recorder MatchRecorder = nopRecorder{}
	if cfg.DatabaseURL != "" {
		pm, err := NewPersistenceManager(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		recorder = pm
		log.Info().Msg("match history enabled")
	} else {
		log.Info().Msg("DATABASE_URL not set, match history disabled")
	}

	s := newServer(cfg, recorder)

	housekeepingCtx, cancel := context.WithCancel(context.Background())
	s.stopHousekeeping = cancel
	go s.housekeepingTask(housekeepingCtx)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.RegisterRoutes(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, httpServer, nil
}

func newServer(cfg *config.Config, recorder MatchRecorder) *Server {
	connections := NewConnectionManager()
	presence := NewPresenceRegistry()
	sessions := NewSessionStore()

	presence.Subscribe(func(snapshot []Participant) {
		connections.Broadcast(ServerMessage{
			Type:    NotifyUserList,
			Payload: UserListNotification{Users: snapshot},
		})
	})

	return &Server{
		cfg:               cfg,
		connectionManager: connections,
		presence:          presence,
		sessions:          sessions,
		broker:            NewChallengeBroker(presence, sessions, connections, recorder),
		recorder:          recorder,
		rateLimiter:       NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		connectionHealth:  NewConnectionHealth(),
		originPatterns:    cfg.OriginPatterns(),
		startedAt:         time.Now(),
		stopHousekeeping:  func() {},
	}
}

// housekeepingTask drops stale rate limiter entries and closes connections
// that have been silent longer than the idle timeout. Closing the socket
// ends its read loop, which runs the normal disconnect teardown.
func (s *Server) housekeepingTask(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval(s.cfg.IdleTimeout))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweepInterval is half the idle timeout, kept between one second and
// housekeepingInterval.
func sweepInterval(idle time.Duration) time.Duration {
	return max(minHousekeepingInterval, min(housekeepingInterval, idle/2))
}

func (s *Server) sweep() {
	s.rateLimiter.Cleanup()
	s.sessions.ForgetDeparted(departedRetention)

	for _, id := range s.connectionHealth.GetInactiveConnections(s.cfg.IdleTimeout) {
		c := s.connectionManager.GetConnection(id)
		if c == nil {
			s.connectionHealth.RemoveConnection(id)
			continue
		}
		log.Info().Str("conn", string(id)).Msg("closing idle connection")
		go c.Close(websocket.StatusPolicyViolation, "idle timeout")
	}
}

// Shutdown tells every client the server is going away, closes their
// sockets and releases the database pool. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.stopHousekeeping()

		notice, err := json.Marshal(ServerMessage{
			Type:    NotifyServerShutdown,
			Payload: ServerShutdownNotification{Message: "Server is shutting down"},
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal shutdown notice")
			notice = nil
		}

		count := s.connectionManager.Count()
		s.connectionManager.CloseAll(ctx, notice, websocket.StatusGoingAway, "server shutting down")
		log.Info().Int("connections", count).Msg("closed all connections")

		s.recorder.Close()
	})
	return nil
}
