package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"codebreaker-server/internal/mastermind"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var ErrMatchNotFound = errors.New("MATCH_NOT_FOUND: Match not found")

type MatchStatus string

const (
	MatchInProgress MatchStatus = "in_progress"
	MatchFinished   MatchStatus = "finished"
	MatchAbandoned  MatchStatus = "abandoned"
)

type RowOutcome string

const (
	RowWon       RowOutcome = "won"
	RowExhausted RowOutcome = "exhausted"
)

type MatchStart struct {
	ID          string
	PlayerA     mastermind.ConnectionID
	PlayerB     mastermind.ConnectionID
	PlayerAName string
	PlayerBName string
	CreatedAt   time.Time
}

type MatchRowRecord struct {
	Player     mastermind.ConnectionID `json:"player"`
	Outcome    RowOutcome              `json:"outcome"`
	Attempts   int                     `json:"attempts"`
	RecordedAt time.Time               `json:"recordedAt"`
}

type MatchRecord struct {
	ID          string                  `json:"id"`
	PlayerA     mastermind.ConnectionID `json:"playerA"`
	PlayerB     mastermind.ConnectionID `json:"playerB"`
	PlayerAName string                  `json:"playerAName"`
	PlayerBName string                  `json:"playerBName"`
	Status      MatchStatus             `json:"status"`
	AbandonedBy mastermind.ConnectionID `json:"abandonedBy,omitempty"`
	CreatedAt   time.Time               `json:"createdAt"`
	EndedAt     *time.Time              `json:"endedAt,omitempty"`
	Rows        []MatchRowRecord        `json:"rows"`
}

// MatchRecorder keeps a write-only history of matches. Nothing recorded
// here is read back into live sessions.
type MatchRecorder interface {
	RecordStart(ctx context.Context, m MatchStart) error
	RecordRow(ctx context.Context, matchID string, player mastermind.ConnectionID, outcome RowOutcome, attempts int) error
	RecordAbandon(ctx context.Context, matchID string, by mastermind.ConnectionID) error
	LoadMatch(ctx context.Context, matchID string) (*MatchRecord, error)
	ListRecent(ctx context.Context, limit int) ([]MatchRecord, error)
	Health(ctx context.Context) map[string]string
	Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS matches (
	id            TEXT PRIMARY KEY,
	player_a      TEXT NOT NULL,
	player_b      TEXT NOT NULL,
	player_a_name TEXT NOT NULL,
	player_b_name TEXT NOT NULL,
	status        TEXT NOT NULL,
	abandoned_by  TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS match_rows (
	match_id    TEXT NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
	player      TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	attempts    INTEGER NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (match_id, player)
);

CREATE INDEX IF NOT EXISTS matches_created_at_idx ON matches (created_at DESC);
`

// PersistenceManager records match history in Postgres.
type PersistenceManager struct {
	pool *pgxpool.Pool
}

// NewPersistenceManager connects, pings and makes sure the schema exists.
func NewPersistenceManager(ctx context.Context, databaseURL string) (*PersistenceManager, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	pm := &PersistenceManager{pool: pool}
	if err := pm.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pm, nil
}

func (pm *PersistenceManager) EnsureSchema(ctx context.Context) error {
	if _, err := pm.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (pm *PersistenceManager) RecordStart(ctx context.Context, m MatchStart) error {
	query := `
		INSERT INTO matches (id, player_a, player_b, player_a_name, player_b_name, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := pm.pool.Exec(ctx, query,
		m.ID,
		string(m.PlayerA),
		string(m.PlayerB),
		m.PlayerAName,
		m.PlayerBName,
		string(MatchInProgress),
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record match %s: %w", m.ID, err)
	}
	return nil
}

// RecordRow stores how one player's row ended. The first finished row
// moves the match to finished.
func (pm *PersistenceManager) RecordRow(ctx context.Context, matchID string, player mastermind.ConnectionID, outcome RowOutcome, attempts int) error {
	now := time.Now()

	tx, err := pm.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin row transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO match_rows (match_id, player, outcome, attempts, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (match_id, player) DO NOTHING
	`, matchID, string(player), string(outcome), attempts, now)
	if err != nil {
		return fmt.Errorf("failed to record row for match %s: %w", matchID, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE matches SET status = $2, ended_at = COALESCE(ended_at, $3)
		WHERE id = $1 AND status = $4
	`, matchID, string(MatchFinished), now, string(MatchInProgress))
	if err != nil {
		return fmt.Errorf("failed to finish match %s: %w", matchID, err)
	}

	return tx.Commit(ctx)
}

func (pm *PersistenceManager) RecordAbandon(ctx context.Context, matchID string, by mastermind.ConnectionID) error {
	tag, err := pm.pool.Exec(ctx, `
		UPDATE matches SET status = $2, abandoned_by = $3, ended_at = $4
		WHERE id = $1 AND status <> $2
	`, matchID, string(MatchAbandoned), string(by), time.Now())
	if err != nil {
		return fmt.Errorf("failed to abandon match %s: %w", matchID, err)
	}
	if tag.RowsAffected() == 0 {
		log.Debug().Str("game", matchID).Msg("abandon recorded for unknown or already abandoned match")
	}
	return nil
}

func (pm *PersistenceManager) LoadMatch(ctx context.Context, matchID string) (*MatchRecord, error) {
	row := pm.pool.QueryRow(ctx, `
		SELECT id, player_a, player_b, player_a_name, player_b_name, status,
		       COALESCE(abandoned_by, ''), created_at, ended_at
		FROM matches WHERE id = $1
	`, matchID)

	m, err := scanMatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load match %s: %w", matchID, err)
	}

	rows, err := pm.pool.Query(ctx, `
		SELECT player, outcome, attempts, recorded_at
		FROM match_rows WHERE match_id = $1
		ORDER BY recorded_at, player
	`, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows for match %s: %w", matchID, err)
	}
	defer rows.Close()

	m.Rows = []MatchRowRecord{}
	for rows.Next() {
		var (
			r       MatchRowRecord
			player  string
			outcome string
		)
		if err := rows.Scan(&player, &outcome, &r.Attempts, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", err)
		}
		r.Player = mastermind.ConnectionID(player)
		r.Outcome = RowOutcome(outcome)
		m.Rows = append(m.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match rows: %w", err)
	}

	return m, nil
}

// ListRecent returns the newest matches first, without their rows.
func (pm *PersistenceManager) ListRecent(ctx context.Context, limit int) ([]MatchRecord, error) {
	rows, err := pm.pool.Query(ctx, `
		SELECT id, player_a, player_b, player_a_name, player_b_name, status,
		       COALESCE(abandoned_by, ''), created_at, ended_at
		FROM matches
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	matches := []MatchRecord{}
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matches: %w", err)
	}
	return matches, nil
}

func scanMatch(row pgx.Row) (*MatchRecord, error) {
	var (
		m                   MatchRecord
		playerA, playerB    string
		status, abandonedBy string
	)
	err := row.Scan(&m.ID, &playerA, &playerB, &m.PlayerAName, &m.PlayerBName,
		&status, &abandonedBy, &m.CreatedAt, &m.EndedAt)
	if err != nil {
		return nil, err
	}
	m.PlayerA = mastermind.ConnectionID(playerA)
	m.PlayerB = mastermind.ConnectionID(playerB)
	m.Status = MatchStatus(status)
	m.AbandonedBy = mastermind.ConnectionID(abandonedBy)
	return &m, nil
}

// Health reports pool statistics in the same shape the /health endpoint
// merges into its response.
func (pm *PersistenceManager) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	stats := make(map[string]string)
	if err := pm.pool.Ping(ctx); err != nil {
		stats["db_status"] = "down"
		stats["db_error"] = err.Error()
		log.Warn().Err(err).Msg("database ping failed")
		return stats
	}

	s := pm.pool.Stat()
	stats["db_status"] = "up"
	stats["db_total_conns"] = strconv.Itoa(int(s.TotalConns()))
	stats["db_idle_conns"] = strconv.Itoa(int(s.IdleConns()))
	stats["db_acquired_conns"] = strconv.Itoa(int(s.AcquiredConns()))
	stats["db_max_conns"] = strconv.Itoa(int(s.MaxConns()))
	return stats
}

func (pm *PersistenceManager) Close() {
	pm.pool.Close()
}

// nopRecorder is used when no DATABASE_URL is configured.
type nopRecorder struct{}

func (nopRecorder) RecordStart(context.Context, MatchStart) error { return nil }

func (nopRecorder) RecordRow(context.Context, string, mastermind.ConnectionID, RowOutcome, int) error {
	return nil
}

func (nopRecorder) RecordAbandon(context.Context, string, mastermind.ConnectionID) error { return nil }

func (nopRecorder) LoadMatch(context.Context, string) (*MatchRecord, error) {
	return nil, ErrMatchNotFound
}

func (nopRecorder) ListRecent(context.Context, int) ([]MatchRecord, error) {
	return []MatchRecord{}, nil
}

func (nopRecorder) Health(context.Context) map[string]string {
	return map[string]string{"db_status": "disabled"}
}

func (nopRecorder) Close() {}
