package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semantixd/internal/tenant"
)

// schema bootstraps the tables on startup. Schema evolution is additive
// only; there is no migration tooling here.
const schema = `
CREATE TABLE IF NOT EXISTS memory_logs (
	id            BIGSERIAL PRIMARY KEY,
	user_id       TEXT NOT NULL,
	project_id    TEXT NOT NULL,
	task          TEXT NOT NULL DEFAULT '',
	agent         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	raw_data      JSONB NOT NULL,
	embedding     JSONB
);
CREATE INDEX IF NOT EXISTS idx_memory_logs_tenant ON memory_logs (user_id, project_id);

CREATE TABLE IF NOT EXISTS mental_notes (
	id            BIGSERIAL PRIMARY KEY,
	user_id       TEXT NOT NULL,
	project_id    TEXT NOT NULL,
	session_id    TEXT NOT NULL DEFAULT '',
	start_time    BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	raw_data      JSONB NOT NULL,
	embedding     JSONB
);
CREATE INDEX IF NOT EXISTS idx_mental_notes_tenant ON mental_notes (user_id, project_id);

CREATE TABLE IF NOT EXISTS conversations (
	id              BIGSERIAL PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	project_id      TEXT NOT NULL,
	session_id      TEXT,
	model           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	raw_data        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_tenant_created
	ON conversations (user_id, project_id, created_at DESC);

CREATE TABLE IF NOT EXISTS icm_logs (
	id             BIGSERIAL PRIMARY KEY,
	request_id     TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	project_id     TEXT NOT NULL,
	icm_type       TEXT NOT NULL,
	payload        JSONB NOT NULL,
	results_count  INT,
	result_limit   INT,
	min_similarity DOUBLE PRECISION,
	window_start   TIMESTAMPTZ,
	window_end     TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_icm_logs_request ON icm_logs (request_id);

CREATE TABLE IF NOT EXISTS retrieval_logs (
	id            BIGSERIAL PRIMARY KEY,
	request_id    TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	project_id    TEXT NOT NULL,
	target        TEXT NOT NULL,
	query         TEXT NOT NULL,
	results       JSONB NOT NULL,
	results_count INT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS request_logs (
	id             BIGSERIAL PRIMARY KEY,
	request_id     TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	project_id     TEXT NOT NULL,
	query          TEXT NOT NULL,
	session_id     TEXT,
	result_limit   INT NOT NULL,
	min_similarity DOUBLE PRECISION NOT NULL,
	outcome        TEXT NOT NULL,
	duration_ms    BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore implements Store on Postgres via sqlx.
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// PostgresConfig holds the connection string and pool settings.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// withDefaults fills unset pool settings.
func (c PostgresConfig) withDefaults() PostgresConfig {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 16
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	return c
}

// NewPostgresStore connects, pings, and bootstraps the schema.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	idle := cfg.MaxOpenConns / 4
	if idle < 2 {
		idle = 2
	}
	db.SetMaxIdleConns(idle)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrapping schema: %w", err)
	}

	logger.Info("primary store connected",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
	)
	return &PostgresStore{db: db, logger: logger}, nil
}

func validateTenant(userID, projectID string) error {
	if userID == "" || projectID == "" {
		return fmt.Errorf("%w: tenant key is required", ErrInvalidRecord)
	}
	return nil
}

// InsertMemoryLog inserts a memory log and assigns its ID.
func (s *PostgresStore) InsertMemoryLog(ctx context.Context, log *MemoryLog) error {
	if err := validateTenant(log.UserID, log.ProjectID); err != nil {
		return err
	}
	if len(log.RawData) == 0 {
		return fmt.Errorf("%w: raw_data is required", ErrInvalidRecord)
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO memory_logs (user_id, project_id, task, agent, created_at, raw_data, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	err := s.db.GetContext(ctx, &log.ID, query,
		log.UserID, log.ProjectID, log.Task, log.Agent, log.CreatedAt, log.RawData, log.Embedding)
	if err != nil {
		return fmt.Errorf("inserting memory log: %w", err)
	}
	return nil
}

// GetMemoryLog returns a memory log by id, tenant-scoped.
func (s *PostgresStore) GetMemoryLog(ctx context.Context, key tenant.Key, id int64) (*MemoryLog, error) {
	var log MemoryLog
	query := `
		SELECT id, user_id, project_id, task, agent, created_at, raw_data, embedding
		FROM memory_logs
		WHERE id = $1 AND user_id = $2 AND project_id = $3`
	err := s.db.GetContext(ctx, &log, query, id, key.UserID, key.ProjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting memory log: %w", err)
	}
	return &log, nil
}

// UpdateMemoryLogEmbedding backfills the embedding column.
func (s *PostgresStore) UpdateMemoryLogEmbedding(ctx context.Context, key tenant.Key, id int64, embedding Vector) error {
	return s.updateEmbedding(ctx, "memory_logs", key, id, embedding)
}

// DeleteMemoryLog deletes a memory log, tenant-scoped.
func (s *PostgresStore) DeleteMemoryLog(ctx context.Context, key tenant.Key, id int64) error {
	return s.deleteRow(ctx, "memory_logs", key, id)
}

// InsertMentalNote inserts a mental note and assigns its ID.
func (s *PostgresStore) InsertMentalNote(ctx context.Context, note *MentalNote) error {
	if err := validateTenant(note.UserID, note.ProjectID); err != nil {
		return err
	}
	if len(note.RawData) == 0 {
		return fmt.Errorf("%w: raw_data is required", ErrInvalidRecord)
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO mental_notes (user_id, project_id, session_id, start_time, created_at, raw_data, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	err := s.db.GetContext(ctx, &note.ID, query,
		note.UserID, note.ProjectID, note.SessionID, note.StartTime, note.CreatedAt, note.RawData, note.Embedding)
	if err != nil {
		return fmt.Errorf("inserting mental note: %w", err)
	}
	return nil
}

// GetMentalNote returns a mental note by id, tenant-scoped.
func (s *PostgresStore) GetMentalNote(ctx context.Context, key tenant.Key, id int64) (*MentalNote, error) {
	var note MentalNote
	query := `
		SELECT id, user_id, project_id, session_id, start_time, created_at, raw_data, embedding
		FROM mental_notes
		WHERE id = $1 AND user_id = $2 AND project_id = $3`
	err := s.db.GetContext(ctx, &note, query, id, key.UserID, key.ProjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting mental note: %w", err)
	}
	return &note, nil
}

// UpdateMentalNoteEmbedding backfills the embedding column.
func (s *PostgresStore) UpdateMentalNoteEmbedding(ctx context.Context, key tenant.Key, id int64, embedding Vector) error {
	return s.updateEmbedding(ctx, "mental_notes", key, id, embedding)
}

// DeleteMentalNote deletes a mental note, tenant-scoped.
func (s *PostgresStore) DeleteMentalNote(ctx context.Context, key tenant.Key, id int64) error {
	return s.deleteRow(ctx, "mental_notes", key, id)
}

// InsertConversation inserts a conversation and assigns its ID.
func (s *PostgresStore) InsertConversation(ctx context.Context, conv *Conversation) error {
	if err := validateTenant(conv.UserID, conv.ProjectID); err != nil {
		return err
	}
	if len(conv.RawData) == 0 {
		return fmt.Errorf("%w: raw_data is required", ErrInvalidRecord)
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO conversations (conversation_id, user_id, project_id, session_id, model, created_at, raw_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	err := s.db.GetContext(ctx, &conv.ID, query,
		conv.ConversationID, conv.UserID, conv.ProjectID, conv.SessionID, conv.Model, conv.CreatedAt, conv.RawData)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// GetConversation returns a conversation by id, tenant-scoped.
func (s *PostgresStore) GetConversation(ctx context.Context, key tenant.Key, id int64) (*Conversation, error) {
	var conv Conversation
	query := `
		SELECT id, conversation_id, user_id, project_id, session_id, model, created_at, raw_data
		FROM conversations
		WHERE id = $1 AND user_id = $2 AND project_id = $3`
	err := s.db.GetContext(ctx, &conv, query, id, key.UserID, key.ProjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return &conv, nil
}

// DeleteConversation deletes a conversation, tenant-scoped.
func (s *PostgresStore) DeleteConversation(ctx context.Context, key tenant.Key, id int64) error {
	return s.deleteRow(ctx, "conversations", key, id)
}

// RecentConversations returns up to n conversations, newest first.
func (s *PostgresStore) RecentConversations(ctx context.Context, key tenant.Key, n int) ([]Conversation, error) {
	if n <= 0 {
		return nil, nil
	}
	var convs []Conversation
	query := `
		SELECT id, conversation_id, user_id, project_id, session_id, model, created_at, raw_data
		FROM conversations
		WHERE user_id = $1 AND project_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`
	if err := s.db.SelectContext(ctx, &convs, query, key.UserID, key.ProjectID, n); err != nil {
		return nil, fmt.Errorf("listing recent conversations: %w", err)
	}
	return convs, nil
}

// CountConversations returns the tenant's total conversation count.
func (s *PostgresStore) CountConversations(ctx context.Context, key tenant.Key) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM conversations WHERE user_id = $1 AND project_id = $2`
	if err := s.db.GetContext(ctx, &count, query, key.UserID, key.ProjectID); err != nil {
		return 0, fmt.Errorf("counting conversations: %w", err)
	}
	return count, nil
}

// CountConversationsInSession returns the conversation count within a session.
func (s *PostgresStore) CountConversationsInSession(ctx context.Context, key tenant.Key, sessionID string) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM conversations
		WHERE user_id = $1 AND project_id = $2 AND session_id = $3`
	if err := s.db.GetContext(ctx, &count, query, key.UserID, key.ProjectID, sessionID); err != nil {
		return 0, fmt.Errorf("counting session conversations: %w", err)
	}
	return count, nil
}

// CountConversationsInWindow counts conversations inside the inclusive window.
func (s *PostgresStore) CountConversationsInWindow(ctx context.Context, key tenant.Key, start, end time.Time) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM conversations
		WHERE user_id = $1 AND project_id = $2 AND created_at >= $3 AND created_at <= $4`
	if err := s.db.GetContext(ctx, &count, query, key.UserID, key.ProjectID, start, end); err != nil {
		return 0, fmt.Errorf("counting windowed conversations: %w", err)
	}
	return count, nil
}

// CountMemoryLogsInWindow counts memory logs inside the inclusive window.
func (s *PostgresStore) CountMemoryLogsInWindow(ctx context.Context, key tenant.Key, start, end time.Time) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM memory_logs
		WHERE user_id = $1 AND project_id = $2 AND created_at >= $3 AND created_at <= $4`
	if err := s.db.GetContext(ctx, &count, query, key.UserID, key.ProjectID, start, end); err != nil {
		return 0, fmt.Errorf("counting windowed memory logs: %w", err)
	}
	return count, nil
}

// InsertICMLog appends an ICM log row.
func (s *PostgresStore) InsertICMLog(ctx context.Context, log *ICMLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO icm_logs (request_id, user_id, project_id, icm_type, payload,
			results_count, result_limit, min_similarity, window_start, window_end, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	err := s.db.GetContext(ctx, &log.ID, query,
		log.RequestID, log.UserID, log.ProjectID, log.ICMType, log.Payload,
		log.ResultsCount, log.Limit, log.MinSimilarity, log.WindowStart, log.WindowEnd, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting icm log: %w", err)
	}
	return nil
}

// InsertRetrievalLog appends a retrieval log row.
func (s *PostgresStore) InsertRetrievalLog(ctx context.Context, log *RetrievalLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if len(log.Results) == 0 {
		log.Results = []byte("[]")
	}
	query := `
		INSERT INTO retrieval_logs (request_id, user_id, project_id, target, query, results, results_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	err := s.db.GetContext(ctx, &log.ID, query,
		log.RequestID, log.UserID, log.ProjectID, log.Target, log.Query, log.Results, log.ResultsCount, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting retrieval log: %w", err)
	}
	return nil
}

// InsertRequestLog appends a request log row.
func (s *PostgresStore) InsertRequestLog(ctx context.Context, log *RequestLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO request_logs (request_id, user_id, project_id, query, session_id,
			result_limit, min_similarity, outcome, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	err := s.db.GetContext(ctx, &log.ID, query,
		log.RequestID, log.UserID, log.ProjectID, log.Query, log.SessionID,
		log.Limit, log.MinSimilarity, log.Outcome, log.DurationMS, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting request log: %w", err)
	}
	return nil
}

// Ping verifies the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) updateEmbedding(ctx context.Context, table string, key tenant.Key, id int64, embedding Vector) error {
	query := fmt.Sprintf(
		`UPDATE %s SET embedding = $1 WHERE id = $2 AND user_id = $3 AND project_id = $4`, table)
	res, err := s.db.ExecContext(ctx, query, embedding, id, key.UserID, key.ProjectID)
	if err != nil {
		return fmt.Errorf("updating %s embedding: %w", table, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) deleteRow(ctx context.Context, table string, key tenant.Key, id int64) error {
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE id = $1 AND user_id = $2 AND project_id = $3`, table)
	res, err := s.db.ExecContext(ctx, query, id, key.UserID, key.ProjectID)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
