package thread

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig contains configuration for the SQLite turn backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/threads.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteBackend is the durable turn backend backed by SQLite.
type SQLiteBackend struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteBackend opens the database, applies the schema, and enables WAL
// mode if configured.
func NewSQLiteBackend(config *SQLiteConfig) (*SQLiteBackend, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "thread.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	b := &SQLiteBackend{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := b.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite turn backend initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)

	return b, nil
}

// initialize sets up the database schema and pragmas.
func (b *SQLiteBackend) initialize() error {
	if b.config.WALMode {
		if _, err := b.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return NewStorageError("sqlite", "enable_wal", err)
		}
	}

	busyTimeoutMs := b.config.BusyTimeout.Milliseconds()
	if _, err := b.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs)); err != nil {
		return NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := b.db.Exec(Schema); err != nil {
		return NewStorageError("sqlite", "create_schema", err)
	}

	if _, err := b.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := b.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil {
		return NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	return nil
}

// MaxSeq implements Backend.
func (b *SQLiteBackend) MaxSeq(ctx context.Context, threadID string) (int64, error) {
	var maxSeq int64
	err := b.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM turns WHERE thread_id = ?`,
		threadID,
	).Scan(&maxSeq)
	if err != nil {
		return 0, NewStorageError("sqlite", "max_seq", err)
	}
	return maxSeq, nil
}

// InsertTurns implements Backend. All turns are inserted in one transaction
// so a batch append is atomic.
func (b *SQLiteBackend) InsertTurns(ctx context.Context, turns []Turn) error {
	if len(turns) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("sqlite", "begin_insert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO turns (thread_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return NewStorageError("sqlite", "prepare_insert", err)
	}
	defer stmt.Close()

	for _, turn := range turns {
		_, err := stmt.ExecContext(ctx,
			turn.ThreadID, turn.Seq, turn.Role, turn.Content, turn.CreatedAt.Unix())
		if err != nil {
			return NewStorageError("sqlite", "insert_turn", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError("sqlite", "commit_insert", err)
	}
	return nil
}

// RecentTurns implements Backend.
func (b *SQLiteBackend) RecentTurns(ctx context.Context, threadID string, limit int) ([]Turn, error) {
	query := `
		SELECT thread_id, seq, role, content, created_at
		FROM (
			SELECT thread_id, seq, role, content, created_at
			FROM turns
			WHERE thread_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unlimited
	}

	rows, err := b.db.QueryContext(ctx, query, threadID, limit)
	if err != nil {
		return nil, NewStorageError("sqlite", "recent_turns", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		var turn Turn
		var createdAt int64
		if err := rows.Scan(&turn.ThreadID, &turn.Seq, &turn.Role, &turn.Content, &createdAt); err != nil {
			return nil, NewStorageError("sqlite", "scan_turn", err)
		}
		turn.CreatedAt = time.Unix(createdAt, 0).UTC()
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "iterate_turns", err)
	}

	return turns, nil
}

// TurnCount implements Backend.
func (b *SQLiteBackend) TurnCount(ctx context.Context, threadID string) (int64, error) {
	var count int64
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE thread_id = ?`,
		threadID,
	).Scan(&count)
	if err != nil {
		return 0, NewStorageError("sqlite", "turn_count", err)
	}
	return count, nil
}

// PruneIdleThreads implements Backend.
func (b *SQLiteBackend) PruneIdleThreads(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := b.db.ExecContext(ctx, `
		DELETE FROM turns
		WHERE thread_id IN (
			SELECT thread_id
			FROM turns
			GROUP BY thread_id
			HAVING MAX(created_at) < ?
		)
	`, cutoff.Unix())
	if err != nil {
		return 0, NewStorageError("sqlite", "prune_idle_threads", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, NewStorageError("sqlite", "prune_rows_affected", err)
	}

	if deleted > 0 {
		b.logger.Info("idle threads pruned",
			"deleted_turns", deleted,
			"cutoff", cutoff,
		)
	}
	return deleted, nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

var _ Backend = (*SQLiteBackend)(nil)
