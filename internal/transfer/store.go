package transfer

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// StaleSessionAge is the default TTL for persisted upload sessions. Drive
// resumable sessions expire server-side after about a week; records older
// than this only describe dead URIs.
const StaleSessionAge = 7 * 24 * time.Hour

// SessionRecord is one persisted upload session. Records are keyed by local
// path: a file has at most one in-flight upload session.
type SessionRecord struct {
	ID              string
	LocalPath       string
	FileMD5         string
	SessionURI      string
	ConfirmedOffset int64
	TotalSize       int64
	CreatedAt       time.Time
}

// SessionStore persists upload sessions in an embedded SQLite database so
// uploads resume across process restarts. Safe for concurrent use.
type SessionStore struct {
	db     *sql.DB
	logger *slog.Logger

	loadStmt   *sql.Stmt
	saveStmt   *sql.Stmt
	offsetStmt *sql.Stmt
	deleteStmt *sql.Stmt
	purgeStmt  *sql.Stmt
}

const (
	sqlSessionColumns = `id, local_path, file_md5, session_uri, confirmed_offset, total_size, created_at`

	sqlLoadSession = `SELECT ` + sqlSessionColumns +
		` FROM upload_sessions WHERE local_path = ?`

	sqlSaveSession = `INSERT INTO upload_sessions (` + sqlSessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (local_path) DO UPDATE SET
			id = excluded.id,
			file_md5 = excluded.file_md5,
			session_uri = excluded.session_uri,
			confirmed_offset = excluded.confirmed_offset,
			total_size = excluded.total_size,
			created_at = excluded.created_at`

	sqlUpdateOffset = `UPDATE upload_sessions SET confirmed_offset = ? WHERE local_path = ?`

	sqlDeleteSession = `DELETE FROM upload_sessions WHERE local_path = ?`

	sqlPurgeStale = `DELETE FROM upload_sessions WHERE created_at < ?`
)

// NewSessionStore opens (or creates) the session database at dbPath and
// applies pending schema migrations. Use ":memory:" for tests.
func NewSessionStore(dbPath string, logger *slog.Logger) (*SessionStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("transfer: opening session db: %w", err)
	}

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("transfer: enabling WAL mode: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &SessionStore{db: db, logger: logger}

	if err := s.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("transfer: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("transfer: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("transfer: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (s *SessionStore) prepareStatements(ctx context.Context) error {
	stmts := []struct {
		dst  **sql.Stmt
		text string
	}{
		{&s.loadStmt, sqlLoadSession},
		{&s.saveStmt, sqlSaveSession},
		{&s.offsetStmt, sqlUpdateOffset},
		{&s.deleteStmt, sqlDeleteSession},
		{&s.purgeStmt, sqlPurgeStale},
	}

	for _, st := range stmts {
		prepared, err := s.db.PrepareContext(ctx, st.text)
		if err != nil {
			return fmt.Errorf("transfer: preparing statement: %w", err)
		}

		*st.dst = prepared
	}

	return nil
}

// Load returns the session record for localPath, or nil, nil when none exists.
func (s *SessionStore) Load(ctx context.Context, localPath string) (*SessionRecord, error) {
	var rec SessionRecord

	err := s.loadStmt.QueryRowContext(ctx, localPath).Scan(
		&rec.ID,
		&rec.LocalPath,
		&rec.FileMD5,
		&rec.SessionURI,
		&rec.ConfirmedOffset,
		&rec.TotalSize,
		&rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("transfer: loading session for %s: %w", localPath, err)
	}

	return &rec, nil
}

// Save inserts or replaces the session record for rec.LocalPath.
func (s *SessionStore) Save(ctx context.Context, rec *SessionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.saveStmt.ExecContext(ctx,
		rec.ID,
		rec.LocalPath,
		rec.FileMD5,
		rec.SessionURI,
		rec.ConfirmedOffset,
		rec.TotalSize,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("transfer: saving session for %s: %w", rec.LocalPath, err)
	}

	return nil
}

// UpdateOffset records the latest remote-confirmed offset for localPath.
// Called after every accepted chunk; a restart resumes from this value
// (re-verified against the remote by a probe before any bytes are sent).
func (s *SessionStore) UpdateOffset(ctx context.Context, localPath string, offset int64) error {
	if _, err := s.offsetStmt.ExecContext(ctx, offset, localPath); err != nil {
		return fmt.Errorf("transfer: updating offset for %s: %w", localPath, err)
	}

	return nil
}

// Delete removes the session record for localPath. Deleting a missing record
// is not an error.
func (s *SessionStore) Delete(ctx context.Context, localPath string) error {
	if _, err := s.deleteStmt.ExecContext(ctx, localPath); err != nil {
		return fmt.Errorf("transfer: deleting session for %s: %w", localPath, err)
	}

	return nil
}

// PurgeStale deletes records older than age and returns how many were
// removed. Call with StaleSessionAge on startup.
func (s *SessionStore) PurgeStale(ctx context.Context, age time.Duration) (int64, error) {
	res, err := s.purgeStmt.ExecContext(ctx, time.Now().UTC().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("transfer: purging stale sessions: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("transfer: counting purged sessions: %w", err)
	}

	if n > 0 {
		s.logger.Info("purged stale upload sessions", slog.Int64("count", n))
	}

	return n, nil
}

// Close releases prepared statements and the underlying database.
func (s *SessionStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.loadStmt, s.saveStmt, s.offsetStmt, s.deleteStmt, s.purgeStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("transfer: closing session db: %w", err)
	}

	return nil
}
