package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/rocky/internal/domain"
	"github.com/ashureev/rocky/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	maxConflictRetries = 3
	conflictBaseDelay  = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; foreign keys so consultations always point at a user.
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT,
		document TEXT,
		affiliation TEXT,
		last_interaction_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS consultations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(id),
		reason TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_consultations_user ON consultations(user_id);
	CREATE INDEX IF NOT EXISTS idx_consultations_created ON consultations(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetProfile retrieves a profile by user id.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	query := `
		SELECT id, name, document, affiliation, last_interaction_at
		FROM users WHERE id = ?`

	var profile domain.Profile
	var name, document, affiliation sql.NullString
	var lastInteraction int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&profile.ID, &name, &document, &affiliation, &lastInteraction,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile row: %w", err)
	}

	profile.Name = name.String
	profile.Document = document.String
	profile.Affiliation = affiliation.String
	profile.LastInteractionAt = time.UnixMilli(lastInteraction)

	return &profile, nil
}

// TouchProfile sets last_interaction_at, creating the row with unset fields if absent.
func (s *SQLiteStore) TouchProfile(ctx context.Context, userID string, at time.Time) error {
	query := `
	INSERT INTO users (id, last_interaction_at) VALUES (?, ?)
	ON CONFLICT(id) DO UPDATE SET last_interaction_at = excluded.last_interaction_at`

	return s.withRetry(ctx, "touch profile", userID, func() error {
		_, err := s.db.ExecContext(ctx, query, userID, at.UnixMilli())
		return err
	})
}

// UpdateProfile merges the non-nil patch fields into the profile row.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, userID string, patch domain.ProfilePatch) error {
	if patch.IsEmpty() {
		return nil
	}
	return s.withRetry(ctx, "update profile", userID, func() error {
		return upsertPatch(ctx, s.db, userID, patch)
	})
}

// ResetProfile clears the collected intake fields of a profile.
func (s *SQLiteStore) ResetProfile(ctx context.Context, userID string) error {
	query := `UPDATE users SET name = NULL, document = NULL, affiliation = NULL WHERE id = ?`
	return s.withRetry(ctx, "reset profile", userID, func() error {
		result, err := s.db.ExecContext(ctx, query, userID)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			slog.Warn("ResetProfile affected 0 rows", "user_id", userID)
		}
		return nil
	})
}

// AppendConsultation inserts a consultation record.
func (s *SQLiteStore) AppendConsultation(ctx context.Context, c *domain.Consultation) error {
	return s.withRetry(ctx, "append consultation", c.UserID, func() error {
		return insertConsultation(ctx, s.db, c)
	})
}

// CommitIntake merges patch into the profile and appends c atomically.
func (s *SQLiteStore) CommitIntake(ctx context.Context, userID string, patch domain.ProfilePatch, c *domain.Consultation) error {
	return s.withRetry(ctx, "commit intake", userID, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if !patch.IsEmpty() {
			if err := upsertPatch(ctx, tx, userID, patch); err != nil {
				return err
			}
		}
		if c != nil {
			if err := insertConsultation(ctx, tx, c); err != nil {
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// ListConsultations returns the most recent consultations, newest first.
func (s *SQLiteStore) ListConsultations(ctx context.Context, limit int) ([]*domain.Consultation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, user_id, reason, created_at
		FROM consultations ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query consultations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close consultation rows", "error", closeErr)
		}
	}()

	var out []*domain.Consultation
	for rows.Next() {
		var c domain.Consultation
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.UserID, &c.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan consultation row: %w", err)
		}
		c.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consultations: %w", err)
	}
	return out, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertPatch(ctx context.Context, db execer, userID string, patch domain.ProfilePatch) error {
	query := `
	INSERT INTO users (id, name, document, affiliation) VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = COALESCE(excluded.name, users.name),
		document = COALESCE(excluded.document, users.document),
		affiliation = COALESCE(excluded.affiliation, users.affiliation)`

	if _, err := db.ExecContext(ctx, query, userID,
		nullable(patch.Name), nullable(patch.Document), nullable(patch.Affiliation),
	); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func insertConsultation(ctx context.Context, db execer, c *domain.Consultation) error {
	query := `INSERT INTO consultations (user_id, reason, created_at) VALUES (?, ?, ?)`
	result, err := db.ExecContext(ctx, query, c.UserID, c.Reason, c.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert consultation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("consultation last insert id: %w", err)
	}
	c.ID = id
	return nil
}

func nullable(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// withRetry runs fn, retrying with exponential backoff on SQLITE_BUSY / locked errors.
func (s *SQLiteStore) withRetry(ctx context.Context, op, userID string, fn func() error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxConflictRetries-1 {
			break
		}

		delay := conflictBaseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("SQLite conflict, retrying",
			"op", op,
			"user_id", userID,
			"attempt", i+1,
			"delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
