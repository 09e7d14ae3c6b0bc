package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// The column names mirror the provider's token field names so the persisted
// record stays recognizable next to the OAuth wire format.
const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	session_id    TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	expiry_date   INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);
`

// Repo is the durable, session-keyed credential store backed by SQLite.
// It is the cookie-equivalent persistence layer: a session survives process
// restarts as long as its row exists.
type Repo struct {
	db *sqlx.DB
}

type credentialRow struct {
	SessionID    string    `db:"session_id"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiryDate   int64     `db:"expiry_date"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// OpenRepo opens (creating if necessary) the SQLite credential database at
// the given path and applies the schema.
func OpenRepo(ctx context.Context, path string) (*Repo, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Repo{db: db}, nil
}

// Save upserts the credential for a session. Every successful refresh calls
// this exactly once before the refreshed credential is returned to a caller.
func (r *Repo) Save(ctx context.Context, sessionID string, cred Credential) error {
	query := `
		INSERT INTO credentials (session_id, access_token, refresh_token, expiry_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expiry_date = excluded.expiry_date,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	if _, err := r.db.ExecContext(ctx, query,
		sessionID, cred.AccessToken, cred.RefreshToken, cred.ExpiryDate, now, now,
	); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Load returns the persisted credential for a session, or ErrNotFound.
func (r *Repo) Load(ctx context.Context, sessionID string) (Credential, error) {
	var row credentialRow
	query := `SELECT * FROM credentials WHERE session_id = ?`
	err := r.db.GetContext(ctx, &row, query, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("failed to load credential: %w", err)
	}
	return Credential{
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		ExpiryDate:   row.ExpiryDate,
	}, nil
}

// Delete removes the persisted credential for a session. Deleting a missing
// row is not an error.
func (r *Repo) Delete(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (r *Repo) Close() error {
	return r.db.Close()
}
