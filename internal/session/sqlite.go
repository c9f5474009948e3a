package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/seojinpark/crosspost/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS linked_accounts (
	session_id TEXT NOT NULL,
	platform   TEXT NOT NULL,
	account    BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, platform)
)`

// SQLiteStore implements domain.SessionRepository using SQLite. Account
// blobs are encrypted at rest.
type SQLiteStore struct {
	db     *sql.DB
	sealer *sealer
}

// NewSQLiteStore opens (or creates) the database at path, verifies the
// connection, and ensures the schema exists. The caller should call Close
// when the store is no longer needed.
func NewSQLiteStore(path, secret string) (*SQLiteStore, error) {
	s, err := newSealer(secret)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, sealer: s}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetAccount returns the linked account for the platform, or (nil, nil)
// when the platform is not linked.
func (s *SQLiteStore) GetAccount(ctx context.Context, sessionID string, platform domain.Platform) (*domain.LinkedAccount, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT account FROM linked_accounts WHERE session_id = ? AND platform = ?`,
		sessionID, platform,
	).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}

	return s.decode(sealed)
}

// PutAccount stores or replaces the linked account for the platform.
func (s *SQLiteStore) PutAccount(ctx context.Context, sessionID string, platform domain.Platform, account *domain.LinkedAccount) error {
	plain, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	sealed, err := s.sealer.seal(plain)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO linked_accounts (session_id, platform, account, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id, platform) DO UPDATE
		SET account = excluded.account, updated_at = excluded.updated_at`,
		sessionID, platform, sealed, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store account: %w", err)
	}
	return nil
}

// DeleteAccount removes the linked account for the platform.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, sessionID string, platform domain.Platform) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM linked_accounts WHERE session_id = ? AND platform = ?`,
		sessionID, platform,
	)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// ListAccounts returns all linked accounts for the session keyed by
// platform.
func (s *SQLiteStore) ListAccounts(ctx context.Context, sessionID string) (map[domain.Platform]*domain.LinkedAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform, account FROM linked_accounts WHERE session_id = ?`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make(map[domain.Platform]*domain.LinkedAccount)
	for rows.Next() {
		var (
			platform string
			sealed   []byte
		)
		if err := rows.Scan(&platform, &sealed); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		account, err := s.decode(sealed)
		if err != nil {
			return nil, err
		}
		accounts[domain.Platform(platform)] = account
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

func (s *SQLiteStore) decode(sealed []byte) (*domain.LinkedAccount, error) {
	plain, err := s.sealer.open(sealed)
	if err != nil {
		return nil, err
	}
	var account domain.LinkedAccount
	if err := json.Unmarshal(plain, &account); err != nil {
		return nil, fmt.Errorf("unmarshal account: %w", err)
	}
	return &account, nil
}
