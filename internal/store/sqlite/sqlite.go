// Package sqlite implements store.Store on a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/weblobby/weblobby-client/internal/store"
)

// Setting keys.
const (
	keyName     = "name"
	keyPassword = "password"
	keyDeviceID = "device_id"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS channel_subs (
	channel TEXT PRIMARY KEY
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (creating if needed) the settings database at dbPath.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) getSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select setting %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) setSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}

// Credentials returns the stored account.
func (s *SQLiteStore) Credentials(ctx context.Context) (store.Credentials, error) {
	name, err := s.getSetting(ctx, keyName)
	if err != nil {
		return store.Credentials{}, err
	}
	password, err := s.getSetting(ctx, keyPassword)
	if err != nil {
		return store.Credentials{}, err
	}
	return store.Credentials{Name: name, Password: password}, nil
}

// SaveCredentials overwrites the stored account.
func (s *SQLiteStore) SaveCredentials(ctx context.Context, creds store.Credentials) error {
	if err := s.setSetting(ctx, keyName, creds.Name); err != nil {
		return err
	}
	return s.setSetting(ctx, keyPassword, creds.Password)
}

// DeviceID returns the stable per-install identifier, generating one on
// first call.
func (s *SQLiteStore) DeviceID(ctx context.Context) (string, error) {
	id, err := s.getSetting(ctx, keyDeviceID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	u := uuid.New()
	id = strconv.FormatUint(uint64(binary.BigEndian.Uint32(u[:4])), 10)
	if err := s.setSetting(ctx, keyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// AutojoinChannels lists channels to rejoin after login, sorted by name.
func (s *SQLiteStore) AutojoinChannels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel FROM channel_subs ORDER BY channel`)
	if err != nil {
		return nil, fmt.Errorf("select channel subs: %w", err)
	}
	defer rows.Close()

	var channels []string
	for rows.Next() {
		var channel string
		if err := rows.Scan(&channel); err != nil {
			return nil, fmt.Errorf("scan channel sub: %w", err)
		}
		channels = append(channels, channel)
	}
	return channels, rows.Err()
}

// SetChannelSubscription adds or removes a channel from the autojoin list.
func (s *SQLiteStore) SetChannelSubscription(ctx context.Context, channel string, subscribed bool) error {
	var err error
	if subscribed {
		_, err = s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO channel_subs (channel) VALUES (?)`, channel)
	} else {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM channel_subs WHERE channel = ?`, channel)
	}
	if err != nil {
		return fmt.Errorf("update channel sub %s: %w", channel, err)
	}
	return nil
}
