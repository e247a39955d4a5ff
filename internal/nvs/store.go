// Package nvs is a small namespaced key-value store for values that must
// survive a restart, such as sensor friendly names.
//
// Keys and namespaces are limited to MaxKeyLen characters, which is why
// sensor keys are derived from only the low bytes of the ROM code.
package nvs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MaxKeyLen is the longest key or namespace accepted.
const MaxKeyLen = 15

// Store reads and writes the entries of one namespace.
type Store struct {
	db        *sql.DB
	namespace string
	now       func() time.Time
}

// Open returns a Store bound to namespace. The nvs_entries table must exist
// (see the migrations package).
//
// Parameters:
//   - db: Open SQLite connection
//   - namespace: Entry namespace, at most MaxKeyLen characters
//
// Returns:
//   - *Store: Store for the namespace
//   - error: ErrEmptyKey or ErrKeyTooLong for an invalid namespace
func Open(db *sql.DB, namespace string) (*Store, error) {
	if err := checkKey(namespace); err != nil {
		return nil, fmt.Errorf("namespace %q: %w", namespace, err)
	}
	return &Store{db: db, namespace: namespace, now: time.Now}, nil
}

func checkKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > MaxKeyLen {
		return ErrKeyTooLong
	}
	return nil
}

// Namespace returns the namespace the store is bound to.
func (s *Store) Namespace() string { return s.namespace }

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, fmt.Errorf("key %q: %w", key, err)
	}

	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM nvs_entries WHERE namespace = ? AND key = ?",
		s.namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", s.namespace, key, err)
	}
	return value, nil
}

// GetString is Get for string values.
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return fmt.Errorf("key %q: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nvs_entries (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.namespace, key, value, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", s.namespace, key, err)
	}
	return nil
}

// SetString is Set for string values.
func (s *Store) SetString(ctx context.Context, key, value string) error {
	return s.Set(ctx, key, []byte(value))
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return fmt.Errorf("key %q: %w", key, err)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM nvs_entries WHERE namespace = ? AND key = ?",
		s.namespace, key,
	); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", s.namespace, key, err)
	}
	return nil
}

// Keys lists the keys of the namespace in ascending order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM nvs_entries WHERE namespace = ? ORDER BY key",
		s.namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.namespace, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
