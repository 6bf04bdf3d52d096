// File path: internal/catalog/store.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/ragworks/shardchat/internal/history"
)

// Store mirrors conversation and database metadata into a SQLite catalog for
// cheap listing and stats. The filesystem layout remains the source of
// truth; catalog writes are best-effort and callers log rather than fail.
type Store struct {
	db *sqlx.DB
}

// Open constructs a Store backed by the SQLite database at the provided
// path. The schema is migrated on first use.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("catalog: sqlite path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve catalog path: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", abs)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}
	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		name TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		last_modified TEXT NOT NULL,
		messages INTEGER NOT NULL DEFAULT 0,
		shards INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS databases (
		name TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		original_path TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS shards (
		db_name TEXT NOT NULL REFERENCES databases(name) ON DELETE CASCADE,
		batch INTEGER NOT NULL,
		chunks INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (db_name, batch)
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

// ConversationRecord is one catalog row describing a stored conversation.
type ConversationRecord struct {
	Name         string `db:"name" json:"name"`
	CreatedAt    string `db:"created_at" json:"created_at"`
	LastModified string `db:"last_modified" json:"last_modified"`
	Messages     int    `db:"messages" json:"messages"`
	Shards       int    `db:"shards" json:"shards"`
}

// DatabaseRecord is one catalog row describing an ingestion database with
// aggregated shard statistics.
type DatabaseRecord struct {
	Name         string `db:"name" json:"name"`
	FileName     string `db:"file_name" json:"file_name"`
	OriginalPath string `db:"original_path" json:"original_file_path"`
	CreatedAt    string `db:"created_at" json:"creation_date"`
	Shards       int    `db:"shard_count" json:"shards"`
	Chunks       int    `db:"chunk_count" json:"chunks"`
}

// RecordConversation upserts the catalog row for a conversation.
func (s *Store) RecordConversation(ctx context.Context, meta history.Metadata, messages, shards int) error {
	if s == nil || s.db == nil {
		return errors.New("catalog not initialized")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (name, created_at, last_modified, messages, shards)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			last_modified = excluded.last_modified,
			messages = excluded.messages,
			shards = excluded.shards`,
		meta.Name,
		meta.CreatedAt.UTC().Format(time.RFC3339),
		meta.LastModified.UTC().Format(time.RFC3339),
		messages,
		shards,
	)
	if err != nil {
		return fmt.Errorf("record conversation: %w", err)
	}
	return nil
}

// ForgetConversation drops the catalog row for a deleted conversation.
func (s *Store) ForgetConversation(ctx context.Context, name string) error {
	if s == nil || s.db == nil {
		return errors.New("catalog not initialized")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE name = ?`, name); err != nil {
		return fmt.Errorf("forget conversation: %w", err)
	}
	return nil
}

// Conversations lists catalog rows, most recently modified first.
func (s *Store) Conversations(ctx context.Context) ([]ConversationRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("catalog not initialized")
	}
	var records []ConversationRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT name, created_at, last_modified, messages, shards
		FROM conversations
		ORDER BY last_modified DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return records, nil
}

// RecordDatabase upserts the catalog row for an ingestion database.
func (s *Store) RecordDatabase(ctx context.Context, name, fileName, originalPath string, createdAt time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("catalog not initialized")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO databases (name, file_name, original_path, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			file_name = excluded.file_name,
			original_path = excluded.original_path`,
		name, fileName, originalPath, createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record database: %w", err)
	}
	return nil
}

// RecordShard upserts one shard row for a database batch.
func (s *Store) RecordShard(ctx context.Context, dbName string, batch, chunks int) error {
	if s == nil || s.db == nil {
		return errors.New("catalog not initialized")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shards (db_name, batch, chunks)
		VALUES (?, ?, ?)
		ON CONFLICT(db_name, batch) DO UPDATE SET chunks = excluded.chunks`,
		dbName, batch, chunks,
	)
	if err != nil {
		return fmt.Errorf("record shard: %w", err)
	}
	return nil
}

// ForgetDatabase drops the database row and, via cascade, its shard rows.
func (s *Store) ForgetDatabase(ctx context.Context, name string) error {
	if s == nil || s.db == nil {
		return errors.New("catalog not initialized")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM databases WHERE name = ?`, name); err != nil {
		return fmt.Errorf("forget database: %w", err)
	}
	return nil
}

// Databases lists database rows with shard and chunk totals, newest first.
func (s *Store) Databases(ctx context.Context) ([]DatabaseRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("catalog not initialized")
	}
	var records []DatabaseRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT d.name, d.file_name, d.original_path, d.created_at,
			COUNT(s.batch) AS shard_count,
			COALESCE(SUM(s.chunks), 0) AS chunk_count
		FROM databases d
		LEFT JOIN shards s ON s.db_name = d.name
		GROUP BY d.name
		ORDER BY d.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	return records, nil
}

var _ history.Recorder = (*Store)(nil)
