package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateMessage = errors.New("duplicate message")
)

// ValidationError reports a required field that is missing or malformed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS inbound_emails (
            id TEXT PRIMARY KEY,
            message_id TEXT NOT NULL UNIQUE,
            from_email TEXT NOT NULL,
            from_name TEXT NOT NULL DEFAULT '',
            to_json TEXT NOT NULL,
            cc_json TEXT NOT NULL,
            bcc_json TEXT NOT NULL,
            subject TEXT NOT NULL,
            text_body TEXT NOT NULL DEFAULT '',
            html_body TEXT NOT NULL DEFAULT '',
            attachments_json TEXT NOT NULL,
            reply_to_json TEXT,
            in_reply_to TEXT NOT NULL DEFAULT '',
            references_json TEXT NOT NULL,
            labels_json TEXT NOT NULL,
            read INTEGER NOT NULL DEFAULT 0,
            starred INTEGER NOT NULL DEFAULT 0,
            archived INTEGER NOT NULL DEFAULT 0,
            forwarded_to_gmail INTEGER NOT NULL DEFAULT 0,
            forwarded_at INTEGER,
            received_at INTEGER NOT NULL,
            raw BLOB,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS enquiries (
            id TEXT PRIMARY KEY,
            full_name TEXT NOT NULL,
            email TEXT NOT NULL,
            company TEXT NOT NULL DEFAULT '',
            project_type TEXT NOT NULL DEFAULT '',
            idea TEXT NOT NULL DEFAULT '',
            budget TEXT NOT NULL DEFAULT '',
            timeline TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL,
            notes TEXT NOT NULL DEFAULT '',
            tags_json TEXT NOT NULL,
            assignee TEXT NOT NULL DEFAULT '',
            due_date TEXT NOT NULL DEFAULT '',
            links_json TEXT NOT NULL,
            spam INTEGER NOT NULL DEFAULT 0,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS subscribers (
            id TEXT PRIMARY KEY,
            email TEXT NOT NULL UNIQUE,
            source TEXT NOT NULL DEFAULT '',
            subscribed_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_inbound_received ON inbound_emails(received_at, id);`,
		`CREATE INDEX IF NOT EXISTS idx_inbound_from ON inbound_emails(from_email);`,
		`CREATE INDEX IF NOT EXISTS idx_inbound_read ON inbound_emails(read);`,
		`CREATE INDEX IF NOT EXISTS idx_inbound_archived ON inbound_emails(archived);`,
		`CREATE INDEX IF NOT EXISTS idx_inbound_unforwarded ON inbound_emails(forwarded_to_gmail, received_at);`,
		`CREATE INDEX IF NOT EXISTS idx_enquiries_created ON enquiries(created_at, id);`,
		`CREATE INDEX IF NOT EXISTS idx_subscribers_subscribed ON subscribers(subscribed_at);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func encodeJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSON[T any](raw string, fallback T) (T, error) {
	if strings.TrimSpace(raw) == "" || raw == "null" {
		return fallback, nil
	}
	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return fallback, err
	}
	return value, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func boolInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// likePattern escapes LIKE metacharacters so user search terms match literally.
func likePattern(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(term) + "%"
}
