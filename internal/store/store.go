// Package store keeps a SQLite ledger of what the bot did: commands,
// submissions with their image digests, retrievals, room changes and
// failures.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"quotesbot/internal/bus"

	_ "modernc.org/sqlite"
)

const recordTimeout = 5 * time.Second

// Entry is one recorded notice.
type Entry struct {
	ID        int64
	Type      string
	Channel   string
	RoomID    string
	Sender    string
	Verb      string
	QuoteID   int
	Digest    string
	Detail    string
	Duration  time.Duration
	CreatedAt time.Time
}

// Ledger stores notices in SQLite.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the ledger database at dbPath and applies
// pending migrations.
func Open(dbPath string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &Ledger{db: db, logger: logger}, nil
}

// Record stores a notice.
func (l *Ledger) Record(ctx context.Context, n bus.Notice) error {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO notices (type, channel, room_id, sender, verb, quote_id, digest, detail, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.Type, n.Channel, n.RoomID, n.Sender, n.Verb, n.QuoteID, n.Digest, n.Detail,
		n.Duration.Milliseconds(), ts.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record notice %s: %w", n.Type, err)
	}
	return nil
}

// Subscribe records every notice emitted on events. It returns the handler
// ID for EventBus.Off.
func (l *Ledger) Subscribe(events *bus.EventBus) string {
	return events.On("*", func(n bus.Notice) {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := l.Record(ctx, n); err != nil {
			l.logger.Warn("ledger write failed", "notice", n.Type, "err", err)
		}
	})
}

// Recent returns up to limit entries, newest first. An empty noticeType
// matches every type.
func (l *Ledger) Recent(ctx context.Context, noticeType string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, type, channel, room_id, sender, verb, quote_id, digest, detail, duration_ms, created_at
		 FROM notices WHERE (? = '' OR type = ?) ORDER BY created_at DESC, id DESC LIMIT ?`,
		noticeType, noticeType, limit,
	)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// ByDigest returns submissions of the image with the given digest, oldest
// first.
func (l *Ledger) ByDigest(ctx context.Context, digest string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, type, channel, room_id, sender, verb, quote_id, digest, detail, duration_ms, created_at
		 FROM notices WHERE type = ? AND digest = ? ORDER BY created_at ASC, id ASC`,
		bus.NoticeQuoteSubmit, digest,
	)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// Prune deletes entries older than the retention period and returns how
// many were removed.
func (l *Ledger) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := l.db.ExecContext(ctx, `DELETE FROM notices WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune notices: %w", err)
	}
	return res.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			durationMS int64
			createdMS  int64
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Channel, &e.RoomID, &e.Sender, &e.Verb,
			&e.QuoteID, &e.Digest, &e.Detail, &durationMS, &createdMS); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.CreatedAt = time.UnixMilli(createdMS)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
