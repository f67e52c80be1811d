// ABOUTME: SQLite implementation of the HistoryStore interface using modernc.org/sqlite
// ABOUTME: Keeps per-channel stream positions and bounded publication history

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the HistoryStore interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ HistoryStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" opens a private
// in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each connection to :memory: is a separate database, and SQLite only
	// allows one writer anyway.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS streams (
			channel    TEXT PRIMARY KEY,
			epoch      TEXT NOT NULL,
			top_offset INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS publications (
			channel    TEXT NOT NULL,
			pub_offset INTEGER NOT NULL,
			id         TEXT NOT NULL,
			data       BLOB NOT NULL,
			tags_json  TEXT,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (channel, pub_offset),
			FOREIGN KEY (channel) REFERENCES streams(channel) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_publications_created
			ON publications(channel, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Append stores pub as the next entry of channel's stream, assigning its
// offset, and trims history to opts. The stream is created on first use
// with a fresh epoch.
func (s *SQLiteStore) Append(ctx context.Context, channel string, pub *Publication, opts AppendOptions) (StreamPosition, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StreamPosition{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()

	pos, err := lockStream(ctx, tx, channel, now)
	if err != nil {
		return StreamPosition{}, err
	}
	pos.Offset++

	if _, err := tx.ExecContext(ctx,
		`UPDATE streams SET top_offset = ?, updated_at = ? WHERE channel = ?`,
		pos.Offset, now.UnixMilli(), channel,
	); err != nil {
		return StreamPosition{}, fmt.Errorf("advancing stream: %w", err)
	}

	pub.Offset = pos.Offset
	if pub.CreatedAt.IsZero() {
		pub.CreatedAt = now
	}

	if opts.Size > 0 {
		tagsJSON, err := marshalTags(pub.Tags)
		if err != nil {
			return StreamPosition{}, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO publications (channel, pub_offset, id, data, tags_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			channel, pub.Offset, pub.ID, []byte(pub.Data), tagsJSON, pub.CreatedAt.UnixMilli(),
		); err != nil {
			return StreamPosition{}, fmt.Errorf("inserting publication: %w", err)
		}
	}

	if err := trimHistory(ctx, tx, channel, pos.Offset, opts, now); err != nil {
		return StreamPosition{}, err
	}

	if err := tx.Commit(); err != nil {
		return StreamPosition{}, fmt.Errorf("committing publication: %w", err)
	}

	s.logger.Debug("appended publication", "channel", channel, "offset", pos.Offset)
	return pos, nil
}

// lockStream returns the current position of channel, creating the stream row
// if it does not exist yet.
func lockStream(ctx context.Context, tx *sql.Tx, channel string, now time.Time) (StreamPosition, error) {
	var pos StreamPosition
	err := tx.QueryRowContext(ctx,
		`SELECT top_offset, epoch FROM streams WHERE channel = ?`, channel,
	).Scan(&pos.Offset, &pos.Epoch)
	if err == nil {
		return pos, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return StreamPosition{}, fmt.Errorf("reading stream: %w", err)
	}

	pos = StreamPosition{Offset: 0, Epoch: newEpoch()}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO streams (channel, epoch, top_offset, updated_at) VALUES (?, ?, 0, ?)`,
		channel, pos.Epoch, now.UnixMilli(),
	); err != nil {
		return StreamPosition{}, fmt.Errorf("creating stream: %w", err)
	}
	return pos, nil
}

// trimHistory drops publications beyond the configured size or older than TTL.
func trimHistory(ctx context.Context, tx *sql.Tx, channel string, top uint64, opts AppendOptions, now time.Time) error {
	var keepAfter uint64
	if top > uint64(opts.Size) {
		keepAfter = top - uint64(opts.Size)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM publications WHERE channel = ? AND pub_offset <= ?`, channel, keepAfter,
	); err != nil {
		return fmt.Errorf("trimming history by size: %w", err)
	}

	if opts.TTL > 0 {
		cutoff := now.Add(-opts.TTL).UnixMilli()
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM publications WHERE channel = ? AND created_at < ?`, channel, cutoff,
		); err != nil {
			return fmt.Errorf("trimming history by ttl: %w", err)
		}
	}
	return nil
}

// History returns publications for channel matching filter together with the
// channel's current stream position. An unknown channel yields an empty
// result and a zero position.
func (s *SQLiteStore) History(ctx context.Context, channel string, filter HistoryFilter) ([]*Publication, StreamPosition, error) {
	var pos StreamPosition
	err := s.db.QueryRowContext(ctx,
		`SELECT top_offset, epoch FROM streams WHERE channel = ?`, channel,
	).Scan(&pos.Offset, &pos.Epoch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, StreamPosition{}, nil
	}
	if err != nil {
		return nil, StreamPosition{}, fmt.Errorf("reading stream: %w", err)
	}

	query := `
		SELECT id, pub_offset, data, tags_json, created_at
		FROM publications
		WHERE channel = ? AND pub_offset > ? AND created_at >= ?
	`
	var minCreated int64
	if filter.TTL > 0 {
		minCreated = s.now().Add(-filter.TTL).UnixMilli()
	}
	if filter.Reverse {
		query += " ORDER BY pub_offset DESC"
	} else {
		query += " ORDER BY pub_offset ASC"
	}
	args := []any{channel, filter.Since, minCreated}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, StreamPosition{}, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var pubs []*Publication
	for rows.Next() {
		var (
			pub       Publication
			data      []byte
			tagsJSON  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&pub.ID, &pub.Offset, &data, &tagsJSON, &createdAt); err != nil {
			return nil, StreamPosition{}, fmt.Errorf("scanning publication: %w", err)
		}
		pub.Data = json.RawMessage(data)
		pub.CreatedAt = time.UnixMilli(createdAt)
		if tagsJSON.Valid && tagsJSON.String != "" {
			if err := json.Unmarshal([]byte(tagsJSON.String), &pub.Tags); err != nil {
				return nil, StreamPosition{}, fmt.Errorf("decoding tags: %w", err)
			}
		}
		pubs = append(pubs, &pub)
	}
	if err := rows.Err(); err != nil {
		return nil, StreamPosition{}, fmt.Errorf("iterating history: %w", err)
	}

	return pubs, pos, nil
}

// RemoveHistory deletes stored publications for channel. The stream position
// is kept so offsets keep increasing.
func (s *SQLiteStore) RemoveHistory(ctx context.Context, channel string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM publications WHERE channel = ?`, channel); err != nil {
		return fmt.Errorf("removing history: %w", err)
	}
	s.logger.Debug("removed history", "channel", channel)
	return nil
}

// Channels lists channels that currently hold history.
func (s *SQLiteStore) Channels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT channel FROM publications ORDER BY channel`)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	defer rows.Close()

	var channels []string
	for rows.Next() {
		var ch string
		if err := rows.Scan(&ch); err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

func marshalTags(tags map[string]string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}
	return string(b), nil
}

func newEpoch() string {
	return uuid.NewString()[:8]
}
