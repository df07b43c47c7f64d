package bus

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStoreConfig configures the SQLite journal.
type SQLiteStoreConfig struct {
	// DSN is the database connection string.
	DSN string

	// RetentionAge drops messages published longer ago than this (0 keeps
	// them).
	RetentionAge time.Duration

	// RetentionCount keeps at most this many messages per channel (0 keeps
	// them all).
	RetentionCount int

	// PruneInterval is how often retention is applied. Default one hour.
	PruneInterval time.Duration

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time
}

// SQLiteMessageStore journals messages into SQLite in WAL mode. Payloads
// are stored as JSON and come back from List as json.RawMessage, which
// protocol.Decode accepts, so listed messages can be published again.
type SQLiteMessageStore struct {
	db  *sql.DB
	cfg SQLiteStoreConfig

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSQLiteMessageStore opens or creates the journal at cfg.DSN. A pruner
// runs in the background when a retention limit is set.
func NewSQLiteMessageStore(cfg SQLiteStoreConfig) (*SQLiteMessageStore, error) {
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	for _, stmt := range []string{"PRAGMA journal_mode=WAL", sqliteSchema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlitestore: init: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &SQLiteMessageStore{db: db, cfg: cfg, cancel: cancel, done: make(chan struct{})}
	if cfg.RetentionAge > 0 || cfg.RetentionCount > 0 {
		go s.pruneEvery(ctx)
	} else {
		close(s.done)
	}
	return s, nil
}

func (s *SQLiteMessageStore) Append(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal %s/%s payload: %w", env.Channel, env.Topic, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (channel, seq, topic, published, payload) VALUES (?, ?, ?, ?, ?)`,
		env.Channel, env.Seq, env.Topic, env.Time.UnixNano(), payload,
	); err != nil {
		return fmt.Errorf("sqlitestore: append: %w", err)
	}
	return nil
}

func (s *SQLiteMessageStore) List(ctx context.Context, channel string, afterSeq uint64, limit int) ([]Envelope, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, topic, published, payload FROM messages
		 WHERE channel = ? AND seq > ? ORDER BY seq LIMIT ?`,
		channel, afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list %s: %w", channel, err)
	}
	defer rows.Close()

	var out []Envelope
	for rows.Next() {
		var (
			env       = Envelope{Channel: channel}
			published int64
			payload   []byte
		)
		if err := rows.Scan(&env.Seq, &env.Topic, &published, &payload); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan %s: %w", channel, err)
		}
		env.Time = time.Unix(0, published)
		env.Payload = json.RawMessage(payload)
		out = append(out, env)
	}
	return out, rows.Err()
}

func (s *SQLiteMessageStore) LatestSeq(ctx context.Context, channel string) (uint64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM messages WHERE channel = ?`, channel,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("sqlitestore: latest seq %s: %w", channel, err)
	}
	if !seq.Valid || seq.Int64 < 0 {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// Channels returns the journaled channels in name order.
func (s *SQLiteMessageStore) Channels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT channel FROM messages ORDER BY channel`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: channels: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ch string
		if err := rows.Scan(&ch); err != nil {
			return nil, fmt.Errorf("sqlitestore: channels: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// Prune applies the retention limits once.
func (s *SQLiteMessageStore) Prune(ctx context.Context) error {
	if s.cfg.RetentionAge > 0 {
		cutoff := s.cfg.Now().Add(-s.cfg.RetentionAge).UnixNano()
		if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE published < ?`, cutoff); err != nil {
			return fmt.Errorf("sqlitestore: prune by age: %w", err)
		}
	}
	if s.cfg.RetentionCount > 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM messages WHERE id IN (
				SELECT id FROM (
					SELECT id, ROW_NUMBER() OVER (PARTITION BY channel ORDER BY seq DESC) AS age
					FROM messages
				) WHERE age > ?
			)`, s.cfg.RetentionCount,
		); err != nil {
			return fmt.Errorf("sqlitestore: prune by count: %w", err)
		}
	}
	return nil
}

// Close stops the pruner and closes the database. It is safe to call
// more than once.
func (s *SQLiteMessageStore) Close() error {
	s.cancel()
	<-s.done
	return s.db.Close()
}

func (s *SQLiteMessageStore) pruneEvery(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Prune(ctx)
		}
	}
}

var _ MessageStore = (*SQLiteMessageStore)(nil)
