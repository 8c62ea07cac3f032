package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/turbine/internal/core"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("event store is closed")

	// ErrCorruptLog is returned when a persisted row cannot be revived.
	// There is no recovery: the log is canonical, and a row the code cannot
	// read means the session must surface the failure to the caller.
	ErrCorruptLog = errors.New("event log is corrupt")

	// ErrNoSnapshot is returned when no snapshot has been persisted yet.
	ErrNoSnapshot = errors.New("no snapshot available")
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_id ON events(id);

CREATE TABLE IF NOT EXISTS snapshots (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	at_event_index INTEGER NOT NULL,
	state          TEXT NOT NULL,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_at_event_index ON snapshots(at_event_index DESC);

CREATE TABLE IF NOT EXISTS metadata (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// StoredEvent is an event together with its log position.
type StoredEvent struct {
	Index int64
	Kind  string
	Event core.Event
}

// Snapshot is a state materialization bound to the index of the last event
// folded into it.
type Snapshot struct {
	State        core.State
	AtEventIndex int64
	CreatedAt    time.Time
}

// Store is the SQLite-backed event log. It is exclusively owned by one
// session; concurrent sessions use distinct database files.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Open opens (and if needed creates) the event store at the given path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	// WAL allows concurrent readers but SQLite has a single writer; the
	// session is strictly serial anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate event store: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Append writes one event to the log and returns its monotonic index.
func (s *Store) Append(ctx context.Context, e core.Event) (int64, error) {
	if err := s.ensureOpen(); err != nil {
		return 0, err
	}

	kind, payload, err := core.MarshalEvent(e)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (kind, payload, timestamp, created_at) VALUES (?, ?, ?, ?)`,
		kind,
		string(payload),
		e.OccurredAt().UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}

	index, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}

	s.logger.Debug("event appended",
		zap.Int64("index", index),
		zap.String("kind", kind),
	)
	return index, nil
}

// Events returns events with index in [from, to], ordered ascending. A zero
// `to` means no upper bound.
func (s *Store) Events(ctx context.Context, from, to int64) ([]StoredEvent, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	query := `SELECT id, kind, payload FROM events WHERE id >= ?`
	args := []any{from}
	if to > 0 {
		query += ` AND id <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var (
			index   int64
			kind    string
			payload string
		)
		if err := rows.Scan(&index, &kind, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event, err := core.UnmarshalEvent(kind, []byte(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: event %d: %v", ErrCorruptLog, index, err)
		}
		events = append(events, StoredEvent{Index: index, Kind: kind, Event: event})
	}
	return events, rows.Err()
}

// EventByIndex returns the single event stored at the given index.
func (s *Store) EventByIndex(ctx context.Context, index int64) (StoredEvent, error) {
	events, err := s.Events(ctx, index, index)
	if err != nil {
		return StoredEvent{}, err
	}
	if len(events) == 0 {
		return StoredEvent{}, sql.ErrNoRows
	}
	return events[0], nil
}

// SaveSnapshot persists a state materialization bound to an event index.
// The state serializes as JSON; timestamps round-trip as ISO-8601 UTC
// strings and revive as time values on read.
func (s *Store) SaveSnapshot(ctx context.Context, state core.State, atIndex int64) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}

	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal snapshot state: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (at_event_index, state, created_at) VALUES (?, ?, ?)`,
		atIndex,
		string(blob),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	s.logger.Debug("snapshot saved", zap.Int64("at_event_index", atIndex))
	return nil
}

// LatestSnapshot returns the snapshot with the highest event index.
func (s *Store) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	var (
		atIndex   int64
		blob      string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT at_event_index, state, created_at FROM snapshots ORDER BY at_event_index DESC LIMIT 1`,
	).Scan(&atIndex, &blob, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var state core.State
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return nil, fmt.Errorf("%w: snapshot at %d: %v", ErrCorruptLog, atIndex, err)
	}

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot timestamp: %v", ErrCorruptLog, err)
	}

	return &Snapshot{State: state, AtEventIndex: atIndex, CreatedAt: created}, nil
}

// SetMeta stores one crash-resume hint.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set metadata %q: %w", key, err)
	}
	return nil
}

// GetMeta reads one crash-resume hint. Missing keys return an empty string.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	if err := s.ensureOpen(); err != nil {
		return "", err
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %q: %w", key, err)
	}
	return value, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) ensureOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// SnapshotPolicy decides whether to persist a snapshot after appending the
// event at the given index.
type SnapshotPolicy func(index int64, kind string) bool

// DefaultSnapshotPolicy snapshots every 100 events and on the phase and
// convergence milestones, which bounds replay cost without snapshotting on
// every turn.
func DefaultSnapshotPolicy(index int64, kind string) bool {
	if index%100 == 0 {
		return true
	}
	switch kind {
	case core.KindPhaseStarted, core.KindPhaseCompleted, core.KindConvergenceReached:
		return true
	}
	return false
}
