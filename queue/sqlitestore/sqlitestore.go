// Package sqlitestore persists the mutation queue in SQLite (ncruces/go-sqlite3,
// WAL mode). Several queues can share one database file; rows are partitioned
// by queue name.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/unkn0wn-root/fieldsync/queue"
)

const schema = `
CREATE TABLE IF NOT EXISTS mutations (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	queue           TEXT    NOT NULL,
	id              TEXT    NOT NULL UNIQUE,
	idempotency_key TEXT    NOT NULL,
	entity_type     TEXT    NOT NULL,
	method          TEXT    NOT NULL,
	path            TEXT    NOT NULL,
	payload         BLOB,
	created_at      INTEGER NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	status          TEXT    NOT NULL,
	last_error      TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_mutations_queue_seq ON mutations(queue, seq);
`

const columns = `seq, id, idempotency_key, entity_type, method, path, payload, created_at, attempts, status, last_error`

type Store struct {
	db     *sql.DB
	queue  string
	ownsDB bool
}

var _ queue.Store = (*Store)(nil)

// Open opens (or creates) the database at path. ":memory:" works for tests.
func Open(path, name string) (*Store, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	s, err := New(db, name)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// OpenDB opens a database for several queues to share through New.
func OpenDB(path string) (*sql.DB, error) {
	dsn := "file::memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlitestore: create directory: %w", err)
		}
		dsn = "file:" + path
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	// one writer; also keeps a :memory: database alive on a single connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlitestore: %s: %w", pragma, err)
		}
	}
	return db, nil
}

// New uses an existing database; Close leaves it open.
func New(db *sql.DB, name string) (*Store, error) {
	if name == "" {
		return nil, errors.New("sqlitestore: queue name is required")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlitestore: schema: %w", err)
	}
	return &Store{db: db, queue: name}, nil
}

func (s *Store) Append(ctx context.Context, m queue.Mutation) (queue.Mutation, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO mutations (queue, id, idempotency_key, entity_type, method, path, payload, created_at, attempts, status, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.queue, m.ID, m.IdempotencyKey, m.EntityType, m.Method, m.Path, []byte(m.Payload),
		m.CreatedAt.UnixNano(), m.Attempts, string(m.Status), m.LastError,
	)
	if err != nil {
		return queue.Mutation{}, err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return queue.Mutation{}, err
	}
	m.Seq = uint64(seq)
	return m, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(r scanner) (queue.Mutation, error) {
	var (
		m       queue.Mutation
		seq     int64
		payload []byte
		created int64
		status  string
	)
	if err := r.Scan(&seq, &m.ID, &m.IdempotencyKey, &m.EntityType, &m.Method, &m.Path,
		&payload, &created, &m.Attempts, &status, &m.LastError); err != nil {
		return queue.Mutation{}, err
	}
	m.Seq = uint64(seq)
	if len(payload) > 0 {
		m.Payload = payload
	}
	m.CreatedAt = time.Unix(0, created)
	m.Status = queue.Status(status)
	return m, nil
}

func (s *Store) Get(ctx context.Context, id string) (queue.Mutation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM mutations WHERE queue = ? AND id = ?`, s.queue, id)
	m, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Mutation{}, queue.ErrNotFound
	}
	return m, err
}

func (s *Store) List(ctx context.Context) ([]queue.Mutation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM mutations WHERE queue = ? ORDER BY seq`, s.queue)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []queue.Mutation
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, m queue.Mutation) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mutations SET attempts = ?, status = ?, last_error = ?
		WHERE queue = ? AND id = ?`,
		m.Attempts, string(m.Status), m.LastError, s.queue, m.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return queue.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mutations WHERE queue = ? AND id = ?`, s.queue, id)
	return err
}

func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	// checkpoint WAL before closing (best effort)
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
