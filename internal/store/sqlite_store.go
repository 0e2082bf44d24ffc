package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	_ "github.com/mattn/go-sqlite3"

	"wasock/internal/domain"
)

const connSchema = `
CREATE TABLE IF NOT EXISTS conn_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	wid         TEXT NOT NULL DEFAULT '',
	ref         TEXT NOT NULL DEFAULT '',
	received_at INTEGER NOT NULL,
	payload     BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conn_history_wid ON conn_history(wid);
`

// ConnRecord is one row of the Conn history.
type ConnRecord struct {
	ID         int64
	ReceivedAt time.Time
	Info       domain.ConnInfo
}

// ConnSQLiteStore records every Conn push in a SQLite database.
type ConnSQLiteStore struct {
	db    *sql.DB
	clock clock.Clock
}

// OpenConnSQLiteStore opens or creates the database at path.
func OpenConnSQLiteStore(path string, clk clock.Clock) (*ConnSQLiteStore, error) {
	if clk == nil {
		clk = clock.New()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open conn database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(connSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create conn schema: %w", err)
	}
	return &ConnSQLiteStore{db: db, clock: clk}, nil
}

// Close releases the database.
func (s *ConnSQLiteStore) Close() error { return s.db.Close() }

// SaveConn appends info to the history.
func (s *ConnSQLiteStore) SaveConn(info domain.ConnInfo) error {
	raw, err := connJSON(info)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO conn_history (wid, ref, received_at, payload) VALUES (?, ?, ?, ?)`,
		info.Wid, info.Ref, s.clock.Now().UnixMilli(), raw,
	)
	if err != nil {
		return fmt.Errorf("insert conn: %w", err)
	}
	return nil
}

// LatestConn returns the most recently saved Conn.
func (s *ConnSQLiteStore) LatestConn() (domain.ConnInfo, bool, error) {
	row := s.db.QueryRow(`SELECT id, received_at, payload FROM conn_history ORDER BY id DESC LIMIT 1`)
	rec, err := scanConn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ConnInfo{}, false, nil
	}
	if err != nil {
		return domain.ConnInfo{}, false, err
	}
	return rec.Info, true, nil
}

// History returns up to limit records, newest first. A limit of zero or less
// returns everything.
func (s *ConnSQLiteStore) History(limit int) ([]ConnRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, received_at, payload FROM conn_history ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conn history: %w", err)
	}
	defer rows.Close()

	var out []ConnRecord
	for rows.Next() {
		rec, err := scanConn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConn(row scanner) (ConnRecord, error) {
	var (
		rec     ConnRecord
		at      int64
		payload []byte
	)
	if err := row.Scan(&rec.ID, &at, &payload); err != nil {
		return ConnRecord{}, err
	}
	info, err := domain.ParseConnInfo(payload)
	if err != nil {
		return ConnRecord{}, fmt.Errorf("decode conn %d: %w", rec.ID, err)
	}
	rec.ReceivedAt = time.UnixMilli(at)
	rec.Info = info
	return rec, nil
}

// Compile-time assertion that ConnSQLiteStore implements domain.ConnStore.
var _ domain.ConnStore = (*ConnSQLiteStore)(nil)
