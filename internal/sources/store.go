package sources

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// Settings is the persisted source configuration. The guide itself is never
// stored.
type Settings struct {
	ActiveURL       string    `json:"active_url"`
	AutoRefresh     bool      `json:"auto_refresh"`
	IntervalMinutes int       `json:"interval_minutes"`
	LastRefresh     time.Time `json:"last_refresh"`
}

const (
	keyActiveURL   = "active_url"
	keyAutoRefresh = "auto_refresh"
	keyInterval    = "interval_minutes"
	keyLastRefresh = "last_refresh"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS custom_sources (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	url         TEXT NOT NULL,
	region      TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);`

// Store is the sqlite-backed settings and custom source store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sources: open %s: %w", path, err)
	}
	// One connection: sqlite has a single writer and :memory: is per-connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sources: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) LoadSettings(ctx context.Context) (Settings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return Settings{}, err
	}
	defer rows.Close()
	var out Settings
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Settings{}, err
		}
		switch k {
		case keyActiveURL:
			out.ActiveURL = v
		case keyAutoRefresh:
			out.AutoRefresh = v == "1"
		case keyInterval:
			out.IntervalMinutes, _ = strconv.Atoi(v)
		case keyLastRefresh:
			if v != "" {
				out.LastRefresh, _ = time.Parse(time.RFC3339Nano, v)
			}
		}
	}
	return out, rows.Err()
}

func (s *Store) SaveSettings(ctx context.Context, st Settings) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	last := ""
	if !st.LastRefresh.IsZero() {
		last = st.LastRefresh.UTC().Format(time.RFC3339Nano)
	}
	auto := "0"
	if st.AutoRefresh {
		auto = "1"
	}
	for _, kv := range [][2]string{
		{keyActiveURL, st.ActiveURL},
		{keyAutoRefresh, auto},
		{keyInterval, strconv.Itoa(st.IntervalMinutes)},
		{keyLastRefresh, last},
	} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, kv[0], kv[1]); err != nil {
			return fmt.Errorf("sources: save %s: %w", kv[0], err)
		}
	}
	return tx.Commit()
}

func (s *Store) LoadCustom(ctx context.Context) ([]Descriptor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, url, region, description FROM custom_sources ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Descriptor
	for rows.Next() {
		d := Descriptor{IsCustom: true}
		if err := rows.Scan(&d.ID, &d.Name, &d.URL, &d.Region, &d.Description); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveCustom inserts d or updates it in place, keeping its creation order.
func (s *Store) SaveCustom(ctx context.Context, d Descriptor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO custom_sources (id, name, url, region, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, url = excluded.url,
			region = excluded.region, description = excluded.description`,
		d.ID, d.Name, d.URL, d.Region, d.Description, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("sources: save custom %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) DeleteCustom(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM custom_sources WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
