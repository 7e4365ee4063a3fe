package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const localSchema = `CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// Local is the offline backend: each collection is one JSON array stored
// under its name in a key/value table of a SQLite file. Writes replace the
// whole blob and are not transactional across collections.
type Local struct {
	mu      sync.Mutex
	db      *sqlx.DB
	uniques Uniques
	now     func() time.Time
}

// OpenLocal opens (creating when needed) the SQLite file at path.
func OpenLocal(path string, uniques Uniques) (*Local, error) {
	conn, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(localSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create local store schema: %w", err)
	}
	if uniques == nil {
		uniques = Uniques{}
	}
	return &Local{db: conn, uniques: uniques, now: time.Now}, nil
}

func (l *Local) Close() error {
	return l.db.Close()
}

func (l *Local) List(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.load(ctx, collection)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range all {
		if r.matches(filter) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (l *Local) Insert(ctx context.Context, collection string, rec Record) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.load(ctx, collection)
	if err != nil {
		return nil, err
	}
	r := prepareInsert(rec, l.now)
	for _, e := range all {
		if e.ID() == r.ID() {
			return nil, fmt.Errorf("%s %s: %w", collection, r.ID(), ErrConflict)
		}
	}
	if field := duplicates(all, r, l.uniques[collection], ""); field != "" {
		return nil, fmt.Errorf("%s.%s: %w", collection, field, ErrConflict)
	}
	if err := l.save(ctx, collection, append(all, r)); err != nil {
		return nil, err
	}
	return r.clone(), nil
}

func (l *Local) Update(ctx context.Context, collection, id string, fields Record) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.load(ctx, collection)
	if err != nil {
		return nil, err
	}
	for i, r := range all {
		if r.ID() != id {
			continue
		}
		next := r.clone()
		for k, v := range fields {
			if k == "id" || k == "created_at" {
				continue
			}
			next[k] = v
		}
		if field := duplicates(all, next, l.uniques[collection], id); field != "" {
			return nil, fmt.Errorf("%s.%s: %w", collection, field, ErrConflict)
		}
		all[i] = next
		if err := l.save(ctx, collection, all); err != nil {
			return nil, err
		}
		return next.clone(), nil
	}
	return nil, fmt.Errorf("%s %s: %w", collection, id, ErrNotFound)
}

func (l *Local) Delete(ctx context.Context, collection, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.load(ctx, collection)
	if err != nil {
		return err
	}
	for i, r := range all {
		if r.ID() == id {
			return l.save(ctx, collection, append(all[:i], all[i+1:]...))
		}
	}
	return fmt.Errorf("%s %s: %w", collection, id, ErrNotFound)
}

func (l *Local) load(ctx context.Context, collection string) ([]Record, error) {
	var blob string
	err := l.db.GetContext(ctx, &blob, `SELECT value FROM kv WHERE key = ?`, collection)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", collection, err)
	}
	var recs []Record
	dec := json.NewDecoder(bytes.NewReader([]byte(blob)))
	dec.UseNumber()
	if err := dec.Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	return recs, nil
}

func (l *Local) save(ctx context.Context, collection string, recs []Record) error {
	b, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("encode %s: %w", collection, err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		collection, string(b))
	if err != nil {
		return fmt.Errorf("save %s: %w", collection, err)
	}
	return nil
}
