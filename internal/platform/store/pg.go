package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onclinic/clinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PG stores each collection in the table of the same name. Column lists are
// taken from record keys, so every key must exist as a column.
type PG struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool, now: time.Now}
}

func (s *PG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

func (s *PG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, s.pool, fn)
}

func (s *PG) List(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	query, args := buildSelect(collection, filter)
	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return collectRecords(rows)
}

// GetForUpdate reads the record with FOR UPDATE, so concurrent transactions
// in other processes wait for this one before reading it.
func (s *PG) GetForUpdate(ctx context.Context, collection, id string) (Record, error) {
	rows, err := s.conn(ctx).Query(ctx, buildLockSelect(collection), id)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", collection, err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s %s: %w", collection, id, ErrNotFound)
	}
	return recs[0], nil
}

func (s *PG) Insert(ctx context.Context, collection string, rec Record) (Record, error) {
	r := prepareInsert(rec, s.now)
	cols := sortedKeys(r)
	placeholders := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = toParam(r[c])
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING *`,
		ident(collection), identList(cols), strings.Join(placeholders, ", "))

	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, mapPGError(collection, err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, mapPGError(collection, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("insert %s: no row returned", collection)
	}
	return recs[0], nil
}

func (s *PG) Update(ctx context.Context, collection, id string, fields Record) (Record, error) {
	cols := make([]string, 0, len(fields))
	for _, k := range sortedKeys(fields) {
		if k != "id" && k != "created_at" {
			cols = append(cols, k)
		}
	}
	if len(cols) == 0 {
		return Get(ctx, s, collection, id)
	}

	sets := make([]string, len(cols))
	args := []interface{}{id}
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", ident(c), i+2)
		args = append(args, toParam(fields[c]))
	}
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1 RETURNING *`,
		ident(collection), strings.Join(sets, ", "))

	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, mapPGError(collection, err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, mapPGError(collection, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s %s: %w", collection, id, ErrNotFound)
	}
	return recs[0], nil
}

func (s *PG) Delete(ctx context.Context, collection, id string) error {
	tag, err := s.conn(ctx).Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, ident(collection)), id)
	if err != nil {
		return mapPGError(collection, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", collection, id, ErrNotFound)
	}
	return nil
}

func buildSelect(collection string, filter Filter) (string, []interface{}) {
	query := `SELECT * FROM ` + ident(collection) + ` WHERE 1=1`
	var args []interface{}
	idx := 1
	for _, k := range sortedFilterKeys(filter) {
		v := filter[k]
		if v == nil {
			query += fmt.Sprintf(` AND %s IS NULL`, ident(k))
			continue
		}
		query += fmt.Sprintf(` AND %s = $%d`, ident(k), idx)
		args = append(args, toParam(v))
		idx++
	}
	query += ` ORDER BY created_at ASC, id ASC`
	return query, args
}

func buildLockSelect(collection string) string {
	return `SELECT * FROM ` + ident(collection) + ` WHERE id = $1 FOR UPDATE`
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	fields := rows.FieldDescriptions()
	var out []Record
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		r := make(Record, len(fields))
		for i, f := range fields {
			r[f.Name] = fromColumn(vals[i])
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// fromColumn converts pgx driver values into the JSON-friendly forms the
// other backends produce.
func fromColumn(v interface{}) interface{} {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		dv, err := x.Value()
		if err != nil {
			return nil
		}
		return dv
	case time.Time:
		return x.UTC()
	case int32:
		return json.Number(fmt.Sprint(x))
	case int64:
		return json.Number(fmt.Sprint(x))
	case int16:
		return json.Number(fmt.Sprint(x))
	}
	return v
}

// toParam converts record values into types pgx encodes directly. Strings
// are sent in text format, which lets PostgreSQL parse numerics, uuids and
// timestamps itself.
func toParam(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		return x.String()
	case map[string]interface{}, []interface{}:
		b, _ := json.Marshal(x)
		return string(b)
	}
	return v
}

func mapPGError(collection string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %s: %w", collection, pgErr.ConstraintName, ErrConflict)
	}
	return fmt.Errorf("%s: %w", collection, err)
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func identList(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = ident(n)
	}
	return strings.Join(out, ", ")
}

func sortedKeys(r Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFilterKeys(f Filter) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
