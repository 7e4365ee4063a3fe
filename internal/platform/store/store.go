// Package store implements the generic collection store the clinic services
// persist through: named collections of flat records supporting list, insert,
// update and delete. Three backends exist: Memory (tests and single-process
// use), PG (table per collection on PostgreSQL) and Local (one JSON blob per
// collection in a local SQLite key/value table, the offline variant).
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Collection names used by the clinic services.
const (
	InventoryItems = "inventory_items"
	StockLedger    = "stock_ledger"
	Bills          = "bills"
	BillItems      = "bill_items"
	Prescriptions  = "prescriptions"
	Patients       = "patients"
	Services       = "services"
	Doctors        = "doctors"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("unique constraint violated")
)

// Record is a single flat row of a collection keyed by field name.
type Record map[string]interface{}

// Filter selects records whose fields equal the given values.
type Filter map[string]interface{}

// Store is the collection store contract.
type Store interface {
	List(ctx context.Context, collection string, filter Filter) ([]Record, error)
	// Insert assigns "id" and "created_at" when absent.
	Insert(ctx context.Context, collection string, rec Record) (Record, error)
	// Update merges fields into the record; id and created_at are immutable.
	Update(ctx context.Context, collection, id string, fields Record) (Record, error)
	Delete(ctx context.Context, collection, id string) error
}

// Transactor is implemented by stores that can run several writes as one
// all-or-nothing unit.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker is implemented by stores that can hold a row lock on a record until
// the surrounding transaction ends.
type Locker interface {
	GetForUpdate(ctx context.Context, collection, id string) (Record, error)
}

// Uniques declares, per collection, the fields that must not repeat.
type Uniques map[string][]string

// DefaultUniques mirrors the unique indexes of the SQL schema.
var DefaultUniques = Uniques{
	Bills:         {"bill_number"},
	Patients:      {"patient_id"},
	Prescriptions: {"serial_number"},
}

// Get returns the record with the given id.
func Get(ctx context.Context, s Store, collection, id string) (Record, error) {
	recs, err := s.List(ctx, collection, Filter{"id": id})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

// GetForUpdate returns the record with the given id, locked for the rest of
// the current transaction when s supports row locks. Stores without them
// fall back to Get.
func GetForUpdate(ctx context.Context, s Store, collection, id string) (Record, error) {
	if l, ok := s.(Locker); ok {
		return l.GetForUpdate(ctx, collection, id)
	}
	return Get(ctx, s, collection, id)
}

// RunInTx runs fn inside a transaction when s supports one, otherwise it
// runs fn directly. The returned bool reports whether a transaction was used.
func RunInTx(ctx context.Context, s Store, fn func(ctx context.Context) error) (bool, error) {
	if tx, ok := s.(Transactor); ok {
		return true, tx.InTx(ctx, fn)
	}
	return false, fn(ctx)
}

// Encode converts a model into a Record through its JSON representation.
// Numbers are kept as json.Number so integers survive unchanged.
func Encode(v interface{}) (Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var rec Record
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return rec, nil
}

// Decode fills v from a Record.
func Decode(rec Record, v interface{}) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// DecodeAll decodes every record into a new T.
func DecodeAll[T any](recs []Record) ([]*T, error) {
	out := make([]*T, 0, len(recs))
	for _, r := range recs {
		v := new(T)
		if err := Decode(r, v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ID returns the record's identity as a string.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// String returns the named field when it holds a string.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// prepareInsert copies rec and fills a missing or zero id and created_at.
func prepareInsert(rec Record, now func() time.Time) Record {
	r := rec.clone()
	if id := r.ID(); id == "" || id == uuid.Nil.String() {
		r["id"] = uuid.NewString()
	}
	if r.createdAt().IsZero() {
		r["created_at"] = now().UTC()
	}
	return r
}

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (r Record) createdAt() time.Time {
	switch v := r["created_at"].(type) {
	case time.Time:
		return v
	case string:
		t, _ := time.Parse(time.RFC3339Nano, v)
		return t
	}
	return time.Time{}
}

// matches compares field values by their printed form so that json.Number,
// ints and strings from different backends compare equal.
func (r Record) matches(f Filter) bool {
	for k, want := range f {
		got, ok := r[k]
		if want == nil {
			if ok && got != nil {
				return false
			}
			continue
		}
		if !ok || got == nil || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// sortRecords orders by created_at, keeping the incoming order for ties.
func sortRecords(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].createdAt().Before(recs[j].createdAt())
	})
}

func duplicates(existing []Record, rec Record, fields []string, selfID string) string {
	for _, field := range fields {
		v, ok := rec[field]
		if !ok || v == nil {
			continue
		}
		for _, e := range existing {
			if e.ID() == selfID {
				continue
			}
			if ev, ok := e[field]; ok && ev != nil && fmt.Sprint(ev) == fmt.Sprint(v) {
				return field
			}
		}
	}
	return ""
}
