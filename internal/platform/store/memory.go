package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type txMarker struct{}

// memTx records the prior state of every record a transaction touched.
// A nil prev means the record did not exist.
type memTx struct {
	owner *Memory
	undo  []undoEntry
}

type undoEntry struct {
	collection string
	id         string
	prev       Record
}

// Memory is a map-backed Store. Transactions are serialized and roll back by
// replaying their own undo log, so writes made outside a transaction are
// never reverted.
type Memory struct {
	mu      sync.RWMutex
	txMu    sync.Mutex
	data    map[string]map[string]Record
	order   map[string]int64
	seq     int64
	uniques Uniques
	now     func() time.Time
}

func NewMemory(uniques Uniques) *Memory {
	if uniques == nil {
		uniques = Uniques{}
	}
	return &Memory{
		data:    make(map[string]map[string]Record),
		order:   make(map[string]int64),
		uniques: uniques,
		now:     time.Now,
	}
}

func (m *Memory) List(_ context.Context, collection string, filter Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, r := range m.data[collection] {
		if r.matches(filter) {
			out = append(out, r.clone())
		}
	}
	// insertion order breaks created_at ties
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].createdAt(), out[j].createdAt()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return m.order[collection+"/"+out[i].ID()] < m.order[collection+"/"+out[j].ID()]
	})
	return out, nil
}

// txOf returns the transaction of m carried by ctx, if any.
func (m *Memory) txOf(ctx context.Context) *memTx {
	tx, _ := ctx.Value(txMarker{}).(*memTx)
	if tx == nil || tx.owner != m {
		return nil
	}
	return tx
}

// record must be called with mu held.
func (m *Memory) record(ctx context.Context, collection, id string, prev Record) {
	if tx := m.txOf(ctx); tx != nil {
		tx.undo = append(tx.undo, undoEntry{collection: collection, id: id, prev: prev})
	}
}

func (m *Memory) Insert(ctx context.Context, collection string, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := prepareInsert(rec, m.now)

	coll := m.data[collection]
	if coll == nil {
		coll = make(map[string]Record)
		m.data[collection] = coll
	}
	if _, exists := coll[r.ID()]; exists {
		return nil, fmt.Errorf("%s %s: %w", collection, r.ID(), ErrConflict)
	}
	if field := duplicates(values(coll), r, m.uniques[collection], ""); field != "" {
		return nil, fmt.Errorf("%s.%s: %w", collection, field, ErrConflict)
	}
	m.record(ctx, collection, r.ID(), nil)
	coll[r.ID()] = r
	m.seq++
	m.order[collection+"/"+r.ID()] = m.seq
	return r.clone(), nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, fields Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.data[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", collection, id, ErrNotFound)
	}
	next := cur.clone()
	for k, v := range fields {
		if k == "id" || k == "created_at" {
			continue
		}
		next[k] = v
	}
	if field := duplicates(values(m.data[collection]), next, m.uniques[collection], id); field != "" {
		return nil, fmt.Errorf("%s.%s: %w", collection, field, ErrConflict)
	}
	m.record(ctx, collection, id, cur)
	m.data[collection][id] = next
	return next.clone(), nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.data[collection][id]
	if !ok {
		return fmt.Errorf("%s %s: %w", collection, id, ErrNotFound)
	}
	m.record(ctx, collection, id, cur)
	delete(m.data[collection], id)
	return nil
}

// InTx runs fn while holding the transaction lock. Nested calls join the
// outer transaction.
func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.txOf(ctx) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &memTx{owner: m}
	if err := fn(context.WithValue(ctx, txMarker{}, tx)); err != nil {
		m.rollback(tx)
		return err
	}
	return nil
}

// rollback undoes the transaction's writes newest first.
func (m *Memory) rollback(tx *memTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		u := tx.undo[i]
		if u.prev == nil {
			delete(m.data[u.collection], u.id)
			delete(m.order, u.collection+"/"+u.id)
			continue
		}
		if m.data[u.collection] == nil {
			m.data[u.collection] = make(map[string]Record)
		}
		m.data[u.collection][u.id] = u.prev
	}
	tx.undo = nil
}

func values(coll map[string]Record) []Record {
	out := make([]Record, 0, len(coll))
	for _, r := range coll {
		out = append(out, r)
	}
	return out
}
