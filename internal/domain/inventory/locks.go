package inventory

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/google/uuid"
)

const lockStripes = 64

// itemLocks serializes read-modify-write of current_stock per item inside
// one process. Stripes already held are recorded in the context so nested
// calls do not lock twice.
type itemLocks struct {
	stripes [lockStripes]sync.Mutex
}

type heldStripesKey struct{}

func stripeOf(id uuid.UUID) int {
	h := fnv.New32a()
	h.Write(id[:])
	return int(h.Sum32() % lockStripes)
}

func (l *itemLocks) lock(ctx context.Context, ids ...uuid.UUID) (context.Context, func()) {
	held, _ := ctx.Value(heldStripesKey{}).(map[int]bool)

	var need []int
	seen := map[int]bool{}
	for _, id := range ids {
		s := stripeOf(id)
		if held[s] || seen[s] {
			continue
		}
		seen[s] = true
		need = append(need, s)
	}
	if len(need) == 0 {
		return ctx, func() {}
	}
	sort.Ints(need)

	for _, s := range need {
		l.stripes[s].Lock()
	}
	merged := make(map[int]bool, len(held)+len(need))
	for s := range held {
		merged[s] = true
	}
	for _, s := range need {
		merged[s] = true
	}
	return context.WithValue(ctx, heldStripesKey{}, merged), func() {
		for i := len(need) - 1; i >= 0; i-- {
			l.stripes[need[i]].Unlock()
		}
	}
}

// LockItems serializes stock changes to the given items until release is
// called. Callers composing several stock operations into one transaction
// take the locks before opening it; nested ledger calls under the returned
// context reuse them.
func (s *Service) LockItems(ctx context.Context, ids ...uuid.UUID) (context.Context, func()) {
	return s.locks.lock(ctx, ids...)
}
