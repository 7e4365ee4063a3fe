package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/onclinic/clinic/internal/platform/events"
)

type deferredKey struct{}

type deferred struct {
	mu     sync.Mutex
	events []events.Event
}

// DeferEvents holds back stock events emitted under the returned context
// until flush is called. Callers that wrap stock changes in a larger
// transaction call flush after it commits and drop the events otherwise.
func (s *Service) DeferEvents(ctx context.Context) (context.Context, func(ctx context.Context)) {
	d := &deferred{}
	return context.WithValue(ctx, deferredKey{}, d), func(ctx context.Context) {
		d.mu.Lock()
		evs := d.events
		d.events = nil
		d.mu.Unlock()
		s.publish(ctx, evs)
	}
}

func (s *Service) emit(ctx context.Context, evs ...events.Event) {
	if d, ok := ctx.Value(deferredKey{}).(*deferred); ok {
		d.mu.Lock()
		d.events = append(d.events, evs...)
		d.mu.Unlock()
		return
	}
	s.publish(ctx, evs)
}

// publish never fails the caller; the stock change has already committed.
func (s *Service) publish(ctx context.Context, evs []events.Event) {
	for _, e := range evs {
		if err := s.publisher.Publish(ctx, e); err != nil {
			s.logger.Error().Err(err).
				Str("event_type", e.EventType()).
				Str("item_id", e.PartitionKey()).
				Msg("failed to publish stock event")
		}
	}
}

func stockEvents(res *AdjustResult, before int, at time.Time) []events.Event {
	item := res.Item
	evs := []events.Event{events.StockAdjusted{
		ItemID:          item.ID.String(),
		ItemName:        item.Name,
		LedgerEntryID:   res.Entry.ID.String(),
		Delta:           res.Entry.Change,
		Reason:          res.Entry.Reason,
		NewStock:        item.CurrentStock,
		ReferenceBillID: refString(res.Entry),
		OccurredAt:      at,
	}}
	if item.LowStockThreshold != nil && before > *item.LowStockThreshold && item.IsLowStock() {
		evs = append(evs, events.LowStock{
			ItemID:            item.ID.String(),
			ItemName:          item.Name,
			CurrentStock:      item.CurrentStock,
			LowStockThreshold: *item.LowStockThreshold,
			OccurredAt:        at,
		})
	}
	return evs
}

func refString(e *LedgerEntry) string {
	if e.ReferenceBillID == nil {
		return ""
	}
	return e.ReferenceBillID.String()
}
