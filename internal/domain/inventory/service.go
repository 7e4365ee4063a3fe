// Package inventory keeps inventory items and their stock ledger. Every
// change to an item's current stock is recorded as an immutable ledger entry
// and stock never goes below zero.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/onclinic/clinic/internal/platform/apperr"
	"github.com/onclinic/clinic/internal/platform/events"
	"github.com/onclinic/clinic/internal/platform/store"
)

type Service struct {
	store     store.Store
	publisher events.Publisher
	locks     itemLocks
	loc       *time.Location
	now       func() time.Time
	logger    zerolog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func NewService(st store.Store, loc *time.Location, logger zerolog.Logger, opts ...Option) *Service {
	if loc == nil {
		loc = time.Local
	}
	s := &Service{
		store:  st,
		loc:    loc,
		now:    time.Now,
		logger: logger,
	}
	for _, o := range opts {
		o(s)
	}
	if s.publisher == nil {
		s.publisher = events.NewLog(logger)
	}
	return s
}

// ---- Items ----

func (s *Service) CreateItem(ctx context.Context, item *Item) error {
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return apperr.Validation("name", "name is required")
	}
	if item.CostPrice.IsNegative() {
		return apperr.Validation("cost_price", "cost_price must not be negative")
	}
	if item.SalePrice.IsNegative() {
		return apperr.Validation("sale_price", "sale_price must not be negative")
	}
	if item.GSTRate.IsNegative() {
		return apperr.Validation("gst_rate", "gst_rate must not be negative")
	}
	if item.OpeningStock < 0 {
		return apperr.Validation("opening_stock", "opening_stock must not be negative")
	}
	if item.LowStockThreshold != nil && *item.LowStockThreshold < 0 {
		return apperr.Validation("low_stock_threshold", "low_stock_threshold must not be negative")
	}
	item.ID = uuid.Nil
	item.CurrentStock = item.OpeningStock
	item.CreatedAt = time.Time{}

	rec, err := store.Encode(item)
	if err != nil {
		return err
	}
	saved, err := s.store.Insert(ctx, store.InventoryItems, rec)
	if err != nil {
		return fmt.Errorf("insert inventory item: %w", err)
	}
	if err := store.Decode(saved, item); err != nil {
		return err
	}
	s.logger.Info().Str("item_id", item.ID.String()).Str("name", item.Name).
		Int("opening_stock", item.OpeningStock).Msg("inventory item created")
	return nil
}

func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (*Item, error) {
	return s.getItem(ctx, id, store.Get)
}

// lockItem reads the item under a row lock held until the surrounding
// transaction ends, so the stock check in apply also holds across processes.
func (s *Service) lockItem(ctx context.Context, id uuid.UUID) (*Item, error) {
	return s.getItem(ctx, id, store.GetForUpdate)
}

func (s *Service) getItem(ctx context.Context, id uuid.UUID, get func(context.Context, store.Store, string, string) (store.Record, error)) (*Item, error) {
	rec, err := get(ctx, s.store, store.InventoryItems, id.String())
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("inventory item", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get inventory item: %w", err)
	}
	var item Item
	if err := store.Decode(rec, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListItems returns all items, optionally narrowed to one category, ordered by
// creation time.
func (s *Service) ListItems(ctx context.Context, category string) ([]*Item, error) {
	var filter store.Filter
	if category != "" {
		filter = store.Filter{"category": category}
	}
	recs, err := s.store.List(ctx, store.InventoryItems, filter)
	if err != nil {
		return nil, fmt.Errorf("list inventory items: %w", err)
	}
	return store.DecodeAll[Item](recs)
}

// UpdateItem applies administrative edits. Stock levels cannot be edited
// here; use AdjustStock.
func (s *Service) UpdateItem(ctx context.Context, id uuid.UUID, u ItemUpdate) (*Item, error) {
	if u.CurrentStock != nil {
		return nil, apperr.Validation("current_stock", "current_stock can only change through a stock adjustment")
	}
	if u.OpeningStock != nil {
		return nil, apperr.Validation("opening_stock", "opening_stock is fixed at creation")
	}

	fields := store.Record{}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, apperr.Validation("name", "name is required")
		}
		fields["name"] = name
	}
	setString(fields, "sku", u.SKU)
	setString(fields, "category", u.Category)
	setString(fields, "manufacturer", u.Manufacturer)
	setString(fields, "unit", u.Unit)
	setString(fields, "batch_number", u.BatchNumber)
	if u.CostPrice != nil {
		if u.CostPrice.IsNegative() {
			return nil, apperr.Validation("cost_price", "cost_price must not be negative")
		}
		fields["cost_price"] = u.CostPrice.String()
	}
	if u.SalePrice != nil {
		if u.SalePrice.IsNegative() {
			return nil, apperr.Validation("sale_price", "sale_price must not be negative")
		}
		fields["sale_price"] = u.SalePrice.String()
	}
	if u.GSTRate != nil {
		if u.GSTRate.IsNegative() {
			return nil, apperr.Validation("gst_rate", "gst_rate must not be negative")
		}
		fields["gst_rate"] = u.GSTRate.String()
	}
	if u.LowStockThreshold.Set {
		if t := u.LowStockThreshold.Value; t == nil {
			fields["low_stock_threshold"] = nil
		} else if *t < 0 {
			return nil, apperr.Validation("low_stock_threshold", "low_stock_threshold must not be negative")
		} else {
			fields["low_stock_threshold"] = *t
		}
	}
	if u.ExpiryDate.Set {
		if d := u.ExpiryDate.Value; d == nil {
			fields["expiry_date"] = nil
		} else {
			fields["expiry_date"] = d.UTC().Format(time.RFC3339Nano)
		}
	}

	if len(fields) == 0 {
		return s.GetItem(ctx, id)
	}
	rec, err := s.store.Update(ctx, store.InventoryItems, id.String(), fields)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("inventory item", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("update inventory item: %w", err)
	}
	var item Item
	if err := store.Decode(rec, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func setString(fields store.Record, key string, v *string) {
	if v != nil {
		fields[key] = strings.TrimSpace(*v)
	}
}

// ---- Stock ledger ----

// AdjustStock changes an item's stock by delta and appends the matching
// ledger entry. Either both writes happen or neither does. A delta that
// would take stock below zero fails with apperr.ErrInsufficientStock. A
// zero delta is accepted and recorded as an audit entry.
func (s *Service) AdjustStock(ctx context.Context, itemID uuid.UUID, delta int, reason string, opts AdjustOptions) (*AdjustResult, error) {
	if !validReasons[reason] {
		return nil, apperr.Validation("reason", fmt.Sprintf("invalid reason: %q", reason))
	}

	ctx, unlock := s.locks.lock(ctx, itemID)
	defer unlock()

	var (
		res    *AdjustResult
		before int
	)
	_, err := store.RunInTx(ctx, s.store, func(ctx context.Context) error {
		var err error
		res, before, err = s.apply(ctx, itemID, delta, reason, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, stockEvents(res, before, s.now())...)
	return res, nil
}

// apply performs one adjustment. The caller holds the item's lock and, when
// the store is transactional, an open transaction.
func (s *Service) apply(ctx context.Context, itemID uuid.UUID, delta int, reason string, opts AdjustOptions) (*AdjustResult, int, error) {
	item, err := s.lockItem(ctx, itemID)
	if err != nil {
		return nil, 0, err
	}
	before := item.CurrentStock
	newStock := before + delta
	if newStock < 0 {
		return nil, 0, apperr.InsufficientStock(itemID.String(), before, -delta)
	}

	entry := &LedgerEntry{
		ItemID:          itemID,
		Change:          delta,
		Reason:          reason,
		ReferenceBillID: opts.ReferenceBillID,
	}
	if opts.Notes != "" {
		entry.Notes = &opts.Notes
	}
	if opts.CreatedBy != "" {
		entry.CreatedBy = &opts.CreatedBy
	}
	rec, err := store.Encode(entry)
	if err != nil {
		return nil, 0, err
	}

	// The ledger entry goes first: on a store without transactions a crash
	// between the two writes leaves an entry that Reconcile applies, never a
	// stock change without its entry.
	saved, err := s.store.Insert(ctx, store.StockLedger, rec)
	if err != nil {
		return nil, 0, fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := store.Decode(saved, entry); err != nil {
		return nil, 0, err
	}

	updated, err := s.store.Update(ctx, store.InventoryItems, itemID.String(), store.Record{"current_stock": newStock})
	if err != nil {
		if _, ok := s.store.(store.Transactor); !ok {
			if derr := s.store.Delete(ctx, store.StockLedger, entry.ID.String()); derr != nil {
				s.logger.Error().Err(derr).Str("entry_id", entry.ID.String()).
					Str("item_id", itemID.String()).Msg("orphan ledger entry left after failed stock update")
			}
		}
		return nil, 0, fmt.Errorf("update stock: %w", err)
	}
	if err := store.Decode(updated, item); err != nil {
		return nil, 0, err
	}

	s.logger.Info().
		Str("item_id", itemID.String()).
		Str("reason", reason).
		Int("change", delta).
		Int("stock", item.CurrentStock).
		Msg("stock adjusted")
	return &AdjustResult{Item: item, Entry: entry}, before, nil
}

// ValidateDispense checks that every line has a positive quantity and that
// each item holds enough stock for the sum of its lines.
func (s *Service) ValidateDispense(ctx context.Context, lines []DispenseLine) error {
	totals := map[uuid.UUID]int{}
	var order []uuid.UUID
	for _, l := range lines {
		if l.Quantity <= 0 {
			return apperr.Validation("quantity", "quantity must be greater than 0")
		}
		if _, ok := totals[l.ItemID]; !ok {
			order = append(order, l.ItemID)
		}
		totals[l.ItemID] += l.Quantity
	}
	for _, id := range order {
		item, err := s.GetItem(ctx, id)
		if err != nil {
			return err
		}
		if item.CurrentStock < totals[id] {
			return apperr.InsufficientStock(id.String(), item.CurrentStock, totals[id])
		}
	}
	return nil
}

// DispenseForBill records one dispense entry per line against billID. All
// lines are validated before any stock moves. If a line still fails, lines
// already dispensed are rolled back with the transaction, or reversed with
// correction entries when the store has no transactions.
func (s *Service) DispenseForBill(ctx context.Context, billID uuid.UUID, lines []DispenseLine, actor string) ([]*AdjustResult, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ItemID)
	}
	ctx, unlock := s.locks.lock(ctx, ids...)
	defer unlock()

	var (
		results []*AdjustResult
		befores []int
	)
	transactional, err := store.RunInTx(ctx, s.store, func(ctx context.Context) error {
		results, befores = nil, nil
		if err := s.ValidateDispense(ctx, lines); err != nil {
			return err
		}
		for _, l := range lines {
			res, before, err := s.apply(ctx, l.ItemID, -l.Quantity, ReasonDispense, AdjustOptions{
				ReferenceBillID: &billID,
				CreatedBy:       actor,
			})
			if err != nil {
				return err
			}
			results = append(results, res)
			befores = append(befores, before)
		}
		return nil
	})
	if err != nil {
		if !transactional && len(results) > 0 {
			s.reverse(ctx, billID, results, actor)
		}
		return nil, err
	}

	now := s.now()
	for i, res := range results {
		s.emit(ctx, stockEvents(res, befores[i], now)...)
	}
	return results, nil
}

func (s *Service) reverse(ctx context.Context, billID uuid.UUID, results []*AdjustResult, actor string) {
	for _, r := range results {
		_, _, err := s.apply(ctx, r.Entry.ItemID, -r.Entry.Change, ReasonCorrection, AdjustOptions{
			Notes:           "reversal of failed dispense",
			ReferenceBillID: &billID,
			CreatedBy:       actor,
		})
		if err != nil {
			s.logger.Error().Err(err).
				Str("bill_id", billID.String()).
				Str("item_id", r.Entry.ItemID.String()).
				Int("quantity", -r.Entry.Change).
				Msg("failed to reverse dispensed line")
		}
	}
}

// ListLedger returns an item's ledger entries, oldest first.
func (s *Service) ListLedger(ctx context.Context, itemID uuid.UUID) ([]*LedgerEntry, error) {
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	recs, err := s.store.List(ctx, store.StockLedger, store.Filter{"item_id": itemID.String()})
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	return store.DecodeAll[LedgerEntry](recs)
}

// Reconcile recomputes an item's stock as opening stock plus the sum of its
// ledger and repairs the stored value when they differ. The ledger wins.
func (s *Service) Reconcile(ctx context.Context, itemID uuid.UUID) (*ReconcileResult, error) {
	ctx, unlock := s.locks.lock(ctx, itemID)
	defer unlock()

	var res *ReconcileResult
	_, err := store.RunInTx(ctx, s.store, func(ctx context.Context) error {
		var err error
		res, err = s.reconcile(ctx, itemID)
		return err
	})
	return res, err
}

// ReconcileAll reconciles every item and returns those whose stored stock
// disagreed with the ledger.
func (s *Service) ReconcileAll(ctx context.Context) ([]*ReconcileResult, error) {
	items, err := s.ListItems(ctx, "")
	if err != nil {
		return nil, err
	}
	var drifted []*ReconcileResult
	for _, item := range items {
		res, err := s.Reconcile(ctx, item.ID)
		if err != nil {
			return drifted, err
		}
		if res != nil {
			drifted = append(drifted, res)
		}
	}
	return drifted, nil
}

func (s *Service) reconcile(ctx context.Context, itemID uuid.UUID) (*ReconcileResult, error) {
	entries, err := s.ListLedger(ctx, itemID)
	if err != nil {
		return nil, err
	}
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	expected := item.OpeningStock
	for _, e := range entries {
		expected += e.Change
	}
	if expected == item.CurrentStock {
		return nil, nil
	}

	res := &ReconcileResult{ItemID: item.ID, ItemName: item.Name, Stored: item.CurrentStock, Ledger: expected}
	if expected < 0 {
		s.logger.Error().Str("item_id", itemID.String()).Int("ledger_stock", expected).
			Msg("ledger sums below zero, stock left unchanged")
		return res, nil
	}
	if _, err := s.store.Update(ctx, store.InventoryItems, itemID.String(), store.Record{"current_stock": expected}); err != nil {
		return nil, fmt.Errorf("repair stock: %w", err)
	}
	res.Repaired = true
	s.logger.Warn().
		Str("item_id", itemID.String()).
		Int("stored", item.CurrentStock).
		Int("ledger", expected).
		Msg("stock repaired from ledger")
	return res, nil
}

// ---- Reports ----

// LowStockItems returns items with a threshold whose stock is at or below
// it, lowest stock first.
func (s *Service) LowStockItems(ctx context.Context) ([]*Item, error) {
	items, err := s.ListItems(ctx, "")
	if err != nil {
		return nil, err
	}
	low := make([]*Item, 0)
	for _, it := range items {
		if it.IsLowStock() {
			low = append(low, it)
		}
	}
	sort.SliceStable(low, func(i, j int) bool { return low[i].CurrentStock < low[j].CurrentStock })
	return low, nil
}

// ExpiringItems returns items expiring between the start of today and the
// end of the day withinDays from now, soonest first.
func (s *Service) ExpiringItems(ctx context.Context, withinDays int) ([]*Item, error) {
	if withinDays < 0 {
		return nil, apperr.Validation("days", "days must not be negative")
	}
	today := s.today()
	until := today.AddDate(0, 0, withinDays+1)
	return s.itemsByExpiry(ctx, func(exp time.Time) bool {
		return !exp.Before(today) && exp.Before(until)
	})
}

// ExpiredItems returns items whose expiry date is before today.
func (s *Service) ExpiredItems(ctx context.Context) ([]*Item, error) {
	today := s.today()
	return s.itemsByExpiry(ctx, func(exp time.Time) bool { return exp.Before(today) })
}

func (s *Service) itemsByExpiry(ctx context.Context, keep func(time.Time) bool) ([]*Item, error) {
	items, err := s.ListItems(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]*Item, 0)
	for _, it := range items {
		if it.ExpiryDate != nil && keep(*it.ExpiryDate) {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiryDate.Before(*out[j].ExpiryDate) })
	return out, nil
}

func (s *Service) today() time.Time {
	now := s.now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
}
