// Package billing creates clinic and pharmacy bills. Pharmacy lines that
// reference inventory items dispense stock through the ledger.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/onclinic/clinic/internal/domain/inventory"
	"github.com/onclinic/clinic/internal/domain/numbering"
	"github.com/onclinic/clinic/internal/platform/apperr"
	"github.com/onclinic/clinic/internal/platform/store"
)

type Service struct {
	store     store.Store
	inventory *inventory.Service
	numbers   *numbering.Generator
	logger    zerolog.Logger
}

func NewService(st store.Store, inv *inventory.Service, numbers *numbering.Generator, logger zerolog.Logger) *Service {
	return &Service{store: st, inventory: inv, numbers: numbers, logger: logger}
}

// ---- Bills ----

// CreateBill validates the request, checks stock for every inventory line,
// then stores the bill under a fresh number together with its items and
// dispense entries. On a transactional store all of it commits together; on
// other stores a failure removes whatever was written.
func (s *Service) CreateBill(ctx context.Context, req CreateBillRequest, actor string) (*BillDetail, error) {
	bill, err := s.newBill(ctx, req, actor)
	if err != nil {
		return nil, err
	}
	items, dispense, err := s.resolveLines(ctx, req.BillType, req.Items)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Total)
	}
	bill.TotalAmount = total
	bill.NetAmount = NetAmount(total, bill.Discount)

	ids := make([]uuid.UUID, 0, len(dispense))
	for _, l := range dispense {
		ids = append(ids, l.ItemID)
	}
	ctx, unlock := s.inventory.LockItems(ctx, ids...)
	defer unlock()

	if err := s.inventory.ValidateDispense(ctx, dispense); err != nil {
		return nil, err
	}

	ctx, flush := s.inventory.DeferEvents(ctx)
	scheme := numbering.ClinicBill
	if bill.BillType == TypePharmacy {
		scheme = numbering.PharmacyBill
	}

	var written []*BillItem
	transactional, err := store.RunInTx(ctx, s.store, func(ctx context.Context) error {
		written = nil
		_, err := s.numbers.Assign(ctx, scheme, func(ctx context.Context, number string) error {
			bill.BillNumber = number
			return s.insert(ctx, store.Bills, bill)
		})
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.Conflict("could not allocate a unique bill number")
			}
			return err
		}
		for _, it := range items {
			it.BillID = bill.ID
			if err := s.insert(ctx, store.BillItems, it); err != nil {
				return err
			}
			written = append(written, it)
		}
		if len(dispense) > 0 {
			if _, err := s.inventory.DispenseForBill(ctx, bill.ID, dispense, actor); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if !transactional && bill.ID != uuid.Nil {
			s.discard(ctx, bill, written)
		}
		return nil, err
	}
	flush(ctx)

	s.logger.Info().
		Str("bill_id", bill.ID.String()).
		Str("bill_number", bill.BillNumber).
		Str("bill_type", bill.BillType).
		Str("net_amount", bill.NetAmount.StringFixed(2)).
		Int("lines", len(items)).
		Msg("bill created")
	return &BillDetail{Bill: *bill, Items: items}, nil
}

func (s *Service) newBill(ctx context.Context, req CreateBillRequest, actor string) (*Bill, error) {
	if req.BillType == "" {
		req.BillType = TypeServices
	}
	if !validTypes[req.BillType] {
		return nil, apperr.Validation("bill_type", fmt.Sprintf("invalid bill_type: %s", req.BillType))
	}
	if req.Status == "" {
		req.Status = StatusPaid
	}
	if !validStatuses[req.Status] {
		return nil, apperr.Validation("status", fmt.Sprintf("invalid status: %s", req.Status))
	}
	if req.ModeOfPayment == "" {
		req.ModeOfPayment = ModeCash
	}
	req.ModeOfPayment = strings.ToLower(req.ModeOfPayment)
	if !validModes[req.ModeOfPayment] {
		return nil, apperr.Validation("mode_of_payment", fmt.Sprintf("invalid mode_of_payment: %s", req.ModeOfPayment))
	}
	ref := strings.TrimSpace(req.TransactionReference)
	if req.ModeOfPayment != ModeCash && ref == "" {
		return nil, apperr.Validation("transaction_reference", "transaction_reference is required for upi and card payments")
	}
	if req.Discount.IsNegative() {
		return nil, apperr.Validation("discount", "discount must not be negative")
	}
	if len(req.Items) == 0 {
		return nil, apperr.Validation("items", "a bill needs at least one line")
	}

	bill := &Bill{
		BillType:      req.BillType,
		DoctorID:      req.DoctorID,
		Discount:      req.Discount,
		Status:        req.Status,
		ModeOfPayment: req.ModeOfPayment,
	}
	if ref != "" {
		bill.TransactionReference = &ref
	}
	if actor != "" {
		bill.CreatedBy = &actor
	}

	if req.PatientID != nil {
		if err := s.exists(ctx, store.Patients, "patient", *req.PatientID); err != nil {
			return nil, err
		}
		bill.PatientID = req.PatientID
	} else {
		name := strings.TrimSpace(req.GuestName)
		if name == "" {
			return nil, apperr.Validation("guest_name", "guest_name is required when no patient is given")
		}
		bill.GuestName = &name
		if contact := strings.TrimSpace(req.GuestContact); contact != "" {
			bill.GuestContact = &contact
		}
	}
	if req.DoctorID != nil {
		if err := s.exists(ctx, store.Doctors, "doctor", *req.DoctorID); err != nil {
			return nil, err
		}
	}
	return bill, nil
}

func (s *Service) resolveLines(ctx context.Context, billType string, lines []LineRequest) ([]*BillItem, []inventory.DispenseLine, error) {
	var (
		items    []*BillItem
		dispense []inventory.DispenseLine
	)
	for i, l := range lines {
		field := fmt.Sprintf("items[%d]", i)
		if (l.ServiceID == nil) == (l.InventoryItemID == nil) {
			return nil, nil, apperr.Validation(field, "a line references exactly one of service_id or inventory_item_id")
		}
		if l.Quantity <= 0 {
			return nil, nil, apperr.Validation(field+".quantity", "quantity must be greater than 0")
		}
		if l.Price != nil && l.Price.IsNegative() {
			return nil, nil, apperr.Validation(field+".price", "price must not be negative")
		}

		it := &BillItem{Quantity: l.Quantity}
		var price decimal.Decimal
		if l.ServiceID != nil {
			svc, err := s.GetService(ctx, *l.ServiceID)
			if err != nil {
				return nil, nil, err
			}
			it.ServiceID = &svc.ID
			it.ServiceName = &svc.Name
			price = svc.Price
		} else {
			if billType != TypePharmacy {
				return nil, nil, apperr.Validation(field, "inventory items can only be sold on pharmacy bills")
			}
			item, err := s.inventory.GetItem(ctx, *l.InventoryItemID)
			if err != nil {
				return nil, nil, err
			}
			it.InventoryItemID = &item.ID
			it.ItemName = &item.Name
			price = item.SalePrice
			dispense = append(dispense, inventory.DispenseLine{ItemID: item.ID, Quantity: l.Quantity})
		}
		if l.Price != nil {
			price = *l.Price
		}
		it.Price = price
		it.Total = price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		items = append(items, it)
	}
	return items, dispense, nil
}

// discard removes a partially written bill from a store without
// transactions. Dispensed stock has already been reversed by the ledger.
func (s *Service) discard(ctx context.Context, bill *Bill, items []*BillItem) {
	for _, it := range items {
		if err := s.store.Delete(ctx, store.BillItems, it.ID.String()); err != nil {
			s.logger.Error().Err(err).Str("bill_item_id", it.ID.String()).Msg("failed to discard bill item")
		}
	}
	if err := s.store.Delete(ctx, store.Bills, bill.ID.String()); err != nil {
		s.logger.Error().Err(err).Str("bill_id", bill.ID.String()).Msg("failed to discard bill")
		return
	}
	s.logger.Warn().Str("bill_id", bill.ID.String()).Str("bill_number", bill.BillNumber).Msg("bill discarded after failure")
}

func (s *Service) GetBill(ctx context.Context, id uuid.UUID) (*BillDetail, error) {
	rec, err := store.Get(ctx, s.store, store.Bills, id.String())
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("bill", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get bill: %w", err)
	}
	var detail BillDetail
	if err := store.Decode(rec, &detail.Bill); err != nil {
		return nil, err
	}
	recs, err := s.store.List(ctx, store.BillItems, store.Filter{"bill_id": id.String()})
	if err != nil {
		return nil, fmt.Errorf("list bill items: %w", err)
	}
	if detail.Items, err = store.DecodeAll[BillItem](recs); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListBills returns bills matching f, oldest first.
func (s *Service) ListBills(ctx context.Context, f ListFilter) ([]*Bill, error) {
	filter := store.Filter{}
	if f.BillType != "" {
		filter["bill_type"] = f.BillType
	}
	if f.PatientID != nil {
		filter["patient_id"] = f.PatientID.String()
	}
	if f.DoctorID != nil {
		filter["doctor_id"] = f.DoctorID.String()
	}
	recs, err := s.store.List(ctx, store.Bills, filter)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	bills, err := store.DecodeAll[Bill](recs)
	if err != nil {
		return nil, err
	}
	if f.From.IsZero() && f.To.IsZero() {
		return bills, nil
	}
	out := bills[:0]
	for _, b := range bills {
		if !f.From.IsZero() && b.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && b.CreatedAt.After(f.To) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// ListBillItems returns every bill line, for reports.
func (s *Service) ListBillItems(ctx context.Context) ([]*BillItem, error) {
	recs, err := s.store.List(ctx, store.BillItems, nil)
	if err != nil {
		return nil, fmt.Errorf("list bill items: %w", err)
	}
	return store.DecodeAll[BillItem](recs)
}

// ---- Services catalog ----

func (s *Service) CreateService(ctx context.Context, cs *ClinicService) error {
	cs.Name = strings.TrimSpace(cs.Name)
	if cs.Name == "" {
		return apperr.Validation("name", "name is required")
	}
	if cs.Price.IsNegative() {
		return apperr.Validation("price", "price must not be negative")
	}
	cs.ID = uuid.Nil
	cs.CreatedAt = time.Time{}
	return s.insert(ctx, store.Services, cs)
}

func (s *Service) GetService(ctx context.Context, id uuid.UUID) (*ClinicService, error) {
	rec, err := store.Get(ctx, s.store, store.Services, id.String())
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("service", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}
	var cs ClinicService
	if err := store.Decode(rec, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

func (s *Service) ListServices(ctx context.Context) ([]*ClinicService, error) {
	recs, err := s.store.List(ctx, store.Services, nil)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return store.DecodeAll[ClinicService](recs)
}

func (s *Service) UpdateService(ctx context.Context, id uuid.UUID, u ServiceUpdate) (*ClinicService, error) {
	fields := store.Record{}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, apperr.Validation("name", "name is required")
		}
		fields["name"] = name
	}
	if u.Category != nil {
		fields["category"] = strings.TrimSpace(*u.Category)
	}
	if u.Price != nil {
		if u.Price.IsNegative() {
			return nil, apperr.Validation("price", "price must not be negative")
		}
		fields["price"] = u.Price.String()
	}
	if len(fields) == 0 {
		return s.GetService(ctx, id)
	}
	rec, err := s.store.Update(ctx, store.Services, id.String(), fields)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("service", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("update service: %w", err)
	}
	var cs ClinicService
	if err := store.Decode(rec, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

// insert encodes v, stores it and decodes the stored record back into v so
// generated identity fields are filled in.
func (s *Service) insert(ctx context.Context, collection string, v interface{}) error {
	rec, err := store.Encode(v)
	if err != nil {
		return err
	}
	saved, err := s.store.Insert(ctx, collection, rec)
	if err != nil {
		return fmt.Errorf("insert %s: %w", collection, err)
	}
	return store.Decode(saved, v)
}

func (s *Service) exists(ctx context.Context, collection, resource string, id uuid.UUID) error {
	_, err := store.Get(ctx, s.store, collection, id.String())
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(resource, id.String())
	}
	return err
}
