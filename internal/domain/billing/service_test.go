package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onclinic/clinic/internal/domain/inventory"
	"github.com/onclinic/clinic/internal/domain/numbering"
	"github.com/onclinic/clinic/internal/platform/apperr"
	"github.com/onclinic/clinic/internal/platform/store"
)

var ist = time.FixedZone("IST", 5*3600+1800)

var testNow = time.Date(2025, 6, 15, 11, 0, 0, 0, ist)

type fixture struct {
	store store.Store
	inv   *inventory.Service
	svc   *Service
}

func newFixture(t *testing.T, st store.Store) *fixture {
	t.Helper()
	if st == nil {
		st = store.NewMemory(store.DefaultUniques)
	}
	clock := func() time.Time { return testNow }
	logger := zerolog.Nop()
	inv := inventory.NewService(st, ist, logger, inventory.WithClock(clock))
	numbers := numbering.NewGenerator(st, ist, logger, numbering.WithClock(clock))
	return &fixture{store: st, inv: inv, svc: NewService(st, inv, numbers, logger)}
}

func (f *fixture) item(t *testing.T, name string, stock int, price string) *inventory.Item {
	t.Helper()
	it := &inventory.Item{Name: name, OpeningStock: stock, SalePrice: decimal.RequireFromString(price)}
	require.NoError(t, f.inv.CreateItem(context.Background(), it))
	return it
}

func (f *fixture) service(t *testing.T, name, price string) *ClinicService {
	t.Helper()
	cs := &ClinicService{Name: name, Category: "consultation", Price: decimal.RequireFromString(price)}
	require.NoError(t, f.svc.CreateService(context.Background(), cs))
	return cs
}

func (f *fixture) insert(t *testing.T, collection string, rec store.Record) uuid.UUID {
	t.Helper()
	saved, err := f.store.Insert(context.Background(), collection, rec)
	require.NoError(t, err)
	return uuid.MustParse(saved.ID())
}

func (f *fixture) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	it, err := f.inv.GetItem(context.Background(), id)
	require.NoError(t, err)
	return it.CurrentStock
}

func (f *fixture) count(t *testing.T, collection string) int {
	t.Helper()
	recs, err := f.store.List(context.Background(), collection, nil)
	require.NoError(t, err)
	return len(recs)
}

func ptr[T any](v T) *T { return &v }

func TestCreateBill_Services(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	consult := f.service(t, "General consultation", "500")
	dressing := f.service(t, "Dressing", "150.50")
	patientID := f.insert(t, store.Patients, store.Record{"name": "Asha", "patient_id": "2025/0001"})
	doctorID := f.insert(t, store.Doctors, store.Record{"name": "Dr. Rao"})

	bill, err := f.svc.CreateBill(ctx, CreateBillRequest{
		BillType:  TypeServices,
		PatientID: &patientID,
		DoctorID:  &doctorID,
		Discount:  decimal.NewFromInt(50),
		Items: []LineRequest{
			{ServiceID: &consult.ID, Quantity: 1},
			{ServiceID: &dressing.ID, Quantity: 2},
		},
	}, "recep-1")
	require.NoError(t, err)

	assert.Equal(t, "ON-250615-0001", bill.BillNumber)
	assert.True(t, bill.TotalAmount.Equal(decimal.RequireFromString("801")), bill.TotalAmount.String())
	assert.True(t, bill.NetAmount.Equal(decimal.RequireFromString("751")))
	assert.Equal(t, StatusPaid, bill.Status)
	assert.Equal(t, ModeCash, bill.ModeOfPayment)
	require.Len(t, bill.Items, 2)
	assert.Equal(t, "General consultation", *bill.Items[0].ServiceName)
	assert.True(t, bill.Items[1].Total.Equal(decimal.RequireFromString("301")))

	got, err := f.svc.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, bill.BillNumber, got.BillNumber)
	assert.Len(t, got.Items, 2)
	assert.Equal(t, bill.ID, got.Items[0].BillID)

	next, err := f.svc.CreateBill(ctx, CreateBillRequest{
		GuestName: "Walk-in",
		Items:     []LineRequest{{ServiceID: &consult.ID, Quantity: 1}},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "ON-250615-0002", next.BillNumber)
}

func TestCreateBill_PharmacyDispenses(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	para := f.item(t, "Paracetamol", 10, "2.50")
	syrup := f.item(t, "Cough syrup", 4, "85")

	bill, err := f.svc.CreateBill(ctx, CreateBillRequest{
		BillType:             TypePharmacy,
		GuestName:            "Ravi",
		ModeOfPayment:        "UPI",
		TransactionReference: "upi-ref-1",
		Items: []LineRequest{
			{InventoryItemID: &para.ID, Quantity: 3},
			{InventoryItemID: &syrup.ID, Quantity: 1, Price: ptr(decimal.NewFromInt(80))},
		},
	}, "pharm-1")
	require.NoError(t, err)

	assert.Equal(t, "ONP-251506-0001", bill.BillNumber)
	assert.Equal(t, ModeUPI, bill.ModeOfPayment)
	assert.True(t, bill.TotalAmount.Equal(decimal.RequireFromString("87.5")))
	assert.Equal(t, "Paracetamol", *bill.Items[0].ItemName)

	assert.Equal(t, 7, f.stock(t, para.ID))
	assert.Equal(t, 3, f.stock(t, syrup.ID))

	entries, err := f.inv.ListLedger(ctx, para.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, -3, entries[0].Change)
	assert.Equal(t, inventory.ReasonDispense, entries[0].Reason)
	assert.Equal(t, bill.ID, *entries[0].ReferenceBillID)
	assert.Equal(t, "pharm-1", *entries[0].CreatedBy)

	// the clinic sequence is unaffected by pharmacy bills
	clinic, err := f.svc.numbers.GenerateBillNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ON-250615-0001", clinic)
}

func TestCreateBill_InsufficientStockCreatesNothing(t *testing.T) {
	for name, st := range map[string]store.Store{
		"transactional": store.NewMemory(store.DefaultUniques),
		"plain":         struct{ store.Store }{store.NewMemory(store.DefaultUniques)},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, st)
			ctx := context.Background()
			a := f.item(t, "A", 10, "1")
			b := f.item(t, "B", 2, "1")

			_, err := f.svc.CreateBill(ctx, CreateBillRequest{
				BillType:  TypePharmacy,
				GuestName: "Guest",
				Items: []LineRequest{
					{InventoryItemID: &a.ID, Quantity: 3},
					{InventoryItemID: &b.ID, Quantity: 2},
					{InventoryItemID: &b.ID, Quantity: 1},
				},
			}, "")
			assert.ErrorIs(t, err, apperr.ErrInsufficientStock)

			assert.Equal(t, 0, f.count(t, store.Bills))
			assert.Equal(t, 0, f.count(t, store.BillItems))
			assert.Equal(t, 0, f.count(t, store.StockLedger))
			assert.Equal(t, 10, f.stock(t, a.ID))
			assert.Equal(t, 2, f.stock(t, b.ID))
		})
	}
}

// failingStore accepts everything except stock updates of one item, and
// hides the memory store's transactions.
type failingStore struct {
	store.Store
	itemID string
}

func (s *failingStore) Update(ctx context.Context, collection, id string, fields store.Record) (store.Record, error) {
	if collection == store.InventoryItems && id == s.itemID {
		return nil, errors.New("write failed")
	}
	return s.Store.Update(ctx, collection, id, fields)
}

func TestCreateBill_LateFailureOnPlainStoreIsUndone(t *testing.T) {
	fs := &failingStore{Store: store.NewMemory(store.DefaultUniques)}
	f := newFixture(t, fs)
	ctx := context.Background()
	a := f.item(t, "A", 10, "1")
	b := f.item(t, "B", 10, "1")
	fs.itemID = b.ID.String()

	_, err := f.svc.CreateBill(ctx, CreateBillRequest{
		BillType:  TypePharmacy,
		GuestName: "Guest",
		Items: []LineRequest{
			{InventoryItemID: &a.ID, Quantity: 4},
			{InventoryItemID: &b.ID, Quantity: 1},
		},
	}, "pharm-1")
	require.Error(t, err)

	assert.Equal(t, 0, f.count(t, store.Bills))
	assert.Equal(t, 0, f.count(t, store.BillItems))
	assert.Equal(t, 10, f.stock(t, a.ID))

	entries, err := f.inv.ListLedger(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, inventory.ReasonCorrection, entries[1].Reason)
}

func TestCreateBill_Validation(t *testing.T) {
	f := newFixture(t, nil)
	consult := f.service(t, "Consultation", "300")
	item := f.item(t, "Paracetamol", 10, "2")
	line := []LineRequest{{ServiceID: &consult.ID, Quantity: 1}}

	tests := []struct {
		name string
		req  CreateBillRequest
		want error
	}{
		{"bad type", CreateBillRequest{BillType: "lab", GuestName: "g", Items: line}, apperr.ErrValidation},
		{"bad status", CreateBillRequest{Status: "void", GuestName: "g", Items: line}, apperr.ErrValidation},
		{"bad mode", CreateBillRequest{ModeOfPayment: "cheque", GuestName: "g", Items: line}, apperr.ErrValidation},
		{"card without reference", CreateBillRequest{ModeOfPayment: ModeCard, GuestName: "g", Items: line}, apperr.ErrValidation},
		{"negative discount", CreateBillRequest{Discount: decimal.NewFromInt(-1), GuestName: "g", Items: line}, apperr.ErrValidation},
		{"no lines", CreateBillRequest{GuestName: "g"}, apperr.ErrValidation},
		{"guest without name", CreateBillRequest{Items: line}, apperr.ErrValidation},
		{"unknown patient", CreateBillRequest{PatientID: ptr(uuid.New()), Items: line}, apperr.ErrNotFound},
		{"unknown doctor", CreateBillRequest{GuestName: "g", DoctorID: ptr(uuid.New()), Items: line}, apperr.ErrNotFound},
		{"unknown service", CreateBillRequest{GuestName: "g", Items: []LineRequest{{ServiceID: ptr(uuid.New()), Quantity: 1}}}, apperr.ErrNotFound},
		{"zero quantity", CreateBillRequest{GuestName: "g", Items: []LineRequest{{ServiceID: &consult.ID}}}, apperr.ErrValidation},
		{"negative price", CreateBillRequest{GuestName: "g", Items: []LineRequest{{ServiceID: &consult.ID, Quantity: 1, Price: ptr(decimal.NewFromInt(-5))}}}, apperr.ErrValidation},
		{"both references", CreateBillRequest{BillType: TypePharmacy, GuestName: "g", Items: []LineRequest{{ServiceID: &consult.ID, InventoryItemID: &item.ID, Quantity: 1}}}, apperr.ErrValidation},
		{"inventory on services bill", CreateBillRequest{GuestName: "g", Items: []LineRequest{{InventoryItemID: &item.ID, Quantity: 1}}}, apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateBill(context.Background(), tt.req, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 0, f.count(t, store.Bills))
	assert.Equal(t, 10, f.stock(t, item.ID))
}

func TestCreateBill_DiscountAboveTotal(t *testing.T) {
	f := newFixture(t, nil)
	consult := f.service(t, "Consultation", "300")
	bill, err := f.svc.CreateBill(context.Background(), CreateBillRequest{
		GuestName: "g",
		Discount:  decimal.NewFromInt(500),
		Items:     []LineRequest{{ServiceID: &consult.ID, Quantity: 1}},
	}, "")
	require.NoError(t, err)
	assert.True(t, bill.NetAmount.IsZero())
}

func TestNetAmount(t *testing.T) {
	assert.True(t, NetAmount(decimal.NewFromInt(100), decimal.NewFromInt(10)).Equal(decimal.NewFromInt(90)))
	assert.True(t, NetAmount(decimal.NewFromInt(100), decimal.NewFromInt(100)).IsZero())
	assert.True(t, NetAmount(decimal.NewFromInt(10), decimal.NewFromInt(100)).IsZero())
}

func TestListBills(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	consult := f.service(t, "Consultation", "300")
	para := f.item(t, "Paracetamol", 10, "2")
	patientID := f.insert(t, store.Patients, store.Record{"name": "Asha"})

	_, err := f.svc.CreateBill(ctx, CreateBillRequest{PatientID: &patientID, Items: []LineRequest{{ServiceID: &consult.ID, Quantity: 1}}}, "")
	require.NoError(t, err)
	_, err = f.svc.CreateBill(ctx, CreateBillRequest{BillType: TypePharmacy, GuestName: "g", Items: []LineRequest{{InventoryItemID: &para.ID, Quantity: 1}}}, "")
	require.NoError(t, err)

	all, err := f.svc.ListBills(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pharmacy, err := f.svc.ListBills(ctx, ListFilter{BillType: TypePharmacy})
	require.NoError(t, err)
	require.Len(t, pharmacy, 1)
	assert.Equal(t, "g", *pharmacy[0].GuestName)

	mine, err := f.svc.ListBills(ctx, ListFilter{PatientID: &patientID})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	future, err := f.svc.ListBills(ctx, ListFilter{From: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, future)

	items, err := f.svc.ListBillItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestServicesCatalog(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cs := f.service(t, "X-ray", "700")

	assert.ErrorIs(t, f.svc.CreateService(ctx, &ClinicService{Name: ""}), apperr.ErrValidation)
	assert.ErrorIs(t, f.svc.CreateService(ctx, &ClinicService{Name: "x", Price: decimal.NewFromInt(-1)}), apperr.ErrValidation)

	price := decimal.NewFromInt(750)
	updated, err := f.svc.UpdateService(ctx, cs.ID, ServiceUpdate{Price: &price})
	require.NoError(t, err)
	assert.True(t, updated.Price.Equal(price))
	assert.Equal(t, "X-ray", updated.Name)

	_, err = f.svc.UpdateService(ctx, uuid.New(), ServiceUpdate{Price: &price})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	list, err := f.svc.ListServices(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestBillLinesKeepNamesAfterRename(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cs := f.service(t, "ECG", "400")
	bill, err := f.svc.CreateBill(ctx, CreateBillRequest{GuestName: "g", Items: []LineRequest{{ServiceID: &cs.ID, Quantity: 1}}}, "")
	require.NoError(t, err)

	name := "Electrocardiogram"
	_, err = f.svc.UpdateService(ctx, cs.ID, ServiceUpdate{Name: &name})
	require.NoError(t, err)

	got, err := f.svc.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, "ECG", *got.Items[0].ServiceName)
}
