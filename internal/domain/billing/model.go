package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TypeServices = "services"
	TypePharmacy = "pharmacy"

	StatusPaid    = "paid"
	StatusPending = "pending"
	StatusPartial = "partial"

	ModeCash = "cash"
	ModeUPI  = "upi"
	ModeCard = "card"
)

var (
	validTypes    = map[string]bool{TypeServices: true, TypePharmacy: true}
	validStatuses = map[string]bool{StatusPaid: true, StatusPending: true, StatusPartial: true}
	validModes    = map[string]bool{ModeCash: true, ModeUPI: true, ModeCard: true}
)

// Bill maps to the bills collection. Bills without a patient are guest bills.
type Bill struct {
	ID                   uuid.UUID       `json:"id"`
	BillNumber           string          `json:"bill_number"`
	BillType             string          `json:"bill_type"`
	PatientID            *uuid.UUID      `json:"patient_id"`
	GuestName            *string         `json:"guest_name"`
	GuestContact         *string         `json:"guest_contact"`
	DoctorID             *uuid.UUID      `json:"doctor_id"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	Discount             decimal.Decimal `json:"discount"`
	NetAmount            decimal.Decimal `json:"net_amount"`
	Status               string          `json:"status"`
	ModeOfPayment        string          `json:"mode_of_payment"`
	TransactionReference *string         `json:"transaction_reference"`
	CreatedBy            *string         `json:"created_by"`
	CreatedAt            time.Time       `json:"created_at"`
}

// BillItem maps to the bill_items collection. Names are copied from the
// catalog at sale time so later renames do not rewrite history.
type BillItem struct {
	ID              uuid.UUID       `json:"id"`
	BillID          uuid.UUID       `json:"bill_id"`
	ServiceID       *uuid.UUID      `json:"service_id"`
	ServiceName     *string         `json:"service_name"`
	InventoryItemID *uuid.UUID      `json:"inventory_item_id"`
	ItemName        *string         `json:"item_name"`
	Quantity        int             `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	Total           decimal.Decimal `json:"total"`
	CreatedAt       time.Time       `json:"created_at"`
}

// BillDetail is a bill with its line items.
type BillDetail struct {
	Bill
	Items []*BillItem `json:"items"`
}

// ClinicService is an entry of the services catalog.
type ClinicService struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}

type ServiceUpdate struct {
	Name     *string          `json:"name"`
	Category *string          `json:"category"`
	Price    *decimal.Decimal `json:"price"`
}

// LineRequest is one requested line. Exactly one of ServiceID and
// InventoryItemID is set. A nil Price takes the catalog price.
type LineRequest struct {
	ServiceID       *uuid.UUID       `json:"service_id"`
	InventoryItemID *uuid.UUID       `json:"inventory_item_id"`
	Quantity        int              `json:"quantity"`
	Price           *decimal.Decimal `json:"price"`
}

type CreateBillRequest struct {
	BillType             string          `json:"bill_type"`
	PatientID            *uuid.UUID      `json:"patient_id"`
	GuestName            string          `json:"guest_name"`
	GuestContact         string          `json:"guest_contact"`
	DoctorID             *uuid.UUID      `json:"doctor_id"`
	Discount             decimal.Decimal `json:"discount"`
	Status               string          `json:"status"`
	ModeOfPayment        string          `json:"mode_of_payment"`
	TransactionReference string          `json:"transaction_reference"`
	Items                []LineRequest   `json:"items"`
}

// ListFilter narrows ListBills. Zero values match everything.
type ListFilter struct {
	BillType  string
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	From      time.Time
	To        time.Time
}

// NetAmount returns max(0, total - discount).
func NetAmount(total, discount decimal.Decimal) decimal.Decimal {
	net := total.Sub(discount)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}
