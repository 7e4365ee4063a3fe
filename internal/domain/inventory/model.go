package inventory

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger reasons.
const (
	ReasonPurchase   = "purchase"
	ReasonAdjustment = "adjustment"
	ReasonCorrection = "correction"
	ReasonDispense   = "dispense"
)

var validReasons = map[string]bool{
	ReasonPurchase: true, ReasonAdjustment: true, ReasonCorrection: true, ReasonDispense: true,
}

// Item maps to the inventory_items collection. CurrentStock is only ever
// written through the stock ledger.
type Item struct {
	ID                uuid.UUID       `json:"id"`
	Name              string          `json:"name"`
	SKU               string          `json:"sku"`
	Category          string          `json:"category"`
	Manufacturer      string          `json:"manufacturer"`
	Unit              string          `json:"unit"`
	CostPrice         decimal.Decimal `json:"cost_price"`
	SalePrice         decimal.Decimal `json:"sale_price"`
	GSTRate           decimal.Decimal `json:"gst_rate"`
	OpeningStock      int             `json:"opening_stock"`
	CurrentStock      int             `json:"current_stock"`
	LowStockThreshold *int            `json:"low_stock_threshold"`
	BatchNumber       string          `json:"batch_number"`
	ExpiryDate        *time.Time      `json:"expiry_date"`
	CreatedAt         time.Time       `json:"created_at"`
}

// IsLowStock reports whether the item has a threshold and is at or below it.
func (i *Item) IsLowStock() bool {
	return i.LowStockThreshold != nil && i.CurrentStock <= *i.LowStockThreshold
}

// LedgerEntry maps to the stock_ledger collection. Entries are never updated.
type LedgerEntry struct {
	ID              uuid.UUID  `json:"id"`
	ItemID          uuid.UUID  `json:"item_id"`
	Change          int        `json:"change"`
	Reason          string     `json:"reason"`
	Notes           *string    `json:"notes"`
	ReferenceBillID *uuid.UUID `json:"reference_bill_id"`
	CreatedBy       *string    `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
}

// AdjustOptions carries the optional ledger entry fields.
type AdjustOptions struct {
	Notes           string
	ReferenceBillID *uuid.UUID
	CreatedBy       string
}

// AdjustResult is the item after the change together with its ledger entry.
type AdjustResult struct {
	Item  *Item        `json:"item"`
	Entry *LedgerEntry `json:"ledger_entry"`
}

// ItemUpdate lists the administrative fields of an item. Stock fields are
// present only so that attempts to set them can be rejected.
type ItemUpdate struct {
	Name              *string          `json:"name"`
	SKU               *string          `json:"sku"`
	Category          *string          `json:"category"`
	Manufacturer      *string          `json:"manufacturer"`
	Unit              *string          `json:"unit"`
	CostPrice         *decimal.Decimal `json:"cost_price"`
	SalePrice         *decimal.Decimal `json:"sale_price"`
	GSTRate           *decimal.Decimal `json:"gst_rate"`
	LowStockThreshold Optional[int]       `json:"low_stock_threshold"`
	BatchNumber       *string             `json:"batch_number"`
	ExpiryDate        Optional[time.Time] `json:"expiry_date"`

	OpeningStock *int `json:"opening_stock"`
	CurrentStock *int `json:"current_stock"`
}

// Optional is a nullable update field. Set is false when the key is absent;
// an explicit JSON null sets it with a nil Value, which clears the field.
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Some returns a set Optional holding v.
func Some[T any](v T) Optional[T] { return Optional[T]{Set: true, Value: &v} }

// Null returns a set Optional that clears the field.
func Null[T any]() Optional[T] { return Optional[T]{Set: true} }

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

// DispenseLine is one inventory line of a bill.
type DispenseLine struct {
	ItemID   uuid.UUID
	Quantity int
}

// ReconcileResult describes an item whose stored stock disagreed with its
// ledger.
type ReconcileResult struct {
	ItemID   uuid.UUID `json:"item_id"`
	ItemName string    `json:"item_name"`
	Stored   int       `json:"stored_stock"`
	Ledger   int       `json:"ledger_stock"`
	Repaired bool      `json:"repaired"`
}
