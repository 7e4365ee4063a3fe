// Package events publishes inventory domain events.
package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	TypeStockAdjusted = "StockAdjusted"
	TypeLowStock      = "LowStock"
)

// Event is implemented by every published payload.
type Event interface {
	EventType() string
	// PartitionKey groups events that must stay ordered, usually the item id.
	PartitionKey() string
}

// StockAdjusted is emitted after a ledger entry and stock update commit.
type StockAdjusted struct {
	ItemID          string    `json:"item_id"`
	ItemName        string    `json:"item_name"`
	LedgerEntryID   string    `json:"ledger_entry_id"`
	Delta           int       `json:"delta"`
	Reason          string    `json:"reason"`
	NewStock        int       `json:"new_stock"`
	ReferenceBillID string    `json:"reference_bill_id,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func (StockAdjusted) EventType() string      { return TypeStockAdjusted }
func (e StockAdjusted) PartitionKey() string { return e.ItemID }

// LowStock is emitted when an adjustment takes an item from above its low
// stock threshold to at or below it.
type LowStock struct {
	ItemID            string    `json:"item_id"`
	ItemName          string    `json:"item_name"`
	CurrentStock      int       `json:"current_stock"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (LowStock) EventType() string      { return TypeLowStock }
func (e LowStock) PartitionKey() string { return e.ItemID }

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Log writes events to the logger instead of a broker.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Publish(_ context.Context, e Event) error {
	l.logger.Info().
		Str("event_type", e.EventType()).
		Str("key", e.PartitionKey()).
		Interface("event", e).
		Msg("event")
	return nil
}

func (l *Log) Close() error { return nil }
