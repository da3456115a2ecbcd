package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetType classifies an instrument.
type AssetType string

const (
	AssetTypeStock  AssetType = "stock"
	AssetTypeOption AssetType = "option"
	AssetTypeFuture AssetType = "future"
)

// TradeDirection is fixed by the sign of the fill that opened the position.
type TradeDirection string

const (
	DirectionLong  TradeDirection = "long"
	DirectionShort TradeDirection = "short"
)

// FillSide is the broker-reported side of a single execution.
type FillSide string

const (
	SideBuy  FillSide = "BUY"
	SideSell FillSide = "SELL"
)

// ImportStatus tracks the lifecycle of one import batch.
type ImportStatus string

const (
	ImportPending   ImportStatus = "pending"
	ImportCompleted ImportStatus = "completed"
	ImportFailed    ImportStatus = "failed"
)

// Asset is one tradeable instrument. Created on first import of its code,
// exchange/timezone backfilled when a later batch observes them.
type Asset struct {
	ID        int64
	Code      string
	Name      string
	AssetType AssetType
	Exchange  string
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ParentTrade is one persisted round-trip position, possibly still open.
type ParentTrade struct {
	ID              int64
	AssetID         int64
	Direction       TradeDirection
	Quantity        decimal.Decimal
	OpenTime        time.Time
	CloseTime       *time.Time
	OpenPrice       decimal.NullDecimal
	ClosePrice      decimal.NullDecimal
	TotalCommission decimal.Decimal
	ProfitLoss      decimal.Decimal
	Currency        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Open reports whether the position has not yet been flattened.
func (t *ParentTrade) Open() bool { return t.CloseTime == nil }

// TradeFill is one persisted broker execution, foreign-keyed to its parent
// trade and asset.
type TradeFill struct {
	ID            int64
	ParentTradeID int64
	AssetID       int64
	Side          FillSide
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Commission    decimal.Decimal
	Multiplier    decimal.Decimal
	Proceeds      decimal.NullDecimal
	NetCash       decimal.NullDecimal
	Currency      string
	TradeTime     time.Time
	Source        string
	OrderID       string
	ImportBatchID int64
	CreatedAt     time.Time
}

// ImportBatch records the outcome of one upload.
type ImportBatch struct {
	ID             int64        `json:"id"`
	Reference      string       `json:"reference"`
	Broker         string       `json:"broker"`
	Filename       string       `json:"filename"`
	Status         ImportStatus `json:"status"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	TotalRecords   int          `json:"total_records"`
	SkippedRecords int          `json:"skipped_records"`
	CreatedAt      time.Time    `json:"created_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

// UserSetting is the singleton display preference row.
type UserSetting struct {
	ID        int64     `json:"-"`
	Timezone  string    `json:"timezone"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}
