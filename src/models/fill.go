package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// NormalizedFill is the unified, validated representation of one broker
// execution. Each parser is responsible for populating as many of these
// fields as possible directly from the source file; the aggregation engine
// consumes them as-is and never re-validates.
type NormalizedFill struct {
	AssetCode  string          `json:"asset_code"`
	AssetType  AssetType       `json:"asset_type"`
	Exchange   string          `json:"exchange"`
	Timezone   string          `json:"timezone"`
	TradeTime  time.Time       `json:"trade_time"` // always UTC
	Side       FillSide        `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"` // positive magnitude
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"` // non-negative magnitude
	Currency   string          `json:"currency"`

	// Contract size factor. 1 for everything except futures, where it is
	// taken from the file or inferred from the symbol prefix.
	Multiplier decimal.Decimal `json:"multiplier"`

	// Broker-reported gross proceeds for the execution, when present.
	// Overrides price*quantity when weighting open/close prices.
	Proceeds decimal.NullDecimal `json:"proceeds"`

	// Broker-reported signed net cash impact, when present. Authoritative
	// for P&L; may include fees the price*quantity formula cannot reproduce.
	NetCash decimal.NullDecimal `json:"net_cash"`

	OrderID string `json:"order_id"`
	Source  string `json:"source"` // broker trade id
}

// SignedQuantity returns +quantity for buys and -quantity for sells.
func (f *NormalizedFill) SignedQuantity() decimal.Decimal {
	if f.Side == SideSell {
		return f.Quantity.Neg()
	}
	return f.Quantity
}

// AggregatedTrade is one reconstructed round-trip position produced by the
// aggregation engine. It is a plain computed value; persistence is decided
// afterwards by the import service.
type AggregatedTrade struct {
	AssetCode       string
	AssetType       AssetType
	Direction       TradeDirection
	Quantity        decimal.Decimal // peak absolute position reached
	OpenTime        time.Time
	CloseTime       *time.Time // nil while the position is still open
	OpenPrice       decimal.NullDecimal
	ClosePrice      decimal.NullDecimal
	TotalCommission decimal.Decimal
	ProfitLoss      decimal.Decimal
	Currency        string
	FillIndexes     []int // indexes into the aggregation input, in event order

	// FillQuantities is parallel to FillIndexes: the quantity each fill
	// contributed to this trade. It differs from the fill's own quantity
	// only for a flip fill, whose quantity is shared between the trade it
	// closed and the one it opened.
	FillQuantities []decimal.Decimal
}
