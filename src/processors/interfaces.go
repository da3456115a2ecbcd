package processors

import (
	"github.com/williams2w4/tradej/src/models"
)

// Aggregator reconstructs parent trades from an ordered, duplicate-free fill
// sequence. Implemented by TradeAggregator; defined as an interface so the
// import service can be exercised against a stub.
type Aggregator interface {
	Aggregate(fills []models.NormalizedFill) ([]models.AggregatedTrade, map[int]int)
}
