package processors

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/williams2w4/tradej/src/models"
)

// assetState tracks one instrument's open leg during a single aggregation
// run. It is created when a fill arrives for a flat instrument and flushed
// into an AggregatedTrade the instant the position returns to exactly zero.
type assetState struct {
	assetCode string
	assetType models.AssetType
	direction models.TradeDirection
	currency  string

	position decimal.Decimal // signed
	openTime time.Time

	openSumQty     decimal.Decimal
	openSumAmount  decimal.Decimal
	closeSumQty    decimal.Decimal
	closeSumAmount decimal.Decimal

	totalCommission decimal.Decimal
	netCash         decimal.Decimal
	maxAbsPosition  decimal.Decimal
	multiplier      decimal.Decimal

	fillIndexes    []int
	fillQuantities []decimal.Decimal
	finalized      bool
}

func newAssetState(fill *models.NormalizedFill, direction models.TradeDirection) *assetState {
	return &assetState{
		assetCode:  fill.AssetCode,
		assetType:  fill.AssetType,
		direction:  direction,
		currency:   fill.Currency,
		openTime:   fill.TradeTime,
		multiplier: fill.Multiplier,
	}
}

// TradeAggregator partitions an ordered, duplicate-free fill stream into
// round-trip parent trades.
type TradeAggregator struct{}

func NewTradeAggregator() *TradeAggregator {
	return &TradeAggregator{}
}

// Aggregate consumes a fill sequence and returns the reconstructed parent
// trades plus the mapping from each input fill index to its trade index.
// Fills are processed in execution-time order with ties broken by input
// position, so identical input always yields identical output.
//
// A fill that carries the position through zero closes the old leg in full
// and opens the opposite leg in the same record: it appears in both trades'
// fill index lists, with commission and net cash apportioned by quantity.
// The fill-to-trade map keeps every fill in exactly one trade; a flip fill
// maps to the leg it closed.
func (a *TradeAggregator) Aggregate(fills []models.NormalizedFill) ([]models.AggregatedTrade, map[int]int) {
	order := make([]int, len(fills))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return fills[order[i]].TradeTime.Before(fills[order[j]].TradeTime)
	})

	var trades []models.AggregatedTrade
	fillToTrade := make(map[int]int, len(fills))
	stateByAsset := make(map[string]*assetState)
	var stateOrder []*assetState

	finalize := func(state *assetState, closeTime *time.Time) {
		tradeIndex := len(trades)
		trades = append(trades, state.toTrade(closeTime))
		for _, fillIndex := range state.fillIndexes {
			if _, claimed := fillToTrade[fillIndex]; !claimed {
				fillToTrade[fillIndex] = tradeIndex
			}
		}
		state.finalized = true
		delete(stateByAsset, state.assetCode)
	}

	for _, index := range order {
		fill := &fills[index]
		signedQty := fill.SignedQuantity()

		state := stateByAsset[fill.AssetCode]
		if state == nil || state.position.IsZero() {
			direction := models.DirectionLong
			if signedQty.Sign() < 0 {
				direction = models.DirectionShort
			}
			state = newAssetState(fill, direction)
			stateByAsset[fill.AssetCode] = state
			stateOrder = append(stateOrder, state)
		}

		before := state.position
		after := before.Add(signedQty)
		absBefore := before.Abs()
		absAfter := after.Abs()
		unitAmount := fillUnitAmount(fill)

		if !before.IsZero() && !after.IsZero() && before.Sign() != after.Sign() {
			// Flip through zero. |before| closes the old leg, |after| opens
			// the opposite one, both portions from this single fill.
			closeFraction := absBefore.Div(fill.Quantity)
			openFraction := absAfter.Div(fill.Quantity)
			netCash := ResolveNetCash(fill)

			state.fillIndexes = append(state.fillIndexes, index)
			state.fillQuantities = append(state.fillQuantities, absBefore)
			state.closeSumQty = state.closeSumQty.Add(absBefore)
			state.closeSumAmount = state.closeSumAmount.Add(absBefore.Mul(unitAmount))
			state.netCash = state.netCash.Add(netCash.Mul(closeFraction))
			state.totalCommission = state.totalCommission.Add(fill.Commission.Mul(closeFraction))
			state.position = decimal.Zero
			closeTime := fill.TradeTime
			finalize(state, &closeTime)

			direction := models.DirectionLong
			if after.Sign() < 0 {
				direction = models.DirectionShort
			}
			next := newAssetState(fill, direction)
			next.fillIndexes = []int{index}
			next.fillQuantities = []decimal.Decimal{absAfter}
			next.openSumQty = absAfter
			next.openSumAmount = absAfter.Mul(unitAmount)
			next.netCash = netCash.Mul(openFraction)
			next.totalCommission = fill.Commission.Mul(openFraction)
			next.position = after
			next.maxAbsPosition = absAfter
			stateByAsset[fill.AssetCode] = next
			stateOrder = append(stateOrder, next)
			continue
		}

		state.fillIndexes = append(state.fillIndexes, index)
		state.fillQuantities = append(state.fillQuantities, fill.Quantity)

		// Split the fill into the portion that grows the current leg and
		// the portion that shrinks it.
		var openQty, closeQty decimal.Decimal
		switch {
		case before.IsZero():
			openQty = signedQty.Abs()
		default:
			if absAfter.GreaterThan(absBefore) {
				openQty = absAfter.Sub(absBefore)
			} else if absAfter.LessThan(absBefore) {
				closeQty = absBefore.Sub(absAfter)
			}
		}

		if openQty.IsPositive() {
			state.openSumQty = state.openSumQty.Add(openQty)
			state.openSumAmount = state.openSumAmount.Add(openQty.Mul(unitAmount))
		}
		if closeQty.IsPositive() {
			state.closeSumQty = state.closeSumQty.Add(closeQty)
			state.closeSumAmount = state.closeSumAmount.Add(closeQty.Mul(unitAmount))
		}

		state.netCash = state.netCash.Add(ResolveNetCash(fill))
		state.totalCommission = state.totalCommission.Add(fill.Commission)
		state.position = after
		if absAfter.GreaterThan(state.maxAbsPosition) {
			state.maxAbsPosition = absAfter
		}

		if after.IsZero() {
			closeTime := fill.TradeTime
			finalize(state, &closeTime)
		}
	}

	// Whatever never returned to zero is carried out as a still-open trade.
	for _, state := range stateOrder {
		if state.finalized {
			continue
		}
		finalize(state, nil)
	}

	return trades, fillToTrade
}

// fillUnitAmount is the notional contributed per unit of quantity. Broker
// proceeds, when reported, already include the contract multiplier and any
// price adjustments, so they take precedence over price*multiplier.
func fillUnitAmount(fill *models.NormalizedFill) decimal.Decimal {
	if fill.Proceeds.Valid && !fill.Quantity.IsZero() {
		return fill.Proceeds.Decimal.Abs().Div(fill.Quantity)
	}
	return fill.Price.Mul(fill.Multiplier)
}

func (s *assetState) toTrade(closeTime *time.Time) models.AggregatedTrade {
	quantity := s.maxAbsPosition
	if quantity.IsZero() {
		quantity = s.position.Abs()
	}
	return models.AggregatedTrade{
		AssetCode:       s.assetCode,
		AssetType:       s.assetType,
		Direction:       s.direction,
		Quantity:        quantity,
		OpenTime:        s.openTime,
		CloseTime:       closeTime,
		OpenPrice:       s.weightedPrice(s.openSumAmount, s.openSumQty),
		ClosePrice:      s.weightedPrice(s.closeSumAmount, s.closeSumQty),
		TotalCommission: s.totalCommission,
		ProfitLoss:      s.netCash,
		Currency:        s.currency,
		FillIndexes:     append([]int(nil), s.fillIndexes...),
		FillQuantities:  append([]decimal.Decimal(nil), s.fillQuantities...),
	}
}

// weightedPrice divides accumulated notional by accumulated quantity scaled
// by the contract multiplier. A side with no accumulated volume has no
// price, never a zero price.
func (s *assetState) weightedPrice(sumAmount, sumQty decimal.Decimal) decimal.NullDecimal {
	if !sumQty.IsPositive() {
		return decimal.NullDecimal{}
	}
	denominator := sumQty.Mul(s.multiplier)
	return decimal.NullDecimal{Decimal: sumAmount.Div(denominator), Valid: true}
}
