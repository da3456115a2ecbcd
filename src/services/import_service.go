// src/services/import_service.go
package services

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/williams2w4/tradej/src/database"
	"github.com/williams2w4/tradej/src/logger"
	"github.com/williams2w4/tradej/src/model"
	"github.com/williams2w4/tradej/src/models"
	"github.com/williams2w4/tradej/src/parsers"
	"github.com/williams2w4/tradej/src/processors"
)

// combinedFill is one entry of the merged aggregation input: fills
// rehydrated from currently-open persisted trades plus the new batch.
// existing is nil for new fills.
type combinedFill struct {
	normalized models.NormalizedFill
	existing   *models.TradeFill
}

// fillAllocation is one trade's share of a fill: the whole fill in the
// common case, one side of the split for a flip fill.
type fillAllocation struct {
	tradeIndex int
	quantity   decimal.Decimal
}

type importServiceImpl struct {
	aggregator  processors.Aggregator
	reportCache *cache.Cache
}

func NewImportService(aggregator processors.Aggregator, reportCache *cache.Cache) ImportService {
	return &importServiceImpl{
		aggregator:  aggregator,
		reportCache: reportCache,
	}
}

// txFillLookup adapts a database handle to the duplicate detector's
// FillHistoryLookup.
type txFillLookup struct {
	q model.Querier
}

func (l txFillLookup) LookupFillTimes(sources []string) (map[string][]time.Time, error) {
	return model.LookupFillTimes(l.q, sources)
}

// ProcessImport runs one import end to end: parse, filter duplicates, merge
// with open positions, aggregate, reconcile against persisted parent
// trades. Every read and write happens inside a single transaction so a
// failure partway leaves no partial state.
func (s *importServiceImpl) ProcessImport(broker, filename string, file io.Reader, policy DuplicatePolicy) (*models.ImportBatch, error) {
	startTime := time.Now()
	if policy == "" {
		policy = DuplicateSkip
	}
	logger.L.Info("ProcessImport START", "broker", broker, "filename", filename, "policy", string(policy))

	parser, err := parsers.GetParser(broker)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	newFills, err := parser.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	dbTx, err := database.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer dbTx.Rollback()

	duplicates, err := CheckDuplicates(newFills, txFillLookup{dbTx})
	if err != nil {
		return nil, fmt.Errorf("%w: duplicate check: %v", ErrProcessingFailed, err)
	}

	skippedCount := 0
	switch policy {
	case DuplicateOverride:
		// A position once closed is an atomic fact: the previous owners of
		// the duplicated fills are replaced wholesale, never patched.
		if err := s.deleteOwningParents(dbTx, newFills, duplicates); err != nil {
			return nil, err
		}
	default:
		if len(duplicates) > 0 {
			filtered := make([]models.NormalizedFill, 0, len(newFills)-len(duplicates))
			for i, fill := range newFills {
				if _, dup := duplicates[i]; dup {
					continue
				}
				filtered = append(filtered, fill)
			}
			skippedCount = len(duplicates)
			newFills = filtered
		}
		if len(newFills) == 0 {
			return nil, &DuplicatesOnlyError{Count: skippedCount}
		}
	}

	batch := &models.ImportBatch{
		Reference:      uuid.NewString(),
		Broker:         broker,
		Filename:       filename,
		Status:         models.ImportPending,
		TotalRecords:   len(newFills),
		SkippedRecords: skippedCount,
	}
	if err := model.CreateImportBatch(dbTx, batch); err != nil {
		return nil, fmt.Errorf("error creating import batch: %w", err)
	}

	// Merge still-open persisted positions with the new batch so the
	// aggregator sees one continuous timeline per instrument.
	combined, existingParents, err := s.loadOpenPositionFills(dbTx, newFills)
	if err != nil {
		return nil, err
	}
	for i := range newFills {
		combined = append(combined, combinedFill{normalized: newFills[i]})
	}

	normalized := make([]models.NormalizedFill, len(combined))
	for i := range combined {
		normalized[i] = combined[i].normalized
	}
	aggregatedTrades, _ := s.aggregator.Aggregate(normalized)

	assetCache := make(map[string]*models.Asset)
	claimedParents := make(map[int64]struct{})
	parents := make([]*models.ParentTrade, len(aggregatedTrades))

	for i := range aggregatedTrades {
		parent, err := s.reconcileTrade(dbTx, &aggregatedTrades[i], combined, existingParents, claimedParents, assetCache)
		if err != nil {
			return nil, err
		}
		parents[i] = parent
	}

	// A fill shared by two trades (a flip) is stored as two pro-rata rows,
	// one under each parent, so every parent's position stays
	// reconstructible from its own persisted fills.
	allocations := make(map[int][]fillAllocation, len(combined))
	for tradeIndex := range aggregatedTrades {
		trade := &aggregatedTrades[tradeIndex]
		for j, index := range trade.FillIndexes {
			allocations[index] = append(allocations[index], fillAllocation{
				tradeIndex: tradeIndex,
				quantity:   trade.FillQuantities[j],
			})
		}
	}

	for index := range combined {
		if combined[index].existing != nil {
			continue
		}
		allocs := allocations[index]
		if len(allocs) == 0 {
			return nil, fmt.Errorf("%w: unable to determine parent trade for new fill", ErrProcessingFailed)
		}

		fill := &combined[index].normalized
		asset, err := s.getOrCreateAsset(dbTx, fill, assetCache)
		if err != nil {
			return nil, err
		}
		for _, alloc := range allocs {
			quantity := fill.Quantity
			commission := fill.Commission
			proceeds := fill.Proceeds
			netCash := fill.NetCash
			if len(allocs) > 1 {
				quantity = alloc.quantity
				fraction := quantity.Div(fill.Quantity)
				commission = commission.Mul(fraction)
				if proceeds.Valid {
					proceeds = decimal.NullDecimal{Decimal: proceeds.Decimal.Mul(fraction), Valid: true}
				}
				if netCash.Valid {
					netCash = decimal.NullDecimal{Decimal: netCash.Decimal.Mul(fraction), Valid: true}
				}
			}

			tradeFill := &models.TradeFill{
				ParentTradeID: parents[alloc.tradeIndex].ID,
				AssetID:       asset.ID,
				Side:          fill.Side,
				Quantity:      quantity,
				Price:         fill.Price,
				Commission:    commission,
				Multiplier:    fill.Multiplier,
				Proceeds:      proceeds,
				NetCash:       netCash,
				Currency:      fill.Currency,
				TradeTime:     fill.TradeTime,
				Source:        fill.Source,
				OrderID:       fill.OrderID,
				ImportBatchID: batch.ID,
			}
			if err := model.CreateTradeFill(dbTx, tradeFill); err != nil {
				return nil, fmt.Errorf("error inserting fill (source: %s): %w", fill.Source, err)
			}
		}
	}

	now := time.Now().UTC()
	batch.Status = models.ImportCompleted
	batch.CompletedAt = &now
	if err := model.UpdateImportBatch(dbTx, batch); err != nil {
		return nil, fmt.Errorf("error finalizing import batch: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing import transaction: %w", err)
	}

	s.InvalidateReports()
	logger.L.Info("ProcessImport END", "broker", broker, "filename", filename,
		"imported", batch.TotalRecords, "skipped", batch.SkippedRecords,
		"trades", len(aggregatedTrades), "duration", time.Since(startTime))
	return batch, nil
}

// InvalidateReports clears every cached stats/calendar result. The next
// request triggers a full, correct recalculation.
func (s *importServiceImpl) InvalidateReports() {
	s.reportCache.Flush()
	logger.L.Info("Invalidated report caches")
}

// deleteOwningParents removes every persisted parent trade owning one of
// the duplicated fills, cascading its fills, so the new batch's version
// replaces the old wholesale.
func (s *importServiceImpl) deleteOwningParents(q model.Querier, fills []models.NormalizedFill, duplicates map[int]struct{}) error {
	if len(duplicates) == 0 {
		return nil
	}
	keys := make([]model.FillKey, 0, len(duplicates))
	for index := range duplicates {
		keys = append(keys, model.FillKey{
			Source:    fills[index].Source,
			TradeTime: fills[index].TradeTime,
		})
	}

	tradeIDs, err := model.GetParentTradeIDsOwningFills(q, keys)
	if err != nil {
		return fmt.Errorf("%w: locating trades to override: %v", ErrProcessingFailed, err)
	}
	for _, tradeID := range tradeIDs {
		if err := model.DeleteParentTrade(q, tradeID); err != nil {
			return fmt.Errorf("%w: deleting overridden trade %d: %v", ErrProcessingFailed, tradeID, err)
		}
	}
	logger.L.Info("Override mode: replaced persisted parent trades", "count", len(tradeIDs))
	return nil
}

// loadOpenPositionFills fetches every still-open parent trade for the
// instruments touched by the new batch and rehydrates its persisted fills
// into the normalized shape the aggregator consumes.
func (s *importServiceImpl) loadOpenPositionFills(q model.Querier, newFills []models.NormalizedFill) ([]combinedFill, map[int64]*models.ParentTrade, error) {
	codesSeen := make(map[string]struct{})
	var codes []string
	for _, fill := range newFills {
		if _, ok := codesSeen[fill.AssetCode]; ok {
			continue
		}
		codesSeen[fill.AssetCode] = struct{}{}
		codes = append(codes, fill.AssetCode)
	}

	openTrades, err := model.GetOpenParentTradesByAssetCodes(q, codes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: loading open trades: %v", ErrProcessingFailed, err)
	}

	existingParents := make(map[int64]*models.ParentTrade, len(openTrades))
	assetsByTradeID := make(map[int64]*models.Asset, len(openTrades))
	tradeIDs := make([]int64, 0, len(openTrades))
	for i := range openTrades {
		trade := &openTrades[i].Trade
		existingParents[trade.ID] = trade
		assetsByTradeID[trade.ID] = &openTrades[i].Asset
		tradeIDs = append(tradeIDs, trade.ID)
	}

	persistedFills, err := model.GetFillsByParentTradeIDs(q, tradeIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: loading open trade fills: %v", ErrProcessingFailed, err)
	}

	combined := make([]combinedFill, 0, len(persistedFills)+len(newFills))
	for i := range persistedFills {
		fill := &persistedFills[i]
		asset := assetsByTradeID[fill.ParentTradeID]
		if asset == nil {
			continue
		}

		// The multiplier was stored at first import; re-infer only when a
		// pre-multiplier row comes back without one.
		multiplier := fill.Multiplier
		if !multiplier.IsPositive() {
			multiplier = processors.InferMultiplier(asset.Code, asset.AssetType)
		}

		combined = append(combined, combinedFill{
			normalized: models.NormalizedFill{
				AssetCode:  asset.Code,
				AssetType:  asset.AssetType,
				Exchange:   asset.Exchange,
				Timezone:   asset.Timezone,
				TradeTime:  fill.TradeTime,
				Side:       fill.Side,
				Quantity:   fill.Quantity,
				Price:      fill.Price,
				Commission: fill.Commission,
				Currency:   fill.Currency,
				Multiplier: multiplier,
				Proceeds:   fill.Proceeds,
				NetCash:    fill.NetCash,
				OrderID:    fill.OrderID,
				Source:     fill.Source,
			},
			existing: fill,
		})
	}
	return combined, existingParents, nil
}

// reconcileTrade decides update-in-place versus create for one aggregation
// result. A trade whose fills came from exactly one existing open parent
// updates that parent; fills referencing more than one are fatal. When a
// flip splits an existing parent's timeline into two trades, the first
// (closing) trade claims the parent and the reopened leg becomes a new one.
func (s *importServiceImpl) reconcileTrade(q model.Querier, aggregated *models.AggregatedTrade, combined []combinedFill, existingParents map[int64]*models.ParentTrade, claimedParents map[int64]struct{}, assetCache map[string]*models.Asset) (*models.ParentTrade, error) {
	parentIDs := make(map[int64]struct{})
	for _, index := range aggregated.FillIndexes {
		if existing := combined[index].existing; existing != nil {
			parentIDs[existing.ParentTradeID] = struct{}{}
		}
	}
	if len(parentIDs) > 1 {
		return nil, fmt.Errorf("%w (asset %s)", ErrOpenTradeConflict, aggregated.AssetCode)
	}

	if len(parentIDs) == 1 {
		var parentID int64
		for id := range parentIDs {
			parentID = id
		}
		if _, claimed := claimedParents[parentID]; !claimed {
			parent := existingParents[parentID]
			if parent == nil {
				return nil, fmt.Errorf("%w: referenced open parent trade %d not loaded", ErrProcessingFailed, parentID)
			}
			claimedParents[parentID] = struct{}{}
			applyAggregatedTrade(parent, aggregated)
			if err := model.UpdateParentTrade(q, parent); err != nil {
				return nil, fmt.Errorf("%w: updating trade %d: %v", ErrProcessingFailed, parentID, err)
			}
			return parent, nil
		}
	}

	referenceFill := &combined[aggregated.FillIndexes[0]].normalized
	asset, err := s.getOrCreateAsset(q, referenceFill, assetCache)
	if err != nil {
		return nil, err
	}

	parent := &models.ParentTrade{AssetID: asset.ID}
	applyAggregatedTrade(parent, aggregated)
	if err := model.CreateParentTrade(q, parent); err != nil {
		return nil, fmt.Errorf("%w: creating trade for %s: %v", ErrProcessingFailed, aggregated.AssetCode, err)
	}
	return parent, nil
}

func applyAggregatedTrade(parent *models.ParentTrade, aggregated *models.AggregatedTrade) {
	parent.Direction = aggregated.Direction
	parent.Quantity = aggregated.Quantity
	parent.OpenTime = aggregated.OpenTime
	parent.CloseTime = aggregated.CloseTime
	parent.OpenPrice = aggregated.OpenPrice
	parent.ClosePrice = aggregated.ClosePrice
	parent.TotalCommission = aggregated.TotalCommission
	parent.ProfitLoss = aggregated.ProfitLoss
	parent.Currency = aggregated.Currency
}

// getOrCreateAsset is the single place instrument records are created.
// Known instruments get exchange/timezone backfilled when a batch observes
// values the first import lacked.
func (s *importServiceImpl) getOrCreateAsset(q model.Querier, fill *models.NormalizedFill, assetCache map[string]*models.Asset) (*models.Asset, error) {
	if asset, ok := assetCache[fill.AssetCode]; ok {
		return asset, nil
	}

	asset, err := model.GetAssetByCode(q, fill.AssetCode)
	if err != nil {
		return nil, fmt.Errorf("%w: looking up asset %s: %v", ErrProcessingFailed, fill.AssetCode, err)
	}
	if asset == nil {
		asset = &models.Asset{
			Code:      fill.AssetCode,
			Name:      fill.AssetCode,
			AssetType: fill.AssetType,
			Exchange:  fill.Exchange,
			Timezone:  fill.Timezone,
		}
		if err := model.CreateAsset(q, asset); err != nil {
			return nil, fmt.Errorf("%w: creating asset %s: %v", ErrProcessingFailed, fill.AssetCode, err)
		}
	} else {
		updated := false
		if asset.Exchange == "" && fill.Exchange != "" {
			asset.Exchange = fill.Exchange
			updated = true
		}
		if fill.Timezone != "" && asset.Timezone != fill.Timezone {
			asset.Timezone = fill.Timezone
			updated = true
		}
		if updated {
			if err := model.UpdateAssetMetadata(q, asset); err != nil {
				return nil, fmt.Errorf("%w: updating asset %s: %v", ErrProcessingFailed, fill.AssetCode, err)
			}
		}
	}

	assetCache[fill.AssetCode] = asset
	return asset, nil
}
