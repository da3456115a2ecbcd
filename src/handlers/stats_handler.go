// src/handlers/stats_handler.go
package handlers

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/williams2w4/tradej/src/database"
	"github.com/williams2w4/tradej/src/logger"
	"github.com/williams2w4/tradej/src/model"
	"github.com/williams2w4/tradej/src/models"
	"github.com/williams2w4/tradej/src/utils"
)

type StatsHandler struct {
	reportCache *cache.Cache
}

func NewStatsHandler(reportCache *cache.Cache) *StatsHandler {
	return &StatsHandler{reportCache: reportCache}
}

// statsOverview aggregates every trade on record into the display currency.
// Ratios are null when their denominator is empty: no closed trades, no
// losers, or no winners.
type statsOverview struct {
	Currency        string              `json:"currency"`
	TotalTrades     int                 `json:"total_trades"`
	OpenTrades      int                 `json:"open_trades"`
	ClosedTrades    int                 `json:"closed_trades"`
	WinningTrades   int                 `json:"winning_trades"`
	LosingTrades    int                 `json:"losing_trades"`
	WinRate         decimal.NullDecimal `json:"win_rate"`
	TotalProfitLoss decimal.Decimal     `json:"total_profit_loss"`
	TotalCommission decimal.Decimal     `json:"total_commission"`
	AvgProfitLoss   decimal.NullDecimal `json:"avg_profit_loss"`

	// Average winner over average loser magnitude.
	ProfitLossRatio decimal.NullDecimal `json:"profit_loss_ratio"`
	// Gross profit over gross loss magnitude.
	ProfitFactor decimal.NullDecimal `json:"profit_factor"`
}

type assetStats struct {
	AssetCode       string           `json:"asset_code"`
	AssetType       models.AssetType `json:"asset_type"`
	TotalTrades     int              `json:"total_trades"`
	OpenTrades      int              `json:"open_trades"`
	WinningTrades   int              `json:"winning_trades"`
	LosingTrades    int              `json:"losing_trades"`
	TotalProfitLoss decimal.Decimal  `json:"total_profit_loss"`
	TotalCommission decimal.Decimal  `json:"total_commission"`
}

type assetStatsResponse struct {
	Currency string       `json:"currency"`
	Assets   []assetStats `json:"assets"`
}

func nullRatio(numerator, denominator decimal.Decimal) decimal.NullDecimal {
	if denominator.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Valid: true, Decimal: numerator.Div(denominator).Round(4)}
}

func (h *StatsHandler) HandleGetOverview(w http.ResponseWriter, r *http.Request) {
	_, _, currency := requestPreferences(r)
	cacheKey := "stats:overview:" + currency
	if cached, found := h.reportCache.Get(cacheKey); found {
		logger.L.Debug("Stats overview served from cache", "key", cacheKey)
		writeJSON(w, cached)
		return
	}

	trades, err := model.ListParentTrades(database.DB, model.TradeFilter{})
	if err != nil {
		logger.L.Error("Error querying trades for stats overview", "error", err)
		utils.SendJSONError(w, "An internal error occurred while computing statistics", http.StatusInternalServerError)
		return
	}

	overview := &statsOverview{Currency: currency}
	var grossProfit, grossLoss decimal.Decimal
	for i := range trades {
		trade := &trades[i].Trade
		overview.TotalTrades++
		overview.TotalCommission = overview.TotalCommission.Add(utils.ConvertAmount(trade.TotalCommission, trade.Currency, currency))
		if trade.Open() {
			overview.OpenTrades++
			continue
		}
		overview.ClosedTrades++
		pnl := utils.ConvertAmount(trade.ProfitLoss, trade.Currency, currency)
		overview.TotalProfitLoss = overview.TotalProfitLoss.Add(pnl)
		switch pnl.Sign() {
		case 1:
			overview.WinningTrades++
			grossProfit = grossProfit.Add(pnl)
		case -1:
			overview.LosingTrades++
			grossLoss = grossLoss.Add(pnl.Abs())
		}
	}

	closedCount := decimal.NewFromInt(int64(overview.ClosedTrades))
	overview.WinRate = nullRatio(decimal.NewFromInt(int64(overview.WinningTrades)), closedCount)
	overview.AvgProfitLoss = nullRatio(overview.TotalProfitLoss, closedCount)
	if overview.WinningTrades > 0 && overview.LosingTrades > 0 {
		avgWin := grossProfit.Div(decimal.NewFromInt(int64(overview.WinningTrades)))
		avgLoss := grossLoss.Div(decimal.NewFromInt(int64(overview.LosingTrades)))
		overview.ProfitLossRatio = nullRatio(avgWin, avgLoss)
	}
	overview.ProfitFactor = nullRatio(grossProfit, grossLoss)

	h.reportCache.Set(cacheKey, overview, cache.DefaultExpiration)
	writeJSON(w, overview)
}

func (h *StatsHandler) HandleGetStatsByAsset(w http.ResponseWriter, r *http.Request) {
	_, _, currency := requestPreferences(r)
	cacheKey := "stats:by-asset:" + currency
	if cached, found := h.reportCache.Get(cacheKey); found {
		logger.L.Debug("Per-asset stats served from cache", "key", cacheKey)
		writeJSON(w, cached)
		return
	}

	trades, err := model.ListParentTrades(database.DB, model.TradeFilter{})
	if err != nil {
		logger.L.Error("Error querying trades for per-asset stats", "error", err)
		utils.SendJSONError(w, "An internal error occurred while computing statistics", http.StatusInternalServerError)
		return
	}

	byCode := make(map[string]*assetStats)
	for i := range trades {
		trade := &trades[i].Trade
		asset := &trades[i].Asset
		stats := byCode[asset.Code]
		if stats == nil {
			stats = &assetStats{AssetCode: asset.Code, AssetType: asset.AssetType}
			byCode[asset.Code] = stats
		}
		stats.TotalTrades++
		stats.TotalCommission = stats.TotalCommission.Add(utils.ConvertAmount(trade.TotalCommission, trade.Currency, currency))
		if trade.Open() {
			stats.OpenTrades++
			continue
		}
		pnl := utils.ConvertAmount(trade.ProfitLoss, trade.Currency, currency)
		stats.TotalProfitLoss = stats.TotalProfitLoss.Add(pnl)
		switch pnl.Sign() {
		case 1:
			stats.WinningTrades++
		case -1:
			stats.LosingTrades++
		}
	}

	assets := make([]assetStats, 0, len(byCode))
	for _, stats := range byCode {
		assets = append(assets, *stats)
	}
	sort.Slice(assets, func(i, j int) bool {
		if assets[i].TotalTrades != assets[j].TotalTrades {
			return assets[i].TotalTrades > assets[j].TotalTrades
		}
		return assets[i].AssetCode < assets[j].AssetCode
	})

	response := &assetStatsResponse{Currency: currency, Assets: assets}
	h.reportCache.Set(cacheKey, response, cache.DefaultExpiration)
	writeJSON(w, response)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L.Error("Error encoding JSON response", "error", err)
	}
}
