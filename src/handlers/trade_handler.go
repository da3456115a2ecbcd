// src/handlers/trade_handler.go
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/williams2w4/tradej/src/database"
	"github.com/williams2w4/tradej/src/logger"
	"github.com/williams2w4/tradej/src/model"
	"github.com/williams2w4/tradej/src/models"
	"github.com/williams2w4/tradej/src/services"
	"github.com/williams2w4/tradej/src/utils"
)

type TradeHandler struct {
	importService services.ImportService
}

func NewTradeHandler(importService services.ImportService) *TradeHandler {
	return &TradeHandler{importService: importService}
}

// fillResponse is one execution nested under its trade.
type fillResponse struct {
	ID         int64               `json:"id"`
	Side       models.FillSide     `json:"side"`
	Quantity   decimal.Decimal     `json:"quantity"`
	Price      decimal.Decimal     `json:"price"`
	Commission decimal.Decimal     `json:"commission"`
	Multiplier decimal.Decimal     `json:"multiplier"`
	Proceeds   decimal.NullDecimal `json:"proceeds"`
	NetCash    decimal.NullDecimal `json:"net_cash"`
	Currency   string              `json:"currency"`
	TradeTime  time.Time           `json:"trade_time"`
	Source     string              `json:"source,omitempty"`
	OrderID    string              `json:"order_id,omitempty"`
}

// tradeResponse is one trade rendered for the client, fills in execution
// order. Monetary aggregates are additionally converted into the display
// currency; stored values keep the fill's original currency.
type tradeResponse struct {
	ID                int64                 `json:"id"`
	AssetCode         string                `json:"asset_code"`
	AssetType         models.AssetType      `json:"asset_type"`
	Exchange          string                `json:"exchange,omitempty"`
	Direction         models.TradeDirection `json:"direction"`
	Quantity          decimal.Decimal       `json:"quantity"`
	OpenTime          time.Time             `json:"open_time"`
	CloseTime         *time.Time            `json:"close_time,omitempty"`
	OpenPrice         decimal.NullDecimal   `json:"open_price"`
	ClosePrice        decimal.NullDecimal   `json:"close_price"`
	TotalCommission   decimal.Decimal       `json:"total_commission"`
	ProfitLoss        decimal.Decimal       `json:"profit_loss"`
	Currency          string                `json:"currency"`
	Open              bool                  `json:"open"`
	DisplayCurrency   string                `json:"display_currency"`
	DisplayProfitLoss decimal.Decimal       `json:"display_profit_loss"`
	DisplayCommission decimal.Decimal       `json:"display_commission"`
	Fills             []fillResponse        `json:"fills"`
}

// parseTimeParam accepts either a bare date (interpreted at midnight in the
// display timezone) or a full RFC3339 timestamp. Returns nil for empty input.
func parseTimeParam(value string, loc *time.Location) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", value, loc); err == nil {
		utc := t.UTC()
		return &utc, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q: use YYYY-MM-DD or RFC3339", value)
	}
	utc := t.UTC()
	return &utc, nil
}

// requestPreferences resolves display timezone/currency with optional
// per-request query overrides.
func requestPreferences(r *http.Request) (loc *time.Location, timezone, currency string) {
	timezone, currency = displayPreferences()
	query := r.URL.Query()
	if override := query.Get("timezone"); override != "" {
		if _, err := utils.LoadLocation(override); err == nil {
			timezone = override
		} else {
			logger.L.Warn("Ignoring invalid timezone override", "timezone", override, "error", err)
		}
	}
	if override := query.Get("currency"); override != "" {
		currency = utils.NormalizeCurrency(override)
	}

	loc, err := utils.LoadLocation(timezone)
	if err != nil {
		logger.L.Error("Configured display timezone invalid, using UTC", "timezone", timezone, "error", err)
		loc = time.UTC
	}
	return loc, timezone, currency
}

func (h *TradeHandler) HandleListTrades(w http.ResponseWriter, r *http.Request) {
	loc, _, currency := requestPreferences(r)

	query := r.URL.Query()
	filter := model.TradeFilter{
		AssetCode: strings.TrimSpace(query.Get("asset_code")),
		AssetType: models.AssetType(query.Get("asset_type")),
		Direction: models.TradeDirection(query.Get("direction")),
	}
	var err error
	if filter.Start, err = parseTimeParam(query.Get("start"), loc); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if filter.End, err = parseTimeParam(query.Get("end"), loc); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	trades, err := model.ListParentTrades(database.DB, filter)
	if err != nil {
		logger.L.Error("Error querying trades", "error", err)
		utils.SendJSONError(w, "An internal error occurred while listing trades", http.StatusInternalServerError)
		return
	}

	tradeIDs := make([]int64, 0, len(trades))
	for i := range trades {
		tradeIDs = append(tradeIDs, trades[i].Trade.ID)
	}
	fills, err := model.GetFillsByParentTradeIDs(database.DB, tradeIDs)
	if err != nil {
		logger.L.Error("Error querying fills for trades", "error", err)
		utils.SendJSONError(w, "An internal error occurred while listing trades", http.StatusInternalServerError)
		return
	}
	fillsByTrade := make(map[int64][]fillResponse, len(trades))
	for i := range fills {
		fill := &fills[i]
		fillsByTrade[fill.ParentTradeID] = append(fillsByTrade[fill.ParentTradeID], fillResponse{
			ID:         fill.ID,
			Side:       fill.Side,
			Quantity:   fill.Quantity,
			Price:      fill.Price,
			Commission: fill.Commission,
			Multiplier: fill.Multiplier,
			Proceeds:   fill.Proceeds,
			NetCash:    fill.NetCash,
			Currency:   fill.Currency,
			TradeTime:  fill.TradeTime,
			Source:     fill.Source,
			OrderID:    fill.OrderID,
		})
	}

	response := make([]tradeResponse, 0, len(trades))
	for i := range trades {
		trade := &trades[i].Trade
		asset := &trades[i].Asset
		tradeFills := fillsByTrade[trade.ID]
		if tradeFills == nil {
			tradeFills = []fillResponse{}
		}
		response = append(response, tradeResponse{
			ID:                trade.ID,
			AssetCode:         asset.Code,
			AssetType:         asset.AssetType,
			Exchange:          asset.Exchange,
			Direction:         trade.Direction,
			Quantity:          trade.Quantity,
			OpenTime:          trade.OpenTime,
			CloseTime:         trade.CloseTime,
			OpenPrice:         trade.OpenPrice,
			ClosePrice:        trade.ClosePrice,
			TotalCommission:   trade.TotalCommission,
			ProfitLoss:        trade.ProfitLoss,
			Currency:          trade.Currency,
			Open:              trade.Open(),
			DisplayCurrency:   currency,
			DisplayProfitLoss: utils.ConvertAmount(trade.ProfitLoss, trade.Currency, currency),
			DisplayCommission: utils.ConvertAmount(trade.TotalCommission, trade.Currency, currency),
			Fills:             tradeFills,
		})
	}

	currentETag, etagErr := utils.GenerateETag(response)
	if etagErr != nil {
		logger.L.Error("Failed to generate ETag for trade listing", "error", etagErr)
	}

	w.Header().Set("Cache-Control", "no-cache, private")

	if etagErr == nil && currentETag != "" {
		quotedETag := fmt.Sprintf("\"%s\"", currentETag)
		w.Header().Set("ETag", quotedETag)
		clientETag := r.Header.Get("If-None-Match")
		for _, cETag := range strings.Split(clientETag, ",") {
			if strings.TrimSpace(cETag) == quotedETag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.L.Error("Error encoding JSON response for trades", "error", err)
	}
}

func (h *TradeHandler) HandleDeleteAllTrades(w http.ResponseWriter, r *http.Request) {
	dbTx, err := database.DB.Begin()
	if err != nil {
		logger.L.Error("Error beginning transaction for trade wipe", "error", err)
		utils.SendJSONError(w, "An internal error occurred", http.StatusInternalServerError)
		return
	}
	defer dbTx.Rollback()

	if err := model.DeleteAllTrades(dbTx); err != nil {
		logger.L.Error("Error deleting all trades", "error", err)
		utils.SendJSONError(w, "An internal error occurred while deleting trades", http.StatusInternalServerError)
		return
	}
	if err := dbTx.Commit(); err != nil {
		logger.L.Error("Error committing trade wipe", "error", err)
		utils.SendJSONError(w, "An internal error occurred while deleting trades", http.StatusInternalServerError)
		return
	}

	h.importService.InvalidateReports()
	logger.L.Info("All trades and fills deleted")
	w.WriteHeader(http.StatusNoContent)
}

// HandleExportPineScript renders the matching fills as a TradingView Pine
// Script v5 study that draws each execution on the chart.
func (h *TradeHandler) HandleExportPineScript(w http.ResponseWriter, r *http.Request) {
	loc, _, _ := requestPreferences(r)

	query := r.URL.Query()
	assetCode := strings.TrimSpace(query.Get("asset_code"))
	start, err := parseTimeParam(query.Get("start"), loc)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	end, err := parseTimeParam(query.Get("end"), loc)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	fills, err := model.ListFills(database.DB, assetCode, start, end)
	if err != nil {
		logger.L.Error("Error querying fills for export", "error", err)
		utils.SendJSONError(w, "An internal error occurred while exporting fills", http.StatusInternalServerError)
		return
	}

	title := "Imported fills"
	if assetCode != "" {
		title += " " + assetCode
	}

	var script strings.Builder
	script.WriteString("//@version=5\n")
	fmt.Fprintf(&script, "indicator(%q, overlay=true, max_labels_count=500)\n", title)
	for i := range fills {
		fill := &fills[i].Fill
		t := fill.TradeTime.UTC()
		style, color := "label.style_label_up", "color.green"
		if fill.Side == models.SideSell {
			style, color = "label.style_label_down", "color.red"
		}
		fmt.Fprintf(&script,
			"label.new(timestamp(\"UTC\", %d, %d, %d, %d, %d, %d), %s, \"%s %s %s @ %s\", xloc=xloc.bar_time, style=%s, color=%s, textcolor=color.white, size=size.small)\n",
			t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second(),
			fill.Price.String(),
			fills[i].AssetCode, fill.Side, fill.Quantity.String(), fill.Price.String(),
			style, color)
	}

	logger.L.Info("Exported fills as Pine Script", "asset", assetCode, "fills", len(fills))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"fills.pine\"")
	if _, err := w.Write([]byte(script.String())); err != nil {
		logger.L.Error("Error writing Pine Script response", "error", err)
	}
}
