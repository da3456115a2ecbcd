// src/handlers/calendar_handler.go
package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/williams2w4/tradej/src/database"
	"github.com/williams2w4/tradej/src/logger"
	"github.com/williams2w4/tradej/src/model"
	"github.com/williams2w4/tradej/src/utils"
)

type CalendarHandler struct {
	reportCache *cache.Cache
}

func NewCalendarHandler(reportCache *cache.Cache) *CalendarHandler {
	return &CalendarHandler{reportCache: reportCache}
}

// calendarBucket is one calendar day or month in the display timezone.
// Trades land in the bucket of their open time; realized P&L and win rate
// count only the closed ones.
type calendarBucket struct {
	Date        string              `json:"date"`
	TradeCount  int                 `json:"trade_count"`
	ClosedCount int                 `json:"closed_count"`
	WinCount    int                 `json:"win_count"`
	WinRate     decimal.NullDecimal `json:"win_rate"`
	ProfitLoss  decimal.Decimal     `json:"profit_loss"`
	Commission  decimal.Decimal     `json:"commission"`
}

type calendarResponse struct {
	Year     int              `json:"year"`
	Month    int              `json:"month,omitempty"`
	Timezone string           `json:"timezone"`
	Currency string           `json:"currency"`
	Buckets  []calendarBucket `json:"buckets"`
}

// HandleGetCalendar buckets trades per day of one month, or per month of
// one year when no month is given. Query: year (required), month
// (optional), timezone/currency (optional display overrides).
func (h *CalendarHandler) HandleGetCalendar(w http.ResponseWriter, r *http.Request) {
	loc, timezone, currency := requestPreferences(r)
	query := r.URL.Query()

	year, err := strconv.Atoi(query.Get("year"))
	if err != nil || year < 1970 || year > 2200 {
		utils.SendJSONError(w, "Query parameter 'year' is required and must be a valid year", http.StatusBadRequest)
		return
	}
	month := 0
	if monthStr := query.Get("month"); monthStr != "" {
		month, err = strconv.Atoi(monthStr)
		if err != nil || month < 1 || month > 12 {
			utils.SendJSONError(w, "Query parameter 'month' must be 1-12", http.StatusBadRequest)
			return
		}
	}

	cacheKey := fmt.Sprintf("calendar:%d-%d:%s:%s", year, month, timezone, currency)
	if cached, found := h.reportCache.Get(cacheKey); found {
		logger.L.Debug("Calendar served from cache", "key", cacheKey)
		writeJSON(w, cached)
		return
	}

	var windowStart, windowEnd time.Time
	if month > 0 {
		windowStart, windowEnd = utils.MonthBounds(year, time.Month(month), loc)
	} else {
		windowStart, windowEnd = utils.YearBounds(year, loc)
	}

	trades, err := model.ListParentTrades(database.DB, model.TradeFilter{
		Start: &windowStart,
		End:   &windowEnd,
	})
	if err != nil {
		logger.L.Error("Error querying trades for calendar", "error", err)
		utils.SendJSONError(w, "An internal error occurred while building the calendar", http.StatusInternalServerError)
		return
	}

	byKey := make(map[string]*calendarBucket)
	for i := range trades {
		trade := &trades[i].Trade
		openTime := trade.OpenTime
		if openTime.Before(windowStart) || !openTime.Before(windowEnd) {
			continue
		}
		local := openTime.In(loc)
		key := local.Format("2006-01-02")
		if month == 0 {
			key = local.Format("2006-01")
		}
		bucket := byKey[key]
		if bucket == nil {
			bucket = &calendarBucket{Date: key}
			byKey[key] = bucket
		}
		bucket.TradeCount++
		bucket.Commission = bucket.Commission.Add(utils.ConvertAmount(trade.TotalCommission, trade.Currency, currency))
		if trade.Open() {
			continue
		}
		bucket.ClosedCount++
		bucket.ProfitLoss = bucket.ProfitLoss.Add(utils.ConvertAmount(trade.ProfitLoss, trade.Currency, currency))
		if trade.ProfitLoss.IsPositive() {
			bucket.WinCount++
		}
	}

	buckets := make([]calendarBucket, 0, len(byKey))
	for _, bucket := range byKey {
		if bucket.ClosedCount > 0 {
			bucket.WinRate = decimal.NullDecimal{
				Valid: true,
				Decimal: decimal.NewFromInt(int64(bucket.WinCount)).
					Div(decimal.NewFromInt(int64(bucket.ClosedCount))).
					Round(4),
			}
		}
		buckets = append(buckets, *bucket)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Date < buckets[j].Date })

	response := &calendarResponse{
		Year:     year,
		Month:    month,
		Timezone: timezone,
		Currency: currency,
		Buckets:  buckets,
	}
	h.reportCache.Set(cacheKey, response, cache.DefaultExpiration)
	writeJSON(w, response)
}
