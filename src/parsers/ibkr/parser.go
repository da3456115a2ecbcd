package ibkr

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/williams2w4/tradej/src/logger"
	"github.com/williams2w4/tradej/src/models"
	"github.com/williams2w4/tradej/src/processors"
)

// Listing exchange to reference timezone. IBKR reports execution times in
// the exchange's local zone; unknown exchanges default to New York.
var exchangeTimezones = map[string]string{
	"ARCA":   "America/New_York",
	"NYSE":   "America/New_York",
	"NASDAQ": "America/New_York",
	"CBOE":   "America/Chicago",
	"CME":    "America/Chicago",
	"SMART":  "America/New_York",
}

const defaultTimezone = "America/New_York"

var assetTypeMap = map[string]models.AssetType{
	"STK": models.AssetTypeStock,
	"OPT": models.AssetTypeOption,
	"FUT": models.AssetTypeFuture,
}

var requiredColumns = []string{
	"Date/Time",
	"Symbol",
	"Buy/Sell",
	"Quantity",
	"Price",
	"Commission",
	"CurrencyPrimary",
}

// IBKRParser implements the parsers.Parser interface for IBKR trade-export
// CSV files.
type IBKRParser struct{}

// NewParser creates a new instance of the IBKRParser.
func NewParser() *IBKRParser {
	return &IBKRParser{}
}

// Parse reads an IBKR CSV export and converts its rows into normalized fills.
func (p *IBKRParser) Parse(file io.Reader) ([]models.NormalizedFill, error) {
	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("ibkr parser: CSV header is missing")
	}
	if err != nil {
		return nil, fmt.Errorf("ibkr parser: failed to read CSV header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		// Strip the UTF-8 BOM some IBKR exports prepend.
		name = strings.TrimPrefix(strings.TrimSpace(name), "\uFEFF")
		columns[name] = i
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := columns[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("ibkr parser: missing required columns: %s", strings.Join(missing, ", "))
	}

	var fills []models.NormalizedFill
	rowNumber := 1 // header line
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNumber++
		if err != nil {
			return nil, fmt.Errorf("ibkr parser: row %d: %w", rowNumber, err)
		}

		field := func(name string) string {
			index, ok := columns[name]
			if !ok || index >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[index])
		}

		fill, err := normalizeRow(field)
		if err != nil {
			return nil, fmt.Errorf("ibkr parser: row %d: %w", rowNumber, err)
		}
		fills = append(fills, *fill)
	}

	if len(fills) == 0 {
		return nil, fmt.Errorf("ibkr parser: no trade rows found in file")
	}
	return fills, nil
}

func normalizeRow(field func(string) string) (*models.NormalizedFill, error) {
	var missing []string
	for _, col := range requiredColumns {
		if field(col) == "" {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}

	symbol := field("Symbol")

	assetClass := field("AssetClass")
	if assetClass == "" {
		assetClass = "STK"
	}
	assetType, ok := assetTypeMap[assetClass]
	if !ok {
		assetType = models.AssetTypeStock
	}

	sideStr := strings.ToUpper(field("Buy/Sell"))
	if sideStr != string(models.SideBuy) && sideStr != string(models.SideSell) {
		return nil, fmt.Errorf("Buy/Sell must be BUY or SELL, got %q", field("Buy/Sell"))
	}
	side := models.FillSide(sideStr)

	quantity, err := decimal.NewFromString(field("Quantity"))
	if err != nil {
		return nil, fmt.Errorf("Quantity must be a number: %w", err)
	}
	quantity = quantity.Abs()
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("Quantity must be greater than 0")
	}

	price, err := decimal.NewFromString(field("Price"))
	if err != nil {
		return nil, fmt.Errorf("Price must be a number: %w", err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("Price must be greater than 0")
	}

	commission, err := decimal.NewFromString(field("Commission"))
	if err != nil {
		return nil, fmt.Errorf("Commission must be a number: %w", err)
	}
	// IBKR reports commission as a negative cash amount; keep the magnitude.
	commission = commission.Abs()

	currency := field("CurrencyPrimary")

	exchangeField := field("ListingExchange")
	exchange := strings.ToUpper(strings.TrimSpace(firstToken(exchangeField)))
	timezone, ok := exchangeTimezones[exchange]
	if !ok {
		timezone = defaultTimezone
	}

	tradeTime, err := parseIBKRDateTime(field("Date/Time"), timezone)
	if err != nil {
		return nil, err
	}

	multiplier := decimal.NewFromInt(1)
	if multiplierField := field("Multiplier"); multiplierField != "" {
		multiplier, err = decimal.NewFromString(multiplierField)
		if err != nil || !multiplier.IsPositive() {
			return nil, fmt.Errorf("Multiplier must be a positive number, got %q", multiplierField)
		}
	} else if assetType == models.AssetTypeFuture {
		multiplier = processors.InferMultiplier(symbol, assetType)
	}

	var proceeds, netCash decimal.NullDecimal
	if proceedsField := field("Proceeds"); proceedsField != "" {
		d, err := decimal.NewFromString(proceedsField)
		if err != nil {
			return nil, fmt.Errorf("Proceeds must be a number: %w", err)
		}
		proceeds = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	if netCashField := field("NetCash"); netCashField != "" {
		d, err := decimal.NewFromString(netCashField)
		if err != nil {
			return nil, fmt.Errorf("NetCash must be a number: %w", err)
		}
		netCash = decimal.NullDecimal{Decimal: d, Valid: true}
	}

	return &models.NormalizedFill{
		AssetCode:  symbol,
		AssetType:  assetType,
		Exchange:   exchange,
		Timezone:   timezone,
		TradeTime:  tradeTime,
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		Commission: commission,
		Currency:   currency,
		Multiplier: multiplier,
		Proceeds:   proceeds,
		NetCash:    netCash,
		OrderID:    field("OrderID"),
		Source:     field("TradeID"),
	}, nil
}

// parseIBKRDateTime converts IBKR's "YYYYMMDD;HHMMSS" format, reported in
// the exchange's local zone, to UTC.
func parseIBKRDateTime(value, timezone string) (time.Time, error) {
	layout := "20060102;150405"
	if !strings.Contains(value, ";") {
		layout = "20060102"
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		logger.L.Warn("Unknown exchange timezone, falling back to UTC", "timezone", timezone)
		loc = time.UTC
	}

	t, err := time.ParseInLocation(layout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid Date/Time value %q: %w", value, err)
	}
	return t.UTC(), nil
}

// firstToken cuts a multi-valued exchange field like "NASDAQ,ISLAND" or
// "ARCA;NYSE" down to its first entry.
func firstToken(s string) string {
	if i := strings.IndexAny(s, ",;"); i >= 0 {
		return s[:i]
	}
	return s
}
