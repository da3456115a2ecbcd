// src/parsers/degiro/parser.go
package degiro

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/williams2w4/tradej/src/models"
)

// DEGIRO Transactions.csv is positional: the currency of each monetary
// column sits in the column right after it, and headers are localized, so
// matching by name is unreliable.
const (
	colDate = iota
	colTime
	colProduct
	colISIN
	colExchange
	colVenue
	colQuantity
	colPrice
	colPriceCurrency
	colLocalValue
	colLocalValueCurrency
	colValue
	colValueCurrency
	colExchangeRate
	colCosts
	colCostsCurrency
	colTotal
	colTotalCurrency
	colOrderID
	columnCount
)

// DEGIRO reports execution times in Central European time regardless of
// the product's exchange.
const degiroTimezone = "Europe/Amsterdam"

// DeGiroParser implements the parsers.Parser interface for DEGIRO
// Transactions.csv exports.
type DeGiroParser struct{}

func NewParser() *DeGiroParser {
	return &DeGiroParser{}
}

// Parse reads a DEGIRO transactions export and converts its rows into
// normalized fills.
func (p *DeGiroParser) Parse(file io.Reader) ([]models.NormalizedFill, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("degiro parser: failed to read CSV header: %w", err)
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
			return nil, fmt.Errorf("degiro parser: row %d: %w", rowNumber, err)
		}
		if len(record) < columnCount {
			return nil, fmt.Errorf("degiro parser: row %d: expected %d columns, got %d", rowNumber, columnCount, len(record))
		}

		fill, err := normalizeRow(record)
		if err != nil {
			return nil, fmt.Errorf("degiro parser: row %d: %w", rowNumber, err)
		}
		fills = append(fills, *fill)
	}

	if len(fills) == 0 {
		return nil, fmt.Errorf("degiro parser: no transaction rows found in file")
	}
	return fills, nil
}

func normalizeRow(record []string) (*models.NormalizedFill, error) {
	field := func(i int) string { return strings.TrimSpace(record[i]) }

	product := field(colProduct)
	isin := field(colISIN)
	if product == "" && isin == "" {
		return nil, fmt.Errorf("row has neither product name nor ISIN")
	}
	assetCode := isin
	if assetCode == "" {
		assetCode = product
	}

	signedQuantity, err := decimal.NewFromString(field(colQuantity))
	if err != nil {
		return nil, fmt.Errorf("quantity must be a number: %w", err)
	}
	if signedQuantity.IsZero() {
		return nil, fmt.Errorf("quantity must be non-zero")
	}
	side := models.SideBuy
	if signedQuantity.IsNegative() {
		side = models.SideSell
	}

	price, err := decimal.NewFromString(field(colPrice))
	if err != nil {
		return nil, fmt.Errorf("price must be a number: %w", err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("price must be greater than 0")
	}

	currency := field(colPriceCurrency)

	// DEGIRO reports costs as a negative cash amount; keep the magnitude.
	commission := decimal.Zero
	if costsField := field(colCosts); costsField != "" {
		commission, err = decimal.NewFromString(costsField)
		if err != nil {
			return nil, fmt.Errorf("transaction costs must be a number: %w", err)
		}
		commission = commission.Abs()
	}

	tradeTime, err := parseDeGiroDateTime(field(colDate), field(colTime))
	if err != nil {
		return nil, err
	}

	// The per-product monetary columns are only trustworthy when they share
	// the trade's own currency; account-currency totals are skipped.
	var proceeds, netCash decimal.NullDecimal
	if field(colLocalValue) != "" && field(colLocalValueCurrency) == currency {
		d, err := decimal.NewFromString(field(colLocalValue))
		if err != nil {
			return nil, fmt.Errorf("local value must be a number: %w", err)
		}
		proceeds = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	if field(colTotal) != "" && field(colTotalCurrency) == currency {
		d, err := decimal.NewFromString(field(colTotal))
		if err != nil {
			return nil, fmt.Errorf("total must be a number: %w", err)
		}
		netCash = decimal.NullDecimal{Decimal: d, Valid: true}
	}

	return &models.NormalizedFill{
		AssetCode:  assetCode,
		AssetType:  models.AssetTypeStock,
		Exchange:   strings.ToUpper(field(colExchange)),
		Timezone:   degiroTimezone,
		TradeTime:  tradeTime,
		Side:       side,
		Quantity:   signedQuantity.Abs(),
		Price:      price,
		Commission: commission,
		Currency:   currency,
		Multiplier: decimal.NewFromInt(1),
		Proceeds:   proceeds,
		NetCash:    netCash,
		OrderID:    field(colOrderID),
		Source:     field(colOrderID),
	}, nil
}

// parseDeGiroDateTime converts the "DD-MM-YYYY" + "HH:MM" column pair,
// reported in Central European time, to UTC.
func parseDeGiroDateTime(date, timeOfDay string) (time.Time, error) {
	if date == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	if timeOfDay == "" {
		timeOfDay = "00:00"
	}

	loc, err := time.LoadLocation(degiroTimezone)
	if err != nil {
		loc = time.UTC
	}

	t, err := time.ParseInLocation("02-01-2006 15:04", date+" "+timeOfDay, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date/time %q %q: %w", date, timeOfDay, err)
	}
	return t.UTC(), nil
}
