package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Display conversion rates: how many units of each currency equal one US
// dollar. These feed UI presentation only; stored amounts always keep the
// fill's original currency.
var ratesPerUSD = map[string]decimal.Decimal{
	"USD": decimal.NewFromInt(1),
	"HKD": decimal.RequireFromString("7.80"),
	"EUR": decimal.RequireFromString("0.92"),
	"JPY": decimal.RequireFromString("145.00"),
	"CNY": decimal.RequireFromString("7.10"),
}

// NormalizeCurrency uppercases a currency code, maps the RMB alias to CNY
// and defaults empty codes to USD.
func NormalizeCurrency(code string) string {
	if code == "" {
		return "USD"
	}
	upper := strings.ToUpper(code)
	if upper == "RMB" {
		return "CNY"
	}
	return upper
}

// ConvertAmount converts a value between display currencies through USD.
// Unknown codes pass the amount through unchanged.
func ConvertAmount(value decimal.Decimal, fromCurrency, toCurrency string) decimal.Decimal {
	fromCode := NormalizeCurrency(fromCurrency)
	toCode := NormalizeCurrency(toCurrency)

	fromRate, fromOK := ratesPerUSD[fromCode]
	toRate, toOK := ratesPerUSD[toCode]
	if !fromOK || !toOK || fromCode == toCode {
		return value
	}

	return value.Div(fromRate).Mul(toRate)
}
