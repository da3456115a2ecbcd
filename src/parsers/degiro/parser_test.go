package degiro

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/williams2w4/tradej/src/models"
)

const header = "Date,Time,Product,ISIN,Exchange,Venue,Quantity,Price,,Local value,,Value,,Exchange rate,Costs,,Total,,Order ID"

func TestParseTransactions(t *testing.T) {
	file := header + "\n" +
		"02-01-2024,15:30,ASML HOLDING,NL0010273215,EAM,XAMS,5,680.50,EUR,-3402.50,EUR,-3402.50,EUR,,-2.00,EUR,-3404.50,EUR,ord-1\n" +
		"03-01-2024,10:05,ASML HOLDING,NL0010273215,EAM,XAMS,-5,690.00,EUR,3450.00,EUR,3450.00,EUR,,-2.00,EUR,3448.00,EUR,ord-2\n"

	fills, err := NewParser().Parse(strings.NewReader(file))
	require.NoError(t, err)
	require.Len(t, fills, 2)

	buy := fills[0]
	assert.Equal(t, "NL0010273215", buy.AssetCode)
	assert.Equal(t, models.AssetTypeStock, buy.AssetType)
	assert.Equal(t, "EAM", buy.Exchange)
	assert.Equal(t, "Europe/Amsterdam", buy.Timezone)
	assert.Equal(t, models.SideBuy, buy.Side)
	// 15:30 Amsterdam in January is 14:30 UTC
	assert.True(t, buy.TradeTime.Equal(time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)), "got %s", buy.TradeTime)
	assert.True(t, decimal.NewFromInt(5).Equal(buy.Quantity))
	assert.True(t, decimal.RequireFromString("680.50").Equal(buy.Price))
	assert.True(t, decimal.NewFromInt(2).Equal(buy.Commission))
	assert.Equal(t, "EUR", buy.Currency)
	require.True(t, buy.Proceeds.Valid)
	assert.True(t, decimal.RequireFromString("-3402.50").Equal(buy.Proceeds.Decimal))
	require.True(t, buy.NetCash.Valid)
	assert.True(t, decimal.RequireFromString("-3404.50").Equal(buy.NetCash.Decimal))
	assert.Equal(t, "ord-1", buy.Source)

	sell := fills[1]
	assert.Equal(t, models.SideSell, sell.Side)
	// negative reported quantity becomes a positive magnitude
	assert.True(t, decimal.NewFromInt(5).Equal(sell.Quantity))
}

func TestParseSkipsForeignCurrencyTotals(t *testing.T) {
	// Account settles in EUR but the product trades in USD: the EUR total
	// must not be taken as the fill's net cash.
	file := header + "\n" +
		"02-01-2024,16:00,APPLE INC,US0378331005,NDQ,XNAS,2,185.00,USD,-370.00,USD,-340.00,EUR,1.0882,-1.00,EUR,-341.00,EUR,ord-3\n"

	fills, err := NewParser().Parse(strings.NewReader(file))
	require.NoError(t, err)
	require.Len(t, fills, 1)

	fill := fills[0]
	assert.Equal(t, "USD", fill.Currency)
	require.True(t, fill.Proceeds.Valid)
	assert.True(t, decimal.RequireFromString("-370.00").Equal(fill.Proceeds.Decimal))
	assert.False(t, fill.NetCash.Valid)
}

func TestParseRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		file string
	}{
		{"empty file", ""},
		{"header only", header + "\n"},
		{"short row", header + "\n02-01-2024,15:30,ASML HOLDING\n"},
		{"zero quantity", header + "\n02-01-2024,15:30,ASML,NL0010273215,EAM,XAMS,0,680.50,EUR,,,,,,,,,,ord-1\n"},
		{"bad date", header + "\n2024/01/02,15:30,ASML,NL0010273215,EAM,XAMS,5,680.50,EUR,,,,,,,,,,ord-1\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewParser().Parse(strings.NewReader(tc.file))
			assert.Error(t, err)
		})
	}
}
