package ibkr

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/williams2w4/tradej/src/logger"
	"github.com/williams2w4/tradej/src/models"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

const header = "Date/Time,Symbol,Buy/Sell,Quantity,Price,Commission,CurrencyPrimary,AssetClass,ListingExchange,Multiplier,Proceeds,NetCash,OrderID,TradeID"

func TestParseStockRows(t *testing.T) {
	file := header + "\n" +
		"20240301;103000,AAPL,BUY,10,185.5,-1.05,USD,STK,NASDAQ,,,,O1,T1\n" +
		"20240301;140000,AAPL,SELL,-10,190.25,-1.05,USD,STK,NASDAQ,,1902.5,1901.45,O2,T2\n"

	fills, err := NewParser().Parse(strings.NewReader(file))
	require.NoError(t, err)
	require.Len(t, fills, 2)

	buy := fills[0]
	assert.Equal(t, "AAPL", buy.AssetCode)
	assert.Equal(t, models.AssetTypeStock, buy.AssetType)
	assert.Equal(t, "NASDAQ", buy.Exchange)
	assert.Equal(t, "America/New_York", buy.Timezone)
	assert.Equal(t, models.SideBuy, buy.Side)
	// 10:30 New York in March is 15:30 UTC
	assert.True(t, buy.TradeTime.Equal(time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)), "got %s", buy.TradeTime)
	assert.True(t, decimal.RequireFromString("185.5").Equal(buy.Price))
	// commission magnitude is kept, the reported sign is dropped
	assert.True(t, decimal.RequireFromString("1.05").Equal(buy.Commission))
	assert.True(t, decimal.NewFromInt(1).Equal(buy.Multiplier))
	assert.False(t, buy.Proceeds.Valid)
	assert.False(t, buy.NetCash.Valid)
	assert.Equal(t, "T1", buy.Source)
	assert.Equal(t, "O1", buy.OrderID)

	sell := fills[1]
	assert.Equal(t, models.SideSell, sell.Side)
	// negative reported quantity becomes a positive magnitude
	assert.True(t, decimal.NewFromInt(10).Equal(sell.Quantity))
	require.True(t, sell.Proceeds.Valid)
	assert.True(t, decimal.RequireFromString("1902.5").Equal(sell.Proceeds.Decimal))
	require.True(t, sell.NetCash.Valid)
	assert.True(t, decimal.RequireFromString("1901.45").Equal(sell.NetCash.Decimal))
}

func TestParseFutureInfersMultiplier(t *testing.T) {
	file := header + "\n" +
		"20240301;093000,ESZ5,BUY,1,5000,-2.25,USD,FUT,CME,,,,O1,T1\n"

	fills, err := NewParser().Parse(strings.NewReader(file))
	require.NoError(t, err)
	require.Len(t, fills, 1)

	fill := fills[0]
	assert.Equal(t, models.AssetTypeFuture, fill.AssetType)
	assert.Equal(t, "America/Chicago", fill.Timezone)
	assert.True(t, decimal.NewFromInt(50).Equal(fill.Multiplier), "got %s", fill.Multiplier)
}

func TestParseExplicitMultiplierWinsOverInference(t *testing.T) {
	file := header + "\n" +
		"20240301;093000,ESZ5,BUY,1,5000,-2.25,USD,FUT,CME,25,,,O1,T1\n"

	fills, err := NewParser().Parse(strings.NewReader(file))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(25).Equal(fills[0].Multiplier))
}

func TestParseMultiValuedExchange(t *testing.T) {
	file := header + "\n" +
		"20240301;103000,AAPL,BUY,10,185.5,-1.05,USD,STK,\"NASDAQ,ISLAND\",,,,O1,T1\n"

	fills, err := NewParser().Parse(strings.NewReader(file))
	require.NoError(t, err)
	assert.Equal(t, "NASDAQ", fills[0].Exchange)
}

func TestParseRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		file string
	}{
		{"empty file", ""},
		{"header only", header + "\n"},
		{"missing required column", "Symbol,Buy/Sell,Quantity,Price,Commission,CurrencyPrimary\nAAPL,BUY,10,100,1,USD\n"},
		{"bad side", header + "\n20240301;103000,AAPL,HOLD,10,100,1,USD,STK,NASDAQ,,,,O1,T1\n"},
		{"zero quantity", header + "\n20240301;103000,AAPL,BUY,0,100,1,USD,STK,NASDAQ,,,,O1,T1\n"},
		{"zero price", header + "\n20240301;103000,AAPL,BUY,10,0,1,USD,STK,NASDAQ,,,,O1,T1\n"},
		{"garbage timestamp", header + "\n2024-03-01,AAPL,BUY,10,100,1,USD,STK,NASDAQ,,,,O1,T1\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewParser().Parse(strings.NewReader(tc.file))
			assert.Error(t, err)
		})
	}
}
