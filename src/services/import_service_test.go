package services

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/williams2w4/tradej/src/database"
	"github.com/williams2w4/tradej/src/model"
	"github.com/williams2w4/tradej/src/models"
	"github.com/williams2w4/tradej/src/processors"
)

const ibkrHeader = "Date/Time,Symbol,Buy/Sell,Quantity,Price,Commission,CurrencyPrimary,AssetClass,ListingExchange,Multiplier,Proceeds,NetCash,OrderID,TradeID"

func ibkrCSV(rows ...string) string {
	return ibkrHeader + "\n" + strings.Join(rows, "\n") + "\n"
}

func setupImportService(t *testing.T) ImportService {
	t.Helper()
	database.InitDB(filepath.Join(t.TempDir(), "tradej_test.db"))
	t.Cleanup(func() { database.DB.Close() })
	reportCache := cache.New(time.Minute, time.Minute)
	return NewImportService(processors.NewTradeAggregator(), reportCache)
}

func listTrades(t *testing.T) []model.TradeWithAsset {
	t.Helper()
	trades, err := model.ListParentTrades(database.DB, model.TradeFilter{})
	require.NoError(t, err)
	return trades
}

func TestProcessImportCreatesClosedTrade(t *testing.T) {
	service := setupImportService(t)

	file := ibkrCSV(
		"20240301;103000,AAPL,BUY,10,100,1,USD,STK,NASDAQ,,,,O1,T1",
		"20240301;140000,AAPL,SELL,10,110,1,USD,STK,NASDAQ,,,,O2,T2",
	)
	batch, err := service.ProcessImport("ibkr", "trades.csv", strings.NewReader(file), DuplicateSkip)
	require.NoError(t, err)

	assert.Equal(t, models.ImportCompleted, batch.Status)
	assert.NotEmpty(t, batch.Reference)
	assert.Equal(t, 2, batch.TotalRecords)
	assert.Equal(t, 0, batch.SkippedRecords)
	require.NotNil(t, batch.CompletedAt)

	trades := listTrades(t)
	require.Len(t, trades, 1)
	trade := trades[0].Trade
	asset := trades[0].Asset

	assert.Equal(t, "AAPL", asset.Code)
	assert.Equal(t, models.AssetTypeStock, asset.AssetType)
	assert.Equal(t, "NASDAQ", asset.Exchange)
	assert.Equal(t, "America/New_York", asset.Timezone)

	assert.Equal(t, models.DirectionLong, trade.Direction)
	assert.True(t, decimal.NewFromInt(10).Equal(trade.Quantity))
	require.NotNil(t, trade.CloseTime)
	// 10:30 New York in March is 15:30 UTC
	assert.True(t, trade.OpenTime.Equal(time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)), "got %s", trade.OpenTime)
	assert.True(t, trade.CloseTime.Equal(time.Date(2024, 3, 1, 19, 0, 0, 0, time.UTC)), "got %s", trade.CloseTime)
	require.True(t, trade.OpenPrice.Valid)
	assert.True(t, decimal.NewFromInt(100).Equal(trade.OpenPrice.Decimal))
	require.True(t, trade.ClosePrice.Valid)
	assert.True(t, decimal.NewFromInt(110).Equal(trade.ClosePrice.Decimal))
	assert.True(t, decimal.NewFromInt(98).Equal(trade.ProfitLoss), "got %s", trade.ProfitLoss)

	fills, err := model.GetFillsByParentTradeIDs(database.DB, []int64{trade.ID})
	require.NoError(t, err)
	assert.Len(t, fills, 2)
}

func TestProcessImportSkipModeIsIdempotent(t *testing.T) {
	service := setupImportService(t)

	file := ibkrCSV(
		"20240301;103000,AAPL,BUY,10,100,1,USD,STK,NASDAQ,,,,O1,T1",
		"20240301;140000,AAPL,SELL,10,110,1,USD,STK,NASDAQ,,,,O2,T2",
	)
	_, err := service.ProcessImport("ibkr", "trades.csv", strings.NewReader(file), DuplicateSkip)
	require.NoError(t, err)
	firstTrades := listTrades(t)
	require.Len(t, firstTrades, 1)

	_, err = service.ProcessImport("ibkr", "trades.csv", strings.NewReader(file), DuplicateSkip)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicatesOnly))

	var duplicatesOnly *DuplicatesOnlyError
	require.True(t, errors.As(err, &duplicatesOnly))
	assert.Equal(t, 2, duplicatesOnly.Count)

	secondTrades := listTrades(t)
	require.Len(t, secondTrades, 1)
	assert.Equal(t, firstTrades[0].Trade.ID, secondTrades[0].Trade.ID)
	assert.True(t, firstTrades[0].Trade.ProfitLoss.Equal(secondTrades[0].Trade.ProfitLoss))
}

func TestProcessImportSkipModeImportsOnlyNewFills(t *testing.T) {
	service := setupImportService(t)

	first := ibkrCSV("20240301;103000,AAPL,BUY,10,100,1,USD,STK,NASDAQ,,,,O1,T1")
	_, err := service.ProcessImport("ibkr", "day1.csv", strings.NewReader(first), DuplicateSkip)
	require.NoError(t, err)

	// Re-export containing the already-imported buy plus a new closing sell.
	second := ibkrCSV(
		"20240301;103000,AAPL,BUY,10,100,1,USD,STK,NASDAQ,,,,O1,T1",
		"20240301;140000,AAPL,SELL,10,110,1,USD,STK,NASDAQ,,,,O2,T2",
	)
	batch, err := service.ProcessImport("ibkr", "day1-full.csv", strings.NewReader(second), DuplicateSkip)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.TotalRecords)
	assert.Equal(t, 1, batch.SkippedRecords)

	trades := listTrades(t)
	require.Len(t, trades, 1)
	require.NotNil(t, trades[0].Trade.CloseTime)

	fills, err := model.GetFillsByParentTradeIDs(database.DB, []int64{trades[0].Trade.ID})
	require.NoError(t, err)
	assert.Len(t, fills, 2, "the duplicate buy must not be stored twice")
}

func TestProcessImportOverrideReplacesOwningTrades(t *testing.T) {
	service := setupImportService(t)

	file := ibkrCSV(
		"20240301;103000,AAPL,BUY,10,100,1,USD,STK,NASDAQ,,,,O1,T1",
		"20240301;140000,AAPL,SELL,10,110,1,USD,STK,NASDAQ,,,,O2,T2",
	)
	_, err := service.ProcessImport("ibkr", "trades.csv", strings.NewReader(file), DuplicateSkip)
	require.NoError(t, err)
	originalID := listTrades(t)[0].Trade.ID

	// Corrected export: same trade ids, different sell price.
	corrected := ibkrCSV(
		"20240301;103000,AAPL,BUY,10,100,1,USD,STK,NASDAQ,,,,O1,T1",
		"20240301;140000,AAPL,SELL,10,120,1,USD,STK,NASDAQ,,,,O2,T2",
	)
	batch, err := service.ProcessImport("ibkr", "corrected.csv", strings.NewReader(corrected), DuplicateOverride)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.TotalRecords)

	trades := listTrades(t)
	require.Len(t, trades, 1, "overridden trade must be replaced, not duplicated")
	assert.NotEqual(t, originalID, trades[0].Trade.ID)
	assert.True(t, decimal.NewFromInt(198).Equal(trades[0].Trade.ProfitLoss), "got %s", trades[0].Trade.ProfitLoss)

	fills, err := model.GetFillsByParentTradeIDs(database.DB, []int64{trades[0].Trade.ID})
	require.NoError(t, err)
	assert.Len(t, fills, 2)
}

func TestProcessImportContinuesOpenPositionAcrossBatches(t *testing.T) {
	service := setupImportService(t)

	opening := ibkrCSV("20240301;103000,AAPL,BUY,10,100,1,USD,STK,NASDAQ,,,,O1,T1")
	_, err := service.ProcessImport("ibkr", "day1.csv", strings.NewReader(opening), DuplicateSkip)
	require.NoError(t, err)

	openTrades := listTrades(t)
	require.Len(t, openTrades, 1)
	require.Nil(t, openTrades[0].Trade.CloseTime)
	openID := openTrades[0].Trade.ID

	closing := ibkrCSV("20240302;103000,AAPL,SELL,10,110,1,USD,STK,NASDAQ,,,,O9,T9")
	_, err = service.ProcessImport("ibkr", "day2.csv", strings.NewReader(closing), DuplicateSkip)
	require.NoError(t, err)

	trades := listTrades(t)
	require.Len(t, trades, 1, "closing batch must update the open trade, not create a second one")
	trade := trades[0].Trade
	assert.Equal(t, openID, trade.ID)
	require.NotNil(t, trade.CloseTime)
	require.True(t, trade.ClosePrice.Valid)
	assert.True(t, decimal.NewFromInt(110).Equal(trade.ClosePrice.Decimal))
	assert.True(t, decimal.NewFromInt(98).Equal(trade.ProfitLoss), "got %s", trade.ProfitLoss)

	fills, err := model.GetFillsByParentTradeIDs(database.DB, []int64{trade.ID})
	require.NoError(t, err)
	assert.Len(t, fills, 2)
}

func TestProcessImportFlipContinuesAcrossBatches(t *testing.T) {
	service := setupImportService(t)

	_, err := service.ProcessImport("ibkr", "b1.csv",
		strings.NewReader(ibkrCSV("20240301;103000,AAPL,BUY,10,100,2,USD,STK,NASDAQ,,,,O1,T1")), DuplicateSkip)
	require.NoError(t, err)

	// One fill flips the long 10 into a short 10.
	_, err = service.ProcessImport("ibkr", "b2.csv",
		strings.NewReader(ibkrCSV("20240301;140000,AAPL,SELL,20,110,4,USD,STK,NASDAQ,,,,O2,T2")), DuplicateSkip)
	require.NoError(t, err)

	trades := listTrades(t)
	require.Len(t, trades, 2)
	var openID, closedID int64
	for _, trade := range trades {
		if trade.Trade.Open() {
			openID = trade.Trade.ID
		} else {
			closedID = trade.Trade.ID
		}
	}
	require.NotZero(t, openID)
	require.NotZero(t, closedID)

	// The flip fill is stored pro-rata under both parents, so the open
	// short leg owns the row that reconstructs its position.
	openFills, err := model.GetFillsByParentTradeIDs(database.DB, []int64{openID})
	require.NoError(t, err)
	require.Len(t, openFills, 1)
	assert.Equal(t, models.SideSell, openFills[0].Side)
	assert.True(t, decimal.NewFromInt(10).Equal(openFills[0].Quantity), "got %s", openFills[0].Quantity)
	assert.True(t, decimal.NewFromInt(2).Equal(openFills[0].Commission), "got %s", openFills[0].Commission)

	closedFills, err := model.GetFillsByParentTradeIDs(database.DB, []int64{closedID})
	require.NoError(t, err)
	assert.Len(t, closedFills, 2)

	// A third batch closing the short must leave nothing open.
	_, err = service.ProcessImport("ibkr", "b3.csv",
		strings.NewReader(ibkrCSV("20240301;180000,AAPL,BUY,10,105,2,USD,STK,NASDAQ,,,,O3,T3")), DuplicateSkip)
	require.NoError(t, err)

	trades = listTrades(t)
	require.Len(t, trades, 2)
	for _, trade := range trades {
		require.False(t, trade.Trade.Open(), "trade %d still open", trade.Trade.ID)
		switch trade.Trade.ID {
		case closedID:
			// -1000 - 2 + (2200-4)/2
			assert.True(t, decimal.NewFromInt(96).Equal(trade.Trade.ProfitLoss), "got %s", trade.Trade.ProfitLoss)
		case openID:
			// (2200-4)/2 - 1050 - 2
			assert.True(t, decimal.NewFromInt(46).Equal(trade.Trade.ProfitLoss), "got %s", trade.Trade.ProfitLoss)
		}
	}
}

func TestProcessImportFailsOnMultipleOpenParents(t *testing.T) {
	service := setupImportService(t)

	// Persist two open parent trades for the same instrument directly; a
	// closing batch can then not decide which one to update.
	asset := &models.Asset{Code: "AAPL", Name: "AAPL", AssetType: models.AssetTypeStock, Timezone: "America/New_York"}
	require.NoError(t, model.CreateAsset(database.DB, asset))
	seedBatch := &models.ImportBatch{
		Reference: "seed-batch",
		Broker:    "ibkr",
		Filename:  "seed.csv",
		Status:    models.ImportCompleted,
	}
	require.NoError(t, model.CreateImportBatch(database.DB, seedBatch))

	base := time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		parent := &models.ParentTrade{
			AssetID:   asset.ID,
			Direction: models.DirectionLong,
			Quantity:  decimal.NewFromInt(5),
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			Currency:  "USD",
		}
		require.NoError(t, model.CreateParentTrade(database.DB, parent))
		fill := &models.TradeFill{
			ParentTradeID: parent.ID,
			AssetID:       asset.ID,
			Side:          models.SideBuy,
			Quantity:      decimal.NewFromInt(5),
			Price:         decimal.NewFromInt(100),
			Multiplier:    decimal.NewFromInt(1),
			Currency:      "USD",
			TradeTime:     parent.OpenTime,
			Source:        fmt.Sprintf("SEED%d", i+1),
			ImportBatchID: seedBatch.ID,
		}
		require.NoError(t, model.CreateTradeFill(database.DB, fill))
	}

	closing := ibkrCSV("20240301;180000,AAPL,SELL,10,110,1,USD,STK,NASDAQ,,,,O9,T9")
	_, err := service.ProcessImport("ibkr", "close.csv", strings.NewReader(closing), DuplicateSkip)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOpenTradeConflict))

	// The aborted transaction must leave both seed trades untouched.
	trades := listTrades(t)
	assert.Len(t, trades, 2)
	for _, trade := range trades {
		assert.Nil(t, trade.Trade.CloseTime)
	}
}

func TestProcessImportBrokerNetCashWins(t *testing.T) {
	service := setupImportService(t)

	file := ibkrCSV(
		"20240301;103000,AAPL,BUY,10,100,1,USD,STK,NASDAQ,,,-1005,O1,T1",
		"20240301;140000,AAPL,SELL,10,110,1,USD,STK,NASDAQ,,,1095,O2,T2",
	)
	_, err := service.ProcessImport("ibkr", "trades.csv", strings.NewReader(file), DuplicateSkip)
	require.NoError(t, err)

	trades := listTrades(t)
	require.Len(t, trades, 1)
	assert.True(t, decimal.NewFromInt(90).Equal(trades[0].Trade.ProfitLoss), "got %s", trades[0].Trade.ProfitLoss)
}

func TestProcessImportUnknownBroker(t *testing.T) {
	service := setupImportService(t)

	_, err := service.ProcessImport("etrade", "trades.csv", strings.NewReader("x"), DuplicateSkip)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParsingFailed))
}

func TestProcessImportMalformedFile(t *testing.T) {
	service := setupImportService(t)

	file := ibkrHeader + "\n20240301;103000,AAPL,HOLD,10,100,1,USD,STK,NASDAQ,,,,O1,T1\n"
	_, err := service.ProcessImport("ibkr", "trades.csv", strings.NewReader(file), DuplicateSkip)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParsingFailed))

	trades := listTrades(t)
	assert.Empty(t, trades, "a failed parse must not persist anything")
}
