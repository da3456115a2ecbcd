package processors

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/williams2w4/tradej/src/logger"
	"github.com/williams2w4/tradej/src/models"
)

// Default contract multipliers keyed by futures symbol prefix. The longest
// matching prefix wins, so "MES" beats "ES" for micro contracts. This is
// reference data, not logic: unlisted prefixes fall back to 1 with a
// warning, and the whole table can be replaced via MULTIPLIER_DATA_PATH.
var defaultFutureMultipliers = map[string]string{
	"ES":  "50",
	"MES": "5",
	"NQ":  "20",
	"MNQ": "2",
	"YM":  "5",
	"MYM": "0.5",
	"RTY": "50",
	"M2K": "5",
	"CL":  "1000",
	"MCL": "100",
	"GC":  "100",
	"MGC": "10",
	"SI":  "5000",
	"HG":  "25000",
	"NG":  "10000",
	"ZB":  "1000",
	"ZN":  "1000",
	"ZF":  "1000",
	"ZT":  "2000",
	"6E":  "125000",
	"6J":  "12500000",
	"6B":  "62500",
	"HSI": "50",
	"MHI": "10",
}

var futureMultipliers map[string]decimal.Decimal

func init() {
	futureMultipliers = parseMultiplierTable(defaultFutureMultipliers)
}

func parseMultiplierTable(raw map[string]string) map[string]decimal.Decimal {
	table := make(map[string]decimal.Decimal, len(raw))
	for prefix, value := range raw {
		d, err := decimal.NewFromString(value)
		if err != nil || !d.IsPositive() {
			continue
		}
		table[strings.ToUpper(prefix)] = d
	}
	return table
}

// LoadMultiplierTable replaces the built-in futures multiplier table with the
// contents of a JSON file mapping symbol prefixes to multiplier values.
// This should be called once from main.go after config is loaded.
func LoadMultiplierTable(filePath string) error {
	logger.L.Info("Loading futures multiplier table", "path", filePath)
	file, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("error reading multiplier table file '%s': %w", filePath, err)
	}

	var raw map[string]string
	if err := json.Unmarshal(file, &raw); err != nil {
		return fmt.Errorf("error unmarshalling multiplier table from '%s': %w", filePath, err)
	}

	table := parseMultiplierTable(raw)
	if len(table) == 0 {
		return fmt.Errorf("multiplier table '%s' contained no valid entries", filePath)
	}
	futureMultipliers = table
	logger.L.Info("Futures multiplier table loaded", "path", filePath, "entries", len(table))
	return nil
}

// InferMultiplier returns the contract multiplier for an instrument.
// Non-futures always multiply by 1. Futures are matched by the longest
// known symbol prefix; a miss is flagged rather than silently trusted.
func InferMultiplier(assetCode string, assetType models.AssetType) decimal.Decimal {
	if assetType != models.AssetTypeFuture {
		return decimal.NewFromInt(1)
	}

	code := strings.ToUpper(strings.TrimSpace(assetCode))
	var (
		best    decimal.Decimal
		bestLen int
		found   bool
	)
	for prefix, multiplier := range futureMultipliers {
		if strings.HasPrefix(code, prefix) && len(prefix) > bestLen {
			best = multiplier
			bestLen = len(prefix)
			found = true
		}
	}
	if !found {
		logger.L.Warn("No multiplier entry for futures symbol, defaulting to 1", "assetCode", assetCode)
		return decimal.NewFromInt(1)
	}
	return best
}
