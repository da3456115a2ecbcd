package processors

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/williams2w4/tradej/src/models"
)

func TestInferMultiplier(t *testing.T) {
	tests := []struct {
		name      string
		assetCode string
		assetType models.AssetType
		expected  string
	}{
		{"stocks always 1", "AAPL", models.AssetTypeStock, "1"},
		{"options always 1", "AAPL 240621C00100000", models.AssetTypeOption, "1"},
		{"known futures prefix", "ESZ5", models.AssetTypeFuture, "50"},
		{"longest prefix wins for micros", "MESZ5", models.AssetTypeFuture, "5"},
		{"crude oil", "CLF6", models.AssetTypeFuture, "1000"},
		{"unknown futures prefix falls back to 1", "XYZQ9", models.AssetTypeFuture, "1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assertDecimal(t, tc.expected, InferMultiplier(tc.assetCode, tc.assetType))
		})
	}
}

func TestLoadMultiplierTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "multipliers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ES": "75", "bad": "-1", "HSI": "50"}`), 0o600))

	require.NoError(t, LoadMultiplierTable(path))
	assertDecimal(t, "75", InferMultiplier("ESZ5", models.AssetTypeFuture))
	assertDecimal(t, "50", InferMultiplier("HSIF6", models.AssetTypeFuture))
	// invalid entries are dropped, not applied
	assertDecimal(t, "1", InferMultiplier("BADQ9", models.AssetTypeFuture))
}

func TestLoadMultiplierTableRejectsUnusableFiles(t *testing.T) {
	assert.Error(t, LoadMultiplierTable(filepath.Join(t.TempDir(), "missing.json")))

	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"only": "-5"}`), 0o600))
	assert.Error(t, LoadMultiplierTable(path))
}
