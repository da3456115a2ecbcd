package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeCurrency(t *testing.T) {
	assert.Equal(t, "USD", NormalizeCurrency(""))
	assert.Equal(t, "USD", NormalizeCurrency("usd"))
	assert.Equal(t, "CNY", NormalizeCurrency("RMB"))
	assert.Equal(t, "CNY", NormalizeCurrency("rmb"))
	assert.Equal(t, "HKD", NormalizeCurrency("hkd"))
}

func TestConvertAmount(t *testing.T) {
	hundred := decimal.NewFromInt(100)

	converted := ConvertAmount(hundred, "USD", "HKD")
	assert.True(t, decimal.NewFromInt(780).Equal(converted), "got %s", converted)

	roundTrip := ConvertAmount(converted, "HKD", "USD")
	assert.True(t, hundred.Equal(roundTrip), "got %s", roundTrip)

	// same currency and unknown codes pass through unchanged
	assert.True(t, hundred.Equal(ConvertAmount(hundred, "USD", "usd")))
	assert.True(t, hundred.Equal(ConvertAmount(hundred, "XXX", "USD")))
	assert.True(t, hundred.Equal(ConvertAmount(hundred, "USD", "XXX")))

	// the RMB alias converts like CNY
	viaAlias := ConvertAmount(hundred, "RMB", "USD")
	viaCode := ConvertAmount(hundred, "CNY", "USD")
	assert.True(t, viaAlias.Equal(viaCode))
}
