package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = LoadLocation("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	_, err = LoadLocation("Not/AZone")
	assert.Error(t, err)
}

func TestMonthBounds(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	start, end := MonthBounds(2024, time.March, ny)
	// midnight March 1 New York is 05:00 UTC (EST)
	assert.True(t, start.Equal(time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC)), "got %s", start)
	// midnight April 1 New York is 04:00 UTC (EDT after the switch)
	assert.True(t, end.Equal(time.Date(2024, 4, 1, 4, 0, 0, 0, time.UTC)), "got %s", end)
}

func TestYearBounds(t *testing.T) {
	start, end := YearBounds(2024, time.UTC)
	assert.True(t, start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, end.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
}
