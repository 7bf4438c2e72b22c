package journal

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/equity"
	"github.com/rustyeddy/dtcterm/positions"
)

func TestWriteEquityCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, WriteEquityCSV(&buf, []equity.Point{
		{At: at, Balance: 10000},
		{At: at.Add(time.Minute), Balance: 10012.5},
	}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"time", "balance"}, rows[0])
	assert.Equal(t, []string{"2024-01-02T03:04:05Z", "10000.000000"}, rows[1])
	assert.Equal(t, []string{"2024-01-02T03:05:05Z", "10012.500000"}, rows[2])
}

func TestWritePositionsCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	rec := positions.Record{
		Key:         positions.Key{Mode: broker.ModeSim, Account: "Sim1", Symbol: "ESZ5"},
		Qty:         -2,
		AvgEntry:    100,
		State:       positions.Open,
		LastUpdated: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		TradeMin:    95,
		TradeMax:    102,
	}
	require.NoError(t, WritePositionsCSV(&buf, []positions.Record{rec}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{
		"SIM", "Sim1", "ESZ5", "-2.000000", "100.000000", "OPEN",
		"2024-01-02T03:04:05Z", "-2.000000", "5.000000",
	}, rows[1])
}
