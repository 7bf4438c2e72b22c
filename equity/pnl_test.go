package equity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var est = time.FixedZone("EST", -5*3600)

func TestPnLDayBaseline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		points   []Point
		baseline float64
		amount   float64
		percent  float64
	}{
		{
			name: "point before midnight",
			points: []Point{
				{At: time.Date(2025, 3, 9, 22, 0, 0, 0, est), Balance: 100},
				{At: time.Date(2025, 3, 10, 1, 0, 0, 0, est), Balance: 110},
				{At: time.Date(2025, 3, 10, 9, 0, 0, 0, est), Balance: 120},
			},
			baseline: 100,
			amount:   20,
			percent:  20,
		},
		{
			name: "point exactly at midnight",
			points: []Point{
				{At: time.Date(2025, 3, 9, 22, 0, 0, 0, est), Balance: 100},
				{At: time.Date(2025, 3, 10, 0, 0, 0, 0, est), Balance: 110},
				{At: time.Date(2025, 3, 10, 9, 0, 0, 0, est), Balance: 120},
			},
			baseline: 110,
			amount:   10,
			percent:  10.0 / 110.0 * 100,
		},
		{
			name: "nothing before midnight clamps to first",
			points: []Point{
				{At: time.Date(2025, 3, 10, 1, 0, 0, 0, est), Balance: 100},
				{At: time.Date(2025, 3, 10, 5, 0, 0, 0, est), Balance: 110},
				{At: time.Date(2025, 3, 10, 9, 0, 0, 0, est), Balance: 120},
			},
			baseline: 100,
			amount:   20,
			percent:  20,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			now := tt.points[2].At.Add(time.Hour)
			p, ok := Compute(tt.points, Day, now)
			require.True(t, ok)
			assert.Equal(t, tt.baseline, p.Baseline.Balance)
			assert.Equal(t, 120.0, p.Current.Balance)
			assert.InDelta(t, tt.amount, p.Amount, 1e-9)
			assert.InDelta(t, tt.percent, p.Percent, 1e-9)
			assert.Equal(t, Up, p.Direction)
		})
	}
}

func TestBaselineTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 10, 30, 0, 0, est)
	assert.Equal(t, now.Add(-time.Hour), BaselineTime(Live, now))
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, est), BaselineTime(Day, now))
	assert.Equal(t, time.Date(2025, 3, 3, 10, 30, 0, 0, est), BaselineTime(Week, now))
	assert.Equal(t, time.Date(2025, 2, 8, 10, 30, 0, 0, est), BaselineTime(Month, now))
	assert.Equal(t, time.Date(2024, 12, 10, 10, 30, 0, 0, est), BaselineTime(Qtr, now))
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, est), BaselineTime(YTD, now))
}

func TestPnLEdgeCases(t *testing.T) {
	t.Parallel()

	now := epoch.Add(2 * time.Hour)

	_, ok := Compute(nil, Live, now)
	assert.False(t, ok)

	p, ok := Compute([]Point{
		{At: epoch, Balance: 0},
		{At: epoch.Add(time.Hour), Balance: 50},
	}, YTD, now)
	require.True(t, ok)
	assert.Equal(t, 50.0, p.Amount)
	assert.Equal(t, 0.0, p.Percent, "zero baseline")

	p, _ = Compute([]Point{
		{At: epoch, Balance: 1000},
		{At: epoch.Add(time.Hour), Balance: 1000.009},
	}, YTD, now)
	assert.Equal(t, Neutral, p.Direction)

	p, _ = Compute([]Point{
		{At: epoch, Balance: 1000},
		{At: epoch.Add(time.Hour), Balance: 990},
	}, YTD, now)
	assert.Equal(t, Down, p.Direction)
	assert.InDelta(t, -1.0, p.Percent, 1e-9)
}

func TestBaselineSearch(t *testing.T) {
	t.Parallel()

	ps := makeSeries(10, time.Minute)
	b, ok := Baseline(ps, epoch.Add(150*time.Second))
	require.True(t, ok)
	assert.Equal(t, 10002.0, b.Balance)

	b, _ = Baseline(ps, epoch.Add(3*time.Minute))
	assert.Equal(t, 10003.0, b.Balance)

	b, _ = Baseline(ps, epoch.Add(-time.Hour))
	assert.Equal(t, 10000.0, b.Balance)

	b, _ = Baseline(ps, epoch.Add(time.Hour))
	assert.Equal(t, 10009.0, b.Balance)
}
