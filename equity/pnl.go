package equity

import (
	"fmt"
	"math"
	"sort"
	"time"
)

type Direction int

const (
	Down    Direction = -1
	Neutral Direction = 0
	Up      Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "neutral"
	}
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "up":
		*d = Up
	case "down":
		*d = Down
	case "neutral":
		*d = Neutral
	default:
		return fmt.Errorf("unknown direction %q", b)
	}
	return nil
}

// neutralBand is the absolute amount under which a move is reported flat.
const neutralBand = 0.01

type PnL struct {
	Baseline  Point     `json:"baseline"`
	Current   Point     `json:"current"`
	Amount    float64   `json:"amount"`
	Percent   float64   `json:"percent"`
	Direction Direction `json:"direction"`
}

// BaselineTime returns the instant a timeframe's PnL is measured from.
// 1D uses local midnight in now's location.
func BaselineTime(tf Timeframe, now time.Time) time.Time {
	switch tf {
	case Live:
		return now.Add(-time.Hour)
	case Day:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	case Week:
		return now.AddDate(0, 0, -7)
	case Month:
		return now.AddDate(0, 0, -30)
	case Qtr:
		return now.AddDate(0, 0, -90)
	case YTD:
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	default:
		return now.Add(-time.Hour)
	}
}

// Baseline returns the last point at or before at, or the first point when
// none precedes it.
func Baseline(points []Point, at time.Time) (Point, bool) {
	if len(points) == 0 {
		return Point{}, false
	}
	// first index strictly after at
	i := sort.Search(len(points), func(i int) bool {
		return points[i].At.After(at)
	})
	if i == 0 {
		return points[0], true
	}
	return points[i-1], true
}

// Compute measures the change from tf's baseline to the newest point.
func Compute(points []Point, tf Timeframe, now time.Time) (PnL, bool) {
	base, ok := Baseline(points, BaselineTime(tf, now))
	if !ok {
		return PnL{}, false
	}
	cur := points[len(points)-1]

	p := PnL{
		Baseline: base,
		Current:  cur,
		Amount:   cur.Balance - base.Balance,
	}
	if base.Balance != 0 {
		p.Percent = p.Amount / base.Balance * 100
	}
	switch {
	case math.Abs(p.Amount) < neutralBand:
		p.Direction = Neutral
	case p.Amount > 0:
		p.Direction = Up
	default:
		p.Direction = Down
	}
	return p, true
}
