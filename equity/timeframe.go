package equity

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Timeframe string

const (
	Live  Timeframe = "LIVE"
	Day   Timeframe = "1D"
	Week  Timeframe = "1W"
	Month Timeframe = "1M"
	Qtr   Timeframe = "3M"
	YTD   Timeframe = "YTD"
)

// Timeframes lists every supported timeframe, shortest first.
var Timeframes = []Timeframe{Live, Day, Week, Month, Qtr, YTD}

type window struct {
	length time.Duration // zero means unbounded
	snap   time.Duration
}

var windows = map[Timeframe]window{
	Live:  {length: time.Hour, snap: time.Minute},
	Day:   {length: 24 * time.Hour, snap: 5 * time.Minute},
	Week:  {length: 7 * 24 * time.Hour, snap: time.Hour},
	Month: {length: 30 * 24 * time.Hour, snap: 4 * time.Hour},
	Qtr:   {length: 90 * 24 * time.Hour, snap: 24 * time.Hour},
	YTD:   {},
}

func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := windows[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// WindowStart returns the first instant included in tf's window at now,
// snapped down to the timeframe's granularity. ok is false for unbounded
// timeframes.
func WindowStart(tf Timeframe, now time.Time) (start time.Time, ok bool) {
	w, known := windows[tf]
	if !known || w.length == 0 {
		return time.Time{}, false
	}
	raw := now.Add(-w.length).Unix()
	snap := int64(w.snap / time.Second)
	snapped := raw - mod(raw, snap)
	return time.Unix(snapped, 0).In(now.Location()), true
}

// Filter returns the suffix of points (sorted ascending) that falls inside
// tf's window. The result aliases points.
func Filter(points []Point, tf Timeframe, now time.Time) []Point {
	start, ok := WindowStart(tf, now)
	if !ok {
		return points
	}
	i := sort.Search(len(points), func(i int) bool {
		return !points[i].At.Before(start)
	})
	return points[i:]
}

// mod is a floor modulo so pre-epoch times snap downward too.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
