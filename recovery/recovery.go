// Package recovery seeds in-memory state from persisted state once at
// startup, before live broker events flow.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/equity"
	"github.com/rustyeddy/dtcterm/orders"
	"github.com/rustyeddy/dtcterm/positions"
)

const DefaultMaxAge = 24 * time.Hour

var ErrAlreadyRan = errors.New("recovery: already ran")

// Source is the persisted state read at startup. journal.Journal satisfies
// it.
type Source interface {
	OpenPositions(ctx context.Context) ([]positions.Record, error)
	OpenOrders(ctx context.Context) ([]orders.Record, error)
	EquityScopes(ctx context.Context) ([]broker.Scope, error)
	LoadEquity(ctx context.Context, scope broker.Scope, since time.Time) ([]equity.Point, error)
}

type Summary struct {
	Recovered       int
	Stale           int
	StaleKeys       []positions.Key
	OrdersRecovered int
	EquityPoints    int
	// Err is the first persistence error. Recovery still completes with
	// whatever could be read.
	Err error
}

type Coordinator struct {
	src    Source
	pos    *positions.Book
	ord    *orders.Book
	eq     *equity.Store
	maxAge time.Duration
	now    func() time.Time
	log    *logrus.Entry
	ran    bool
}

// New returns a coordinator. ord and eq may be nil to skip order and equity
// recovery.
func New(src Source, pos *positions.Book, ord *orders.Book, eq *equity.Store, maxAge time.Duration, log *logrus.Logger) *Coordinator {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Coordinator{
		src:    src,
		pos:    pos,
		ord:    ord,
		eq:     eq,
		maxAge: maxAge,
		now:    time.Now,
		log:    log.WithField("component", "recovery"),
	}
}

// Run executes recovery once. Persistence failures never abort startup;
// they are logged and reported in Summary.Err.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	if c.ran {
		return Summary{}, ErrAlreadyRan
	}
	c.ran = true

	var sum Summary
	now := c.now()

	recs, err := c.src.OpenPositions(ctx)
	if err != nil {
		sum.Err = fmt.Errorf("read open positions: %w", err)
		c.log.WithError(err).Warn("position recovery failed; starting with no recovered positions")
	}
	for _, r := range recs {
		stale := now.Sub(r.LastUpdated) > c.maxAge
		if !c.pos.Seed(r, stale) {
			continue
		}
		sum.Recovered++
		entry := c.log.WithFields(logrus.Fields{
			"scope":        r.Scope().String(),
			"symbol":       r.Symbol,
			"qty":          r.Qty,
			"last_updated": r.LastUpdated,
		})
		if stale {
			sum.Stale++
			sum.StaleKeys = append(sum.StaleKeys, r.Key)
			entry.Warn("recovered stale position; needs operator attention")
		} else {
			entry.Info("recovered position")
		}
	}

	if c.ord != nil {
		c.recoverOrders(ctx, &sum)
	}
	if c.eq != nil {
		c.recoverEquity(ctx, now, &sum)
	}

	c.log.WithFields(logrus.Fields{
		"recovered": sum.Recovered,
		"stale":     sum.Stale,
		"orders":    sum.OrdersRecovered,
		"equity":    sum.EquityPoints,
	}).Info("recovery complete")
	return sum, nil
}

func (c *Coordinator) recoverOrders(ctx context.Context, sum *Summary) {
	recs, err := c.src.OpenOrders(ctx)
	if err != nil {
		c.log.WithError(err).Warn("order recovery failed")
		if sum.Err == nil {
			sum.Err = fmt.Errorf("read open orders: %w", err)
		}
		return
	}
	for _, r := range recs {
		if c.ord.Seed(r) {
			sum.OrdersRecovered++
		}
	}
}

// equitySince is how far back history is loaded. Rings are bounded so older
// points would be evicted anyway.
func equitySince(now time.Time) time.Time {
	since := now.AddDate(0, 0, -90)
	if ytd := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location()); ytd.Before(since) {
		since = ytd
	}
	return since
}

func (c *Coordinator) recoverEquity(ctx context.Context, now time.Time, sum *Summary) {
	scopes, err := c.src.EquityScopes(ctx)
	if err != nil {
		c.log.WithError(err).Warn("equity recovery failed")
		if sum.Err == nil {
			sum.Err = fmt.Errorf("read equity scopes: %w", err)
		}
		return
	}
	since := equitySince(now)
	for _, scope := range scopes {
		pts, err := c.src.LoadEquity(ctx, scope, since)
		if err != nil {
			c.log.WithError(err).WithField("scope", scope.String()).Warn("equity history load failed")
			if sum.Err == nil {
				sum.Err = fmt.Errorf("load equity %s: %w", scope, err)
			}
			continue
		}
		if err := c.eq.Load(scope, pts); err != nil {
			c.log.WithError(err).WithField("scope", scope.String()).Warn("equity history rejected")
			continue
		}
		sum.EquityPoints += len(pts)
	}
}
