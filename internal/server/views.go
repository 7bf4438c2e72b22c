package server

import (
	"net/http"
	"strconv"

	"github.com/rustyeddy/dtcterm/broker"
	"github.com/rustyeddy/dtcterm/positions"
)

// positionView adds derived excursion figures to a position record.
type positionView struct {
	positions.Record
	MAE        float64 `json:"mae"`
	MFE        float64 `json:"mfe"`
	Efficiency float64 `json:"efficiency"`
}

func newPositionView(r positions.Record) positionView {
	v := positionView{Record: r}
	if r.State != positions.Closed {
		v.MAE, v.MFE = r.Excursion()
		v.Efficiency = positions.Efficiency(v.MAE, v.MFE)
	}
	return v
}

// filter narrows list endpoints by ?mode=, ?account= and ?open=true.
type filter struct {
	mode    broker.Mode
	account string
	open    bool
}

func parseFilter(r *http.Request) (filter, error) {
	q := r.URL.Query()
	var f filter
	if v := q.Get("mode"); v != "" {
		m, err := broker.ParseMode(v)
		if err != nil {
			return f, err
		}
		f.mode = m
	}
	f.account = q.Get("account")
	if v := q.Get("open"); v != "" {
		open, err := strconv.ParseBool(v)
		if err != nil {
			return f, err
		}
		f.open = open
	}
	return f, nil
}

func (f filter) match(s broker.Scope) bool {
	if f.mode != "" && s.Mode != f.mode {
		return false
	}
	return f.account == "" || s.Account == f.account
}
