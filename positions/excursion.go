package positions

import "math"

const epsilon = 1e-9

// Excursion returns maximum adverse and favorable excursion in price points
// for a trade entered at entry whose price ranged over [tradeMin, tradeMax]
// since entry. Quantity never enters the calculation.
//
//	long:  MAE = tradeMin - entry, MFE = tradeMax - entry
//	short: MAE = entry - tradeMax, MFE = entry - tradeMin
func Excursion(long bool, entry, tradeMin, tradeMax float64) (mae, mfe float64) {
	if long {
		return tradeMin - entry, tradeMax - entry
	}
	return entry - tradeMax, entry - tradeMin
}

// Efficiency is MFE / (MFE + |MAE|), or 0 when the denominator is ~0.
func Efficiency(mae, mfe float64) float64 {
	den := mfe + math.Abs(mae)
	if math.Abs(den) < epsilon {
		return 0
	}
	return mfe / den
}

// RMultiple expresses a result in points as a multiple of the initial risk
// distance |entry - stop|.
func RMultiple(pnlPoints, entry, stop float64) float64 {
	risk := math.Abs(entry - stop)
	if risk < epsilon {
		return 0
	}
	return pnlPoints / risk
}
