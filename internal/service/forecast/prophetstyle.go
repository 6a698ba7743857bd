package forecast

import "fmt"

// prophetStyleModel approximates Prophet's multiplicative trend+seasonality
// decomposition: a linear trend fit by least squares, multiplied by a
// seasonal index computed from the average ratio of each within-cycle
// position to the fitted linear trend. There is no pure-Go Prophet
// equivalent in the example corpus, so this reproduces the shape of
// Prophet's output (a smooth trend scaled by a repeating seasonal factor)
// with idiomatic Go numerics rather than porting Prophet's Stan backend.
type prophetStyleModel struct {
	seasonalPeriods int
}

func (prophetStyleModel) name() string { return "prophet_style" }

func (m prophetStyleModel) fit(series []float64, horizon int) (fitted, error) {
	n := len(series)
	if n < 4 {
		return fitted{}, fmt.Errorf("op=forecast.prophetStyleModel.fit: series too short")
	}

	periods := m.seasonalPeriods
	useSeasonal := periods > 1 && n >= 2*periods

	trendSlope, trendIntercept := linearTrend(series)

	var seasonalIndex []float64
	if useSeasonal {
		seasonalIndex = make([]float64, periods)
		counts := make([]float64, periods)
		for t, v := range series {
			trendAtT := trendIntercept + trendSlope*float64(t)
			if trendAtT <= 0 {
				continue
			}
			idx := t % periods
			seasonalIndex[idx] += v / trendAtT
			counts[idx]++
		}
		for i := range seasonalIndex {
			if counts[i] > 0 {
				seasonalIndex[i] /= counts[i]
			} else {
				seasonalIndex[i] = 1
			}
		}
		// Normalize so the seasonal factors average to 1 and don't bias the level.
		avg := mean(seasonalIndex)
		if avg > 0 {
			for i := range seasonalIndex {
				seasonalIndex[i] /= avg
			}
		}
	}

	fittedVals := make([]float64, n)
	for t := range series {
		v := trendIntercept + trendSlope*float64(t)
		if useSeasonal {
			v *= seasonalIndex[t%periods]
		}
		fittedVals[t] = v
	}
	resid := make([]float64, n)
	for t := range series {
		resid[t] = series[t] - fittedVals[t]
	}
	sd := stddev(resid)

	p50 := make([]float64, horizon)
	std := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		t := n + h
		v := trendIntercept + trendSlope*float64(t)
		if useSeasonal {
			v *= seasonalIndex[t%periods]
		}
		p50[h] = v
		std[h] = sd
	}

	return fitted{p50: clampNonNegative(p50), std: std}, nil
}

// linearTrend fits y = intercept + slope*t by ordinary least squares over
// t = 0..len(series)-1.
func linearTrend(series []float64) (slope, intercept float64) {
	n := float64(len(series))
	var sumT, sumY, sumTY, sumTT float64
	for t, y := range series {
		tf := float64(t)
		sumT += tf
		sumY += y
		sumTY += tf * y
		sumTT += tf * tf
	}
	denom := n*sumTT - sumT*sumT
	if denom == 0 {
		return 0, mean(series)
	}
	slope = (n*sumTY - sumT*sumY) / denom
	intercept = (sumY - slope*sumT) / n
	return slope, intercept
}
