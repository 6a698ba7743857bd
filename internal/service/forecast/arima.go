package forecast

import (
	"fmt"
	"math"
)

// arimaModel approximates ARIMA(p,d,0) (autoregression on a d-times
// differenced series), selected by grid search over p in [0,2] and d in
// [0,1] scored by in-sample AIC, the same selection criterion the reference
// implementation uses.
//
// This intentionally drops the moving-average (q) term and the statsmodels
// MLE fitting procedure: there is no pure-Go ARIMA/Kalman-filter library in
// the example corpus to ground a faithful port on, so the model is narrowed
// to plain autoregression fit by ordinary least squares, which is the
// standard idiomatic-Go substitute for small grid-searched AR models (see
// DESIGN.md).
type arimaModel struct{}

func (arimaModel) name() string { return "arima" }

func (arimaModel) fit(series []float64, horizon int) (fitted, error) {
	if len(series) < 8 {
		return fitted{}, fmt.Errorf("op=forecast.arimaModel.fit: series too short")
	}

	type candidate struct {
		p, d int
		aic  float64
		coef []float64
		c    float64
	}

	var best *candidate
	for d := 0; d <= 1; d++ {
		diffed := difference(series, d)
		if len(diffed) < 6 {
			continue
		}
		for p := 0; p <= 2; p++ {
			coef, c, resid, err := fitAR(diffed, p)
			if err != nil {
				continue
			}
			aic := aicFromResiduals(resid, p+1)
			if best == nil || aic < best.aic {
				best = &candidate{p: p, d: d, aic: aic, coef: coef, c: c}
			}
		}
	}
	if best == nil {
		return fitted{}, fmt.Errorf("op=forecast.arimaModel.fit: no order converged")
	}

	diffed := difference(series, best.d)
	forecastDiffed := forecastAR(diffed, best.coef, best.c, horizon)
	p50 := integrateForecast(series, best.d, forecastDiffed)

	resid := residualsAR(diffed, best.coef, best.c)
	sd := stddev(resid)
	std := make([]float64, horizon)
	for i := range std {
		// Uncertainty compounds with step distance under an AR random walk, an
		// approximation of the reference's widening confidence interval.
		std[i] = sd * math.Sqrt(float64(i+1))
	}

	return fitted{p50: clampNonNegative(p50), std: std}, nil
}

func difference(series []float64, d int) []float64 {
	out := series
	for i := 0; i < d; i++ {
		next := make([]float64, len(out)-1)
		for j := 1; j < len(out); j++ {
			next[j-1] = out[j] - out[j-1]
		}
		out = next
	}
	return out
}

// fitAR fits y_t = c + sum(coef_i * y_{t-i}) + e_t by ordinary least squares.
func fitAR(series []float64, p int) (coef []float64, intercept float64, resid []float64, err error) {
	n := len(series)
	if p == 0 {
		m := mean(series)
		resid = make([]float64, n)
		for i, v := range series {
			resid[i] = v - m
		}
		return nil, m, resid, nil
	}
	if n <= p+1 {
		return nil, 0, nil, fmt.Errorf("insufficient observations for p=%d", p)
	}

	rows := n - p
	// Design matrix X (rows x (p+1)), first column is the intercept.
	X := make([][]float64, rows)
	y := make([]float64, rows)
	for i := 0; i < rows; i++ {
		t := i + p
		X[i] = make([]float64, p+1)
		X[i][0] = 1
		for lag := 1; lag <= p; lag++ {
			X[i][lag] = series[t-lag]
		}
		y[i] = series[t]
	}

	beta, err := olsSolve(X, y)
	if err != nil {
		return nil, 0, nil, err
	}

	resid = make([]float64, rows)
	for i := 0; i < rows; i++ {
		pred := beta[0]
		for lag := 1; lag <= p; lag++ {
			pred += beta[lag] * X[i][lag]
		}
		resid[i] = y[i] - pred
	}
	return beta[1:], beta[0], resid, nil
}

func residualsAR(series []float64, coef []float64, intercept float64) []float64 {
	p := len(coef)
	if len(series) <= p {
		return []float64{0}
	}
	resid := make([]float64, 0, len(series)-p)
	for t := p; t < len(series); t++ {
		pred := intercept
		for lag := 1; lag <= p; lag++ {
			pred += coef[lag-1] * series[t-lag]
		}
		resid = append(resid, series[t]-pred)
	}
	return resid
}

func forecastAR(series []float64, coef []float64, intercept float64, horizon int) []float64 {
	p := len(coef)
	history := append([]float64{}, series...)
	out := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		pred := intercept
		for lag := 1; lag <= p; lag++ {
			idx := len(history) - lag
			if idx < 0 {
				pred += 0
				continue
			}
			pred += coef[lag-1] * history[idx]
		}
		out[h] = pred
		history = append(history, pred)
	}
	return out
}

// integrateForecast reverses differencing of order d, anchoring the
// cumulative sum at the tail of the original series.
func integrateForecast(original []float64, d int, diffedForecast []float64) []float64 {
	if d == 0 {
		return diffedForecast
	}
	// Single integration is sufficient for d in {0,1} as used by this model.
	last := original[len(original)-1]
	out := make([]float64, len(diffedForecast))
	cum := last
	for i, v := range diffedForecast {
		cum += v
		out[i] = cum
	}
	return out
}

func aicFromResiduals(resid []float64, numParams int) float64 {
	n := float64(len(resid))
	if n == 0 {
		return math.Inf(1)
	}
	var sse float64
	for _, r := range resid {
		sse += r * r
	}
	if sse <= 0 {
		sse = 1e-9
	}
	return n*math.Log(sse/n) + 2*float64(numParams)
}

// olsSolve solves the normal equations (X^T X) beta = X^T y via Gaussian
// elimination with partial pivoting. Matrices here are tiny (at most 3x3
// for p<=2), so this avoids pulling in a linear-algebra dependency for a
// problem size where stdlib arithmetic is both correct and idiomatic.
func olsSolve(X [][]float64, y []float64) ([]float64, error) {
	k := len(X[0])
	xtx := make([][]float64, k)
	xty := make([]float64, k)
	for i := 0; i < k; i++ {
		xtx[i] = make([]float64, k)
		for j := 0; j < k; j++ {
			var s float64
			for r := range X {
				s += X[r][i] * X[r][j]
			}
			xtx[i][j] = s
		}
		var s float64
		for r := range X {
			s += X[r][i] * y[r]
		}
		xty[i] = s
	}
	return gaussianSolve(xtx, xty)
}

func gaussianSolve(a [][]float64, b []float64) ([]float64, error) {
	n := len(a)
	aug := make([][]float64, n)
	for i := range a {
		aug[i] = append(append([]float64{}, a[i]...), b[i])
	}

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[pivot][col]) {
				pivot = r
			}
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]
		if math.Abs(aug[col][col]) < 1e-12 {
			return nil, fmt.Errorf("singular matrix")
		}
		for r := col + 1; r < n; r++ {
			factor := aug[r][col] / aug[col][col]
			for c := col; c <= n; c++ {
				aug[r][c] -= factor * aug[col][c]
			}
		}
	}

	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := aug[i][n]
		for j := i + 1; j < n; j++ {
			sum -= aug[i][j] * x[j]
		}
		x[i] = sum / aug[i][i]
	}
	return x, nil
}
