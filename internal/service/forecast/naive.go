package forecast

import "fmt"

// naiveModel repeats the last observed value for every future period. It is
// both the ultimate fallback when every other model fails to fit, and a
// legitimate contender in its own right for flat, low-signal series.
type naiveModel struct{}

func (naiveModel) name() string { return "naive" }

func (naiveModel) fit(series []float64, horizon int) (fitted, error) {
	if len(series) == 0 {
		return fitted{}, fmt.Errorf("op=forecast.naiveModel.fit: empty series")
	}
	last := series[len(series)-1]
	sd := stddev(series)
	p50 := make([]float64, horizon)
	std := make([]float64, horizon)
	for i := range p50 {
		p50[i] = last
		std[i] = sd
	}
	return fitted{p50: clampNonNegative(p50), std: std}, nil
}
