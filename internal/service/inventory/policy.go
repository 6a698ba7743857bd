// Package inventory computes per-product/location inventory policy
// parameters (EOQ, safety stock, reorder point, annual cost) from demand
// forecasts and cost assumptions.
package inventory

import "math"

// PeriodsPerYear is the number of demand periods in a year for a weekly
// forecast cadence, used to annualize per-period demand and holding cost.
const PeriodsPerYear = 52

// computeEOQ returns the economic order quantity sqrt(2*D*S/H), floored at
// 1 unit. demandAnnual is the annual demand rate, setupCost is the fixed
// cost per order (S), holdingCostAnnual is the holding cost per unit per
// year (H).
func computeEOQ(demandAnnual, setupCost, holdingCostAnnual float64) float64 {
	if holdingCostAnnual <= 0 || demandAnnual <= 0 {
		return math.Max(1.0, demandAnnual)
	}
	eoq := math.Sqrt(2 * demandAnnual * setupCost / holdingCostAnnual)
	return math.Max(1.0, round1(eoq))
}

// computeSafetyStock returns the safety stock for a target service level.
//
// Preserves a bug in the reference implementation: the lead-time-variance
// contribution should use the squared *mean* demand per period
// (mu_demand^2 * sigma_L^2), but both here and in the original it uses
// squared demand *standard deviation* instead. The bug is effectively
// dormant because every caller passes leadTimeStdPeriods=0 (lead time is
// treated as deterministic), so the erroneous term never actually
// contributes — see DESIGN.md for the Open Question decision to preserve
// rather than silently fix this.
func computeSafetyStock(demandStdPerPeriod, leadTimePeriods, serviceLevel, leadTimeStdPeriods float64) float64 {
	if leadTimePeriods <= 0 {
		return 0
	}
	z := invNormCDF(serviceLevel)

	varDemand := (demandStdPerPeriod * demandStdPerPeriod) * leadTimePeriods
	varLeadTime := (demandStdPerPeriod * demandStdPerPeriod) * (leadTimeStdPeriods * leadTimeStdPeriods)
	sigmaLT := math.Sqrt(varDemand + varLeadTime)

	return math.Max(0, round1(z*sigmaLT))
}

// computeROP returns the reorder point: mean demand during lead time plus
// safety stock.
func computeROP(demandMeanPerPeriod, leadTimePeriods, safetyStock float64) float64 {
	muLT := demandMeanPerPeriod * leadTimePeriods
	return math.Max(0, round1(muLT+safetyStock))
}

// annualCosts returns the ordering, holding, and total annual cost at EOQ.
func annualCosts(eoq, demandAnnual, setupCost, holdingCostAnnual float64) (ordering, holding, total float64) {
	if eoq <= 0 {
		return 0, 0, 0
	}
	ordering = round2((demandAnnual / eoq) * setupCost)
	holding = round2((eoq / 2) * holdingCostAnnual)
	return ordering, holding, round2(ordering + holding)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
