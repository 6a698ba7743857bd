// Package allocation runs the supplier/location allocation MILP: given a
// forecast run and an inventory policy run, it decides how many units of
// each product to source from which supplier into which location, balancing
// procurement, shipping, holding and stockout-penalty cost.
package allocation

import (
	"fmt"
	"math"
	"sort"

	"github.com/supplychainopt/decision-pipeline/internal/domain"
	"github.com/supplychainopt/decision-pipeline/internal/service/allocation/milp"
)

const (
	// shipCostFraction approximates shipping as a fraction of unit price
	// when no lane-specific shipping quote is available.
	shipCostFraction = 0.08
	// maxOffersPerProduct bounds how many of a product's cheapest supplier
	// offers enter the model, keeping each product's MILP small enough for
	// branch-and-bound to explore exhaustively.
	maxOffersPerProduct = 8
	// defaultMaxSuppliersPerProduct caps how many distinct suppliers may be
	// selected for a single product in one allocation run.
	defaultMaxSuppliersPerProduct = 3
	// bigMCapacity upper-bounds a supplier's per-product allocation when no
	// tighter capacity figure is known.
	bigMCapacity = 1_000_000
	// defaultHoldingCost and defaultPenalty are used when a location has no
	// configured CostParameter for the product.
	defaultHoldingCost = 0.5
	defaultPenalty     = 10.0
)

// productSolution is one product's allocation result plus bookkeeping used
// to roll up the run-level summary.
type productSolution struct {
	status        milp.Status
	allocations   []domain.OptimisationAllocation
	costBreakdown map[string]float64
	bindingNames  []string
	totalCost     float64
}

// solveProduct builds and solves the MILP for a single product across all
// locations, given its candidate supplier offers (already the cheapest
// maxOffersPerProduct), per-location demand, cost parameters and safety
// stock requirements.
func solveProduct(
	product domain.Product,
	locations []domain.Location,
	offers []domain.SupplierOffer,
	demandByLocation map[string]float64,
	costByLocation map[string]domain.CostParameter,
	safetyStockByLocation map[string]float64,
	maxSuppliersPerProduct int,
) productSolution {
	if len(offers) > maxOffersPerProduct {
		sorted := append([]domain.SupplierOffer(nil), offers...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })
		offers = sorted[:maxOffersPerProduct]
	}

	m := milp.NewModel()

	type xKey struct {
		supplierID, locationID string
	}
	x := make(map[xKey]int)
	y := make(map[string]int) // supplierID -> var index
	inv := make(map[string]int)
	bo := make(map[string]int)

	for _, offer := range offers {
		for _, loc := range locations {
			idx := m.AddVar(fmt.Sprintf("x_%s_%s_%s", product.ID, offer.SupplierID, loc.ID), milp.Continuous, 0, math.Inf(1))
			x[xKey{offer.SupplierID, loc.ID}] = idx
		}
		y[offer.SupplierID] = m.AddVar(fmt.Sprintf("y_%s_%s", product.ID, offer.SupplierID), milp.Binary, 0, 1)
	}
	for _, loc := range locations {
		inv[loc.ID] = m.AddVar(fmt.Sprintf("inv_%s_%s", product.ID, loc.ID), milp.Continuous, 0, math.Inf(1))
		bo[loc.ID] = m.AddVar(fmt.Sprintf("bo_%s_%s", product.ID, loc.ID), milp.Continuous, 0, math.Inf(1))
	}

	// Objective: procurement + shipping per unit shipped, plus holding and
	// backorder-penalty cost on the ending inventory/backorder levels.
	for _, offer := range offers {
		procCost := offer.Price
		shipCost := offer.Price * shipCostFraction
		for _, loc := range locations {
			m.SetObjectiveCoeff(x[xKey{offer.SupplierID, loc.ID}], procCost+shipCost)
		}
	}
	for _, loc := range locations {
		cp, ok := costByLocation[loc.ID]
		h, p := defaultHoldingCost, defaultPenalty
		if ok {
			h = cp.HoldingCostPerUnit
			p = cp.BackorderPenaltyPerUnit
			if p == 0 {
				p = defaultPenalty
			}
		}
		m.SetObjectiveCoeff(inv[loc.ID], h)
		m.SetObjectiveCoeff(bo[loc.ID], p)
	}

	// Demand satisfaction and safety stock per location.
	for _, loc := range locations {
		inflowCoeffs := make(map[int]float64)
		for _, offer := range offers {
			inflowCoeffs[x[xKey{offer.SupplierID, loc.ID}]] = 1
		}

		// bo enters additively: a backorder is an accepted, penalized way to
		// meet demand, not a subtraction from supply (see DESIGN.md for why
		// the reference's subtractive sign on bo was not kept).
		demandCoeffs := cloneCoeffs(inflowCoeffs)
		demandCoeffs[inv[loc.ID]] = 1
		demandCoeffs[bo[loc.ID]] = 1
		d := demandByLocation[loc.ID]
		m.AddConstraint("demand_"+product.ID+"_"+loc.ID, demandCoeffs, milp.GE, d)

		// Ending inventory cannot exceed this period's inbound shipments:
		// there is no prior on-hand balance in this single-period model, so
		// without this bound inv could satisfy demand at its (much cheaper)
		// holding-cost rate without any product ever being procured.
		invBoundCoeffs := cloneCoeffs(inflowCoeffs)
		invBoundCoeffs[inv[loc.ID]] = -1
		m.AddConstraint("inv_inflow_bound_"+product.ID+"_"+loc.ID, invBoundCoeffs, milp.GE, 0)

		ss := safetyStockByLocation[loc.ID]
		if ss > 0 {
			m.AddConstraint("safety_stock_"+product.ID+"_"+loc.ID, map[int]float64{inv[loc.ID]: 1}, milp.GE, ss)
		}
	}

	// Supplier capacity, MOQ and big-M linking.
	var supplierBinaries []int
	for _, offer := range offers {
		coeffs := make(map[int]float64)
		for _, loc := range locations {
			coeffs[x[xKey{offer.SupplierID, loc.ID}]] = 1
		}
		cap := float64(offer.CapacityUnits)
		if cap <= 0 {
			cap = bigMCapacity
		}
		capCoeffs := cloneCoeffs(coeffs)
		capCoeffs[y[offer.SupplierID]] = -cap
		m.AddConstraint("capacity_"+product.ID+"_"+offer.SupplierID, capCoeffs, milp.LE, 0)

		moq := float64(offer.MOQ)
		moqCoeffs := cloneCoeffs(coeffs)
		moqCoeffs[y[offer.SupplierID]] = -moq
		m.AddConstraint("moq_"+product.ID+"_"+offer.SupplierID, moqCoeffs, milp.GE, 0)

		bigM := cap
		if bigM > bigMCapacity {
			bigM = bigMCapacity
		}
		bigMCoeffs := cloneCoeffs(coeffs)
		bigMCoeffs[y[offer.SupplierID]] = -bigM
		m.AddConstraint("bigm_"+product.ID+"_"+offer.SupplierID, bigMCoeffs, milp.LE, 0)

		supplierBinaries = append(supplierBinaries, y[offer.SupplierID])
	}

	if len(supplierBinaries) > 0 {
		coeffs := make(map[int]float64, len(supplierBinaries))
		for _, idx := range supplierBinaries {
			coeffs[idx] = 1
		}
		m.AddConstraint("max_suppliers_"+product.ID, coeffs, milp.LE, float64(maxSuppliersPerProduct))
	}

	sol := m.Solve(milp.SolveOptions{GapRel: 0.02})

	out := productSolution{status: sol.Status, costBreakdown: map[string]float64{
		"procurement": 0, "shipping": 0, "holding": 0, "penalty": 0,
	}}
	if sol.Status != milp.StatusOptimal {
		return out
	}

	for _, offer := range offers {
		for _, loc := range locations {
			qty := sol.Values[x[xKey{offer.SupplierID, loc.ID}]]
			if qty <= 0.5 {
				continue
			}
			proc := offer.Price * qty
			ship := offer.Price * shipCostFraction * qty
			out.allocations = append(out.allocations, domain.OptimisationAllocation{
				ProductID:  product.ID,
				SupplierID: offer.SupplierID,
				LocationID: loc.ID,
				Quantity:   round1(qty),
				UnitCost:   offer.Price,
				TotalCost:  round2(proc + ship),
			})
			out.costBreakdown["procurement"] += proc
			out.costBreakdown["shipping"] += ship
		}
	}
	for _, loc := range locations {
		cp, ok := costByLocation[loc.ID]
		h, p := defaultHoldingCost, defaultPenalty
		if ok {
			h = cp.HoldingCostPerUnit
			if cp.BackorderPenaltyPerUnit != 0 {
				p = cp.BackorderPenaltyPerUnit
			}
		}
		out.costBreakdown["holding"] += h * sol.Values[inv[loc.ID]]
		out.costBreakdown["penalty"] += p * sol.Values[bo[loc.ID]]
	}
	for k, v := range out.costBreakdown {
		out.costBreakdown[k] = round2(v)
	}
	out.totalCost = sol.Objective
	out.bindingNames = m.BindingConstraints(sol, 1e-4)

	return out
}

func cloneCoeffs(m map[int]float64) map[int]float64 {
	out := make(map[int]float64, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func round1(v float64) float64 { return roundTo(v, 1) }
func round2(v float64) float64 { return roundTo(v, 2) }

func roundTo(v float64, places int) float64 {
	p := 1.0
	for i := 0; i < places; i++ {
		p *= 10
	}
	return float64(int64(v*p+0.5)) / p
}
