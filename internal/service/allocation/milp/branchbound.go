package milp

import (
	"math"
	"time"
)

// Status is the outcome of a Solve call.
type Status int

const (
	StatusOptimal Status = iota
	StatusInfeasible
	StatusNotSolved
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	default:
		return "not_solved"
	}
}

// Solution is the result of Solve: the objective value and one value per
// variable index, valid only when Status is StatusOptimal.
type Solution struct {
	Status    Status
	Objective float64
	Values    []float64
}

// SolveOptions bounds the branch-and-bound search.
type SolveOptions struct {
	// TimeLimit stops the search early and returns the best incumbent found
	// so far (StatusOptimal if one exists, StatusNotSolved otherwise). Zero
	// means no limit.
	TimeLimit time.Duration
	// GapRel accepts an incumbent once its objective is within this
	// fraction of the relaxation's lower bound, mirroring the 2% default
	// optimality gap used by the CBC solver this replaces.
	GapRel float64
}

// Solve runs branch-and-bound over the model's binary variables, using the
// simplex LP relaxation as the bounding function at each node. Continuous
// variables never branch, so the search tree has at most 2^(#binaries)
// leaves; for the small per-product subproblems this model is built for,
// that is tractable.
func (m *Model) Solve(opts SolveOptions) Solution {
	if opts.GapRel <= 0 {
		opts.GapRel = 0.02
	}
	deadline := time.Time{}
	if opts.TimeLimit > 0 {
		deadline = time.Now().Add(opts.TimeLimit)
	}

	root := newBoundsFromModel(m)
	rootRelax := solveRelaxation(m, root)
	if rootRelax.status == lpInfeasible {
		return Solution{Status: StatusInfeasible}
	}

	best := Solution{Status: StatusNotSolved}
	bestObj := math.Inf(1)

	type node struct{ b bounds }
	stack := []node{{b: root}}

	for len(stack) > 0 {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		relax := solveRelaxation(m, n.b)
		if relax.status != lpOptimal {
			continue
		}
		// Prune once the relaxation can no longer beat the incumbent by more
		// than the accepted optimality gap, mirroring the 2% gapRel the
		// reference implementation configures on its CBC solver.
		if relax.obj >= bestObj*(1-opts.GapRel)-simplexEpsilon {
			continue
		}

		branchVar := mostFractionalBinary(m, relax.x)
		if branchVar == -1 {
			// Integral (or no binaries left to branch): candidate incumbent.
			bestObj = relax.obj
			best = Solution{Status: StatusOptimal, Objective: relax.obj, Values: relax.x}
			continue
		}

		loB := cloneBounds(n.b)
		loB.lb[branchVar], loB.ub[branchVar] = 0, 0
		hiB := cloneBounds(n.b)
		hiB.lb[branchVar], hiB.ub[branchVar] = 1, 1
		stack = append(stack, node{b: loB}, node{b: hiB})
	}

	return best
}

func cloneBounds(b bounds) bounds {
	lb := make([]float64, len(b.lb))
	ub := make([]float64, len(b.ub))
	copy(lb, b.lb)
	copy(ub, b.ub)
	return bounds{lb: lb, ub: ub}
}

// mostFractionalBinary returns the index of the binary variable whose
// relaxed value is farthest from 0 or 1, or -1 if all binaries are already
// integral within tolerance.
func mostFractionalBinary(m *Model, x []float64) int {
	best := -1
	bestDist := simplexEpsilon
	for i, v := range m.vars {
		if v.kind != Binary {
			continue
		}
		frac := x[i] - math.Floor(x[i])
		dist := math.Min(frac, 1-frac)
		if dist > bestDist {
			bestDist = dist
			best = i
		}
	}
	return best
}
