// Package milp implements a small mixed-integer linear programming solver:
// a dense-tableau simplex relaxation wrapped in branch-and-bound over binary
// variables. It exists because none of the example repos in this module's
// lineage import an LP/MILP library (PuLP/CBC has no Go equivalent in the
// corpus); the API shape mirrors a minimal PuLP-style model builder so the
// caller can describe variables, constraints and an objective directly.
package milp

import (
	"fmt"
	"math"
)

// Kind distinguishes continuous from binary decision variables. The solver
// does not support general integer variables, only {0,1}, since that is all
// the allocation model needs.
type Kind int

const (
	Continuous Kind = iota
	Binary
)

// Sense is the relational operator of a constraint's left-hand side against
// its right-hand side.
type Sense int

const (
	LE Sense = iota
	GE
	EQ
)

type variable struct {
	name string
	kind Kind
	lb   float64
	ub   float64 // +Inf means unbounded above
}

type constraint struct {
	name   string
	coeffs map[int]float64
	sense  Sense
	rhs    float64
}

// Model is a mutable MILP builder: add variables, add constraints referencing
// them by index, set the (minimized) objective, then Solve.
type Model struct {
	vars        []variable
	constraints []constraint
	objective   map[int]float64
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{objective: make(map[int]float64)}
}

// AddVar registers a decision variable and returns its index for use in
// constraints and the objective. ub may be math.Inf(1) for no upper bound.
// Binary variables ignore lb/ub and are always bounded to [0,1].
func (m *Model) AddVar(name string, kind Kind, lb, ub float64) int {
	if kind == Binary {
		lb, ub = 0, 1
	}
	m.vars = append(m.vars, variable{name: name, kind: kind, lb: lb, ub: ub})
	return len(m.vars) - 1
}

// AddConstraint adds a linear constraint sum(coeffs[i]*x_i) <sense> rhs.
func (m *Model) AddConstraint(name string, coeffs map[int]float64, sense Sense, rhs float64) {
	cp := make(map[int]float64, len(coeffs))
	for k, v := range coeffs {
		if v != 0 {
			cp[k] = v
		}
	}
	m.constraints = append(m.constraints, constraint{name: name, coeffs: cp, sense: sense, rhs: rhs})
}

// SetObjectiveCoeff sets the coefficient of varIdx in the (minimized)
// objective function. Calling it again for the same index overwrites.
func (m *Model) SetObjectiveCoeff(varIdx int, coeff float64) {
	if varIdx < 0 || varIdx >= len(m.vars) {
		return
	}
	m.objective[varIdx] = coeff
}

func (m *Model) numVars() int { return len(m.vars) }

func (m *Model) varName(i int) string {
	if i < 0 || i >= len(m.vars) {
		return fmt.Sprintf("x%d", i)
	}
	return m.vars[i].name
}

// BindingConstraints returns the names of constraints whose left-hand side
// equals its right-hand side (within tol) at the given solution, i.e. those
// with zero slack. Unnamed constraints are skipped.
func (m *Model) BindingConstraints(sol Solution, tol float64) []string {
	if sol.Status != StatusOptimal {
		return nil
	}
	var names []string
	for _, c := range m.constraints {
		if c.name == "" {
			continue
		}
		lhs := 0.0
		for vi, coeff := range c.coeffs {
			if vi < len(sol.Values) {
				lhs += coeff * sol.Values[vi]
			}
		}
		if math.Abs(lhs-c.rhs) < tol {
			names = append(names, c.name)
		}
	}
	return names
}
