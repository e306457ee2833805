package control

import (
	"context"
	"math"

	"github.com/go-nlopt/nlopt"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// stateBound is the box given to state variables; effectively unconstrained
// for anything a road vehicle can reach inside a short horizon.
const stateBound = 1.0e19

// jacobianJump is the forward-difference step for the constraint Jacobian.
const jacobianJump = 1e-7

// HorizonOptimizer solves the receding-horizon program: a flat decision
// vector of N states and N-1 actuations, the kinematic bicycle dynamics as
// equality constraints between consecutive steps, hard actuator bounds, and
// a weighted quadratic tracking cost. Solved with SLSQP; the caller applies
// only the first actuation and re-solves fresh next cycle.
//
// Decision vector layout, in blocks:
//
//	[ x_0..x_{N-1} | y | psi | v | cte | epsi | delta_0..delta_{N-2} | a ]
type HorizonOptimizer struct {
	cfg Config

	n      int // horizon steps
	numVar int

	// block offsets into the decision vector
	xs, ys, psis, vs, ctes, epsis int
	deltas, accs                  int
}

// NewHorizonOptimizer lays out the decision vector for the configured
// horizon. The returned optimizer is stateless between solves; one instance
// belongs to one session.
func NewHorizonOptimizer(cfg Config) *HorizonOptimizer {
	n := cfg.HorizonSteps
	o := &HorizonOptimizer{
		cfg:    cfg,
		n:      n,
		numVar: 6*n + 2*(n-1),
	}
	o.xs = 0
	o.ys = n
	o.psis = 2 * n
	o.vs = 3 * n
	o.ctes = 4 * n
	o.epsis = 5 * n
	o.deltas = 6 * n
	o.accs = 6*n + (n - 1)
	return o
}

type solveResult struct {
	vars []float64
	cost float64
	err  error
}

// Solve runs one constrained solve from the latency-compensated state
// against the cycle's reference polynomial. A cancelled context force-stops
// the solver and the partial result is discarded.
func (o *HorizonOptimizer) Solve(ctx context.Context, initial VehicleState, ref Polynomial, warm Actuation) (HorizonSolution, error) {
	opt, err := nlopt.NewNLopt(nlopt.LD_SLSQP, uint(o.numVar))
	if err != nil {
		return HorizonSolution{}, errors.Wrap(err, "nlopt creation error")
	}
	defer opt.Destroy()

	lower, upper := o.bounds(initial)
	seed := o.seed(initial, warm)

	err = multierr.Combine(
		opt.SetLowerBounds(lower),
		opt.SetUpperBounds(upper),
		opt.SetMinObjective(o.objective),
		opt.AddEqualityMConstraint(func(result, x, gradient []float64) {
			o.dynamicsResiduals(result, x, ref)
			if len(gradient) > 0 {
				o.dynamicsJacobian(result, x, gradient, ref)
			}
		}, o.constraintTols()),
		opt.SetFtolRel(o.cfg.SolverTol),
		opt.SetXtolRel(o.cfg.SolverTol),
		opt.SetMaxEval(o.cfg.SolverMaxEval),
		opt.SetMaxTime(o.cfg.SolverMaxTime),
	)
	if err != nil {
		return HorizonSolution{}, errors.Wrap(err, "nlopt setup error")
	}

	resCh := make(chan solveResult, 1)
	go func() {
		vars, cost, optErr := opt.Optimize(seed)
		resCh <- solveResult{vars: vars, cost: cost, err: optErr}
	}()

	var res solveResult
	select {
	case <-ctx.Done():
		_ = opt.ForceStop()
		<-resCh
		return HorizonSolution{}, ctx.Err()
	case res = <-resCh:
	}

	if res.err != nil {
		return HorizonSolution{}, errors.Wrap(ErrSolveDivergence, res.err.Error())
	}
	return o.extract(res.vars, res.cost, ref)
}

// bounds builds the variable box: states effectively free, actuators hard
// limited, and the step-0 state pinned to the initial condition by equal
// lower and upper bounds.
func (o *HorizonOptimizer) bounds(initial VehicleState) ([]float64, []float64) {
	lower := make([]float64, o.numVar)
	upper := make([]float64, o.numVar)
	for i := 0; i < 6*o.n; i++ {
		lower[i] = -stateBound
		upper[i] = stateBound
	}
	for k := 0; k < o.n-1; k++ {
		lower[o.deltas+k] = -o.cfg.MaxSteerRad
		upper[o.deltas+k] = o.cfg.MaxSteerRad
		lower[o.accs+k] = o.cfg.AccelMin
		upper[o.accs+k] = o.cfg.AccelMax
	}
	pin := func(idx int, v float64) {
		lower[idx] = v
		upper[idx] = v
	}
	pin(o.xs, initial.X)
	pin(o.ys, initial.Y)
	pin(o.psis, initial.Heading)
	pin(o.vs, initial.Speed)
	pin(o.ctes, initial.CTE)
	pin(o.epsis, initial.EPsi)
	return lower, upper
}

// seed replicates the initial state across the horizon and warm-starts the
// actuation blocks from the last command.
func (o *HorizonOptimizer) seed(initial VehicleState, warm Actuation) []float64 {
	seed := make([]float64, o.numVar)
	for k := 0; k < o.n; k++ {
		seed[o.xs+k] = initial.X
		seed[o.ys+k] = initial.Y
		seed[o.psis+k] = initial.Heading
		seed[o.vs+k] = initial.Speed
		seed[o.ctes+k] = initial.CTE
		seed[o.epsis+k] = initial.EPsi
	}
	warmSteer := clampFloat(warm.Steer, -o.cfg.MaxSteerRad, o.cfg.MaxSteerRad)
	warmAccel := clampFloat(warm.Accel, o.cfg.AccelMin, o.cfg.AccelMax)
	for k := 0; k < o.n-1; k++ {
		seed[o.deltas+k] = warmSteer
		seed[o.accs+k] = warmAccel
	}
	return seed
}

func (o *HorizonOptimizer) constraintTols() []float64 {
	tols := make([]float64, 6*(o.n-1))
	for i := range tols {
		tols[i] = o.cfg.ConstraintTol / 10
	}
	return tols
}

// objective is the weighted quadratic tracking cost with its analytic
// gradient. Every term is a plain square, so the partials are exact.
func (o *HorizonOptimizer) objective(x, gradient []float64) float64 {
	c := o.cfg
	cost := 0.0
	if len(gradient) > 0 {
		for i := range gradient {
			gradient[i] = 0
		}
	}

	for k := 0; k < o.n; k++ {
		cte := x[o.ctes+k]
		epsi := x[o.epsis+k]
		dv := x[o.vs+k] - c.RefSpeed
		cost += c.WeightCTE*cte*cte + c.WeightEPsi*epsi*epsi + c.WeightSpeed*dv*dv
		if len(gradient) > 0 {
			gradient[o.ctes+k] += 2 * c.WeightCTE * cte
			gradient[o.epsis+k] += 2 * c.WeightEPsi * epsi
			gradient[o.vs+k] += 2 * c.WeightSpeed * dv
		}
	}

	for k := 0; k < o.n-1; k++ {
		d := x[o.deltas+k]
		a := x[o.accs+k]
		cost += c.WeightSteer*d*d + c.WeightAccel*a*a
		if len(gradient) > 0 {
			gradient[o.deltas+k] += 2 * c.WeightSteer * d
			gradient[o.accs+k] += 2 * c.WeightAccel * a
		}
	}

	for k := 0; k < o.n-2; k++ {
		dd := x[o.deltas+k+1] - x[o.deltas+k]
		da := x[o.accs+k+1] - x[o.accs+k]
		cost += c.WeightSteerRate*dd*dd + c.WeightAccelRate*da*da
		if len(gradient) > 0 {
			gradient[o.deltas+k+1] += 2 * c.WeightSteerRate * dd
			gradient[o.deltas+k] -= 2 * c.WeightSteerRate * dd
			gradient[o.accs+k+1] += 2 * c.WeightAccelRate * da
			gradient[o.accs+k] -= 2 * c.WeightAccelRate * da
		}
	}

	return cost
}

// dynamicsResiduals fills result with the 6(N-1) equality residuals: the
// difference between each decision state and the bicycle-model prediction
// from its predecessor.
func (o *HorizonOptimizer) dynamicsResiduals(result, x []float64, ref Polynomial) {
	for k := 0; k < o.n-1; k++ {
		s := o.stateAt(x, k)
		act := Actuation{Steer: x[o.deltas+k], Accel: x[o.accs+k]}
		pred := predictState(s, act, o.cfg.StepSec, o.cfg.WheelbaseLf, ref)
		next := o.stateAt(x, k+1)

		base := 6 * k
		result[base+0] = next.X - pred.X
		result[base+1] = next.Y - pred.Y
		result[base+2] = next.Heading - pred.Heading
		result[base+3] = next.Speed - pred.Speed
		result[base+4] = next.CTE - pred.CTE
		result[base+5] = next.EPsi - pred.EPsi
	}
}

// dynamicsJacobian fills the flattened m×n Jacobian by forward differences,
// one column per decision variable. base holds the unperturbed residuals.
func (o *HorizonOptimizer) dynamicsJacobian(base, x, gradient []float64, ref Polynomial) {
	m := 6 * (o.n - 1)
	perturbed := make([]float64, m)
	for j := 0; j < o.numVar; j++ {
		orig := x[j]
		x[j] = orig + jacobianJump
		o.dynamicsResiduals(perturbed, x, ref)
		x[j] = orig
		for i := 0; i < m; i++ {
			gradient[i*o.numVar+j] = (perturbed[i] - base[i]) / jacobianJump
		}
	}
}

func (o *HorizonOptimizer) stateAt(x []float64, k int) VehicleState {
	return VehicleState{
		X:       x[o.xs+k],
		Y:       x[o.ys+k],
		Heading: x[o.psis+k],
		Speed:   x[o.vs+k],
		CTE:     x[o.ctes+k],
		EPsi:    x[o.epsis+k],
	}
}

// extract validates the raw solve output and reshapes it into a
// HorizonSolution. A budget-exhausted solve that left the dynamics violated
// counts as divergence, never as a command.
func (o *HorizonOptimizer) extract(vars []float64, cost float64, ref Polynomial) (HorizonSolution, error) {
	if len(vars) != o.numVar {
		return HorizonSolution{}, ErrSolveDivergence
	}
	for _, v := range vars {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return HorizonSolution{}, ErrSolveDivergence
		}
	}

	residuals := make([]float64, 6*(o.n-1))
	o.dynamicsResiduals(residuals, vars, ref)
	for _, r := range residuals {
		if math.Abs(r) > o.cfg.ConstraintTol {
			return HorizonSolution{}, errors.Wrapf(ErrSolveDivergence,
				"dynamics residual %.4g above tolerance %.4g", r, o.cfg.ConstraintTol)
		}
	}

	sol := HorizonSolution{
		States:     make([]VehicleState, o.n),
		Actuations: make([]Actuation, o.n-1),
		Cost:       cost,
	}
	for k := 0; k < o.n; k++ {
		sol.States[k] = o.stateAt(vars, k)
	}
	for k := 0; k < o.n-1; k++ {
		sol.Actuations[k] = Actuation{Steer: vars[o.deltas+k], Accel: vars[o.accs+k]}
	}
	return sol, nil
}
