package control

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHorizonOptimizerSolve(t *testing.T) {
	t.Parallel()

	t.Run("equilibrium state yields near-zero actuation", func(t *testing.T) {
		t.Parallel()
		cfg := DefaultConfig()
		cfg.RefSpeed = 10
		cfg.WeightSteerRate = 0
		cfg.WeightAccelRate = 0
		ref := straightReference(t)

		// On the path, aligned, at reference speed: zero actuation is the
		// global optimum.
		state := VehicleState{Speed: cfg.RefSpeed}
		opt := NewHorizonOptimizer(cfg)

		sol, err := opt.Solve(context.Background(), state, ref, Actuation{})
		require.NoError(t, err)
		require.Len(t, sol.States, cfg.HorizonSteps)
		require.Len(t, sol.Actuations, cfg.HorizonSteps-1)

		first := sol.First()
		assert.InDelta(t, 0.0, first.Steer, 0.05)
		assert.InDelta(t, 0.0, first.Accel, 0.1)
	})

	t.Run("actuations always respect hard bounds", func(t *testing.T) {
		t.Parallel()
		cfg := DefaultConfig()
		cfg.RefSpeed = 30

		// Far off the path and slow: the solver wants large corrections.
		ref, err := FitReferencePolynomial(
			[]float64{0, 5, 10, 15, 20},
			[]float64{5, 5, 5, 5, 5}, 3)
		require.NoError(t, err)

		state := VehicleState{Speed: 5, CTE: 5}
		opt := NewHorizonOptimizer(cfg)

		sol, err := opt.Solve(context.Background(), state, ref, Actuation{})
		require.NoError(t, err)
		for _, act := range sol.Actuations {
			assert.LessOrEqual(t, act.Steer, cfg.MaxSteerRad+1e-9)
			assert.GreaterOrEqual(t, act.Steer, -cfg.MaxSteerRad-1e-9)
			assert.LessOrEqual(t, act.Accel, cfg.AccelMax+1e-9)
			assert.GreaterOrEqual(t, act.Accel, cfg.AccelMin-1e-9)
		}
	})

	t.Run("step zero state is pinned to the initial condition", func(t *testing.T) {
		t.Parallel()
		cfg := DefaultConfig()
		cfg.RefSpeed = 10
		ref := straightReference(t)

		state := VehicleState{X: 1.0, Speed: 10, CTE: -0.5, EPsi: 0.02}
		opt := NewHorizonOptimizer(cfg)

		sol, err := opt.Solve(context.Background(), state, ref, Actuation{})
		require.NoError(t, err)
		assert.InDelta(t, state.X, sol.States[0].X, 1e-9)
		assert.InDelta(t, state.Speed, sol.States[0].Speed, 1e-9)
		assert.InDelta(t, state.CTE, sol.States[0].CTE, 1e-9)
		assert.InDelta(t, state.EPsi, sol.States[0].EPsi, 1e-9)
	})

	t.Run("solution satisfies the dynamics between consecutive steps", func(t *testing.T) {
		t.Parallel()
		cfg := DefaultConfig()
		cfg.RefSpeed = 15
		ref := straightReference(t)

		state := VehicleState{Speed: 12, CTE: 0.5}
		opt := NewHorizonOptimizer(cfg)

		sol, err := opt.Solve(context.Background(), state, ref, Actuation{})
		require.NoError(t, err)
		for k := 0; k+1 < len(sol.States); k++ {
			pred := predictState(sol.States[k], sol.Actuations[k], cfg.StepSec, cfg.WheelbaseLf, ref)
			assert.InDelta(t, pred.X, sol.States[k+1].X, cfg.ConstraintTol)
			assert.InDelta(t, pred.Heading, sol.States[k+1].Heading, cfg.ConstraintTol)
			assert.InDelta(t, pred.Speed, sol.States[k+1].Speed, cfg.ConstraintTol)
			assert.InDelta(t, pred.CTE, sol.States[k+1].CTE, cfg.ConstraintTol)
		}
	})

	t.Run("exhausted budget reports divergence instead of garbage", func(t *testing.T) {
		t.Parallel()
		cfg := DefaultConfig()
		cfg.RefSpeed = 40
		cfg.SolverMaxEval = 2
		cfg.ConstraintTol = 1e-12
		ref := straightReference(t)

		state := VehicleState{Speed: 40}
		opt := NewHorizonOptimizer(cfg)

		_, err := opt.Solve(context.Background(), state, ref, Actuation{})
		assert.ErrorIs(t, err, ErrSolveDivergence)
	})

	t.Run("cancelled context aborts the solve", func(t *testing.T) {
		t.Parallel()
		cfg := DefaultConfig()
		ref := straightReference(t)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		opt := NewHorizonOptimizer(cfg)
		_, err := opt.Solve(ctx, VehicleState{Speed: 10}, ref, Actuation{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
