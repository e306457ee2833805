package control

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Controller runs the full pipeline once per telemetry update: transform,
// fit, latency compensation, horizon solve, first-step extraction. The last
// commanded actuation is the only state carried across cycles; it seeds the
// next latency compensation and backs the fail-safe path. One Controller
// belongs to one session and is not safe for concurrent cycles — sessions
// never share one.
type Controller struct {
	cfg Config
	opt *HorizonOptimizer
	log *zap.SugaredLogger

	last        Actuation
	havePrimed  bool
	divergences int // consecutive failed solves
	diag        CycleDiagnostics
}

// CycleDiagnostics captures the most recent cycle for logging and recording.
type CycleDiagnostics struct {
	Speed       float64
	CTE         float64
	EPsi        float64
	Cost        float64
	Divergences int
}

// NewController builds a controller for one vehicle session.
func NewController(cfg Config, log *zap.SugaredLogger) *Controller {
	return &Controller{
		cfg: cfg,
		opt: NewHorizonOptimizer(cfg),
		log: log,
	}
}

// LastActuation returns the most recent commanded actuation (steer in
// radians).
func (c *Controller) LastActuation() Actuation {
	return c.last
}

// GetDiagnostics returns the most recent cycle's internal state for
// monitoring.
func (c *Controller) GetDiagnostics() CycleDiagnostics {
	return c.diag
}

// RunCycle executes one control cycle. On transform or fit failure it
// re-emits the last-known-good actuation unchanged along with the error; the
// session stays alive. On solver divergence the fallback ladder applies:
// hold the last actuation for one cycle, then command a bounded deceleration
// while divergence persists. A cancelled context returns no command at all.
func (c *Controller) RunCycle(ctx context.Context, tel Telemetry) (Command, error) {
	// The first cycle has no carried actuation; trust what the vehicle
	// reports it last executed.
	if !c.havePrimed {
		c.last = Actuation{Steer: tel.LastSteer, Accel: tel.LastAccel}
		c.havePrimed = true
	}

	lx, ly, err := TransformToVehicleFrame(tel.Pose, tel.WaypointsX, tel.WaypointsY)
	if err != nil {
		return c.holdCommand(), errors.Wrap(err, "waypoint transform")
	}

	ref, err := FitReferencePolynomial(lx, ly, c.cfg.FitDegree)
	if err != nil {
		return c.holdCommand(), errors.Wrap(err, "reference fit")
	}

	state := CompensateLatency(tel.Speed, c.last, ref, c.cfg)
	c.diag = CycleDiagnostics{Speed: state.Speed, CTE: state.CTE, EPsi: state.EPsi}

	sol, err := c.opt.Solve(ctx, state, ref, c.last)
	if err != nil {
		if ctx.Err() != nil {
			// Session went away mid-solve; discard, send nothing.
			return Command{}, ctx.Err()
		}
		cmd := c.divergedCommand()
		c.diag.Divergences = c.divergences
		return cmd, errors.Wrap(err, "horizon solve")
	}
	c.divergences = 0
	c.diag.Cost = sol.Cost

	act := sol.First()
	c.last = act

	cmd := Command{
		Steer:    c.normalizeSteer(act.Steer),
		Throttle: clampFloat(act.Accel, c.cfg.AccelMin, c.cfg.AccelMax),
	}
	for _, s := range sol.States {
		cmd.PredictedX = append(cmd.PredictedX, s.X)
		cmd.PredictedY = append(cmd.PredictedY, s.Y)
	}
	for i := 1; i <= c.cfg.DisplayCount; i++ {
		x := float64(i) * c.cfg.DisplayStep
		cmd.ReferenceX = append(cmd.ReferenceX, x)
		cmd.ReferenceY = append(cmd.ReferenceY, ref.Eval(x))
	}
	return cmd, nil
}

// normalizeSteer maps a steering angle in radians onto the external [-1, 1]
// range. The reference simulator expects the opposite sign of the model's
// steering sense, so InvertSteer flips it on the way out. With inversion on,
// a vehicle sitting left of the reference path receives a positive command.
func (c *Controller) normalizeSteer(steerRad float64) float64 {
	norm := clampFloat(steerRad/c.cfg.MaxSteerRad, -1, 1)
	if c.cfg.InvertSteer {
		norm = -norm
	}
	return norm
}

// holdCommand re-emits the last-known-good actuation unchanged.
func (c *Controller) holdCommand() Command {
	return Command{
		Steer:    c.normalizeSteer(c.last.Steer),
		Throttle: clampFloat(c.last.Accel, c.cfg.AccelMin, c.cfg.AccelMax),
	}
}

// divergedCommand implements the divergence policy: the first failed solve
// holds the previous actuation, repeats command straight-ahead braking until
// a solve succeeds again.
func (c *Controller) divergedCommand() Command {
	c.divergences++
	if c.divergences == 1 {
		return c.holdCommand()
	}

	c.last = Actuation{Steer: 0, Accel: -c.cfg.FallbackDecel}
	c.log.Warnw("repeated solver divergence, commanding deceleration",
		"consecutive", c.divergences, "decel", c.cfg.FallbackDecel)
	return Command{Steer: 0, Throttle: -c.cfg.FallbackDecel}
}
