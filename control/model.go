package control

import "math"

// predictState advances the kinematic bicycle model by dt. The error states
// are re-derived from the reference polynomial at the current x, which keeps
// CTE and EPsi consistent with the fitted curve rather than free-running.
//
// Sign convention: positive steer turns the heading negative (clockwise),
// matching the simulator's steering sense.
func predictState(s VehicleState, act Actuation, dt, lf float64, ref Polynomial) VehicleState {
	headingRate := -s.Speed * act.Steer / lf
	return VehicleState{
		X:       s.X + s.Speed*math.Cos(s.Heading)*dt,
		Y:       s.Y + s.Speed*math.Sin(s.Heading)*dt,
		Heading: s.Heading + headingRate*dt,
		Speed:   s.Speed + act.Accel*dt,
		CTE:     (ref.Eval(s.X) - s.Y) + s.Speed*math.Sin(s.EPsi)*dt,
		EPsi:    (s.Heading - math.Atan(ref.Slope(s.X))) + headingRate*dt,
	}
}

// CompensateLatency projects the measured state forward by the actuation
// delay, so the optimizer solves for the state that will exist when its
// command actually engages. At the measurement instant the vehicle sits at
// the local-frame origin, so cte and epsi come straight from the reference
// polynomial at x=0. Solving on the uncompensated state makes every command
// stale by one latency interval and oscillates at speed.
func CompensateLatency(speed float64, last Actuation, ref Polynomial, cfg Config) VehicleState {
	s := VehicleState{
		Speed: speed,
		CTE:   ref.Eval(0),
		EPsi:  -math.Atan(ref.Slope(0)),
	}
	if cfg.LatencySec == 0 {
		return s
	}
	return predictState(s, last, cfg.LatencySec, cfg.WheelbaseLf, ref)
}
