package control

// Pose is the vehicle position and heading in world frame.
type Pose struct {
	X       float64
	Y       float64
	Heading float64
}

// VehicleState is the six-dimensional state the optimizer works on, always
// expressed in the vehicle-local frame at the decision instant. CTE and EPsi
// are derived from the fitted reference polynomial, never chosen
// independently.
type VehicleState struct {
	X       float64
	Y       float64
	Heading float64
	Speed   float64
	CTE     float64 // lateral offset from the reference at the vehicle's x
	EPsi    float64 // heading error against the reference tangent
}

// Actuation is one steering/throttle pair. Steer is in radians within
// ±MaxSteerRad; Accel is normalized throttle/brake in [AccelMin, AccelMax].
type Actuation struct {
	Steer float64
	Accel float64
}

// Telemetry is one cycle's input: the world-frame reference waypoints, the
// pose, speed, and the actuation the vehicle last acknowledged.
type Telemetry struct {
	WaypointsX []float64
	WaypointsY []float64
	Pose       Pose
	Speed      float64
	LastSteer  float64 // rad
	LastAccel  float64
}

// Command is one cycle's output: normalized actuation plus the predicted and
// reference trajectories (local frame) for display.
type Command struct {
	Steer      float64 // normalized [-1, 1]
	Throttle   float64 // normalized [-1, 1]
	PredictedX []float64
	PredictedY []float64
	ReferenceX []float64
	ReferenceY []float64
}

// HorizonSolution is the full output of one solve: N predicted states and
// N-1 actuations. It lives for one cycle only; the caller applies the first
// actuation and uses the states for display.
type HorizonSolution struct {
	States     []VehicleState
	Actuations []Actuation
	Cost       float64
}

// First returns the actuation to apply this cycle.
func (s HorizonSolution) First() Actuation {
	if len(s.Actuations) == 0 {
		return Actuation{}
	}
	return s.Actuations[0]
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
