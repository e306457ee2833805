package control

import "github.com/pkg/errors"

var (
	// ErrInsufficientWaypoints means fewer than two reference points arrived;
	// there is nothing to transform or fit against.
	ErrInsufficientWaypoints = errors.New("fewer than two waypoints in reference path")

	// ErrDegenerateFit means the waypoints are rank-deficient in the vehicle
	// frame (for example a near-vertical segment) and a least-squares fit
	// would be numerically meaningless.
	ErrDegenerateFit = errors.New("reference fit is rank-deficient")

	// ErrSolveDivergence means the horizon solve did not reach a feasible
	// converged solution inside its iteration and time budget.
	ErrSolveDivergence = errors.New("horizon solve failed to converge")

	// ErrMalformedTelemetry means a telemetry payload is missing required
	// fields or carries mismatched waypoint arrays.
	ErrMalformedTelemetry = errors.New("telemetry payload missing required fields")
)
