package control

import "math"

// TransformToVehicleFrame rotates and translates world-frame waypoints into
// the vehicle-local frame: vehicle at the origin, heading along +x. Pure
// function; the inputs are never modified.
func TransformToVehicleFrame(pose Pose, wx, wy []float64) ([]float64, []float64, error) {
	if len(wx) != len(wy) {
		return nil, nil, ErrMalformedTelemetry
	}
	if len(wx) < 2 {
		return nil, nil, ErrInsufficientWaypoints
	}

	sin, cos := math.Sincos(pose.Heading)
	lx := make([]float64, len(wx))
	ly := make([]float64, len(wy))
	for i := range wx {
		dx := wx[i] - pose.X
		dy := wy[i] - pose.Y
		lx[i] = cos*dx + sin*dy
		ly[i] = -sin*dx + cos*dy
	}
	return lx, ly, nil
}

// TransformToWorldFrame is the inverse of TransformToVehicleFrame.
func TransformToWorldFrame(pose Pose, lx, ly []float64) ([]float64, []float64, error) {
	if len(lx) != len(ly) {
		return nil, nil, ErrMalformedTelemetry
	}
	if len(lx) < 2 {
		return nil, nil, ErrInsufficientWaypoints
	}

	sin, cos := math.Sincos(pose.Heading)
	wx := make([]float64, len(lx))
	wy := make([]float64, len(ly))
	for i := range lx {
		wx[i] = cos*lx[i] - sin*ly[i] + pose.X
		wy[i] = sin*lx[i] + cos*ly[i] + pose.Y
	}
	return wx, wy, nil
}
