package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"mpc-drive/control"
)

// The simulator speaks a socket.io-style text framing over the websocket:
// event frames start with "42" and carry a JSON array of [event, payload].
const eventPrefix = "42"

// manualAck is the reply for frames with no payload: the driver has the
// wheel, there is nothing to compute.
const manualAck = `42["manual",{}]`

// telemetryPayload is the inbound payload on the "telemetry" event.
type telemetryPayload struct {
	PtsX          []float64 `json:"ptsx"`
	PtsY          []float64 `json:"ptsy"`
	X             float64   `json:"x"`
	Y             float64   `json:"y"`
	Psi           float64   `json:"psi"`
	Speed         float64   `json:"speed"`
	SteeringAngle float64   `json:"steering_angle"`
	Throttle      float64   `json:"throttle"`
}

// steerPayload is the outbound payload on the "steer" event. mpc_x/mpc_y are
// the predicted trajectory, next_x/next_y the reference samples, both in the
// vehicle-local frame.
type steerPayload struct {
	SteeringAngle float64   `json:"steering_angle"`
	Throttle      float64   `json:"throttle"`
	MPCX          []float64 `json:"mpc_x"`
	MPCY          []float64 `json:"mpc_y"`
	NextX         []float64 `json:"next_x"`
	NextY         []float64 `json:"next_y"`
}

// extractPayload strips the socket.io envelope from an event frame and
// returns the inner JSON array. A frame containing "null" or no array is an
// empty (manual-driving) frame; ok reports whether msg was an event frame at
// all.
func extractPayload(msg string) (payload string, ok bool) {
	if len(msg) <= 2 || !strings.HasPrefix(msg, eventPrefix) {
		return "", false
	}
	if strings.Contains(msg, "null") {
		return "", true
	}
	start := strings.IndexByte(msg, '[')
	end := strings.LastIndex(msg, "}]")
	if start < 0 || end < 0 {
		return "", true
	}
	return msg[start : end+2], true
}

// parseEvent splits an extracted payload into its event name and raw body.
func parseEvent(payload string) (string, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &parts); err != nil {
		return "", nil, fmt.Errorf("event frame: %w", err)
	}
	if len(parts) < 2 {
		return "", nil, fmt.Errorf("event frame has %d elements, want 2", len(parts))
	}
	var event string
	if err := json.Unmarshal(parts[0], &event); err != nil {
		return "", nil, fmt.Errorf("event name: %w", err)
	}
	return event, parts[1], nil
}

// decodeTelemetry validates a telemetry body into the controller's input.
func decodeTelemetry(body json.RawMessage) (control.Telemetry, error) {
	var p telemetryPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return control.Telemetry{}, control.ErrMalformedTelemetry
	}
	if len(p.PtsX) != len(p.PtsY) || len(p.PtsX) < 2 {
		return control.Telemetry{}, control.ErrMalformedTelemetry
	}
	return control.Telemetry{
		WaypointsX: p.PtsX,
		WaypointsY: p.PtsY,
		Pose:       control.Pose{X: p.X, Y: p.Y, Heading: p.Psi},
		Speed:      p.Speed,
		LastSteer:  p.SteeringAngle,
		LastAccel:  p.Throttle,
	}, nil
}

// encodeSteer wraps a command in the outbound "steer" event frame.
func encodeSteer(cmd control.Command) (string, error) {
	orEmpty := func(v []float64) []float64 {
		if v == nil {
			return []float64{}
		}
		return v
	}
	p := steerPayload{
		SteeringAngle: cmd.Steer,
		Throttle:      cmd.Throttle,
		MPCX:          orEmpty(cmd.PredictedX),
		MPCY:          orEmpty(cmd.PredictedY),
		NextX:         orEmpty(cmd.ReferenceX),
		NextY:         orEmpty(cmd.ReferenceY),
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return `42["steer",` + string(body) + `]`, nil
}
