package canlink

import (
	"context"
)

// Bridge encodes and transmits actuation commands on the ACTUATOR_CMD frame.
// One bridge belongs to one session's control loop, so the rolling counter
// needs no locking.
type Bridge struct {
	writer  FrameWriter
	fd      FrameDef
	counter uint8
}

// NewBridge opens a bridge on the given SocketCAN interface.
func NewBridge(ctx context.Context, iface string) (*Bridge, error) {
	w, err := NewSocketCANWriter(ctx, iface)
	if err != nil {
		return nil, err
	}
	return NewBridgeWithWriter(w), nil
}

// NewBridgeWithWriter wraps an existing writer; used by tests.
func NewBridgeWithWriter(w FrameWriter) *Bridge {
	return &Bridge{writer: w, fd: ActuatorCommandFrame()}
}

// SendCommand transmits one steering/throttle pair. Steering is in radians,
// throttle normalized to [-1, 1].
func (b *Bridge) SendCommand(ctx context.Context, steerRad, throttle float64) error {
	frame, err := Encode(b.fd, map[string]float64{
		"steer_cmd_rad": steerRad,
		"throttle_cmd":  throttle,
		"system_enable": 1,
		"counter":       float64(b.counter),
	})
	if err != nil {
		return err
	}
	b.counter++
	return b.writer.WriteFrame(ctx, frame)
}

func (b *Bridge) Close() error {
	return b.writer.Close()
}
