package canlink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"
)

func TestActuatorFrameEncode(t *testing.T) {
	t.Parallel()

	fd := ActuatorCommandFrame()

	t.Run("signals survive an encode/decode pass", func(t *testing.T) {
		t.Parallel()
		frame, err := Encode(fd, map[string]float64{
			"steer_cmd_rad": -0.1873,
			"throttle_cmd":  0.451,
			"system_enable": 1,
			"counter":       42,
		})
		require.NoError(t, err)
		assert.Equal(t, uint32(0x210), uint32(frame.ID))
		assert.Equal(t, uint8(8), frame.Length)

		values, err := Decode(fd, frame.Data[:])
		require.NoError(t, err)
		assert.InDelta(t, -0.1873, values["steer_cmd_rad"], 1e-4)
		assert.InDelta(t, 0.451, values["throttle_cmd"], 1e-3)
		assert.Equal(t, 1.0, values["system_enable"])
		assert.Equal(t, 42.0, values["counter"])
	})

	t.Run("out-of-range values clamp instead of wrapping", func(t *testing.T) {
		t.Parallel()
		frame, err := Encode(fd, map[string]float64{
			"steer_cmd_rad": 100,
			"throttle_cmd":  -100,
			"system_enable": 1,
			"counter":       0,
		})
		require.NoError(t, err)

		values, err := Decode(fd, frame.Data[:])
		require.NoError(t, err)
		assert.InDelta(t, 3.2, values["steer_cmd_rad"], 1e-3)
		assert.InDelta(t, -1.0, values["throttle_cmd"], 1e-3)
	})

	t.Run("missing signal is an error", func(t *testing.T) {
		t.Parallel()
		_, err := Encode(fd, map[string]float64{"steer_cmd_rad": 0})
		assert.Error(t, err)
	})
}

type capturedWriter struct {
	frames []can.Frame
	closed bool
}

func (w *capturedWriter) WriteFrame(_ context.Context, f can.Frame) error {
	w.frames = append(w.frames, f)
	return nil
}

func (w *capturedWriter) Close() error {
	w.closed = true
	return nil
}

func TestBridgeSendCommand(t *testing.T) {
	t.Parallel()

	w := &capturedWriter{}
	b := NewBridgeWithWriter(w)

	require.NoError(t, b.SendCommand(context.Background(), 0.12, -0.4))
	require.NoError(t, b.SendCommand(context.Background(), -0.05, 0.9))
	require.Len(t, w.frames, 2)

	fd := ActuatorCommandFrame()

	first, err := Decode(fd, w.frames[0].Data[:])
	require.NoError(t, err)
	assert.InDelta(t, 0.12, first["steer_cmd_rad"], 1e-4)
	assert.InDelta(t, -0.4, first["throttle_cmd"], 1e-3)
	assert.Equal(t, 0.0, first["counter"])

	second, err := Decode(fd, w.frames[1].Data[:])
	require.NoError(t, err)
	assert.Equal(t, 1.0, second["counter"])

	require.NoError(t, b.Close())
	assert.True(t, w.closed)
}
